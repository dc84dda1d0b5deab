package inventory

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Catalog описывает, что нужно заказам от каталога: цены и списание остатков.
type Catalog interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	DecrementForOrder(ctx context.Context, orderID string, items []domain.OrderItem) ([]domain.StockAdjustment, error)
}

// PriceObserver получает изменения цен, сделанные импортом каталога.
type PriceObserver interface {
	PriceChanged(ctx context.Context, product domain.Product, change domain.PriceChange) error
}

// Service: каталог товаров поверх ProductRepository.
type Service struct {
	products domain.ProductRepository
	prices   PriceObserver
	logger   *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(products domain.ProductRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Service{products: products, logger: logger}
}

// SetPriceObserver подключает учёт истории цен при импорте.
func (s *Service) SetPriceObserver(o PriceObserver) {
	s.prices = o
}

// Get возвращает товар по идентификатору.
func (s *Service) Get(ctx context.Context, productID string) (domain.Product, error) {
	return s.products.Get(ctx, productID)
}

// List возвращает товары по фильтру.
func (s *Service) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	return s.products.List(ctx, filter)
}

// DecrementForOrder списывает остатки по позициям заказа.
// Позиции без товара в каталоге пропускаются; нехватка остатка не ошибка, списание ограничено нулём.
func (s *Service) DecrementForOrder(ctx context.Context, orderID string, items []domain.OrderItem) ([]domain.StockAdjustment, error) {
	adjustments := make([]domain.StockAdjustment, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		adj, err := s.products.DecrementStock(ctx, item.ProductID, int64(item.Qty))
		if errors.Is(err, domain.ErrProductNotFound) {
			s.logger.WithFields(log.Fields{
				"order_id":   orderID,
				"product_id": item.ProductID,
			}).Warn("product not found for stock decrement")
			continue
		}
		if err != nil {
			return adjustments, fmt.Errorf("decrement stock for %s: %w", item.ProductID, err)
		}
		if adj.Clamped() {
			s.logger.WithFields(log.Fields{
				"order_id":   orderID,
				"product_id": item.ProductID,
				"requested":  adj.Requested,
				"applied":    adj.Applied,
			}).Warn("stock decrement clamped at zero")
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, nil
}

var _ Catalog = (*Service)(nil)
