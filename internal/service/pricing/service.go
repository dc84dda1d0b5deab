package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrPriceInvalid: новая цена должна быть положительной.
var ErrPriceInvalid = domain.NewValidationError("price must be greater than zero")

// History: история цены товара с минимумом за всё время.
type History struct {
	ProductID    string
	CurrentMinor int64
	LowestMinor  int64
	// AtLowest: текущая цена не выше исторического минимума.
	AtLowest bool
	Changes  []domain.PriceChange
}

// Service ведёт историю цен и ценовые подписки покупателей.
type Service struct {
	products domain.ProductRepository
	history  domain.PriceHistoryRepository
	alerts   domain.PriceAlertRepository
	outbox   domain.OutboxRepository
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис цен. outbox может быть nil: подписки отмечаются, но сообщения не ставятся.
func NewService(
	products domain.ProductRepository,
	history domain.PriceHistoryRepository,
	alerts domain.PriceAlertRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "pricing")
	}
	return &Service{
		products: products,
		history:  history,
		alerts:   alerts,
		outbox:   outbox,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UpdatePrice меняет цену товара, пишет историю и запускает подписки.
// Та же цена ничего не пишет.
func (s *Service) UpdatePrice(ctx context.Context, productID string, newPriceMinor int64, changedBy, reason string) (domain.PriceChange, error) {
	if newPriceMinor <= 0 {
		return domain.PriceChange{}, ErrPriceInvalid
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return domain.PriceChange{}, err
	}
	change := domain.PriceChange{
		ProductID:     product.ID,
		OldPriceMinor: product.PriceMinor,
		NewPriceMinor: newPriceMinor,
		ChangedBy:     changedBy,
		Reason:        reason,
		ChangedAt:     s.now(),
	}
	if change.Direction() == domain.PriceChangeUnchanged {
		return change, nil
	}

	product.PriceMinor = newPriceMinor
	product.UpdatedAt = change.ChangedAt
	if err := s.products.Upsert(ctx, product); err != nil {
		return domain.PriceChange{}, fmt.Errorf("update product price: %w", err)
	}
	if err := s.PriceChanged(ctx, product, change); err != nil {
		return change, err
	}
	return change, nil
}

// PriceChanged фиксирует уже сохранённое изменение цены. Вызывается и из импорта каталога.
func (s *Service) PriceChanged(ctx context.Context, product domain.Product, change domain.PriceChange) error {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.ChangedAt.IsZero() {
		change.ChangedAt = s.now()
	}
	if err := s.history.Record(ctx, change); err != nil {
		return fmt.Errorf("record price change: %w", err)
	}
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"old_minor":  change.OldPriceMinor,
		"new_minor":  change.NewPriceMinor,
		"percent":    change.PercentChange(),
		"changed_by": change.ChangedBy,
	}).Info("product price changed")

	if change.Direction() != domain.PriceChangeDecrease {
		return nil
	}
	return s.triggerAlerts(ctx, product, change.ChangedAt)
}

func (s *Service) triggerAlerts(ctx context.Context, product domain.Product, at time.Time) error {
	fired, err := s.alerts.Trigger(ctx, product.ID, product.PriceMinor, at)
	if err != nil {
		return fmt.Errorf("trigger price alerts: %w", err)
	}
	for _, alert := range fired {
		s.enqueueAlert(ctx, product, alert)
	}
	if len(fired) > 0 {
		s.logger.WithFields(log.Fields{
			"product_id": product.ID,
			"alerts":     len(fired),
		}).Info("price alerts triggered")
	}
	return nil
}

func (s *Service) enqueueAlert(ctx context.Context, product domain.Product, alert domain.PriceAlert) {
	if s.outbox == nil {
		return
	}
	data, err := json.Marshal(domain.PriceAlertPayload{
		AlertID:     alert.ID,
		UserID:      alert.UserID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Phone:       alert.Phone,
		TargetMinor: alert.TargetPriceMinor,
		PriceMinor:  alert.TriggeredPriceMinor,
		Timestamp:   alert.NotifiedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithError(err).WithField("alert_id", alert.ID).Error("marshal price alert failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: domain.AggregatePriceAlert,
		AggregateID:   alert.ID,
		EventType:     domain.EventPriceAlertTriggered,
		Payload:       data,
		CreatedAt:     alert.NotifiedAt,
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("alert_id", alert.ID).Error("enqueue price alert failed")
	}
}

// History возвращает историю цены; товар без изменений даёт пустую историю с текущей ценой как минимумом.
func (s *Service) History(ctx context.Context, productID string) (History, error) {
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return History{}, err
	}
	changes, err := s.history.List(ctx, productID)
	if err != nil {
		return History{}, fmt.Errorf("list price history: %w", err)
	}
	lowest, ok := domain.LowestPrice(changes)
	if !ok || product.PriceMinor < lowest {
		lowest = product.PriceMinor
	}
	return History{
		ProductID:    product.ID,
		CurrentMinor: product.PriceMinor,
		LowestMinor:  lowest,
		AtLowest:     product.PriceMinor <= lowest,
		Changes:      changes,
	}, nil
}

// CreateAlert подписывает пользователя на снижение цены до targetMinor.
// Если цена уже не выше цели, подписка срабатывает сразу.
func (s *Service) CreateAlert(ctx context.Context, userID, productID string, targetMinor int64, phone string) (domain.PriceAlert, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.PriceAlert{}, domain.ErrCustomerRequired
	}
	if targetMinor <= 0 {
		return domain.PriceAlert{}, domain.ErrTargetPriceInvalid
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return domain.PriceAlert{}, err
	}

	alert := domain.PriceAlert{
		ID:               uuid.NewString(),
		UserID:           userID,
		ProductID:        product.ID,
		Phone:            strings.TrimSpace(phone),
		TargetPriceMinor: targetMinor,
		Active:           true,
		CreatedAt:        s.now(),
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		if errors.Is(err, domain.ErrPriceAlertExists) {
			return domain.PriceAlert{}, err
		}
		return domain.PriceAlert{}, fmt.Errorf("create price alert: %w", err)
	}
	s.logger.WithFields(log.Fields{
		"alert_id":     alert.ID,
		"user_id":      userID,
		"product_id":   product.ID,
		"target_minor": targetMinor,
	}).Info("price alert created")

	if alert.ShouldTrigger(product.PriceMinor) {
		if err := s.triggerAlerts(ctx, product, alert.CreatedAt); err != nil {
			return alert, err
		}
		alert.Notified = true
		alert.NotifiedAt = alert.CreatedAt
		alert.TriggeredPriceMinor = product.PriceMinor
	}
	return alert, nil
}

// ListAlerts возвращает подписки пользователя, новые первыми.
func (s *Service) ListAlerts(ctx context.Context, userID string) ([]domain.PriceAlert, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrCustomerRequired
	}
	return s.alerts.ListByUser(ctx, userID)
}

// RemoveAlert выключает подписку; повтор для уже выключенной, no-op.
func (s *Service) RemoveAlert(ctx context.Context, alertID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrCustomerRequired
	}
	return s.alerts.Deactivate(ctx, alertID, userID, s.now())
}
