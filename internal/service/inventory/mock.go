package inventory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockService: конфигурируемая заглушка Catalog для тестов.
type MockService struct {
	mu sync.Mutex

	Products     map[string]domain.Product
	GetErr       error
	DecrementErr error

	GetCalls       int
	DecrementCalls int
	Decremented    []domain.OrderItem
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService(products ...domain.Product) *MockService {
	m := &MockService{Products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		m.Products[p.ID] = p
	}
	return m
}

// Get возвращает товар из Products или настроенную ошибку.
func (m *MockService) Get(_ context.Context, productID string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if m.GetErr != nil {
		return domain.Product{}, m.GetErr
	}
	p, ok := m.Products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// DecrementForOrder списывает остатки в Products и считает вызовы.
func (m *MockService) DecrementForOrder(_ context.Context, _ string, items []domain.OrderItem) ([]domain.StockAdjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DecrementCalls++
	if m.DecrementErr != nil {
		return nil, m.DecrementErr
	}
	var result []domain.StockAdjustment
	for _, item := range items {
		m.Decremented = append(m.Decremented, item)
		p, ok := m.Products[item.ProductID]
		if !ok {
			continue
		}
		adj := domain.ApplyDecrement(p.ID, p.Stock, int64(item.Qty))
		p.Stock = adj.Remaining
		m.Products[p.ID] = p
		result = append(result, adj)
	}
	return result, nil
}

var _ Catalog = (*MockService)(nil)
