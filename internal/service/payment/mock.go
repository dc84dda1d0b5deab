package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockGateway: конфигурируемая заглушка PaymentGateway для тестов.
type MockGateway struct {
	mu sync.Mutex

	Preference    domain.Preference
	PreferenceErr error
	Payments      map[string]domain.ProviderPayment
	GetErr        error

	PreferenceCalls int
	GetCalls        int
	LastRequest     domain.PreferenceRequest
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Preference: domain.Preference{ID: "pref-1", InitPoint: "https://pay.example/pref-1"},
		Payments:   make(map[string]domain.ProviderPayment),
	}
}

// AddPayment регистрирует платёж, который вернёт GetPayment.
func (m *MockGateway) AddPayment(p domain.ProviderPayment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payments[p.ID] = p
}

// CreatePreference возвращает заранее настроенный результат и считает вызовы.
func (m *MockGateway) CreatePreference(_ context.Context, req domain.PreferenceRequest) (domain.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PreferenceCalls++
	m.LastRequest = req
	if m.PreferenceErr != nil {
		return domain.Preference{}, m.PreferenceErr
	}
	return m.Preference, nil
}

// GetPayment возвращает зарегистрированный платёж или ErrPaymentNotFound.
func (m *MockGateway) GetPayment(_ context.Context, paymentID string) (domain.ProviderPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.GetErr != nil {
		return domain.ProviderPayment{}, m.GetErr
	}
	p, ok := m.Payments[paymentID]
	if !ok {
		return domain.ProviderPayment{}, domain.ErrPaymentNotFound
	}
	return p, nil
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
