package payment

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
)

const providerName = "mercadopago"

// ResilientGateway оборачивает шлюз повторами и circuit breaker.
type ResilientGateway struct {
	next    domain.PaymentGateway
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	metrics *metrics.ProviderMetrics
	logger  *log.Entry
}

// ResilientOption настраивает ResilientGateway.
type ResilientOption func(*ResilientGateway)

// WithRetryConfig задаёт параметры повторов.
func WithRetryConfig(cfg resilience.RetryConfig) ResilientOption {
	return func(g *ResilientGateway) { g.retry = cfg }
}

// WithCircuitBreaker подменяет circuit breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ResilientOption {
	return func(g *ResilientGateway) { g.breaker = cb }
}

// WithProviderMetrics включает метрики вызовов.
func WithProviderMetrics(m *metrics.ProviderMetrics) ResilientOption {
	return func(g *ResilientGateway) { g.metrics = m }
}

// NewResilientGateway создаёт обёртку; по умолчанию breaker размыкается после 5 отказов на 30 секунд.
func NewResilientGateway(next domain.PaymentGateway, logger *log.Entry, opts ...ResilientOption) *ResilientGateway {
	if logger == nil {
		logger = log.New().WithField("component", "payment-gateway")
	}
	g := &ResilientGateway{
		next:   next,
		retry:  resilience.DefaultRetryConfig(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breaker == nil {
		g.breaker = resilience.NewCircuitBreaker(5, 30*time.Second, logger)
	}
	if g.metrics != nil {
		m := g.metrics
		m.SetCircuitState(providerName, int(g.breaker.State()))
		g.breaker.OnStateChange(func(s resilience.CircuitState) {
			m.SetCircuitState(providerName, int(s))
		})
	}
	return g
}

// CreatePreference создаёт preference с повторами.
func (g *ResilientGateway) CreatePreference(ctx context.Context, req domain.PreferenceRequest) (domain.Preference, error) {
	var pref domain.Preference
	err := g.call(ctx, "create_preference", func(ctx context.Context) error {
		var err error
		pref, err = g.next.CreatePreference(ctx, req)
		return err
	})
	return pref, err
}

// GetPayment запрашивает платёж с повторами.
func (g *ResilientGateway) GetPayment(ctx context.Context, paymentID string) (domain.ProviderPayment, error) {
	var p domain.ProviderPayment
	err := g.call(ctx, "get_payment", func(ctx context.Context) error {
		var err error
		p, err = g.next.GetPayment(ctx, paymentID)
		return err
	})
	return p, err
}

// Breaker возвращает circuit breaker (для health и тестов).
func (g *ResilientGateway) Breaker() *resilience.CircuitBreaker { return g.breaker }

func (g *ResilientGateway) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	return resilience.Retry(ctx, g.retry, g.logger, operation, func(ctx context.Context) error {
		return g.breaker.Execute(operation, func() error {
			start := time.Now()
			err := fn(ctx)
			if g.metrics != nil {
				g.metrics.RecordCall(providerName, operation, time.Since(start), err)
			}
			return err
		})
	})
}

var _ domain.PaymentGateway = (*ResilientGateway)(nil)
