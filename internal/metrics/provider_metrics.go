package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения gauge состояния circuit breaker.
const (
	CircuitClosed   = 0
	CircuitHalfOpen = 1
	CircuitOpen     = 2
)

// ProviderMetrics: метрики вызовов внешних API (MercadoPago, Twilio).
type ProviderMetrics struct {
	calls         *prometheus.HistogramVec
	circuitState  *prometheus.GaugeVec
	notifications *prometheus.CounterVec
}

// NewProviderMetrics создаёт метрики в prometheus.DefaultRegisterer.
func NewProviderMetrics() *ProviderMetrics {
	return NewProviderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewProviderMetricsWithRegisterer создаёт метрики в указанном реестре.
func NewProviderMetricsWithRegisterer(registerer prometheus.Registerer) *ProviderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &ProviderMetrics{
		calls: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_provider_call_duration_seconds",
			Help:    "Duration of outgoing provider API calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "operation", "result"}),
		circuitState: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "storefront_provider_circuit_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		}, []string{"provider"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_notifications_total",
			Help: "WhatsApp notifications grouped by template and result",
		}, []string{"template", "result"}),
	}
}

// RecordCall записывает длительность и результат вызова провайдера.
func (m *ProviderMetrics) RecordCall(provider, operation string, duration time.Duration, err error) {
	m.calls.WithLabelValues(provider, operation, resultLabel(err)).Observe(duration.Seconds())
}

// SetCircuitState выставляет состояние circuit breaker.
func (m *ProviderMetrics) SetCircuitState(provider string, state int) {
	m.circuitState.WithLabelValues(provider).Set(float64(state))
}

// RecordNotification учитывает отправку сообщения.
func (m *ProviderMetrics) RecordNotification(template string, err error) {
	m.notifications.WithLabelValues(template, resultLabel(err)).Inc()
}
