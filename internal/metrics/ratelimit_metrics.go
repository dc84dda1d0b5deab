package metrics

import "github.com/prometheus/client_golang/prometheus"

// RateLimitMetrics считает решения rate limiter.
type RateLimitMetrics struct {
	decisions *prometheus.CounterVec
}

// NewRateLimitMetrics создаёт метрики в prometheus.DefaultRegisterer.
func NewRateLimitMetrics() *RateLimitMetrics {
	return NewRateLimitMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewRateLimitMetricsWithRegisterer создаёт метрики в указанном реестре.
func NewRateLimitMetricsWithRegisterer(registerer prometheus.Registerer) *RateLimitMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &RateLimitMetrics{
		decisions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_rate_limit_decisions_total",
			Help: "Rate limiter decisions grouped by scope and outcome",
		}, []string{"scope", "outcome"}),
	}
}

// Record учитывает решение: allowed или rejected.
func (m *RateLimitMetrics) Record(scope string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	m.decisions.WithLabelValues(scope, outcome).Inc()
}
