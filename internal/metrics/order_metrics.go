package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики жизненного цикла заказов.
type OrderMetrics struct {
	ordersPlaced   *prometheus.CounterVec
	ordersSettled  *prometheus.CounterVec
	ordersCanceled *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec

	// Побочные эффекты завершения заказа: stock, points, referral, coupon.
	sideEffects   *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в указанном реестре.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersPlaced: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Total number of orders placed grouped by payment method",
		}, []string{"method"}),
		ordersSettled: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_settled_total",
			Help: "Total number of orders settled grouped by source (admin, webhook)",
		}, []string{"via"}),
		ordersCanceled: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_canceled_total",
			Help: "Total number of orders canceled grouped by reason",
		}, []string{"reason"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_order_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		sideEffects: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_side_effects_total",
			Help: "Completion side effects applied to settled orders grouped by effect and result",
		}, []string{"effect", "result"}),
		webhookEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_webhook_events_total",
			Help: "Payment provider notifications grouped by processing result",
		}, []string{"result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_order_operations_in_flight",
			Help: "Number of order operations currently executing",
		}),
	}
}

// RecordOrderPlaced увеличивает счётчик оформленных заказов.
func (m *OrderMetrics) RecordOrderPlaced(method string) {
	m.ordersPlaced.WithLabelValues(method).Inc()
}

// RecordOrderSettled учитывает подтверждённую оплату.
func (m *OrderMetrics) RecordOrderSettled(via string) {
	m.ordersSettled.WithLabelValues(via).Inc()
}

// RecordOrderCanceled учитывает отмену заказа.
func (m *OrderMetrics) RecordOrderCanceled(reason string) {
	m.ordersCanceled.WithLabelValues(reason).Inc()
}

// ObserveOperation записывает длительность операции и ведёт счётчик выполняющихся.
// Возвращает функцию, которую нужно вызвать по завершении.
func (m *OrderMetrics) ObserveOperation(operation string) func() {
	start := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// RecordSideEffect учитывает результат побочного эффекта завершения.
func (m *OrderMetrics) RecordSideEffect(effect string, err error) {
	m.sideEffects.WithLabelValues(effect, resultLabel(err)).Inc()
}

// RecordWebhook учитывает результат обработки уведомления провайдера.
func (m *OrderMetrics) RecordWebhook(result string) {
	m.webhookEvents.WithLabelValues(result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
