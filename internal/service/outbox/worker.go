// Package outbox доставляет события заказов из transactional outbox
// в Kafka либо напрямую в relay уведомлений.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_outbox_publish_total",
		Help: "Outbox deliveries grouped by event type and result.",
	}, []string{"event_type", "result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_pending_records",
		Help: "Pending records in the order events outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

// WithDLQPublisher задаёт получателя событий, доставка которых не удалась.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) { opts.DLQPublisher = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток доставки временно упавшего события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) { opts.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; далее она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) { opts.RetryBaseDelay = delay }
}

// BatchReport: итог одного прохода по outbox.
type BatchReport struct {
	Pulled int
	Sent   int
	Failed int
}

// Worker доставляет pending-события заказов получателю.
// Временные ошибки повторяются с backoff, постоянные сразу уходят в failed и DLQ.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	retry        resilience.RetryConfig
	now          func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New().WithField("component", "outbox-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Worker{
		repo:         repo,
		publisher:    publisher,
		dlqPublisher: opts.DLQPublisher,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		retry: resilience.RetryConfig{
			MaxAttempts:   opts.MaxAttempts,
			InitialDelay:  opts.RetryBaseDelay,
			MaxDelay:      maxRetryDelay,
			BackoffFactor: 2,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce доставляет одну пачку pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) BatchReport {
	var report BatchReport
	if ctx.Err() != nil {
		return report
	}
	w.refreshBacklogMetrics(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return report
	}
	report.Pulled = len(events)

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, event) {
			report.Sent++
		} else {
			report.Failed++
		}
	}

	if report.Pulled > 0 {
		w.refreshBacklogMetrics(ctx)
		w.logger.WithFields(log.Fields{
			"pulled": report.Pulled,
			"sent":   report.Sent,
			"failed": report.Failed,
		}).Debug("outbox batch processed")
	}
	return report
}

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) bool {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
		"order_id":   event.AggregateID,
	})

	err := resilience.Retry(ctx, w.retry, logger, "outbox.publish", func(ctx context.Context) error {
		return w.publisher.Publish(ctx, event)
	})
	if err == nil {
		publishResults.WithLabelValues(event.EventType, "sent").Inc()
		if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark outbox message as sent")
		}
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	result := "failed"
	if !resilience.ShouldRetry(err) {
		result = "permanent"
	}
	publishResults.WithLabelValues(event.EventType, result).Inc()
	logger.WithError(err).WithField("result", result).Error("outbox delivery failed")

	if dlqErr := w.publishToDLQ(ctx, event, err); dlqErr != nil {
		publishResults.WithLabelValues(event.EventType, "dlq_failed").Inc()
		logger.WithError(dlqErr).Warn("failed to publish to DLQ")
	}
	if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
		logger.WithError(markErr).Warn("failed to mark outbox message as failed")
	}
	return false
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	oldestPendingAge.Set(max(0, w.now().Sub(stats.OldestPendingAt).Seconds()))
}

func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(kafka.OutboxDeadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: w.now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dead := event
	dead.Payload = payload
	if err := w.dlqPublisher.Publish(ctx, dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
