package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500

	// DefaultWebhookRetention: сколько хранится журнал уведомлений провайдера.
	DefaultWebhookRetention = 30 * 24 * time.Hour

	TargetIdempotencyKeys = "idempotency_keys"
	TargetWebhookEvents   = "webhook_events"
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_dedup_cleanup_runs_total",
		Help: "Cleanup runs over deduplication records grouped by target and result.",
	}, []string{"target", "result"})
	cleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_dedup_cleanup_deleted_total",
		Help: "Deleted deduplication records grouped by target.",
	}, []string{"target"})
	cleanupLastDeleted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storefront_dedup_cleanup_last_deleted",
		Help: "Records deleted by the last cleanup run per target.",
	}, []string{"target"})
)

// purgeFunc удаляет до limit записей старше before и возвращает число удалённых.
type purgeFunc func(ctx context.Context, before time.Time, limit int) (int, error)

// cleanupTarget: хранилище записей дедупликации и срок их жизни.
// retention=0: записи несут собственный ttl, порог равен текущему времени.
type cleanupTarget struct {
	name      string
	retention time.Duration
	purge     purgeFunc
}

// CleanupOptions задает параметры воркера очистки.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int

	Webhooks         domain.WebhookEventRepository
	WebhookRetention time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между cleanup-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithWebhookJournal добавляет очистку журнала webhook-уведомлений старше retention.
func WithWebhookJournal(repo domain.WebhookEventRepository, retention time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Webhooks = repo
		opts.WebhookRetention = retention
	}
}

// CleanupWorker периодически удаляет просроченные ключи идемпотентности
// и, если подключён журнал, старые записи дедупликации webhook.
type CleanupWorker struct {
	targets   []cleanupTarget
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создает воркер очистки. repo может быть nil, если нужен только журнал webhook.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New().WithField("component", "dedup-cleanup-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}

	w := &CleanupWorker{
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
	if repo != nil {
		w.targets = append(w.targets, cleanupTarget{name: TargetIdempotencyKeys, purge: repo.DeleteExpired})
	}
	if opts.Webhooks != nil {
		retention := opts.WebhookRetention
		if retention <= 0 {
			retention = DefaultWebhookRetention
		}
		w.targets = append(w.targets, cleanupTarget{name: TargetWebhookEvents, retention: retention, purge: opts.Webhooks.Purge})
	}
	return w
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if len(w.targets) == 0 {
		w.logger.Warn("dedup cleanup worker is disabled: no repositories configured")
		return
	}

	w.RunOnce(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx, time.Now().UTC())
		}
	}
}

// RunOnce проходит по всем хранилищам и возвращает число удалённых записей по каждому.
// Сбой одного хранилища не мешает очистке остальных.
func (w *CleanupWorker) RunOnce(ctx context.Context, now time.Time) map[string]int {
	result := make(map[string]int, len(w.targets))
	for _, target := range w.targets {
		deleted, err := w.purgeTarget(ctx, target, now.Add(-target.retention))
		result[target.name] = deleted
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return result
			}
			cleanupRunsTotal.WithLabelValues(target.name, "error").Inc()
			w.logger.WithError(err).WithField("target", target.name).Warn("dedup cleanup run failed")
			continue
		}

		cleanupRunsTotal.WithLabelValues(target.name, "ok").Inc()
		cleanupLastDeleted.WithLabelValues(target.name).Set(float64(deleted))
		if deleted > 0 {
			w.logger.WithFields(log.Fields{
				"target":  target.name,
				"deleted": deleted,
			}).Info("dedup cleanup completed")
		}
	}
	return result
}

// DeleteExpired удаляет просроченные ключи идемпотентности (ttl <= before) порциями batchSize.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	for _, target := range w.targets {
		if target.name == TargetIdempotencyKeys {
			return w.purgeTarget(ctx, target, before)
		}
	}
	return 0, nil
}

func (w *CleanupWorker) purgeTarget(ctx context.Context, target cleanupTarget, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := target.purge(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			cleanupDeletedTotal.WithLabelValues(target.name).Add(float64(deleted))
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
