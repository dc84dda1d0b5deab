package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies: репозитории выбранного драйвера хранилища.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	products        domain.ProductRepository
	priceHistory    domain.PriceHistoryRepository
	priceAlerts     domain.PriceAlertRepository
	loyalty         domain.LoyaltyRepository
	coupons         domain.CouponRepository
	referrals       domain.ReferralRepository
	subscribers     domain.SubscriberRepository
	webhooks        domain.WebhookEventRepository

	storageChecker health.Checker
	closeFn        func() error
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// initRuntimeDependencies открывает хранилище согласно cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			repo:            memory.NewOrderRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			products:        memory.NewProductRepository(),
			priceHistory:    memory.NewPriceHistoryRepository(),
			priceAlerts:     memory.NewPriceAlertRepository(),
			loyalty:         memory.NewLoyaltyRepository(),
			coupons:         memory.NewCouponRepository(),
			referrals:       memory.NewReferralRepository(),
			subscribers:     memory.NewSubscriberRepository(),
			webhooks:        memory.NewWebhookEventRepository(),
			storageChecker: health.NewSimpleChecker("storage", func(context.Context) error {
				return nil
			}),
			closeFn: func() error { return nil },
		}, nil
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", driver)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		registerPoolStats(store, logger)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			repo:            postgres.NewOrderRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			products:        postgres.NewProductRepository(store),
			priceHistory:    postgres.NewPriceHistoryRepository(store),
			priceAlerts:     postgres.NewPriceAlertRepository(store),
			loyalty:         postgres.NewLoyaltyRepository(store),
			coupons:         postgres.NewCouponRepository(store),
			referrals:       postgres.NewReferralRepository(store),
			subscribers:     postgres.NewSubscriberRepository(store),
			webhooks:        postgres.NewWebhookEventRepository(store),
			storageChecker:  health.NewSimpleChecker("postgres", store.Ping),
			closeFn:         store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// newOutboxBacklogChecker деградирует readiness, когда backlog outbox превышает maxPending.
func newOutboxBacklogChecker(repo domain.OutboxRepository, maxPending int) health.Checker {
	return health.NewSimpleChecker("outbox", func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return fmt.Errorf("outbox stats: %w", err)
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	})
}

func registerPoolStats(store *postgres.Store, logger *log.Entry) {
	collector, err := store.StatsCollector()
	if err != nil {
		return
	}
	if err := prometheus.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			logger.WithError(err).Warn("failed to register postgres pool metrics")
		}
	}
}
