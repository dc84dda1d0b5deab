package app

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/ratelimit"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/loyalty"
	"github.com/vladislavdragonenkov/storefront/internal/service/newsletter"
	"github.com/vladislavdragonenkov/storefront/internal/service/notify"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/referral"
	"github.com/vladislavdragonenkov/storefront/internal/storage/rediscache"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

const (
	redisLockPrefix  = "storefront:lock:"
	redisLimitPrefix = "storefront:ratelimit:"
)

// components: собранные сервисы витрины.
type components struct {
	gateway     domain.PaymentGateway
	orders      *orders.Service
	catalog     *inventory.Service
	pricing     *pricing.Service
	recommender *inventory.Recommender
	loyalty     *loyalty.Service
	coupons     *coupon.Service
	referrals   *referral.Service
	newsletter  *newsletter.Service
	relay       *notify.Relay
	guard       *idempotency.Guard

	limiter    ratelimit.Limiter
	memLimiter *ratelimit.MemoryLimiter
}

// buildPaymentGateway выбирает MercadoPago или демо-шлюз.
func buildPaymentGateway(cfg Config, providerMetrics *metrics.ProviderMetrics, logger *log.Entry) domain.PaymentGateway {
	if cfg.DemoPayments() {
		logger.Warn("mercadopago access token is not set, payments run in demo mode")
		return payment.NewDemoGateway(cfg.FrontendURL, logger.WithField("component", "payment-demo"))
	}
	client := payment.NewMercadoPagoClient(payment.MercadoPagoConfig{
		BaseURL:     cfg.MercadoPagoBaseURL,
		AccessToken: cfg.MercadoPagoToken,
		FrontendURL: cfg.FrontendURL,
		BackendURL:  cfg.BackendURL,
		Timeout:     cfg.ProviderTimeout,
	}, tracing.NewHTTPClient(tracing.Tracer(), cfg.ProviderTimeout), logger.WithField("component", "mercadopago"))
	return payment.NewResilientGateway(client, logger.WithField("component", "payment-gateway"),
		payment.WithProviderMetrics(providerMetrics),
	)
}

// buildNotifier создаёт Twilio-клиент; без учётных данных отправка сообщает ErrNotifierNotConfigured.
func buildNotifier(cfg Config, logger *log.Entry) domain.Notifier {
	twilioCfg := notify.TwilioConfig{
		BaseURL:    cfg.TwilioBaseURL,
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioWhatsAppNumber,
		Timeout:    cfg.ProviderTimeout,
	}
	if !twilioCfg.Configured() {
		logger.Warn("twilio credentials are not set, whatsapp notifications are disabled")
	}
	return notify.NewTwilioClient(twilioCfg, tracing.NewHTTPClient(tracing.Tracer(), cfg.ProviderTimeout), logger.WithField("component", "twilio"))
}

// buildComponents собирает сервисы поверх репозиториев.
// redisClient может быть nil: блокировки и лимиты тогда живут в памяти процесса.
func buildComponents(cfg Config, deps *runtimeDependencies, redisClient *redis.Client, logger *log.Entry) (*components, error) {
	providerMetrics := metrics.NewProviderMetrics()

	rules, err := coupon.NewRuleEngine()
	if err != nil {
		return nil, fmt.Errorf("init coupon rules: %w", err)
	}

	c := &components{
		gateway:    buildPaymentGateway(cfg, providerMetrics, logger),
		catalog:    inventory.NewService(deps.products, logger.WithField("component", "catalog")),
		loyalty:    loyalty.NewService(deps.loyalty, logger.WithField("component", "loyalty")),
		coupons:    coupon.NewService(deps.coupons, rules, logger.WithField("component", "coupons")),
		newsletter: newsletter.NewService(deps.subscribers, logger.WithField("component", "newsletter")),
		guard: idempotency.NewGuard(deps.idempotencyRepo,
			idempotency.WithTTL(cfg.IdempotencyTTL),
			idempotency.WithGuardLogger(logger.WithField("component", "idempotency")),
		),
	}
	c.referrals = referral.NewService(deps.referrals, c.loyalty, logger.WithField("component", "referrals"))
	c.pricing = pricing.NewService(deps.products, deps.priceHistory, deps.priceAlerts, deps.outboxRepo, logger.WithField("component", "pricing"))
	c.catalog.SetPriceObserver(c.pricing)
	c.recommender = inventory.NewRecommender(deps.products, deps.repo, logger.WithField("component", "recommendations"))

	var locker rediscache.Locker = rediscache.NewMemoryLocker()
	rateMetrics := metrics.NewRateLimitMetrics()
	if redisClient != nil {
		locker = rediscache.NewRedisLocker(redisClient, redisLockPrefix)
		c.limiter = ratelimit.NewRedisLimiter(redisClient, redisLimitPrefix, rateMetrics)
	} else {
		c.memLimiter = ratelimit.NewMemoryLimiter(rateMetrics)
		c.limiter = c.memLimiter
	}

	c.orders = orders.NewService(orders.Dependencies{
		Orders:    deps.repo,
		Outbox:    deps.outboxRepo,
		Timeline:  deps.timelineRepo,
		Webhooks:  deps.webhooks,
		Gateway:   c.gateway,
		Catalog:   c.catalog,
		Loyalty:   c.loyalty,
		Coupons:   c.coupons,
		Referrals: c.referrals,
		Locker:    locker,
		Metrics:   metrics.NewOrderMetrics(),
		Logger:    logger.WithField("component", "orders"),
	},
		orders.WithAllowUnlistedItems(cfg.AllowUnlistedItems),
		orders.WithPreferenceLifetime(cfg.PreferenceLifetime),
	)

	c.relay = notify.NewRelay(notify.RelayConfig{
		AdminPhone:     cfg.AdminPhone,
		ConfirmBaseURL: cfg.BackendURL,
		TransferAlias:  cfg.TransferAlias,
	}, buildNotifier(cfg, logger), deps.repo, providerMetrics, logger.WithField("component", "notification-relay"))

	return c, nil
}

// initRedis подключается к Redis, если адрес задан.
func initRedis(ctx context.Context, cfg Config, logger *log.Entry) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client, err := rediscache.Open(ctx, rediscache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	logger.WithField("addr", cfg.RedisAddr).Info("redis connected")
	return client, nil
}

// registerCheckers подключает проверки компонентов к health handler.
func registerCheckers(h *health.Handler, cfg Config, deps *runtimeDependencies, redisClient *redis.Client, producer *kafka.Producer) {
	h.RegisterChecker("storage", deps.storageChecker)
	h.RegisterChecker("outbox", newOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))
	if redisClient != nil {
		h.RegisterChecker("redis", health.NewOptionalChecker("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	if producer != nil {
		brokers := cfg.KafkaBrokers
		h.RegisterChecker("kafka", health.NewOptionalChecker("kafka", func(context.Context) error {
			return pingKafka(brokers)
		}))
	}
}

// pingKafka проверяет, что хотя бы один брокер отвечает на metadata-запрос.
func pingKafka(brokers []string) error {
	config := sarama.NewConfig()
	config.Metadata.Retry.Max = 0
	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return err
	}
	defer client.Close()
	if len(client.Brokers()) == 0 {
		return fmt.Errorf("no kafka brokers available")
	}
	return nil
}
