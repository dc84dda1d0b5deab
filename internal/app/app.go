package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	serviceName           = "storefront"
	limiterSweepInterval  = time.Minute
	defaultShutdownWindow = 10 * time.Second
)

// Run поднимает HTTP API, admin gRPC, сервер метрик и фоновые воркеры
// и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownWindow
	}

	tp, err := tracing.InitTracerProvider(serviceName, cfg.JaegerEndpoint, logger.WithField("component", "tracing"))
	if err != nil {
		logger.WithError(err).Warn("failed to init tracing, continuing without exporter")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracing shutdown with error")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	redisClient, err := initRedis(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, using in-process locks and rate limits")
		redisClient = nil
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("kafka unavailable, relaying notifications in-process")
		producer = nil
	}
	defer closeKafkaProducer(producer, logger)

	comps, err := buildComponents(cfg, deps, redisClient, logger)
	if err != nil {
		return err
	}

	healthHandler := health.NewHandler(version.String())
	registerCheckers(healthHandler, cfg, deps, redisClient, producer)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	var publisher domain.OutboxPublisher = comps.relay
	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	var consumer *kafka.Consumer
	if producer != nil {
		topic := cfg.KafkaTopic
		if topic == "" {
			topic = kafka.TopicOrderEvents
		}
		publisher = kafka.NewOutboxPublisher(producer, topic)
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)))
		consumer, err = startNotifierConsumer(workerCtx, cfg.KafkaBrokers, topic, comps.relay.HandleKafkaMessage, producer, logger)
		if err != nil {
			logger.WithError(err).Warn("notifier consumer disabled")
			consumer = nil
		}
	}

	outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher, outboxOpts...)
	expiryWorker := orders.NewExpiryWorker(comps.orders, cfg.ExpiryInterval, cfg.ExpiryBatchSize, logger.WithField("component", "order-expiry-worker"))
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "dedup-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithWebhookJournal(deps.webhooks, cfg.WebhookRetention),
	)

	startWorker(workerCtx, &workers, outboxWorker.Run)
	startWorker(workerCtx, &workers, expiryWorker.Run)
	startWorker(workerCtx, &workers, cleanupWorker.Run)
	if comps.memLimiter != nil {
		startWorker(workerCtx, &workers, func(ctx context.Context) {
			sweepLimiter(ctx, comps.memLimiter.Sweep, limiterSweepInterval)
		})
	}

	api := httpapi.NewServer(httpapi.Config{
		WebhookSecret:         cfg.WebhookSecret,
		AllowUnsignedWebhooks: cfg.AllowUnsignedWebhooks,
		AdminToken:            cfg.AdminToken,
		AllowedOrigins:        cfg.AllowedOrigins,
		HideErrorDetails:      cfg.IsProduction(),
	}, httpapi.Dependencies{
		Orders:      comps.orders,
		Gateway:     comps.gateway,
		Catalog:     comps.catalog,
		Pricing:     comps.pricing,
		Recommender: comps.recommender,
		Loyalty:     comps.loyalty,
		Coupons:     comps.coupons,
		Referrals:   comps.referrals,
		Newsletter:  comps.newsletter,
		Messenger:   comps.relay,
		Guard:       comps.guard,
		Limiter:     comps.limiter,
		Health:      healthHandler,
		Logger:      logger.WithField("component", "http"),
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, grpcHealth := newGRPCServer(comps.orders, deps.idempotencyRepo, cfg.AdminToken, logger)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			stopWorkers()
			workers.Wait()
			shutdownHTTP(metricsSrv, logger)
			return fmt.Errorf("listen grpc: %w", err)
		}
		go func() {
			logger.Infof("admin gRPC listening on %s", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}
	go func() {
		logger.WithFields(log.Fields{
			"addr":        cfg.HTTPAddr,
			"environment": cfg.Environment,
			"storage":     cfg.StorageDriver,
			"demo":        cfg.DemoPayments(),
		}).Info("storefront HTTP API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed, shutting down")
	}

	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTPWithTimeout(httpSrv, shutdownTimeout, logger)
	stopGRPC(grpcServer, shutdownTimeout, logger)
	stopKafkaConsumer(consumer, logger)
	shutdownWorkers(stopWorkers, &workers, shutdownTimeout, logger)
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// newGRPCServer собирает admin gRPC с метриками, проверкой admin-токена, health и reflection.
// Метрики пишутся в promgrpc.DefaultServerMetrics, который пакет сам регистрирует
// в глобальном реестре.
func newGRPCServer(orderSvc grpcsvc.Orders, idemRepo domain.IdempotencyRepository, adminToken string, logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.DefaultServerMetrics
	if adminToken == "" {
		logger.Warn("admin grpc token is empty, admin API is unauthenticated")
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		grpcsvc.AuthUnaryInterceptor(adminToken),
	))
	grpcsvc.RegisterAdminServer(server, grpcsvc.NewAdminService(orderSvc, idemRepo, logger.WithField("component", "admin-grpc")))
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

func startWorker(ctx context.Context, wg *sync.WaitGroup, run func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		run(ctx)
	}()
}

// sweepLimiter периодически чистит истёкшие окна in-memory лимитера.
func sweepLimiter(ctx context.Context, sweep func() int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// shutdownWorkers отменяет контекст воркеров и ждёт их завершения не дольше timeout.
func shutdownWorkers(cancel context.CancelFunc, wg *sync.WaitGroup, timeout time.Duration, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("background workers stopped")
	case <-time.After(timeout):
		logger.Warn("background workers did not stop in time")
	}
}

func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("grpc graceful stop timed out, forcing stop")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health-пробы.
// newOpsMux собирает служебные маршруты: метрики, health-пробы и сведения о сборке.
func newOpsMux(healthHandler *health.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		v, c, d := version.Info()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"service": version.Product,
			"version": v,
			"commit":  c,
			"date":    d,
		})
	})
	return mux
}

func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: newOpsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	shutdownHTTPWithTimeout(srv, 5*time.Second, logger)
}

func shutdownHTTPWithTimeout(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}
