package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	port := findFreePort(t)
	cfg := DefaultConfig()
	cfg.HTTPAddr = fmt.Sprintf("127.0.0.1:%d", port)
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.StorageDriver = StorageDriverMemory
	cfg.ShutdownTimeout = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/livez", port)
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if string(body) != "ok" {
				t.Fatalf("unexpected livez body %q", body)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("http api did not start: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRun_ProductionRequiresSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Environment = EnvProduction

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "webhook secret") {
		t.Fatalf("expected config validation error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer func() { _ = deps.close() }()

	if deps.repo == nil || deps.outboxRepo == nil || deps.timelineRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if deps.products == nil || deps.coupons == nil || deps.webhooks == nil {
		t.Fatalf("storefront repositories must be initialized: %+v", deps)
	}
	check := deps.storageChecker.Check(context.Background())
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestShutdownWorkers(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	stopped := false
	startWorker(ctx, &wg, func(ctx context.Context) {
		<-ctx.Done()
		stopped = true
	})
	shutdownWorkers(cancel, &wg, time.Second, logger)
	if !stopped {
		t.Fatal("worker must observe cancellation before shutdownWorkers returns")
	}

	shutdownWorkers(nil, &wg, time.Second, logger)
}

func TestShutdownWorkers_Timeout(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Done()

	start := time.Now()
	shutdownWorkers(func() {}, &wg, 50*time.Millisecond, log.WithField("test", "shutdown-timeout"))
	if time.Since(start) > time.Second {
		t.Fatal("shutdownWorkers must give up after timeout")
	}
}

func TestSweepLimiter_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 10)
	done := make(chan struct{})
	go func() {
		sweepLimiter(ctx, func() int {
			calls <- struct{}{}
			return 0
		}, 10*time.Millisecond)
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("sweep was never called")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweepLimiter did not stop")
	}
}

func TestOutboxBacklogChecker(t *testing.T) {
	repo := memory.NewOutboxRepository()
	checker := newOutboxBacklogChecker(repo, 1)
	ctx := context.Background()

	if check := checker.Check(ctx); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("empty outbox must be healthy, got %+v", check)
	}
	for i := 0; i < 2; i++ {
		if _, err := repo.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   fmt.Sprintf("o-%d", i),
			EventType:     domain.EventOrderPlaced,
			Payload:       []byte(`{}`),
		}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if check := checker.Check(ctx); check.Status == healthcheck.StatusHealthy {
		t.Fatalf("backlog above limit must not be healthy, got %+v", check)
	}
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
}
