package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/rediscache"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(nil)
	l.now = func() time.Time { return now }
	rule := Rule{Scope: "payment", Limit: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, rule, "1.2.3.4")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d must be allowed: %+v %v", i, d, err)
		}
	}
	now = now.Add(20 * time.Second)
	d, _ := l.Allow(ctx, rule, "1.2.3.4")
	if d.Allowed || d.RetryAfter != 40*time.Second || d.Remaining != 0 {
		t.Fatalf("third request must be rejected: %+v", d)
	}
	if d, _ := l.Allow(ctx, rule, "5.6.7.8"); !d.Allowed {
		t.Fatal("other keys have their own window")
	}
	if d, _ := l.Allow(ctx, GeneralRule, "1.2.3.4"); !d.Allowed {
		t.Fatal("scopes are independent")
	}

	now = now.Add(time.Minute)
	if d, _ := l.Allow(ctx, rule, "1.2.3.4"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("new window must reset the counter: %+v", d)
	}
	if removed := l.Sweep(); removed != 2 {
		t.Fatalf("expected two expired windows, got %d", removed)
	}
}

func TestMemoryLimiter_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := NewMemoryLimiter(metrics.NewRateLimitMetricsWithRegisterer(reg))
	rule := Rule{Scope: "general", Limit: 1, Window: time.Minute}

	_, _ = l.Allow(context.Background(), rule, "ip")
	_, _ = l.Allow(context.Background(), rule, "ip")

	if n := testutil.CollectAndCount(reg, "storefront_rate_limit_decisions_total"); n != 2 {
		t.Fatalf("expected allowed and rejected series, got %d", n)
	}
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("STOREFRONT_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("STOREFRONT_REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	client, err := rediscache.Open(ctx, rediscache.Config{Addr: addr})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer client.Close()

	l := NewRedisLimiter(client, "test:"+uuid.NewString()+":", nil)
	rule := Rule{Scope: "payment", Limit: 1, Window: 10 * time.Second}
	d, err := l.Allow(ctx, rule, "ip")
	if err != nil || !d.Allowed {
		t.Fatalf("first request must be allowed: %+v %v", d, err)
	}
	d, err = l.Allow(ctx, rule, "ip")
	if err != nil || d.Allowed || d.RetryAfter <= 0 {
		t.Fatalf("second request must be rejected with retry-after: %+v %v", d, err)
	}
}
