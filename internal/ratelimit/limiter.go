// Package ratelimit реализует ограничение частоты запросов фиксированным окном.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Rule: лимит запросов на окно.
type Rule struct {
	Scope  string
	Limit  int64
	Window time.Duration
}

// Стандартные лимиты витрины.
var (
	GeneralRule = Rule{Scope: "general", Limit: 100, Window: 15 * time.Minute}
	PaymentRule = Rule{Scope: "payment", Limit: 10, Window: 5 * time.Minute}
)

// Decision: результат проверки лимита.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter считает запросы по ключу в пределах окна.
type Limiter interface {
	Allow(ctx context.Context, rule Rule, key string) (Decision, error)
}

// fixedWindowScript увеличивает счётчик и выставляет TTL на первом запросе окна.
// Возвращает {count, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter хранит счётчики в Redis; окно общее для всех экземпляров сервиса.
type RedisLimiter struct {
	client  redis.Scripter
	prefix  string
	metrics *metrics.RateLimitMetrics
}

// NewRedisLimiter создаёт лимитер поверх Redis.
func NewRedisLimiter(client redis.Scripter, prefix string, m *metrics.RateLimitMetrics) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, metrics: m}
}

// Allow реализует Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, rule Rule, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s%s:%s", l.prefix, rule.Scope, key)
	res, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{Allowed: true}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	d := decide(rule, res[0], time.Duration(res[1])*time.Millisecond)
	record(l.metrics, rule, d)
	return d, nil
}

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter: лимитер одного процесса для запуска без Redis.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	metrics *metrics.RateLimitMetrics
}

// NewMemoryLimiter создаёт in-memory лимитер.
func NewMemoryLimiter(m *metrics.RateLimitMetrics) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
		metrics: m,
	}
}

// Allow реализует Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := rule.Scope + ":" + key
	w, ok := l.windows[k]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rule.Window)}
		l.windows[k] = w
	}
	w.count++
	d := decide(rule, w.count, w.resetAt.Sub(now))
	record(l.metrics, rule, d)
	return d, nil
}

// Sweep удаляет истёкшие окна.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

func decide(rule Rule, count int64, ttl time.Duration) Decision {
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{Allowed: count <= rule.Limit, Remaining: remaining}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d
}

func record(m *metrics.RateLimitMetrics, rule Rule, d Decision) {
	if m != nil {
		m.Record(rule.Scope, d.Allowed)
	}
}

var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = (*MemoryLimiter)(nil)
)
