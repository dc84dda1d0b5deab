package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// opTimeout ограничивает каждую операцию репозитория.
const opTimeout = 5 * time.Second

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolOptions: настройки пула соединений database/sql.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolOptions подходит для одного инстанса витрины.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// OpenOption меняет настройки пула.
type OpenOption func(*PoolOptions)

// WithMaxConns ограничивает число открытых и простаивающих соединений.
func WithMaxConns(n int) OpenOption {
	return func(o *PoolOptions) {
		if n <= 0 {
			return
		}
		o.MaxOpenConns = n
		if o.MaxIdleConns > n {
			o.MaxIdleConns = n
		}
	}
}

// WithConnMaxLifetime задаёт время жизни соединения.
func WithConnMaxLifetime(d time.Duration) OpenOption {
	return func(o *PoolOptions) {
		if d > 0 {
			o.ConnMaxLifetime = d
		}
	}
}

// Store держит пул соединений, общий для всех репозиториев витрины.
type Store struct {
	db   *sql.DB
	pool PoolOptions
}

// Open подключается к PostgreSQL через pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...OpenOption) (*Store, error) {
	pool := DefaultPoolOptions()
	for _, opt := range opts {
		opt(&pool)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db, pool: pool}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Pool возвращает применённые настройки пула.
func (s *Store) Pool() PoolOptions {
	if s == nil {
		return PoolOptions{}
	}
	return s.pool
}

// Ping используется readiness-проверкой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	timeout := s.pool.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPoolOptions().PingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// StatsCollector публикует метрики пула (go_sql_*) с меткой db_name="storefront".
func (s *Store) StatsCollector() (prometheus.Collector, error) {
	if s == nil || s.db == nil {
		return nil, errStoreNotInitialized
	}
	return collectors.NewDBStatsCollector(s.db, "storefront"), nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
