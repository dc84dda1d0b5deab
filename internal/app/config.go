package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Окружения запуска.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// ConfigPathEnv: переменная с путём к YAML-файлу конфигурации.
const ConfigPathEnv = "STOREFRONT_CONFIG"

// Config описывает настройки запуска витрины.
type Config struct {
	Environment string `yaml:"environment"`

	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`
	PostgresMaxConns    int    `yaml:"postgres_max_conns"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay"`
	// OutboxMaxPending: размер backlog, после которого readiness падает.
	OutboxMaxPending int `yaml:"outbox_max_pending"`

	IdempotencyTTL              time.Duration `yaml:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `yaml:"idempotency_cleanup_batch_size"`
	WebhookRetention            time.Duration `yaml:"webhook_retention"`

	PreferenceLifetime time.Duration `yaml:"preference_lifetime"`
	ExpiryInterval     time.Duration `yaml:"expiry_interval"`
	ExpiryBatchSize    int           `yaml:"expiry_batch_size"`
	AllowUnlistedItems bool          `yaml:"allow_unlisted_items"`

	MercadoPagoBaseURL string        `yaml:"mercadopago_base_url"`
	MercadoPagoToken   string        `yaml:"mercadopago_access_token"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout"`

	TwilioBaseURL        string `yaml:"twilio_base_url"`
	TwilioAccountSID     string `yaml:"twilio_account_sid"`
	TwilioAuthToken      string `yaml:"twilio_auth_token"`
	TwilioWhatsAppNumber string `yaml:"twilio_whatsapp_number"`

	WebhookSecret         string `yaml:"webhook_secret"`
	AllowUnsignedWebhooks bool   `yaml:"allow_unsigned_webhooks"`

	FrontendURL    string   `yaml:"frontend_url"`
	BackendURL     string   `yaml:"backend_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	AdminToken    string `yaml:"admin_token"`
	AdminPhone    string `yaml:"admin_phone"`
	TransferAlias string `yaml:"transfer_alias"`

	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		Environment:                 EnvDevelopment,
		HTTPAddr:                    ":3000",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		ShutdownTimeout:             10 * time.Second,
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxConns:            25,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		WebhookRetention:            30 * 24 * time.Hour,
		PreferenceLifetime:          24 * time.Hour,
		ExpiryInterval:              15 * time.Minute,
		ExpiryBatchSize:             100,
		MercadoPagoBaseURL:          "https://api.mercadopago.com",
		ProviderTimeout:             10 * time.Second,
		TwilioBaseURL:               "https://api.twilio.com/2010-04-01",
		FrontendURL:                 "http://localhost:5173",
		BackendURL:                  "http://localhost:3000",
	}
}

// LoadConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл
// из STOREFRONT_CONFIG, затем переменные окружения.
func LoadConfig() (Config, error) {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	if path, ok := lookup(ConfigPathEnv); ok && strings.TrimSpace(path) != "" {
		if err := cfg.loadFile(strings.TrimSpace(path)); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str(&c.Environment, "STOREFRONT_ENV", "NODE_ENV")
	e.str(&c.HTTPAddr, "STOREFRONT_HTTP_ADDR")
	if port, ok := e.get("PORT"); ok && !e.has("STOREFRONT_HTTP_ADDR") {
		c.HTTPAddr = ":" + port
	}
	e.str(&c.GRPCAddr, "STOREFRONT_GRPC_ADDR")
	e.str(&c.MetricsAddr, "STOREFRONT_METRICS_ADDR")
	e.duration(&c.ShutdownTimeout, "STOREFRONT_SHUTDOWN_TIMEOUT")

	e.str(&c.StorageDriver, "STOREFRONT_STORAGE_DRIVER")
	e.str(&c.PostgresDSN, "STOREFRONT_POSTGRES_DSN")
	e.boolean(&c.PostgresAutoMigrate, "STOREFRONT_POSTGRES_AUTO_MIGRATE")
	e.integer(&c.PostgresMaxConns, "STOREFRONT_POSTGRES_MAX_CONNS")

	e.str(&c.RedisAddr, "STOREFRONT_REDIS_ADDR")
	e.str(&c.RedisPassword, "STOREFRONT_REDIS_PASSWORD")
	e.integer(&c.RedisDB, "STOREFRONT_REDIS_DB")

	e.list(&c.KafkaBrokers, "STOREFRONT_KAFKA_BROKERS", "KAFKA_BROKERS")
	e.str(&c.KafkaTopic, "STOREFRONT_KAFKA_TOPIC")

	e.duration(&c.OutboxPollInterval, "STOREFRONT_OUTBOX_POLL_INTERVAL")
	e.integer(&c.OutboxBatchSize, "STOREFRONT_OUTBOX_BATCH_SIZE")
	e.integer(&c.OutboxMaxAttempts, "STOREFRONT_OUTBOX_MAX_ATTEMPTS")
	e.duration(&c.OutboxRetryDelay, "STOREFRONT_OUTBOX_RETRY_DELAY")
	e.integer(&c.OutboxMaxPending, "STOREFRONT_OUTBOX_MAX_PENDING")

	e.duration(&c.IdempotencyTTL, "STOREFRONT_IDEMPOTENCY_TTL")
	e.duration(&c.IdempotencyCleanupInterval, "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL")
	e.integer(&c.IdempotencyCleanupBatchSize, "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE")
	e.duration(&c.WebhookRetention, "STOREFRONT_WEBHOOK_RETENTION")

	e.duration(&c.PreferenceLifetime, "STOREFRONT_PREFERENCE_LIFETIME")
	e.duration(&c.ExpiryInterval, "STOREFRONT_EXPIRY_INTERVAL")
	e.integer(&c.ExpiryBatchSize, "STOREFRONT_EXPIRY_BATCH_SIZE")
	e.boolean(&c.AllowUnlistedItems, "STOREFRONT_ALLOW_UNLISTED_ITEMS")

	e.str(&c.MercadoPagoBaseURL, "STOREFRONT_MERCADOPAGO_BASE_URL")
	e.str(&c.MercadoPagoToken, "STOREFRONT_MERCADOPAGO_ACCESS_TOKEN", "MERCADOPAGO_ACCESS_TOKEN")
	e.duration(&c.ProviderTimeout, "STOREFRONT_PROVIDER_TIMEOUT")

	e.str(&c.TwilioBaseURL, "STOREFRONT_TWILIO_BASE_URL")
	e.str(&c.TwilioAccountSID, "STOREFRONT_TWILIO_ACCOUNT_SID", "TWILIO_ACCOUNT_SID")
	e.str(&c.TwilioAuthToken, "STOREFRONT_TWILIO_AUTH_TOKEN", "TWILIO_AUTH_TOKEN")
	e.str(&c.TwilioWhatsAppNumber, "STOREFRONT_TWILIO_WHATSAPP_NUMBER", "TWILIO_WHATSAPP_NUMBER")

	e.str(&c.WebhookSecret, "STOREFRONT_WEBHOOK_SECRET", "WEBHOOK_SECRET")
	e.boolean(&c.AllowUnsignedWebhooks, "STOREFRONT_ALLOW_UNSIGNED_WEBHOOKS")

	e.str(&c.FrontendURL, "STOREFRONT_FRONTEND_URL", "FRONTEND_URL")
	e.str(&c.BackendURL, "STOREFRONT_BACKEND_URL", "BACKEND_URL")
	e.list(&c.AllowedOrigins, "STOREFRONT_ALLOWED_ORIGINS")

	e.str(&c.AdminToken, "STOREFRONT_ADMIN_TOKEN")
	e.str(&c.AdminPhone, "STOREFRONT_ADMIN_PHONE")
	e.str(&c.TransferAlias, "STOREFRONT_TRANSFER_ALIAS")

	e.str(&c.JaegerEndpoint, "STOREFRONT_JAEGER_ENDPOINT", "JAEGER_ENDPOINT")

	return errors.Join(e.errs...)
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")
	c.BackendURL = strings.TrimRight(c.BackendURL, "/")
	if len(c.AllowedOrigins) == 0 && c.FrontendURL != "" {
		c.AllowedOrigins = []string{c.FrontendURL}
	}
}

// IsProduction сообщает, запущен ли сервис в production.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// DemoPayments сообщает, что вместо MercadoPago используется демо-шлюз.
func (c Config) DemoPayments() bool {
	return strings.TrimSpace(c.MercadoPagoToken) == ""
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox batch size and max attempts must be positive"))
	}
	if c.IsProduction() {
		if strings.TrimSpace(c.WebhookSecret) == "" {
			errs = append(errs, errors.New("webhook secret is required in production"))
		}
		if c.DemoPayments() {
			errs = append(errs, errors.New("mercadopago access token is required in production"))
		}
		if strings.TrimSpace(c.AdminToken) == "" {
			errs = append(errs, errors.New("admin token is required in production"))
		}
		if c.AllowUnsignedWebhooks {
			errs = append(errs, errors.New("unsigned webhooks are not allowed in production"))
		}
	}
	return errors.Join(errs...)
}

// envReader применяет переменные окружения и копит ошибки разбора.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) has(name string) bool {
	_, ok := e.get(name)
	return ok
}

func (e *envReader) get(names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := e.lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func (e *envReader) str(dst *string, names ...string) {
	if v, ok := e.get(names...); ok {
		*dst = v
	}
}

func (e *envReader) list(dst *[]string, names ...string) {
	v, ok := e.get(names...)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(dst *int, name string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", name, v))
		return
	}
	*dst = n
}

func (e *envReader) boolean(dst *bool, name string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", name, v))
		return
	}
	*dst = b
}

func (e *envReader) duration(dst *time.Duration, name string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", name, v))
		return
	}
	*dst = d
}
