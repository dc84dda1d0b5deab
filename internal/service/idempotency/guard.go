package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL: сколько хранится ответ на запрос с Idempotency-Key.
const DefaultTTL = 24 * time.Hour

// ErrInProgress: запрос с тем же ключом ещё обрабатывается.
var ErrInProgress = errors.New("request with the same idempotency key is already processing")

// Guard оборачивает IdempotencyRepository для транспортного слоя:
// Begin резервирует ключ или возвращает сохранённый ответ, Finish сохраняет результат.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт время жизни записи.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard создаёт Guard. Без репозитория Begin всегда разрешает обработку.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    DefaultTTL,
		logger: log.New().WithField("component", "idempotency"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled сообщает, подключено ли хранилище.
func (g *Guard) Enabled() bool {
	return g != nil && g.repo != nil
}

// RequestHash считает отпечаток запроса: scope (метод и путь) плюс тело.
func RequestHash(scope string, body []byte) string {
	payload := make([]byte, 0, len(scope)+1+len(body))
	payload = append(payload, scope...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Begin регистрирует ключ. Возвращает nil-запись, если запрос нужно обработать,
// или сохранённую запись для повтора ответа.
func (g *Guard) Begin(ctx context.Context, key, scope string, body []byte) (*domain.IdempotencyRecord, error) {
	if !g.Enabled() {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(ctx, key, RequestHash(scope, body), g.now().Add(g.ttl))
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if len(record.ResponseBody) == 0 {
				return nil, fmt.Errorf("idempotency cache is empty for key %s", key)
			}
			return &record, nil
		case domain.IdempotencyStatusProcessing:
			return nil, ErrInProgress
		default:
			return nil, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return nil, fmt.Errorf("initialize idempotency request: %w", err)
	}
}

// Finish сохраняет ответ: успешные статусы как done, остальные как failed.
// Ошибка записи только логируется, клиент уже получает ответ.
func (g *Guard) Finish(ctx context.Context, key string, httpStatus int, body []byte) {
	if !g.Enabled() || strings.TrimSpace(key) == "" {
		return
	}

	var err error
	if httpStatus < http.StatusBadRequest {
		err = g.repo.MarkDone(ctx, key, body, httpStatus)
	} else {
		err = g.repo.MarkFailed(ctx, key, body, httpStatus)
	}
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": key,
			"http_status":     httpStatus,
		}).Warn("failed to store idempotent response")
	}
}
