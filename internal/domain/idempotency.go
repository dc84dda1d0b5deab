package domain

import (
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed: запрос отклонён, ответ с ошибкой тоже повторяется.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// DefaultIdempotencyTTL применяется, когда вызывающий не задал срок жизни ключа.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRecord: сохранённый ответ на запрос с Idempotency-Key
// (оформление заказа по HTTP, подтверждение и отмена через admin gRPC).
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord нормализует ключ и хэш и возвращает запись в статусе processing.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	now = now.UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Expired сообщает, что запись пережила свой TTL.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !now.Before(r.TTLAt)
}

// Replayable: сохранённый ответ можно вернуть повторному запросу.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// Conflict классифицирует повтор ключа: тот же запрос ещё в работе или уже завершён,
// либо ключ переиспользован с другим телом.
func (r IdempotencyRecord) Conflict(requestHash string) error {
	if r.RequestHash != strings.TrimSpace(requestHash) {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Clone копирует запись вместе с телом ответа.
func (r IdempotencyRecord) Clone() IdempotencyRecord {
	r.ResponseBody = append([]byte(nil), r.ResponseBody...)
	return r
}
