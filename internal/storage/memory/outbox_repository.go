package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"

	defaultOutboxPullLimit = 100
	defaultOutboxLease     = 30 * time.Second
)

type outboxRecord struct {
	msg         domain.OutboxMessage
	status      string
	attempts    int
	lockedUntil time.Time
	updatedAt   time.Time
}

func (rec *outboxRecord) claimable(now time.Time) bool {
	return rec.status == outboxStatusPending && !rec.lockedUntil.After(now)
}

// OutboxRepository: outbox в памяти с той же арендой записей, что и в postgres:
// PullPending выдаёт запись одному воркеру до MarkSent/MarkFailed или истечения lease.
type OutboxRepository struct {
	mu      sync.Mutex
	records map[string]*outboxRecord
	lease   time.Duration
	now     func() time.Time
}

// NewOutboxRepository создаёт пустой outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		records: make(map[string]*outboxRecord),
		lease:   defaultOutboxLease,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithLease задаёт срок аренды; неположительное значение оставляет текущий.
func (r *OutboxRepository) WithLease(lease time.Duration) *OutboxRepository {
	if lease > 0 {
		r.lease = lease
	}
	return r
}

// WithClock подменяет часы.
func (r *OutboxRepository) WithClock(now func() time.Time) *OutboxRepository {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Payload = slices.Clone(msg.Payload)
	r.records[msg.ID] = &outboxRecord{msg: msg, status: outboxStatusPending, updatedAt: now}
	return msg, nil
}

// PullPending арендует до limit самых старых свободных сообщений.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	claimed := r.collect(func(rec *outboxRecord) bool { return rec.claimable(now) })
	if len(claimed) > limit {
		claimed = claimed[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(claimed))
	for _, rec := range claimed {
		rec.lockedUntil = now.Add(r.lease)
		rec.attempts++
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats считает все pending-сообщения, включая арендованные.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.collect(isPending)
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].msg.CreatedAt
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.release(id, outboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.release(id, outboxStatusFailed)
}

// AllPending возвращает копии pending-сообщений без аренды.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.collect(isPending)
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result
}

// Attempts возвращает число выдач сообщения воркерам.
func (r *OutboxRepository) Attempts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		return rec.attempts
	}
	return 0
}

func (r *OutboxRepository) release(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = status
	rec.lockedUntil = time.Time{}
	rec.updatedAt = r.now()
	return nil
}

func isPending(rec *outboxRecord) bool { return rec.status == outboxStatusPending }

// collect возвращает записи по предикату в порядке создания. Вызывается под mu.
func (r *OutboxRepository) collect(keep func(*outboxRecord) bool) []*outboxRecord {
	result := make([]*outboxRecord, 0, len(r.records))
	for _, rec := range r.records {
		if keep(rec) {
			result = append(result, rec)
		}
	}
	slices.SortFunc(result, func(a, b *outboxRecord) int {
		if c := a.msg.CreatedAt.Compare(b.msg.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.msg.ID, b.msg.ID)
	})
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
