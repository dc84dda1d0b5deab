package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type webhookRepositoryInMemory struct {
	mu     sync.Mutex
	events map[string]domain.WebhookEvent
}

// NewWebhookEventRepository создаёт in-memory журнал уведомлений провайдера.
func NewWebhookEventRepository() domain.WebhookEventRepository {
	return &webhookRepositoryInMemory{events: make(map[string]domain.WebhookEvent)}
}

func (r *webhookRepositoryInMemory) Record(_ context.Context, event domain.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[event.DedupKey]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = domain.WebhookEventReceived
	}
	r.events[event.DedupKey] = event
	return true, nil
}

func (r *webhookRepositoryInMemory) Finish(_ context.Context, dedupKey string, status domain.WebhookEventStatus, orderID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[dedupKey]
	if !ok {
		return nil
	}
	ev.Status = status
	ev.OrderID = orderID
	ev.Error = errMsg
	ev.UpdatedAt = time.Now().UTC()
	r.events[dedupKey] = ev
	return nil
}

func (r *webhookRepositoryInMemory) Forget(_ context.Context, dedupKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.events, dedupKey)
	return nil
}

func (r *webhookRepositoryInMemory) Purge(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := make([]domain.WebhookEvent, 0)
	for _, ev := range r.events {
		if ev.ReceivedAt.Before(before) {
			stale = append(stale, ev)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ReceivedAt.Before(stale[j].ReceivedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	for _, ev := range stale {
		delete(r.events, ev.DedupKey)
	}
	return len(stale), nil
}

var _ domain.WebhookEventRepository = (*webhookRepositoryInMemory)(nil)
