package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type subscriberRepositoryInMemory struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscriber
}

// NewSubscriberRepository создаёт in-memory хранилище подписчиков.
func NewSubscriberRepository() domain.SubscriberRepository {
	return &subscriberRepositoryInMemory{subs: make(map[string]domain.Subscriber)}
}

func (r *subscriberRepositoryInMemory) Get(_ context.Context, email string) (domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.subs[email]
	if !ok {
		return domain.Subscriber{}, domain.ErrSubscriberNotFound
	}
	s.Interests = append([]string(nil), s.Interests...)
	return s, nil
}

func (r *subscriberRepositoryInMemory) Save(_ context.Context, sub domain.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub.Interests = append([]string(nil), sub.Interests...)
	r.subs[sub.Email] = sub
	return nil
}

func (r *subscriberRepositoryInMemory) ListActive(_ context.Context) ([]domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Subscriber
	for _, s := range r.subs {
		if s.Active {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SubscribedAt.After(result[j].SubscribedAt) })
	return result, nil
}

var _ domain.SubscriberRepository = (*subscriberRepositoryInMemory)(nil)
