package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// TimelineRepository: журнал событий заказов в памяти.
type TimelineRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append дописывает событие. Пустой actor сохраняется как system.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if event.Actor == "" {
		event.Actor = domain.ActorSystem
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := append(r.byOrder[event.OrderID], event)
	domain.SortTimeline(events)
	r.byOrder[event.OrderID] = events
	return nil
}

func (r *TimelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent(nil), r.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
