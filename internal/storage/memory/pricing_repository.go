package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type priceHistoryRepositoryInMemory struct {
	mu      sync.RWMutex
	changes map[string][]domain.PriceChange
}

// NewPriceHistoryRepository создаёт in-memory историю цен.
func NewPriceHistoryRepository() domain.PriceHistoryRepository {
	return &priceHistoryRepositoryInMemory{changes: make(map[string][]domain.PriceChange)}
}

func (r *priceHistoryRepositoryInMemory) Record(_ context.Context, change domain.PriceChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}
	r.changes[change.ProductID] = append(r.changes[change.ProductID], change)
	return nil
}

func (r *priceHistoryRepositoryInMemory) List(_ context.Context, productID string) ([]domain.PriceChange, error) {
	r.mu.RLock()
	result := slices.Clone(r.changes[productID])
	r.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b domain.PriceChange) int { return b.ChangedAt.Compare(a.ChangedAt) })
	return result, nil
}

type priceAlertRepositoryInMemory struct {
	mu     sync.Mutex
	alerts []domain.PriceAlert
}

// NewPriceAlertRepository создаёт in-memory хранилище ценовых подписок.
func NewPriceAlertRepository() domain.PriceAlertRepository {
	return &priceAlertRepositoryInMemory{}
}

func (r *priceAlertRepositoryInMemory) Create(_ context.Context, alert domain.PriceAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.alerts {
		if a.Active && a.UserID == alert.UserID && a.ProductID == alert.ProductID {
			return domain.ErrPriceAlertExists
		}
	}
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *priceAlertRepositoryInMemory) ListByUser(_ context.Context, userID string) ([]domain.PriceAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.PriceAlert, 0)
	for _, a := range r.alerts {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	slices.SortStableFunc(result, func(a, b domain.PriceAlert) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return result, nil
}

func (r *priceAlertRepositoryInMemory) Deactivate(_ context.Context, id, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, a := range r.alerts {
		if a.ID != id || a.UserID != userID {
			continue
		}
		if a.Active {
			r.alerts[i].Active = false
			r.alerts[i].DeletedAt = at
		}
		return nil
	}
	return domain.ErrPriceAlertNotFound
}

// Trigger отмечает подписки под той же блокировкой, поэтому каждая срабатывает один раз.
func (r *priceAlertRepositoryInMemory) Trigger(_ context.Context, productID string, priceMinor int64, at time.Time) ([]domain.PriceAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fired []domain.PriceAlert
	for i, a := range r.alerts {
		if a.ProductID != productID || !a.ShouldTrigger(priceMinor) {
			continue
		}
		a.Notified = true
		a.NotifiedAt = at
		a.TriggeredPriceMinor = priceMinor
		r.alerts[i] = a
		fired = append(fired, a)
	}
	return fired, nil
}

var (
	_ domain.PriceHistoryRepository = (*priceHistoryRepositoryInMemory)(nil)
	_ domain.PriceAlertRepository   = (*priceAlertRepositoryInMemory)(nil)
)
