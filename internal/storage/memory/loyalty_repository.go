package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type loyaltyRepositoryInMemory struct {
	mu       sync.RWMutex
	accounts map[string]domain.LoyaltyAccount
}

// NewLoyaltyRepository создаёт in-memory хранилище бонусных счетов.
func NewLoyaltyRepository() domain.LoyaltyRepository {
	return &loyaltyRepositoryInMemory{accounts: make(map[string]domain.LoyaltyAccount)}
}

func (r *loyaltyRepositoryInMemory) Get(_ context.Context, userID string) (domain.LoyaltyAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[userID]
	if !ok {
		return domain.LoyaltyAccount{}, domain.ErrLoyaltyAccountNotFound
	}
	return cloneAccount(acc), nil
}

func (r *loyaltyRepositoryInMemory) AddPoints(_ context.Context, userID string, entry domain.PointsEntry, expiresAt time.Time) (domain.LoyaltyAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	at := entry.Date
	if at.IsZero() {
		at = now
	}
	acc, ok := r.accounts[userID]
	if !ok {
		acc = domain.LoyaltyAccount{UserID: userID, CreatedAt: now}
	}
	// Сгоревшие баллы не переносятся в новый срок.
	acc.Points = acc.ActivePoints(at) + entry.Points
	acc.History = append(acc.History, entry)
	acc.ExpiresAt = expiresAt
	acc.Level = domain.LevelFor(acc.Points).Name
	acc.UpdatedAt = now
	r.accounts[userID] = cloneAccount(acc)
	return cloneAccount(acc), nil
}

func cloneAccount(src domain.LoyaltyAccount) domain.LoyaltyAccount {
	dst := src
	dst.History = append([]domain.PointsEntry(nil), src.History...)
	return dst
}

var _ domain.LoyaltyRepository = (*loyaltyRepositoryInMemory)(nil)
