package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type referralRepositoryInMemory struct {
	mu         sync.RWMutex
	codes      map[string]domain.ReferralCode
	codeByUser map[string]string
	referrals  map[string]domain.Referral
}

// NewReferralRepository создаёт in-memory хранилище приглашений.
func NewReferralRepository() domain.ReferralRepository {
	return &referralRepositoryInMemory{
		codes:      make(map[string]domain.ReferralCode),
		codeByUser: make(map[string]string),
		referrals:  make(map[string]domain.Referral),
	}
}

func (r *referralRepositoryInMemory) SaveCode(_ context.Context, code domain.ReferralCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codeByUser[code.UserID]; ok {
		return nil
	}
	if owner, ok := r.codes[code.Code]; ok && owner.UserID != code.UserID {
		return domain.ErrAlreadyReferred
	}
	r.codes[code.Code] = code
	r.codeByUser[code.UserID] = code.Code
	return nil
}

func (r *referralRepositoryInMemory) CodeByUser(_ context.Context, userID string) (domain.ReferralCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.codeByUser[userID]
	if !ok {
		return domain.ReferralCode{}, domain.ErrReferralCodeNotFound
	}
	return r.codes[code], nil
}

func (r *referralRepositoryInMemory) CodeOwner(_ context.Context, code string) (domain.ReferralCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rc, ok := r.codes[code]
	if !ok {
		return domain.ReferralCode{}, domain.ErrReferralCodeNotFound
	}
	return rc, nil
}

func (r *referralRepositoryInMemory) Create(_ context.Context, referral domain.Referral) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.referrals[referral.ReferredID]; ok {
		return domain.ErrAlreadyReferred
	}
	r.referrals[referral.ReferredID] = referral
	return nil
}

func (r *referralRepositoryInMemory) GetByReferred(_ context.Context, referredID string) (domain.Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.referrals[referredID]
	if !ok {
		return domain.Referral{}, domain.ErrReferralNotFound
	}
	return ref, nil
}

func (r *referralRepositoryInMemory) ListByReferrer(_ context.Context, referrerID string) ([]domain.Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Referral
	for _, ref := range r.referrals {
		if ref.ReferrerID == referrerID {
			result = append(result, ref)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *referralRepositoryInMemory) Complete(_ context.Context, referredID string, at time.Time) (domain.Referral, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.referrals[referredID]
	if !ok {
		return domain.Referral{}, false, domain.ErrReferralNotFound
	}
	if ref.Status != domain.ReferralStatusPending {
		return ref, false, nil
	}
	ref.Status = domain.ReferralStatusCompleted
	ref.CompletedAt = at
	r.referrals[referredID] = ref
	return ref, true, nil
}

var _ domain.ReferralRepository = (*referralRepositoryInMemory)(nil)
