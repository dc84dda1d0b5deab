package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type couponRepositoryInMemory struct {
	mu          sync.RWMutex
	coupons     map[string]domain.Coupon
	redemptions []domain.CouponRedemption
	assigned    map[string][]domain.CouponAssignment
}

// NewCouponRepository создаёт in-memory хранилище купонов.
func NewCouponRepository() domain.CouponRepository {
	return &couponRepositoryInMemory{
		coupons:  make(map[string]domain.Coupon),
		assigned: make(map[string][]domain.CouponAssignment),
	}
}

func (r *couponRepositoryInMemory) Create(_ context.Context, coupon domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.coupons[coupon.Code]; ok {
		return domain.ErrCouponExists
	}
	if coupon.Version == 0 {
		coupon.Version = 1
	}
	r.coupons[coupon.Code] = coupon
	return nil
}

func (r *couponRepositoryInMemory) Get(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.coupons[code]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return c, nil
}

func (r *couponRepositoryInMemory) List(_ context.Context, activeOnly bool) ([]domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Coupon, 0, len(r.coupons))
	for _, c := range r.coupons {
		if activeOnly && !c.Active {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *couponRepositoryInMemory) Save(_ context.Context, coupon domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.coupons[coupon.Code]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if current.Version != coupon.Version {
		return domain.ErrCouponConflict
	}
	coupon.Version++
	coupon.UpdatedAt = time.Now().UTC()
	r.coupons[coupon.Code] = coupon
	return nil
}

// Redeem проверяет лимиты и фиксирует использование под одной блокировкой.
func (r *couponRepositoryInMemory) Redeem(_ context.Context, redemption domain.CouponRedemption, onePerUser bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[redemption.Code]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return domain.ErrCouponExhausted
	}
	for _, existing := range r.redemptions {
		if existing.Code != redemption.Code {
			continue
		}
		if existing.OrderID == redemption.OrderID {
			return nil
		}
		if onePerUser && existing.UserID == redemption.UserID {
			return domain.ErrCouponAlreadyUsed
		}
	}

	if redemption.ID == "" {
		redemption.ID = uuid.NewString()
	}
	c.UsedCount++
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	r.coupons[c.Code] = c
	r.redemptions = append(r.redemptions, redemption)

	for i, a := range r.assigned[redemption.UserID] {
		if a.Code == redemption.Code {
			r.assigned[redemption.UserID][i].Used = true
		}
	}
	return nil
}

func (r *couponRepositoryInMemory) Release(_ context.Context, code, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, red := range r.redemptions {
		if red.Code == code && red.OrderID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	userID := r.redemptions[idx].UserID
	r.redemptions = append(r.redemptions[:idx], r.redemptions[idx+1:]...)

	if c, ok := r.coupons[code]; ok {
		if c.UsedCount > 0 {
			c.UsedCount--
		}
		c.Version++
		c.UpdatedAt = time.Now().UTC()
		r.coupons[code] = c
	}
	for _, red := range r.redemptions {
		if red.Code == code && red.UserID == userID {
			return nil
		}
	}
	for i, a := range r.assigned[userID] {
		if a.Code == code {
			r.assigned[userID][i].Used = false
		}
	}
	return nil
}

func (r *couponRepositoryInMemory) HasRedemption(_ context.Context, code, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, red := range r.redemptions {
		if red.Code == code && red.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *couponRepositoryInMemory) Assign(_ context.Context, assignment domain.CouponAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.coupons[assignment.Code]; !ok {
		return domain.ErrCouponNotFound
	}
	list := r.assigned[assignment.UserID]
	for i, a := range list {
		if a.Code == assignment.Code {
			list[i] = assignment
			return nil
		}
	}
	r.assigned[assignment.UserID] = append(list, assignment)
	return nil
}

func (r *couponRepositoryInMemory) ListAssigned(_ context.Context, userID string) ([]domain.CouponAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.CouponAssignment(nil), r.assigned[userID]...), nil
}

var _ domain.CouponRepository = (*couponRepositoryInMemory)(nil)
