package domain

import (
	"strings"
	"time"
)

// CouponType: тип скидки купона.
type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFixed      CouponType = "fixed"
)

// AssignedCouponLifetime: срок действия купона, выданного пользователю.
const AssignedCouponLifetime = 30 * 24 * time.Hour

// Coupon описывает промокод.
type Coupon struct {
	ID          string
	Code        string
	Description string
	Type        CouponType
	// Value: процент для percentage, сумма в сентаво для fixed.
	Value            int64
	MaxDiscountMinor int64
	MinAmountMinor   int64
	// UsageLimit = 0 означает без ограничения.
	UsageLimit int
	UsedCount  int
	OnePerUser bool
	Active     bool
	// Rule: необязательное CEL-выражение над total, items, method, user_id.
	Rule      string
	ExpiresAt time.Time
	CreatedBy string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCouponCode приводит код к каноническому виду.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate проверяет определение купона.
func (c *Coupon) Validate() []error {
	var errs []error
	if c.Code == "" {
		errs = append(errs, ErrCouponInvalid)
	}
	switch c.Type {
	case CouponTypePercentage:
		if c.Value <= 0 || c.Value > 100 {
			errs = append(errs, NewValidationError("percentage must be between 1 and 100"))
		}
	case CouponTypeFixed:
		if c.Value <= 0 {
			errs = append(errs, NewValidationError("fixed discount must be greater than zero"))
		}
	default:
		errs = append(errs, NewValidationError("unknown coupon type"))
	}
	if c.MaxDiscountMinor < 0 || c.MinAmountMinor < 0 || c.UsageLimit < 0 {
		errs = append(errs, ErrCouponInvalid)
	}
	return errs
}

// CheckUsable проверяет активность, срок, лимит использований и минимальную сумму.
func (c *Coupon) CheckUsable(now time.Time, totalMinor int64) error {
	switch {
	case !c.Active:
		return ErrCouponInactive
	case !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt):
		return ErrCouponExpired
	case c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit:
		return ErrCouponExhausted
	case c.MinAmountMinor > 0 && totalMinor < c.MinAmountMinor:
		return ErrCouponMinAmount
	}
	return nil
}

// Discount считает скидку для суммы заказа.
func (c *Coupon) Discount(totalMinor int64) int64 {
	if totalMinor <= 0 {
		return 0
	}
	var d int64
	switch c.Type {
	case CouponTypePercentage:
		d = totalMinor * c.Value / 100
		if c.MaxDiscountMinor > 0 && d > c.MaxDiscountMinor {
			d = c.MaxDiscountMinor
		}
	case CouponTypeFixed:
		d = c.Value
	}
	if d > totalMinor {
		d = totalMinor
	}
	return d
}

// CouponRedemption: факт использования купона в заказе.
type CouponRedemption struct {
	ID            string
	Code          string
	UserID        string
	OrderID       string
	DiscountMinor int64
	RedeemedAt    time.Time
}

// CouponAssignment: купон, выданный конкретному пользователю.
type CouponAssignment struct {
	Code       string
	UserID     string
	AssignedAt time.Time
	ExpiresAt  time.Time
	Used       bool
}
