package coupon

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength     = 8
	maxCodeRetries = 5
	maxSaveRetries = 3
)

// CreateRequest описывает новый купон. Пустой Code генерируется.
type CreateRequest struct {
	Code             string
	Description      string
	Type             domain.CouponType
	Value            int64
	MaxDiscountMinor int64
	MinAmountMinor   int64
	UsageLimit       int
	OnePerUser       bool
	Rule             string
	ExpiresAt        time.Time
	CreatedBy        string
}

// Checkout: контекст заказа, к которому применяется купон.
type Checkout struct {
	Code       string
	UserID     string
	TotalMinor int64
	Items      int64
	Method     domain.PaymentMethod
}

// Quote: рассчитанная скидка по купону.
type Quote struct {
	Coupon        domain.Coupon
	DiscountMinor int64
}

// Service управляет промокодами.
type Service struct {
	repo   domain.CouponRepository
	rules  *RuleEngine
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис купонов; rules может быть nil, тогда купоны с правилом отклоняются.
func NewService(repo domain.CouponRepository, rules *RuleEngine, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "coupon")
	}
	return &Service{
		repo:   repo,
		rules:  rules,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GenerateCode возвращает случайный код из 8 символов [A-Z0-9].
func GenerateCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
	}
	return b.String()
}

// Create проверяет определение и сохраняет активный купон.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Coupon, error) {
	now := s.now()
	c := domain.Coupon{
		ID:               uuid.NewString(),
		Code:             domain.NormalizeCouponCode(req.Code),
		Description:      strings.TrimSpace(req.Description),
		Type:             req.Type,
		Value:            req.Value,
		MaxDiscountMinor: req.MaxDiscountMinor,
		MinAmountMinor:   req.MinAmountMinor,
		UsageLimit:       req.UsageLimit,
		OnePerUser:       req.OnePerUser,
		Active:           true,
		Rule:             strings.TrimSpace(req.Rule),
		ExpiresAt:        req.ExpiresAt,
		CreatedBy:        req.CreatedBy,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	generated := c.Code == ""
	if generated {
		c.Code = GenerateCode()
	}

	if errs := c.Validate(); len(errs) > 0 {
		return domain.Coupon{}, errors.Join(errs...)
	}
	if c.Rule != "" {
		if s.rules == nil {
			return domain.Coupon{}, domain.NewValidationError("coupon rules are disabled")
		}
		if _, err := s.rules.Compile(c.Rule); err != nil {
			return domain.Coupon{}, domain.NewValidationError(err.Error())
		}
	}

	for attempt := 1; ; attempt++ {
		err := s.repo.Create(ctx, c)
		if err == nil {
			break
		}
		if !generated || !errors.Is(err, domain.ErrCouponExists) || attempt == maxCodeRetries {
			return domain.Coupon{}, fmt.Errorf("create coupon %s: %w", c.Code, err)
		}
		c.Code = GenerateCode()
	}

	s.logger.WithFields(log.Fields{
		"code":  c.Code,
		"type":  c.Type,
		"value": c.Value,
	}).Info("coupon created")
	return c, nil
}

// Generate создаёт count купонов по шаблону со сгенерированными кодами.
func (s *Service) Generate(ctx context.Context, count int, template CreateRequest) ([]domain.Coupon, error) {
	if count <= 0 {
		return nil, domain.NewValidationError("count must be greater than zero")
	}
	template.Code = ""
	result := make([]domain.Coupon, 0, count)
	for i := 0; i < count; i++ {
		c, err := s.Create(ctx, template)
		if err != nil {
			return result, err
		}
		result = append(result, c)
	}
	return result, nil
}

// Get возвращает купон по коду.
func (s *Service) Get(ctx context.Context, code string) (domain.Coupon, error) {
	return s.repo.Get(ctx, domain.NormalizeCouponCode(code))
}

// List возвращает купоны; activeOnly отбрасывает выключенные.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]domain.Coupon, error) {
	return s.repo.List(ctx, activeOnly)
}

// Quote проверяет применимость купона к заказу и считает скидку.
func (s *Service) Quote(ctx context.Context, in Checkout) (Quote, error) {
	code := domain.NormalizeCouponCode(in.Code)
	if code == "" {
		return Quote{}, domain.ErrCouponNotFound
	}
	c, err := s.repo.Get(ctx, code)
	if err != nil {
		return Quote{}, err
	}
	if err := c.CheckUsable(s.now(), in.TotalMinor); err != nil {
		return Quote{}, err
	}
	if c.OnePerUser && in.UserID != "" {
		used, err := s.repo.HasRedemption(ctx, code, in.UserID)
		if err != nil {
			return Quote{}, fmt.Errorf("check coupon redemption: %w", err)
		}
		if used {
			return Quote{}, domain.ErrCouponAlreadyUsed
		}
	}
	if c.Rule != "" {
		if s.rules == nil {
			return Quote{}, domain.ErrCouponNotApplicable
		}
		ok, err := s.rules.Eval(c.Rule, RuleInput{
			TotalMinor: in.TotalMinor,
			Items:      in.Items,
			Method:     string(in.Method),
			UserID:     in.UserID,
		})
		if err != nil {
			s.logger.WithError(err).WithField("code", code).Warn("coupon rule evaluation failed")
			return Quote{}, domain.ErrCouponNotApplicable
		}
		if !ok {
			return Quote{}, domain.ErrCouponNotApplicable
		}
	}

	return Quote{Coupon: c, DiscountMinor: c.Discount(in.TotalMinor)}, nil
}

// Redeem фиксирует использование купона заказом; повтор для того же заказа, no-op.
func (s *Service) Redeem(ctx context.Context, code, userID, orderID string, discountMinor int64) error {
	code = domain.NormalizeCouponCode(code)
	c, err := s.repo.Get(ctx, code)
	if err != nil {
		return err
	}
	err = s.repo.Redeem(ctx, domain.CouponRedemption{
		ID:            uuid.NewString(),
		Code:          code,
		UserID:        userID,
		OrderID:       orderID,
		DiscountMinor: discountMinor,
		RedeemedAt:    s.now(),
	}, c.OnePerUser)
	if err != nil {
		return fmt.Errorf("redeem coupon %s: %w", code, err)
	}
	return nil
}

// Release возвращает использование, занятое заказом, который не будет оплачен.
func (s *Service) Release(ctx context.Context, code, orderID string) error {
	code = domain.NormalizeCouponCode(code)
	if err := s.repo.Release(ctx, code, orderID); err != nil {
		return fmt.Errorf("release coupon %s: %w", code, err)
	}
	return nil
}

// Assign выдаёт купон пользователю на AssignedCouponLifetime.
func (s *Service) Assign(ctx context.Context, code, userID string) (domain.CouponAssignment, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.CouponAssignment{}, domain.ErrCustomerRequired
	}
	now := s.now()
	a := domain.CouponAssignment{
		Code:       domain.NormalizeCouponCode(code),
		UserID:     userID,
		AssignedAt: now,
		ExpiresAt:  now.Add(domain.AssignedCouponLifetime),
	}
	if err := s.repo.Assign(ctx, a); err != nil {
		return domain.CouponAssignment{}, err
	}
	return a, nil
}

// ListAssigned возвращает купоны пользователя.
func (s *Service) ListAssigned(ctx context.Context, userID string) ([]domain.CouponAssignment, error) {
	return s.repo.ListAssigned(ctx, userID)
}

// Deactivate выключает купон; конфликт версий разрешается перечитыванием.
func (s *Service) Deactivate(ctx context.Context, code string) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	for attempt := 1; ; attempt++ {
		c, err := s.repo.Get(ctx, code)
		if err != nil {
			return domain.Coupon{}, err
		}
		if !c.Active {
			return c, nil
		}
		c.Active = false
		c.UpdatedAt = s.now()
		err = s.repo.Save(ctx, c)
		if err == nil {
			c.Version++
			return c, nil
		}
		if !domain.IsVersionConflict(err) || attempt == maxSaveRetries {
			return domain.Coupon{}, fmt.Errorf("deactivate coupon %s: %w", code, err)
		}
		s.logger.WithField("code", code).WithField("attempt", attempt).Warn("coupon version conflict, retrying")
	}
}
