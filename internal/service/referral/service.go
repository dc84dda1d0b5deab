package referral

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const maxCodeRetries = 5

// PointsAwarder начисляет баллы пригласившему (service/loyalty).
type PointsAwarder interface {
	Award(ctx context.Context, userID string, points int64, reason, orderID string) (domain.LoyaltyAccount, error)
}

// Service ведёт реферальную программу.
type Service struct {
	repo    domain.ReferralRepository
	loyalty PointsAwarder
	logger  *log.Entry
	now     func() time.Time
	randN   func(int) int
}

// NewService создаёт реферальный сервис.
func NewService(repo domain.ReferralRepository, loyalty PointsAwarder, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "referral")
	}
	return &Service{
		repo:    repo,
		loyalty: loyalty,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		randN:   rand.IntN,
	}
}

// BaseCode: первое слово имени, иначе локальная часть email, иначе USER.
func BaseCode(displayName, email string) string {
	if fields := strings.Fields(displayName); len(fields) > 0 {
		return strings.ToUpper(fields[0])
	}
	if local, _, ok := strings.Cut(strings.TrimSpace(email), "@"); ok && local != "" {
		return strings.ToUpper(local)
	}
	return "USER"
}

// EnsureCode возвращает код пользователя, создавая его при первом обращении.
func (s *Service) EnsureCode(ctx context.Context, userID, displayName, email string) (domain.ReferralCode, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ReferralCode{}, domain.ErrCustomerRequired
	}

	existing, err := s.repo.CodeByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrReferralCodeNotFound) {
		return domain.ReferralCode{}, fmt.Errorf("get referral code: %w", err)
	}

	base := BaseCode(displayName, email)
	for attempt := 1; ; attempt++ {
		code := domain.ReferralCode{
			Code:      base + strconv.Itoa(s.randN(1000)),
			UserID:    userID,
			CreatedAt: s.now(),
		}
		err := s.repo.SaveCode(ctx, code)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrAlreadyReferred) || attempt == maxCodeRetries {
			return domain.ReferralCode{}, fmt.Errorf("save referral code: %w", err)
		}
	}
	// Повторное чтение возвращает код, закреплённый конкурентным запросом.
	return s.repo.CodeByUser(ctx, userID)
}

// Register привязывает приглашённого к владельцу кода.
func (s *Service) Register(ctx context.Context, code, referredID, referredEmail string) (domain.Referral, error) {
	referredID = strings.TrimSpace(referredID)
	if referredID == "" {
		return domain.Referral{}, domain.ErrCustomerRequired
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Referral{}, domain.ErrReferralCodeNotFound
	}

	owner, err := s.repo.CodeOwner(ctx, code)
	if err != nil {
		return domain.Referral{}, err
	}
	if owner.UserID == referredID {
		return domain.Referral{}, domain.ErrSelfReferral
	}

	ref := domain.Referral{
		ID:            uuid.NewString(),
		Code:          code,
		ReferrerID:    owner.UserID,
		ReferredID:    referredID,
		ReferredEmail: referredEmail,
		Status:        domain.ReferralStatusPending,
		Reward:        domain.ReferralReward,
		CreatedAt:     s.now(),
	}
	if err := s.repo.Create(ctx, ref); err != nil {
		return domain.Referral{}, err
	}

	s.logger.WithFields(log.Fields{
		"referrer_id": ref.ReferrerID,
		"referred_id": referredID,
		"code":        code,
	}).Info("referral registered")
	return ref, nil
}

// Complete завершает приглашение при первой оплаченной покупке приглашённого
// и начисляет награду пригласившему. completed=false, если завершать нечего.
func (s *Service) Complete(ctx context.Context, referredID, orderID string) (domain.Referral, bool, error) {
	ref, completed, err := s.repo.Complete(ctx, referredID, s.now())
	if errors.Is(err, domain.ErrReferralNotFound) {
		return domain.Referral{}, false, nil
	}
	if err != nil {
		return domain.Referral{}, false, fmt.Errorf("complete referral: %w", err)
	}
	if !completed {
		return ref, false, nil
	}

	if s.loyalty != nil && ref.Reward > 0 {
		reason := "Referido: " + firstNonEmpty(ref.ReferredEmail, ref.ReferredID)
		if _, err := s.loyalty.Award(ctx, ref.ReferrerID, ref.Reward, reason, orderID); err != nil {
			return ref, true, fmt.Errorf("award referral reward: %w", err)
		}
	}

	s.logger.WithFields(log.Fields{
		"referrer_id": ref.ReferrerID,
		"referred_id": ref.ReferredID,
		"order_id":    orderID,
		"reward":      ref.Reward,
	}).Info("referral completed")
	return ref, true, nil
}

// Stats возвращает приглашения пользователя и сводку по ним.
func (s *Service) Stats(ctx context.Context, userID string) (domain.ReferralStats, []domain.Referral, error) {
	list, err := s.repo.ListByReferrer(ctx, userID)
	if err != nil {
		return domain.ReferralStats{}, nil, fmt.Errorf("list referrals: %w", err)
	}
	return domain.StatsFor(list), list, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
