package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrPointsInvalid: начисление должно быть положительным.
var ErrPointsInvalid = domain.NewValidationError("points must be greater than zero")

// Balance: состояние бонусного счёта на текущий момент.
type Balance struct {
	UserID          string
	Points          int64
	Level           string
	DiscountPercent int64
	ExpiresAt       time.Time
	History         []domain.PointsEntry
}

// Service управляет бонусными баллами.
type Service struct {
	repo   domain.LoyaltyRepository
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис лояльности.
func NewService(repo domain.LoyaltyRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "loyalty")
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Award начисляет баллы и продлевает срок их действия на PointsLifetime.
func (s *Service) Award(ctx context.Context, userID string, points int64, reason, orderID string) (domain.LoyaltyAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.LoyaltyAccount{}, domain.ErrCustomerRequired
	}
	if points <= 0 {
		return domain.LoyaltyAccount{}, ErrPointsInvalid
	}

	now := s.now()
	entry := domain.PointsEntry{
		Date:    now,
		Points:  points,
		Reason:  reason,
		OrderID: orderID,
	}
	acc, err := s.repo.AddPoints(ctx, userID, entry, now.Add(domain.PointsLifetime))
	if err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("add points: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"user_id":  userID,
		"points":   points,
		"total":    acc.Points,
		"level":    acc.Level,
		"order_id": orderID,
	}).Info("loyalty points awarded")
	return acc, nil
}

// Balance возвращает баланс; пользователь без счёта получает нулевой баланс.
func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Balance{}, domain.ErrCustomerRequired
	}

	acc, err := s.repo.Get(ctx, userID)
	if errors.Is(err, domain.ErrLoyaltyAccountNotFound) {
		return Balance{UserID: userID}, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("get loyalty account: %w", err)
	}

	now := s.now()
	level := acc.CurrentLevel(now)
	return Balance{
		UserID:          userID,
		Points:          acc.ActivePoints(now),
		Level:           level.Name,
		DiscountPercent: level.DiscountPercent,
		ExpiresAt:       acc.ExpiresAt,
		History:         acc.History,
	}, nil
}

// DiscountPercent: скидка уровня покупателя; ошибки хранилища не блокируют заказ.
func (s *Service) DiscountPercent(ctx context.Context, userID string) int64 {
	b, err := s.Balance(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("loyalty lookup failed, no level discount")
		return 0
	}
	return b.DiscountPercent
}
