package newsletter

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SubscribeRequest: запрос на подписку. Пустой UserID означает гостя.
type SubscribeRequest struct {
	Email     string
	UserID    string
	Interests []string
}

// Service управляет подписками на рассылку.
type Service struct {
	repo   domain.SubscriberRepository
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис рассылки.
func NewService(repo domain.SubscriberRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "newsletter")
	}
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// NormalizeEmail приводит адрес к нижнему регистру и проверяет формат.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", domain.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

// Subscribe создаёт подписку или возобновляет отменённую.
// Повторная подписка активного адреса возвращает ErrSubscriberExists.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (domain.Subscriber, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return domain.Subscriber{}, err
	}

	existing, err := s.repo.Get(ctx, email)
	switch {
	case err == nil && existing.Active:
		return existing, domain.ErrSubscriberExists
	case err != nil && !errors.Is(err, domain.ErrSubscriberNotFound):
		return domain.Subscriber{}, fmt.Errorf("get subscriber: %w", err)
	}

	now := s.now()
	source := domain.SubscriberSourceGuest
	if strings.TrimSpace(req.UserID) != "" {
		source = domain.SubscriberSourceAuthenticated
	}
	sub := domain.Subscriber{
		Email:        email,
		UserID:       strings.TrimSpace(req.UserID),
		Interests:    cleanInterests(req.Interests),
		Source:       source,
		Active:       true,
		Preferences:  domain.DefaultSubscriberPreferences(),
		SubscribedAt: now,
		UpdatedAt:    now,
	}
	if err := s.repo.Save(ctx, sub); err != nil {
		return domain.Subscriber{}, fmt.Errorf("save subscriber: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"source":      source,
		"reactivated": existing.Email != "",
	}).Info("newsletter subscription created")
	return sub, nil
}

// Unsubscribe выключает подписку, сохраняя запись.
func (s *Service) Unsubscribe(ctx context.Context, email string) (domain.Subscriber, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.Subscriber{}, err
	}
	sub, err := s.repo.Get(ctx, email)
	if err != nil {
		return domain.Subscriber{}, err
	}
	if !sub.Active {
		return sub, nil
	}

	now := s.now()
	sub.Active = false
	sub.UnsubscribedAt = now
	sub.UpdatedAt = now
	if err := s.repo.Save(ctx, sub); err != nil {
		return domain.Subscriber{}, fmt.Errorf("save subscriber: %w", err)
	}
	return sub, nil
}

// UpdatePreferences меняет типы рассылок подписчика.
func (s *Service) UpdatePreferences(ctx context.Context, email string, prefs domain.SubscriberPreferences) (domain.Subscriber, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.Subscriber{}, err
	}
	sub, err := s.repo.Get(ctx, email)
	if err != nil {
		return domain.Subscriber{}, err
	}
	sub.Preferences = prefs
	sub.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, sub); err != nil {
		return domain.Subscriber{}, fmt.Errorf("save subscriber: %w", err)
	}
	return sub, nil
}

// ListActive возвращает активных подписчиков, новые первыми.
func (s *Service) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	return s.repo.ListActive(ctx)
}

func cleanInterests(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
