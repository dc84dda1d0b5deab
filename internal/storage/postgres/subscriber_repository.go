package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const subscriberColumns = `
	email, user_id, interests, source, active,
	product_updates, promotions, newsletter,
	subscribed_at, unsubscribed_at, updated_at`

type subscriberRepository struct {
	db *sql.DB
}

// NewSubscriberRepository создаёт PostgreSQL-реализацию подписчиков рассылки.
func NewSubscriberRepository(store *Store) domain.SubscriberRepository {
	return &subscriberRepository{db: store.DB()}
}

func (r *subscriberRepository) Get(ctx context.Context, email string) (domain.Subscriber, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sub, err := scanSubscriber(r.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM newsletter_subscribers WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscriber{}, domain.ErrSubscriberNotFound
	}
	if err != nil {
		return domain.Subscriber{}, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

func (r *subscriberRepository) Save(ctx context.Context, sub domain.Subscriber) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	interests := sub.Interests
	if interests == nil {
		interests = []string{}
	}
	raw, err := json.Marshal(interests)
	if err != nil {
		return fmt.Errorf("marshal interests: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO newsletter_subscribers (`+subscriberColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (email) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    interests = EXCLUDED.interests,
		    source = EXCLUDED.source,
		    active = EXCLUDED.active,
		    product_updates = EXCLUDED.product_updates,
		    promotions = EXCLUDED.promotions,
		    newsletter = EXCLUDED.newsletter,
		    subscribed_at = EXCLUDED.subscribed_at,
		    unsubscribed_at = EXCLUDED.unsubscribed_at,
		    updated_at = EXCLUDED.updated_at
	`,
		sub.Email, sub.UserID, string(raw), string(sub.Source), sub.Active,
		sub.Preferences.ProductUpdates, sub.Preferences.Promotions, sub.Preferences.Newsletter,
		sub.SubscribedAt, nullTime(sub.UnsubscribedAt), sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subscriber: %w", err)
	}
	return nil
}

func (r *subscriberRepository) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+` FROM newsletter_subscribers WHERE active ORDER BY subscribed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return result, nil
}

func scanSubscriber(row rowScanner) (domain.Subscriber, error) {
	var (
		sub            domain.Subscriber
		interests      []byte
		source         string
		unsubscribedAt sql.NullTime
	)
	if err := row.Scan(
		&sub.Email, &sub.UserID, &interests, &source, &sub.Active,
		&sub.Preferences.ProductUpdates, &sub.Preferences.Promotions, &sub.Preferences.Newsletter,
		&sub.SubscribedAt, &unsubscribedAt, &sub.UpdatedAt,
	); err != nil {
		return domain.Subscriber{}, err
	}
	if len(interests) > 0 {
		if err := json.Unmarshal(interests, &sub.Interests); err != nil {
			return domain.Subscriber{}, fmt.Errorf("unmarshal interests: %w", err)
		}
	}
	sub.Source = domain.SubscriberSource(source)
	sub.SubscribedAt = sub.SubscribedAt.UTC()
	sub.UnsubscribedAt = fromNullTime(unsubscribedAt)
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return sub, nil
}

var _ domain.SubscriberRepository = (*subscriberRepository)(nil)
