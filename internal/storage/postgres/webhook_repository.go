package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type webhookEventRepository struct {
	db *sql.DB
}

// NewWebhookEventRepository создаёт журнал уведомлений провайдера в PostgreSQL.
func NewWebhookEventRepository(store *Store) domain.WebhookEventRepository {
	return &webhookEventRepository{db: store.DB()}
}

func (r *webhookEventRepository) Record(ctx context.Context, ev domain.WebhookEvent) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = now
	}
	if ev.Status == "" {
		ev.Status = domain.WebhookEventReceived
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (
			dedup_key, provider, payment_id, type, status, order_id, error, payload, received_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (dedup_key) DO NOTHING
	`,
		ev.DedupKey, ev.Provider, ev.PaymentID, ev.Type, string(ev.Status),
		ev.OrderID, ev.Error, ev.Payload, ev.ReceivedAt, now,
	)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("webhook rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *webhookEventRepository) Finish(ctx context.Context, dedupKey string, status domain.WebhookEventStatus, orderID, errMsg string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = $2, order_id = $3, error = $4, updated_at = $5
		WHERE dedup_key = $1
	`, dedupKey, string(status), orderID, errMsg, time.Now().UTC()); err != nil {
		return fmt.Errorf("finish webhook event: %w", err)
	}
	return nil
}

func (r *webhookEventRepository) Forget(ctx context.Context, dedupKey string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE dedup_key = $1`, dedupKey); err != nil {
		return fmt.Errorf("forget webhook event: %w", err)
	}
	return nil
}

func (r *webhookEventRepository) Purge(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_events
		WHERE dedup_key IN (
			SELECT dedup_key FROM webhook_events
			WHERE received_at < $1
			ORDER BY received_at
			LIMIT $2
		)
	`, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("purge webhook events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("webhook rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.WebhookEventRepository = (*webhookEventRepository)(nil)
