package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	priceHistoryColumns = `id, product_id, old_price_minor, new_price_minor, changed_by, reason, changed_at`
	priceAlertColumns   = `id, user_id, product_id, phone, target_price_minor, active, notified,
		triggered_price_minor, created_at, notified_at, deleted_at`
)

type priceHistoryRepository struct {
	db *sql.DB
}

// NewPriceHistoryRepository создаёт PostgreSQL-реализацию истории цен.
func NewPriceHistoryRepository(store *Store) domain.PriceHistoryRepository {
	return &priceHistoryRepository{db: store.DB()}
}

func (r *priceHistoryRepository) Record(ctx context.Context, c domain.PriceChange) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ChangedAt.IsZero() {
		c.ChangedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO price_history (`+priceHistoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.ProductID, c.OldPriceMinor, c.NewPriceMinor, c.ChangedBy, c.Reason, c.ChangedAt); err != nil {
		return fmt.Errorf("insert price change: %w", err)
	}
	return nil
}

func (r *priceHistoryRepository) List(ctx context.Context, productID string) ([]domain.PriceChange, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+priceHistoryColumns+`
		FROM price_history WHERE product_id = $1
		ORDER BY changed_at DESC, id DESC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]domain.PriceChange, 0)
	for rows.Next() {
		var c domain.PriceChange
		if err := rows.Scan(&c.ID, &c.ProductID, &c.OldPriceMinor, &c.NewPriceMinor, &c.ChangedBy, &c.Reason, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan price change: %w", err)
		}
		c.ChangedAt = c.ChangedAt.UTC()
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history: %w", err)
	}
	return result, nil
}

type priceAlertRepository struct {
	db *sql.DB
}

// NewPriceAlertRepository создаёт PostgreSQL-реализацию ценовых подписок.
func NewPriceAlertRepository(store *Store) domain.PriceAlertRepository {
	return &priceAlertRepository{db: store.DB()}
}

// Create опирается на частичный уникальный индекс по активным подпискам.
func (r *priceAlertRepository) Create(ctx context.Context, a domain.PriceAlert) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO price_alerts (`+priceAlertColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, a.ID, a.UserID, a.ProductID, a.Phone, a.TargetPriceMinor, a.Active, a.Notified,
		a.TriggeredPriceMinor, a.CreatedAt, nullTime(a.NotifiedAt), nullTime(a.DeletedAt))
	if isUniqueViolation(err) {
		return domain.ErrPriceAlertExists
	}
	if err != nil {
		return fmt.Errorf("insert price alert: %w", err)
	}
	return nil
}

func (r *priceAlertRepository) ListByUser(ctx context.Context, userID string) ([]domain.PriceAlert, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+priceAlertColumns+`
		FROM price_alerts WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list price alerts: %w", err)
	}
	return scanPriceAlerts(rows)
}

func (r *priceAlertRepository) Deactivate(ctx context.Context, id, userID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var active bool
	err := r.db.QueryRowContext(ctx, `
		UPDATE price_alerts
		SET deleted_at = CASE WHEN active THEN $3 ELSE deleted_at END,
		    active = FALSE
		WHERE id = $1 AND user_id = $2
		RETURNING active
	`, id, userID, at).Scan(&active)
	if err == sql.ErrNoRows {
		return domain.ErrPriceAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("deactivate price alert: %w", err)
	}
	return nil
}

// Trigger: один UPDATE ... RETURNING, поэтому параллельные вызовы не отправят подписку дважды.
func (r *priceAlertRepository) Trigger(ctx context.Context, productID string, priceMinor int64, at time.Time) ([]domain.PriceAlert, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		UPDATE price_alerts
		SET notified = TRUE, notified_at = $3, triggered_price_minor = $2
		WHERE product_id = $1 AND active AND NOT notified AND target_price_minor >= $2
		RETURNING `+priceAlertColumns,
		productID, priceMinor, at)
	if err != nil {
		return nil, fmt.Errorf("trigger price alerts: %w", err)
	}
	return scanPriceAlerts(rows)
}

func scanPriceAlerts(rows *sql.Rows) ([]domain.PriceAlert, error) {
	defer func() { _ = rows.Close() }()

	result := make([]domain.PriceAlert, 0)
	for rows.Next() {
		var (
			a                     domain.PriceAlert
			notifiedAt, deletedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProductID, &a.Phone, &a.TargetPriceMinor, &a.Active, &a.Notified,
			&a.TriggeredPriceMinor, &a.CreatedAt, &notifiedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan price alert: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		if notifiedAt.Valid {
			a.NotifiedAt = notifiedAt.Time.UTC()
		}
		if deletedAt.Valid {
			a.DeletedAt = deletedAt.Time.UTC()
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price alerts: %w", err)
	}
	return result, nil
}

var (
	_ domain.PriceHistoryRepository = (*priceHistoryRepository)(nil)
	_ domain.PriceAlertRepository   = (*priceAlertRepository)(nil)
)
