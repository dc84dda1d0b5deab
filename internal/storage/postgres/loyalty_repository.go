package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type loyaltyRepository struct {
	db *sql.DB
}

// NewLoyaltyRepository создаёт PostgreSQL-реализацию бонусных счетов.
func NewLoyaltyRepository(store *Store) domain.LoyaltyRepository {
	return &loyaltyRepository{db: store.DB()}
}

func (r *loyaltyRepository) Get(ctx context.Context, userID string) (domain.LoyaltyAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.load(ctx, r.db, userID)
}

// AddPoints пополняет счёт и пишет строку истории в одной транзакции.
func (r *loyaltyRepository) AddPoints(ctx context.Context, userID string, entry domain.PointsEntry, expiresAt time.Time) (acc domain.LoyaltyAccount, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if entry.Date.IsZero() {
		entry.Date = now
	}
	// Сгоревший остаток обнуляется до начисления: новый срок получают только новые баллы.
	var points int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO loyalty_accounts (user_id, points, level, expires_at, created_at, updated_at)
		VALUES ($1, $2, '', $3, $4, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET points = CASE
		        WHEN loyalty_accounts.expires_at <= $5 THEN 0
		        ELSE loyalty_accounts.points
		    END + EXCLUDED.points,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
		RETURNING points
	`, userID, entry.Points, expiresAt, now, entry.Date).Scan(&points)
	if err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("upsert loyalty account: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE loyalty_accounts SET level = $2 WHERE user_id = $1`,
		userID, domain.LevelFor(points).Name,
	); err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("update loyalty level: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO loyalty_history (user_id, points, reason, order_id, occurred)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, entry.Points, entry.Reason, entry.OrderID, entry.Date); err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("insert loyalty history: %w", err)
	}

	acc, err = r.load(ctx, tx, userID)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("commit tx: %w", err)
	}
	return acc, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *loyaltyRepository) load(ctx context.Context, q queryer, userID string) (domain.LoyaltyAccount, error) {
	acc := domain.LoyaltyAccount{UserID: userID}
	err := q.QueryRowContext(ctx, `
		SELECT points, level, expires_at, created_at, updated_at
		FROM loyalty_accounts WHERE user_id = $1
	`, userID).Scan(&acc.Points, &acc.Level, &acc.ExpiresAt, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LoyaltyAccount{}, domain.ErrLoyaltyAccountNotFound
	}
	if err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("get loyalty account: %w", err)
	}
	acc.ExpiresAt = acc.ExpiresAt.UTC()
	acc.CreatedAt = acc.CreatedAt.UTC()
	acc.UpdatedAt = acc.UpdatedAt.UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT points, reason, order_id, occurred
		FROM loyalty_history WHERE user_id = $1
		ORDER BY occurred ASC, id ASC
	`, userID)
	if err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("list loyalty history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var e domain.PointsEntry
		if err := rows.Scan(&e.Points, &e.Reason, &e.OrderID, &e.Date); err != nil {
			return domain.LoyaltyAccount{}, fmt.Errorf("scan loyalty history: %w", err)
		}
		e.Date = e.Date.UTC()
		acc.History = append(acc.History, e)
	}
	if err := rows.Err(); err != nil {
		return domain.LoyaltyAccount{}, fmt.Errorf("iterate loyalty history: %w", err)
	}
	return acc, nil
}

var _ domain.LoyaltyRepository = (*loyaltyRepository)(nil)
