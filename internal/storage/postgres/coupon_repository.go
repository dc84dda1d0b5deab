package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const couponColumns = `
	code, id, description, type, value, max_discount_minor, min_amount_minor,
	usage_limit, used_count, one_per_user, active, rule, expires_at, created_by,
	version, created_at, updated_at`

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository создаёт PostgreSQL-реализацию купонов.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{db: store.DB()}
}

func (r *couponRepository) Create(ctx context.Context, c domain.Coupon) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if c.Version == 0 {
		c.Version = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		c.Code, c.ID, c.Description, string(c.Type), c.Value, c.MaxDiscountMinor, c.MinAmountMinor,
		c.UsageLimit, c.UsedCount, c.OnePerUser, c.Active, c.Rule, nullTime(c.ExpiresAt), c.CreatedBy,
		c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrCouponExists
	}
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r *couponRepository) Get(ctx context.Context, code string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	c, err := scanCoupon(r.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

func (r *couponRepository) List(ctx context.Context, activeOnly bool) ([]domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + couponColumns + ` FROM coupons`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []domain.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupons: %w", err)
	}
	return result, nil
}

func (r *couponRepository) Save(ctx context.Context, c domain.Coupon) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE coupons
		SET description = $3,
		    type = $4,
		    value = $5,
		    max_discount_minor = $6,
		    min_amount_minor = $7,
		    usage_limit = $8,
		    one_per_user = $9,
		    active = $10,
		    rule = $11,
		    expires_at = $12,
		    version = version + 1,
		    updated_at = $13
		WHERE code = $1 AND version = $2
	`,
		c.Code, c.Version, c.Description, string(c.Type), c.Value, c.MaxDiscountMinor, c.MinAmountMinor,
		c.UsageLimit, c.OnePerUser, c.Active, c.Rule, nullTime(c.ExpiresAt), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("coupon rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.Get(ctx, c.Code); errors.Is(getErr, domain.ErrCouponNotFound) {
			return domain.ErrCouponNotFound
		}
		return domain.ErrCouponConflict
	}
	return nil
}

// Redeem блокирует строку купона, проверяет лимиты и пишет применение.
// Повторное применение к тому же заказу ничего не меняет.
func (r *couponRepository) Redeem(ctx context.Context, red domain.CouponRedemption, onePerUser bool) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var usageLimit, usedCount int
	err = tx.QueryRowContext(ctx,
		`SELECT usage_limit, used_count FROM coupons WHERE code = $1 FOR UPDATE`, red.Code,
	).Scan(&usageLimit, &usedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrCouponNotFound
	}
	if err != nil {
		return fmt.Errorf("lock coupon: %w", err)
	}

	var sameOrder bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE code = $1 AND order_id = $2)`,
		red.Code, red.OrderID,
	).Scan(&sameOrder); err != nil {
		return fmt.Errorf("check redemption: %w", err)
	}
	if sameOrder {
		return tx.Commit()
	}

	if usageLimit > 0 && usedCount >= usageLimit {
		return domain.ErrCouponExhausted
	}
	if onePerUser {
		var used bool
		if err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE code = $1 AND user_id = $2)`,
			red.Code, red.UserID,
		).Scan(&used); err != nil {
			return fmt.Errorf("check user redemption: %w", err)
		}
		if used {
			return domain.ErrCouponAlreadyUsed
		}
	}

	if red.ID == "" {
		red.ID = uuid.NewString()
	}
	if red.RedeemedAt.IsZero() {
		red.RedeemedAt = time.Now().UTC()
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO coupon_redemptions (id, code, user_id, order_id, discount_minor, redeemed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, red.ID, red.Code, red.UserID, red.OrderID, red.DiscountMinor, red.RedeemedAt); err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1, version = version + 1, updated_at = $2
		WHERE code = $1
	`, red.Code, red.RedeemedAt); err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE coupon_assignments SET used = TRUE WHERE code = $1 AND user_id = $2`,
		red.Code, red.UserID,
	); err != nil {
		return fmt.Errorf("mark assignment used: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Release удаляет применение купона заказом и уменьшает счётчик в одной транзакции.
func (r *couponRepository) Release(ctx context.Context, code, orderID string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var userID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM coupon_redemptions WHERE code = $1 AND order_id = $2 RETURNING user_id`,
		code, orderID,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return tx.Commit()
	}
	if err != nil {
		return fmt.Errorf("delete redemption: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE coupons SET used_count = GREATEST(used_count - 1, 0), version = version + 1, updated_at = $2
		WHERE code = $1
	`, code, time.Now().UTC()); err != nil {
		return fmt.Errorf("decrement coupon usage: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE coupon_assignments SET used = FALSE
		WHERE code = $1 AND user_id = $2
		  AND NOT EXISTS (SELECT 1 FROM coupon_redemptions WHERE code = $1 AND user_id = $2)
	`, code, userID); err != nil {
		return fmt.Errorf("unmark assignment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *couponRepository) HasRedemption(ctx context.Context, code, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE code = $1 AND user_id = $2)`,
		code, userID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check redemption: %w", err)
	}
	return exists, nil
}

func (r *couponRepository) Assign(ctx context.Context, a domain.CouponAssignment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupon_assignments (code, user_id, assigned_at, expires_at, used)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (code, user_id) DO UPDATE
		SET assigned_at = EXCLUDED.assigned_at,
		    expires_at = EXCLUDED.expires_at,
		    used = EXCLUDED.used
	`, a.Code, a.UserID, a.AssignedAt, a.ExpiresAt, a.Used)
	if isForeignKeyViolation(err) {
		return domain.ErrCouponNotFound
	}
	if err != nil {
		return fmt.Errorf("assign coupon: %w", err)
	}
	return nil
}

func (r *couponRepository) ListAssigned(ctx context.Context, userID string) ([]domain.CouponAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT code, user_id, assigned_at, expires_at, used
		FROM coupon_assignments WHERE user_id = $1
		ORDER BY assigned_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list assigned coupons: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []domain.CouponAssignment
	for rows.Next() {
		var a domain.CouponAssignment
		if err := rows.Scan(&a.Code, &a.UserID, &a.AssignedAt, &a.ExpiresAt, &a.Used); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.AssignedAt = a.AssignedAt.UTC()
		a.ExpiresAt = a.ExpiresAt.UTC()
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return result, nil
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		c         domain.Coupon
		typ       string
		expiresAt sql.NullTime
	)
	if err := row.Scan(
		&c.Code, &c.ID, &c.Description, &typ, &c.Value, &c.MaxDiscountMinor, &c.MinAmountMinor,
		&c.UsageLimit, &c.UsedCount, &c.OnePerUser, &c.Active, &c.Rule, &expiresAt, &c.CreatedBy,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return domain.Coupon{}, err
	}
	c.Type = domain.CouponType(typ)
	c.ExpiresAt = fromNullTime(expiresAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
