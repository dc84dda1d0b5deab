package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const referralColumns = `id, code, referrer_id, referred_id, referred_email, status, reward, created_at, completed_at`

type referralRepository struct {
	db *sql.DB
}

// NewReferralRepository создаёт PostgreSQL-реализацию приглашений.
func NewReferralRepository(store *Store) domain.ReferralRepository {
	return &referralRepository{db: store.DB()}
}

func (r *referralRepository) SaveCode(ctx context.Context, code domain.ReferralCode) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Повтор для того же пользователя ничего не меняет: сработает UNIQUE(user_id).
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO referral_codes (code, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, code.Code, code.UserID, code.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert referral code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("referral code rows affected: %w", err)
	}
	if affected == 0 {
		owner, err := r.CodeOwner(ctx, code.Code)
		if err == nil && owner.UserID != code.UserID {
			return domain.ErrAlreadyReferred
		}
	}
	return nil
}

func (r *referralRepository) CodeByUser(ctx context.Context, userID string) (domain.ReferralCode, error) {
	return r.getCode(ctx, `SELECT code, user_id, created_at FROM referral_codes WHERE user_id = $1`, userID)
}

func (r *referralRepository) CodeOwner(ctx context.Context, code string) (domain.ReferralCode, error) {
	return r.getCode(ctx, `SELECT code, user_id, created_at FROM referral_codes WHERE code = $1`, code)
}

func (r *referralRepository) getCode(ctx context.Context, query, arg string) (domain.ReferralCode, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rc domain.ReferralCode
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&rc.Code, &rc.UserID, &rc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReferralCode{}, domain.ErrReferralCodeNotFound
	}
	if err != nil {
		return domain.ReferralCode{}, fmt.Errorf("get referral code: %w", err)
	}
	rc.CreatedAt = rc.CreatedAt.UTC()
	return rc, nil
}

func (r *referralRepository) Create(ctx context.Context, ref domain.Referral) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO referrals (`+referralColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		ref.ID, ref.Code, ref.ReferrerID, ref.ReferredID, ref.ReferredEmail,
		string(ref.Status), ref.Reward, ref.CreatedAt, nullTime(ref.CompletedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyReferred
	}
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

func (r *referralRepository) GetByReferred(ctx context.Context, referredID string) (domain.Referral, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ref, err := scanReferral(r.db.QueryRowContext(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE referred_id = $1`, referredID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Referral{}, domain.ErrReferralNotFound
	}
	if err != nil {
		return domain.Referral{}, fmt.Errorf("get referral: %w", err)
	}
	return ref, nil
}

func (r *referralRepository) ListByReferrer(ctx context.Context, referrerID string) ([]domain.Referral, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE referrer_id = $1 ORDER BY created_at DESC`, referrerID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []domain.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		result = append(result, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referrals: %w", err)
	}
	return result, nil
}

// Complete завершает приглашение условным UPDATE: из двух конкурентных вызовов
// true получит только один.
func (r *referralRepository) Complete(ctx context.Context, referredID string, at time.Time) (domain.Referral, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ref, err := scanReferral(r.db.QueryRowContext(ctx, `
		UPDATE referrals SET status = $2, completed_at = $3
		WHERE referred_id = $1 AND status = $4
		RETURNING `+referralColumns,
		referredID, string(domain.ReferralStatusCompleted), at, string(domain.ReferralStatusPending),
	))
	if err == nil {
		return ref, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Referral{}, false, fmt.Errorf("complete referral: %w", err)
	}

	existing, getErr := r.GetByReferred(ctx, referredID)
	if getErr != nil {
		return domain.Referral{}, false, getErr
	}
	return existing, false, nil
}

func scanReferral(row rowScanner) (domain.Referral, error) {
	var (
		ref         domain.Referral
		status      string
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&ref.ID, &ref.Code, &ref.ReferrerID, &ref.ReferredID, &ref.ReferredEmail,
		&status, &ref.Reward, &ref.CreatedAt, &completedAt,
	); err != nil {
		return domain.Referral{}, err
	}
	ref.Status = domain.ReferralStatus(status)
	ref.CreatedAt = ref.CreatedAt.UTC()
	ref.CompletedAt = fromNullTime(completedAt)
	return ref, nil
}

var _ domain.ReferralRepository = (*referralRepository)(nil)
