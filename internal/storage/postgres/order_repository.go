package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `
	id, customer_id, customer_name, customer_email, customer_phone,
	status, payment_method, payment_id, preference_id, currency,
	subtotal_minor, discount_minor, amount_minor, coupon_code, points_earned,
	paid_payment_id, paid_status, paid_amount, paid_approved_at,
	confirmed_at, confirmed_by, completed_at, canceled_at, cancel_reason,
	version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.Version == 0 {
		order.Version = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	paid := paymentColumns(order.Payment)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
	`,
		order.ID, order.Customer.ID, order.Customer.Name, order.Customer.Email, order.Customer.Phone,
		string(order.Status), string(order.PaymentMethod), order.PaymentID, order.PreferenceID, order.Currency,
		order.SubtotalMinor, order.DiscountMinor, order.AmountMinor, order.CouponCode, order.PointsEarned,
		paid.paymentID, paid.status, paid.amount, paid.approvedAt,
		nullTime(order.ConfirmedAt), order.ConfirmedBy, nullTime(order.CompletedAt), nullTime(order.CanceledAt), order.CancelReason,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, qty, price_minor, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			item.ID, order.ID, item.ProductID, item.Name, item.Qty, item.PriceMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepository) FindByPaymentID(ctx context.Context, paymentID string) (domain.Order, error) {
	if strings.TrimSpace(paymentID) == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.getOne(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_id = $1 OR paid_payment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, paymentID)
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			args = append(args, string(st))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if !filter.CreatedBefore.IsZero() {
		args = append(args, filter.CreatedBefore)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	paid := paymentColumns(order.Payment)
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_id = $2,
		    preference_id = $3,
		    discount_minor = $4,
		    amount_minor = $5,
		    coupon_code = $6,
		    points_earned = $7,
		    paid_payment_id = $8,
		    paid_status = $9,
		    paid_amount = $10,
		    paid_approved_at = $11,
		    confirmed_at = $12,
		    confirmed_by = $13,
		    completed_at = $14,
		    canceled_at = $15,
		    cancel_reason = $16,
		    version = version + 1,
		    updated_at = $17
		WHERE id = $18
		  AND version = $19
	`,
		string(order.Status), order.PaymentID, order.PreferenceID,
		order.DiscountMinor, order.AmountMinor, order.CouponCode, order.PointsEarned,
		paid.paymentID, paid.status, paid.amount, paid.approvedAt,
		nullTime(order.ConfirmedAt), order.ConfirmedBy, nullTime(order.CompletedAt),
		nullTime(order.CanceledAt), order.CancelReason,
		order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}
	return nil
}

func (r *orderRepository) getOne(ctx context.Context, query string, args ...any) (domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                        domain.Order
		status, method                               string
		paidID, paidStatus                           sql.NullString
		paidAmount                                   sql.NullInt64
		paidAt, confirmedAt, completedAt, canceledAt sql.NullTime
	)
	err := row.Scan(
		&order.ID, &order.Customer.ID, &order.Customer.Name, &order.Customer.Email, &order.Customer.Phone,
		&status, &method, &order.PaymentID, &order.PreferenceID, &order.Currency,
		&order.SubtotalMinor, &order.DiscountMinor, &order.AmountMinor, &order.CouponCode, &order.PointsEarned,
		&paidID, &paidStatus, &paidAmount, &paidAt,
		&confirmedAt, &order.ConfirmedBy, &completedAt, &canceledAt, &order.CancelReason,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = domain.PaymentMethod(method)
	order.ConfirmedAt = fromNullTime(confirmedAt)
	order.CompletedAt = fromNullTime(completedAt)
	order.CanceledAt = fromNullTime(canceledAt)
	if paidID.Valid {
		order.Payment = &domain.PaymentDetails{
			PaymentID:   paidID.String,
			Status:      domain.ProviderPaymentStatus(paidStatus.String),
			AmountMinor: paidAmount.Int64,
			ApprovedAt:  fromNullTime(paidAt),
		}
	}
	return order, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, name, qty, price_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Name, &item.Qty, &item.PriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type paidColumns struct {
	paymentID  sql.NullString
	status     sql.NullString
	amount     sql.NullInt64
	approvedAt sql.NullTime
}

func paymentColumns(p *domain.PaymentDetails) paidColumns {
	if p == nil {
		return paidColumns{}
	}
	return paidColumns{
		paymentID:  sql.NullString{String: p.PaymentID, Valid: true},
		status:     sql.NullString{String: string(p.Status), Valid: true},
		amount:     sql.NullInt64{Int64: p.AmountMinor, Valid: true},
		approvedAt: nullTime(p.ApprovedAt),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
