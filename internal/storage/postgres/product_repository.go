package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `id, name, price_minor, stock, category, description, handle, ref, created_at, updated_at`

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию каталога.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    stock = EXCLUDED.stock,
		    category = EXCLUDED.category,
		    description = EXCLUDED.description,
		    handle = EXCLUDED.handle,
		    ref = EXCLUDED.ref,
		    updated_at = EXCLUDED.updated_at
	`,
		product.ID, product.Name, product.PriceMinor, product.Stock, product.Category,
		product.Description, product.Handle, product.Ref, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if c := strings.TrimSpace(filter.Category); c != "" {
		args = append(args, strings.ToLower(c))
		where = append(where, fmt.Sprintf("lower(category) = $%d", len(args)))
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

// DecrementStock списывает остаток одной командой UPDATE; старое значение
// берётся из FOR UPDATE подзапроса, чтобы вернуть фактически списанное количество.
func (r *productRepository) DecrementStock(ctx context.Context, productID string, qty int64) (domain.StockAdjustment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var before, after int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE products AS p
		SET stock = GREATEST(old.stock - $2, 0),
		    updated_at = $3
		FROM (SELECT id, stock FROM products WHERE id = $1 FOR UPDATE) AS old
		WHERE p.id = old.id
		RETURNING old.stock, p.stock
	`, productID, qty, time.Now().UTC()).Scan(&before, &after)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockAdjustment{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.StockAdjustment{}, fmt.Errorf("decrement stock: %w", err)
	}

	return domain.StockAdjustment{
		ProductID: productID,
		Requested: qty,
		Applied:   before - after,
		Remaining: after,
	}, nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(
		&p.ID, &p.Name, &p.PriceMinor, &p.Stock, &p.Category,
		&p.Description, &p.Handle, &p.Ref, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
