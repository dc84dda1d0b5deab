package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productRepositoryInMemory хранит каталог в памяти.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository создаёт in-memory каталог.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{items: make(map[string]domain.Product)}
}

func (r *productRepositoryInMemory) Upsert(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.items[product.ID]; ok {
		product.CreatedAt = existing.CreatedAt
	} else if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	r.items[product.ID] = product
	return nil
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (r *productRepositoryInMemory) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, p := range r.items {
		if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// DecrementStock списывает остаток под блокировкой, не опуская его ниже нуля.
func (r *productRepositoryInMemory) DecrementStock(_ context.Context, productID string, qty int64) (domain.StockAdjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[productID]
	if !ok {
		return domain.StockAdjustment{}, domain.ErrProductNotFound
	}
	adj := domain.ApplyDecrement(productID, p.Stock, qty)
	p.Stock = adj.Remaining
	p.UpdatedAt = time.Now().UTC()
	r.items[productID] = p
	return adj, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
