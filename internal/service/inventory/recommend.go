package inventory

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Стратегии рекомендаций.
const (
	StrategyHybrid         = "hybrid"
	StrategyCategory       = "category"
	StrategyPopular        = "popular"
	StrategyUserBased      = "user-based"
	StrategyBoughtTogether = "bought-together"
)

// Причины, показываемые покупателю рядом с рекомендацией.
const (
	ReasonSameCategory   = "Misma categoría"
	ReasonBestSeller     = "Más vendido"
	ReasonForYou         = "Te puede interesar"
	ReasonBoughtTogether = "Comprado junto"
	ReasonPopular        = "Popular"
)

const (
	DefaultRecommendationLimit = 6
	maxRecommendationLimit     = 24
	// salesWindow: сколько последних оплаченных заказов учитывается в продажах.
	salesWindow = 500
	// userHistory: сколько последних заказов покупателя задают его интересы.
	userHistory = 10
)

// ErrUnknownStrategy: неизвестная стратегия рекомендаций.
var ErrUnknownStrategy = domain.NewValidationError("unknown recommendation strategy")

// OrderLister: чтение заказов для расчёта продаж.
type OrderLister interface {
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

// Recommendation: товар и причина, по которой он предложен.
type Recommendation struct {
	Product domain.Product
	Reason  string
}

// RecommendRequest задаёт товар, покупателя и стратегию.
type RecommendRequest struct {
	ProductID string
	UserID    string
	Strategy  string
	Limit     int
}

// Recommender подбирает товары в наличии по каталогу и истории оплаченных заказов.
type Recommender struct {
	products domain.ProductRepository
	orders   OrderLister
	logger   *log.Entry
}

// NewRecommender создаёт подборщик. orders может быть nil: тогда продажи считаются нулевыми.
func NewRecommender(products domain.ProductRepository, orders OrderLister, logger *log.Entry) *Recommender {
	if logger == nil {
		logger = log.New().WithField("component", "recommendations")
	}
	return &Recommender{products: products, orders: orders, logger: logger}
}

// Recommend возвращает до Limit товаров без повторов, исключая сам товар.
// Недобор заполняется популярными товарами.
func (r *Recommender) Recommend(ctx context.Context, req RecommendRequest) ([]Recommendation, error) {
	if req.Strategy == "" {
		req.Strategy = StrategyHybrid
	}
	switch req.Strategy {
	case StrategyHybrid, StrategyCategory, StrategyPopular, StrategyUserBased, StrategyBoughtTogether:
	default:
		return nil, ErrUnknownStrategy
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultRecommendationLimit
	}
	limit = min(limit, maxRecommendationLimit)

	current, err := r.products.Get(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	catalog, err := r.products.List(ctx, domain.ProductFilter{})
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	orders, err := r.settledOrders(ctx)
	if err != nil {
		return nil, err
	}
	sales := unitsSold(orders)

	inStock := make([]domain.Product, 0, len(catalog))
	for _, p := range catalog {
		if p.ID != current.ID && p.Stock > 0 {
			inStock = append(inStock, p)
		}
	}
	bySales := slices.Clone(inStock)
	slices.SortStableFunc(bySales, func(a, b domain.Product) int { return cmp.Compare(sales[b.ID], sales[a.ID]) })

	picks := newPicker(limit)
	hybrid := req.Strategy == StrategyHybrid

	if hybrid || req.Strategy == StrategyCategory {
		n := share(limit, 0.4, hybrid)
		for _, p := range inStock {
			if strings.EqualFold(p.Category, current.Category) && picks.addUpTo(p, ReasonSameCategory, n) {
				break
			}
		}
	}
	if hybrid || req.Strategy == StrategyPopular {
		n := share(limit, 0.3, hybrid)
		for _, p := range bySales {
			if sales[p.ID] > 0 && picks.addUpTo(p, ReasonBestSeller, n) {
				break
			}
		}
	}
	if (hybrid || req.Strategy == StrategyUserBased) && req.UserID != "" {
		n := share(limit, 0.3, hybrid)
		categories, err := r.userCategories(ctx, req.UserID, current.ID)
		if err != nil {
			r.logger.WithError(err).WithField("user_id", req.UserID).Warn("user-based recommendations skipped")
		}
		for _, p := range inStock {
			if categories[strings.ToLower(p.Category)] && picks.addUpTo(p, ReasonForYou, n) {
				break
			}
		}
	}
	if req.Strategy == StrategyBoughtTogether {
		together := boughtWith(orders, current.ID)
		ranked := slices.Clone(inStock)
		slices.SortStableFunc(ranked, func(a, b domain.Product) int { return cmp.Compare(together[b.ID], together[a.ID]) })
		for _, p := range ranked {
			if together[p.ID] > 0 && picks.addUpTo(p, ReasonBoughtTogether, limit) {
				break
			}
		}
	}

	for _, p := range bySales {
		if picks.full() {
			break
		}
		picks.add(p, ReasonPopular)
	}
	return picks.items, nil
}

func (r *Recommender) settledOrders(ctx context.Context) ([]domain.Order, error) {
	if r.orders == nil {
		return nil, nil
	}
	orders, err := r.orders.List(ctx, domain.OrderFilter{
		Statuses: []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusCompleted},
		Limit:    salesWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("list settled orders: %w", err)
	}
	return orders, nil
}

// userCategories: категории товаров из последних заказов покупателя, кроме текущего товара.
func (r *Recommender) userCategories(ctx context.Context, userID, excludeID string) (map[string]bool, error) {
	if r.orders == nil {
		return nil, nil
	}
	orders, err := r.orders.List(ctx, domain.OrderFilter{CustomerID: userID, Limit: userHistory})
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	categories := make(map[string]bool)
	for _, o := range orders {
		for _, item := range o.Items {
			if item.ProductID == "" || item.ProductID == excludeID {
				continue
			}
			p, err := r.products.Get(ctx, item.ProductID)
			if err != nil {
				continue
			}
			if p.Category != "" {
				categories[strings.ToLower(p.Category)] = true
			}
		}
	}
	return categories, nil
}

func unitsSold(orders []domain.Order) map[string]int64 {
	sales := make(map[string]int64)
	for _, o := range orders {
		for _, item := range o.Items {
			if item.ProductID != "" {
				sales[item.ProductID] += int64(item.Qty)
			}
		}
	}
	return sales
}

// boughtWith считает, в скольких заказах товар встречался вместе с productID.
func boughtWith(orders []domain.Order, productID string) map[string]int64 {
	counts := make(map[string]int64)
	for _, o := range orders {
		if !slices.ContainsFunc(o.Items, func(i domain.OrderItem) bool { return i.ProductID == productID }) {
			continue
		}
		seen := make(map[string]bool, len(o.Items))
		for _, item := range o.Items {
			if item.ProductID == "" || item.ProductID == productID || seen[item.ProductID] {
				continue
			}
			seen[item.ProductID] = true
			counts[item.ProductID]++
		}
	}
	return counts
}

// share: доля лимита для источника гибридной стратегии; одиночная стратегия берёт весь лимит.
func share(limit int, fraction float64, hybrid bool) int {
	if !hybrid {
		return limit
	}
	return int(math.Ceil(float64(limit) * fraction))
}

type picker struct {
	limit  int
	items  []Recommendation
	seen   map[string]bool
	counts map[string]int
}

func newPicker(limit int) *picker {
	return &picker{limit: limit, seen: make(map[string]bool), counts: make(map[string]int)}
}

func (p *picker) full() bool { return len(p.items) >= p.limit }

func (p *picker) add(product domain.Product, reason string) {
	if p.full() || p.seen[product.ID] {
		return
	}
	p.seen[product.ID] = true
	p.counts[reason]++
	p.items = append(p.items, Recommendation{Product: product, Reason: reason})
}

// addUpTo добавляет товар, пока у причины меньше n позиций; true, если источник исчерпал квоту.
func (p *picker) addUpTo(product domain.Product, reason string, n int) bool {
	if p.counts[reason] < n {
		p.add(product, reason)
	}
	return p.counts[reason] >= n || p.full()
}
