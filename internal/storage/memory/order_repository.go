package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderRepository хранит заказы в памяти процесса.
// Индекс byPayment связывает payment_<id> и ID платежа провайдера с заказом.
type OrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	byPayment map[string]string
}

// NewOrderRepository возвращает пустой репозиторий.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:    make(map[string]domain.Order),
		byPayment: make(map[string]string),
	}
}

func (r *OrderRepository) Create(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return domain.ErrOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrOrderExists
	}
	if order.Version == 0 {
		order.Version = 1
	}
	r.put(order)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

// FindByPaymentID ищет заказ по payment_<id> или по ID платежа провайдера.
func (r *OrderRepository) FindByPaymentID(_ context.Context, paymentID string) (domain.Order, error) {
	if paymentID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPayment[paymentID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(r.orders[id]), nil
}

// List возвращает заказы по фильтру, новые первыми.
func (r *OrderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	result := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.Matches(order) {
			result = append(result, copyOrder(order))
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Save перезаписывает заказ при совпадении версии и увеличивает её.
func (r *OrderRepository) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	r.unindex(current)
	order.Version++
	r.put(order)
	return nil
}

// Len возвращает число заказов.
func (r *OrderRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

func (r *OrderRepository) put(order domain.Order) {
	r.orders[order.ID] = copyOrder(order)
	for _, key := range paymentKeys(order) {
		r.byPayment[key] = order.ID
	}
}

func (r *OrderRepository) unindex(order domain.Order) {
	for _, key := range paymentKeys(order) {
		if r.byPayment[key] == order.ID {
			delete(r.byPayment, key)
		}
	}
}

func paymentKeys(order domain.Order) []string {
	keys := make([]string, 0, 2)
	if order.PaymentID != "" {
		keys = append(keys, order.PaymentID)
	}
	if order.Payment != nil && order.Payment.PaymentID != "" && order.Payment.PaymentID != order.PaymentID {
		keys = append(keys, order.Payment.PaymentID)
	}
	return keys
}

func copyOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	if src.Payment != nil {
		payment := *src.Payment
		dst.Payment = &payment
	}
	return dst
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
