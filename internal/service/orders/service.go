package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/storage/rediscache"
)

// DefaultPreferenceLifetime: срок, после которого неоплаченный заказ отменяется.
const DefaultPreferenceLifetime = 24 * time.Hour

// ErrPaymentInitiation: заказ сохранён, но платёжную preference создать не удалось.
var ErrPaymentInitiation = errors.New("payment initiation failed")

// ProductCatalog: чтение каталога и списание остатков.
type ProductCatalog interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	DecrementForOrder(ctx context.Context, orderID string, items []domain.OrderItem) ([]domain.StockAdjustment, error)
}

// LoyaltyProgram: начисление баллов и скидка уровня.
type LoyaltyProgram interface {
	Award(ctx context.Context, userID string, points int64, reason, orderID string) (domain.LoyaltyAccount, error)
	DiscountPercent(ctx context.Context, userID string) int64
}

// CouponBook: проверка, резерв и возврат промокодов.
type CouponBook interface {
	Quote(ctx context.Context, in coupon.Checkout) (coupon.Quote, error)
	Redeem(ctx context.Context, code, userID, orderID string, discountMinor int64) error
	Release(ctx context.Context, code, orderID string) error
}

// ReferralCompleter завершает приглашение при первой оплате приглашённого.
type ReferralCompleter interface {
	Complete(ctx context.Context, referredID, orderID string) (domain.Referral, bool, error)
}

// Dependencies: хранилища и сервисы, с которыми работает Service.
// Orders и Gateway обязательны, остальное опционально.
type Dependencies struct {
	Orders    domain.OrderRepository
	Outbox    domain.OutboxRepository
	Timeline  domain.TimelineRepository
	Webhooks  domain.WebhookEventRepository
	Gateway   domain.PaymentGateway
	Catalog   ProductCatalog
	Loyalty   LoyaltyProgram
	Coupons   CouponBook
	Referrals ReferralCompleter
	Locker    rediscache.Locker
	Metrics   *metrics.OrderMetrics
	Logger    *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithAllowUnlistedItems разрешает позиции, которых нет в каталоге (цена берётся из запроса).
func WithAllowUnlistedItems(allow bool) Option {
	return func(s *Service) { s.allowUnlisted = allow }
}

// WithPreferenceLifetime задаёт срок оплаты заказа.
func WithPreferenceLifetime(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service ведёт заказ от оформления до подтверждения оплаты.
type Service struct {
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	webhooks  domain.WebhookEventRepository
	gateway   domain.PaymentGateway
	catalog   ProductCatalog
	loyalty   LoyaltyProgram
	coupons   CouponBook
	referrals ReferralCompleter
	locker    rediscache.Locker
	metrics   *metrics.OrderMetrics
	logger    *log.Entry

	allowUnlisted bool
	lifetime      time.Duration
	now           func() time.Time
}

// NewService создаёт сервис заказов.
func NewService(deps Dependencies, opts ...Option) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "orders")
	}
	s := &Service{
		orders:    deps.Orders,
		outbox:    deps.Outbox,
		timeline:  deps.Timeline,
		webhooks:  deps.Webhooks,
		gateway:   deps.Gateway,
		catalog:   deps.Catalog,
		loyalty:   deps.Loyalty,
		coupons:   deps.Coupons,
		referrals: deps.Referrals,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		logger:    logger,
		lifetime:  DefaultPreferenceLifetime,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ItemRequest: позиция корзины в запросе клиента.
type ItemRequest struct {
	ProductID  string
	Name       string
	Qty        int32
	PriceMinor int64
}

// PlaceRequest: корзина и выбранный способ оплаты.
type PlaceRequest struct {
	Customer      domain.Customer
	Items         []ItemRequest
	PaymentMethod string
	CouponCode    string
}

// PlaceResult: созданный заказ и, для redirect-оплаты, preference провайдера.
type PlaceResult struct {
	Order      domain.Order
	Preference *domain.Preference
}

// Place оформляет заказ. Для redirect-способов дополнительно создаётся preference;
// при её ошибке заказ остаётся в processing, а ошибка оборачивает ErrPaymentInitiation.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	if s.metrics != nil {
		defer s.metrics.ObserveOperation("place")()
	}
	ctx = domain.WithActor(ctx, domain.ActorCustomer)

	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return PlaceResult{}, err
	}
	customer := req.Customer
	customer.ID = strings.TrimSpace(customer.ID)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.ID == "" {
		return PlaceResult{}, domain.ErrCustomerRequired
	}
	if len(req.Items) == 0 {
		return PlaceResult{}, domain.ErrItemsRequired
	}
	if method == domain.PaymentMethodBankTransfer {
		if err := domain.ValidateArgentinePhone(customer.Phone); err != nil {
			return PlaceResult{}, err
		}
	}

	now := s.now()
	items, err := s.resolveItems(ctx, req.Items, now)
	if err != nil {
		return PlaceResult{}, err
	}

	order := domain.Order{
		ID:            uuid.NewString(),
		Customer:      customer,
		Status:        domain.InitialStatus(method),
		PaymentMethod: method,
		Currency:      domain.CurrencyARS,
		Items:         items,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.PaymentID = domain.PaymentIDFor(order.ID, method)
	order.SubtotalMinor = order.ItemsTotal()

	if err := s.applyDiscounts(ctx, &order, req.CouponCode); err != nil {
		return PlaceResult{}, err
	}
	order.AmountMinor = order.SubtotalMinor - order.DiscountMinor
	order.PointsEarned = domain.PointsForAmount(order.AmountMinor)

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return PlaceResult{}, errors.Join(errs...)
	}
	if method.IsRedirect() && order.AmountMinor > domain.MaxProviderAmountMinor {
		return PlaceResult{}, domain.ErrAmountTooLarge
	}

	// Использование купона занимается при оформлении: два неоплаченных заказа
	// не могут разделить последнее использование.
	if order.CouponCode != "" {
		if err := s.coupons.Redeem(ctx, order.CouponCode, customer.ID, order.ID, order.DiscountMinor); err != nil {
			return PlaceResult{}, err
		}
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.releaseCoupon(ctx, order)
		return PlaceResult{}, fmt.Errorf("create order: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordOrderPlaced(string(method))
	}
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"customer_id":  customer.ID,
		"method":       method,
		"amount_minor": order.AmountMinor,
	}).Info("order placed")
	s.emitEvent(ctx, &order, domain.EventOrderPlaced, "")

	result := PlaceResult{Order: order}
	if !method.IsRedirect() {
		return result, nil
	}

	pref, err := s.gateway.CreatePreference(ctx, preferenceRequest(order, now.Add(s.lifetime)))
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("payment preference failed")
		s.emitEvent(ctx, &order, domain.EventPaymentFailed, err.Error())
		return result, fmt.Errorf("%w: %w", ErrPaymentInitiation, err)
	}

	updated, _, err := s.updateOrder(ctx, order.ID, func(o *domain.Order) (bool, error) {
		o.PreferenceID = pref.ID
		o.UpdatedAt = s.now()
		return true, nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to store preference id")
	} else {
		result.Order = updated
	}
	s.emitEvent(ctx, &result.Order, domain.EventPaymentInitiated, "")
	result.Preference = &pref
	return result, nil
}

func (s *Service) resolveItems(ctx context.Context, in []ItemRequest, now time.Time) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(in))
	for _, it := range in {
		if it.Qty <= 0 {
			return nil, domain.ErrItemQtyInvalid
		}
		item := domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  strings.TrimSpace(it.ProductID),
			Name:       strings.TrimSpace(it.Name),
			Qty:        it.Qty,
			PriceMinor: it.PriceMinor,
			CreatedAt:  now,
		}

		listed := false
		if item.ProductID != "" && s.catalog != nil {
			p, err := s.catalog.Get(ctx, item.ProductID)
			switch {
			case err == nil:
				item.Name = p.Name
				item.PriceMinor = p.PriceMinor
				listed = true
			case !errors.Is(err, domain.ErrProductNotFound):
				return nil, fmt.Errorf("load product %s: %w", item.ProductID, err)
			}
		}
		if !listed {
			if !s.allowUnlisted {
				return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, nonEmpty(item.ProductID, item.Name))
			}
			if item.Name == "" {
				return nil, domain.ErrItemNameRequired
			}
			if item.PriceMinor <= 0 {
				return nil, domain.ErrItemPriceInvalid
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// applyDiscounts складывает скидку купона и скидку уровня лояльности.
// Скидка уровня считается от суммы после купона.
func (s *Service) applyDiscounts(ctx context.Context, order *domain.Order, code string) error {
	var discount int64
	if code = domain.NormalizeCouponCode(code); code != "" {
		if s.coupons == nil {
			return domain.ErrCouponNotFound
		}
		var qty int64
		for _, it := range order.Items {
			qty += int64(it.Qty)
		}
		quote, err := s.coupons.Quote(ctx, coupon.Checkout{
			Code:       code,
			UserID:     order.Customer.ID,
			TotalMinor: order.SubtotalMinor,
			Items:      qty,
			Method:     order.PaymentMethod,
		})
		if err != nil {
			return err
		}
		order.CouponCode = quote.Coupon.Code
		discount += quote.DiscountMinor
	}

	if s.loyalty != nil {
		if pct := s.loyalty.DiscountPercent(ctx, order.Customer.ID); pct > 0 {
			discount += (order.SubtotalMinor - discount) * pct / 100
		}
	}
	if discount > order.SubtotalMinor {
		discount = order.SubtotalMinor
	}
	order.DiscountMinor = discount
	return nil
}

func preferenceRequest(order domain.Order, expiresAt time.Time) domain.PreferenceRequest {
	req := domain.PreferenceRequest{
		OrderID:      order.ID,
		CustomerID:   order.Customer.ID,
		PayerEmail:   order.Customer.Email,
		PointsEarned: order.PointsEarned,
		ExpiresAt:    expiresAt,
	}
	if order.DiscountMinor == 0 {
		for _, it := range order.Items {
			req.Items = append(req.Items, domain.PreferenceItem{
				ID:         nonEmpty(it.ProductID, it.ID),
				Title:      it.Name,
				Qty:        it.Qty,
				PriceMinor: it.PriceMinor,
			})
		}
		return req
	}
	// Со скидкой провайдеру уходит одна позиция на итоговую сумму.
	req.Items = []domain.PreferenceItem{{
		ID:         order.ID,
		Title:      fmt.Sprintf("Orden %s", order.ID),
		Qty:        1,
		PriceMinor: order.AmountMinor,
	}}
	return req
}

// Get возвращает заказ.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.Get(ctx, id)
}

// List возвращает заказы по фильтру, новые первыми.
func (s *Service) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	return s.orders.List(ctx, filter)
}

// Timeline возвращает историю событий заказа.
func (s *Service) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if _, err := s.orders.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(ctx, id)
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
