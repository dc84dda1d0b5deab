package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/loyalty"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/referral"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/rediscache"
)

type fixture struct {
	svc       *Service
	orders    domain.OrderRepository
	products  domain.ProductRepository
	outbox    *memory.OutboxRepository
	timeline  domain.TimelineRepository
	loyalty   domain.LoyaltyRepository
	coupons   domain.CouponRepository
	referrals domain.ReferralRepository
	gateway   *payment.MockGateway
	now       time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		orders:    memory.NewOrderRepository(),
		products:  memory.NewProductRepository(),
		outbox:    memory.NewOutboxRepository(),
		timeline:  memory.NewTimelineRepository(),
		loyalty:   memory.NewLoyaltyRepository(),
		coupons:   memory.NewCouponRepository(),
		referrals: memory.NewReferralRepository(),
		gateway:   payment.NewMockGateway(),
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, p := range []domain.Product{
		{ID: "guante", Name: "Guante de arquero", PriceMinor: 15000_00, Stock: 10, Category: "Guantes"},
		{ID: "canillera", Name: "Canillera", PriceMinor: 4500_00, Stock: 1, Category: "Accesorios"},
	} {
		if err := f.products.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	rules, err := coupon.NewRuleEngine()
	if err != nil {
		t.Fatalf("NewRuleEngine failed: %v", err)
	}
	loyaltySvc := loyalty.NewService(f.loyalty, nil)
	f.svc = NewService(Dependencies{
		Orders:    f.orders,
		Outbox:    f.outbox,
		Timeline:  f.timeline,
		Webhooks:  memory.NewWebhookEventRepository(),
		Gateway:   f.gateway,
		Catalog:   inventory.NewService(f.products, nil),
		Loyalty:   loyaltySvc,
		Coupons:   coupon.NewService(f.coupons, rules, nil),
		Referrals: referral.NewService(f.referrals, loyaltySvc, nil),
		Locker:    rediscache.NewMemoryLocker(),
		Metrics:   metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry()),
	}, append([]Option{WithClock(func() time.Time { return f.now })}, opts...)...)
	return f
}

func (f *fixture) place(t *testing.T, method string, items ...ItemRequest) PlaceResult {
	t.Helper()
	res, err := f.svc.Place(context.Background(), PlaceRequest{
		Customer:      domain.Customer{ID: "u1", Name: "Ana", Email: "ana@example.com", Phone: "5491122334455"},
		Items:         items,
		PaymentMethod: method,
	})
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	return res
}

func (f *fixture) eventTypes(t *testing.T, orderID string) []string {
	t.Helper()
	events, err := f.timeline.List(context.Background(), orderID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func countType(types []string, want string) int {
	n := 0
	for _, tp := range types {
		if tp == want {
			n++
		}
	}
	return n
}

func TestPlace_ManualMethod(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "transferencia", ItemRequest{ProductID: "guante", Qty: 2, PriceMinor: 1})

	o := res.Order
	if o.Status != domain.OrderStatusPending || o.PaymentMethod != domain.PaymentMethodBankTransfer {
		t.Fatalf("unexpected order: %+v", o)
	}
	if o.PaymentID != "" || res.Preference != nil || f.gateway.PreferenceCalls != 0 {
		t.Fatalf("manual methods must not create a preference: %+v", res)
	}
	if o.Items[0].PriceMinor != 15000_00 || o.Items[0].Name != "Guante de arquero" {
		t.Fatalf("catalog price must win over client price: %+v", o.Items[0])
	}
	if o.AmountMinor != 30000_00 || o.PointsEarned != 30 || o.Version != 1 {
		t.Fatalf("unexpected totals: amount=%d points=%d version=%d", o.AmountMinor, o.PointsEarned, o.Version)
	}
	if types := f.eventTypes(t, o.ID); countType(types, domain.EventOrderPlaced) != 1 {
		t.Fatalf("expected OrderPlaced event, got %v", types)
	}
	pending, _ := f.outbox.PullPending(context.Background(), 10)
	if len(pending) != 1 || pending[0].EventType != domain.EventOrderPlaced {
		t.Fatalf("unexpected outbox: %+v", pending)
	}
}

func TestPlace_RedirectCreatesPreference(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "tarjeta", ItemRequest{ProductID: "canillera", Qty: 1})

	o := res.Order
	if o.Status != domain.OrderStatusProcessing || o.PaymentID != "payment_"+o.ID {
		t.Fatalf("unexpected redirect order: %+v", o)
	}
	if res.Preference == nil || o.PreferenceID != "pref-1" || o.Version != 2 {
		t.Fatalf("preference must be stored: %+v %+v", res.Preference, o)
	}
	req := f.gateway.LastRequest
	if req.OrderID != o.ID || req.TotalMinor() != o.AmountMinor || !req.ExpiresAt.Equal(f.now.Add(DefaultPreferenceLifetime)) {
		t.Fatalf("unexpected preference request: %+v", req)
	}
}

func TestPlace_PreferenceFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.gateway.PreferenceErr = domain.ErrPaymentTemporary

	res, err := f.svc.Place(context.Background(), PlaceRequest{
		Customer:      domain.Customer{ID: "u1"},
		Items:         []ItemRequest{{ProductID: "guante", Qty: 1}},
		PaymentMethod: "card",
	})
	if !errors.Is(err, ErrPaymentInitiation) || !errors.Is(err, domain.ErrPaymentTemporary) {
		t.Fatalf("expected payment initiation error, got %v", err)
	}
	stored, getErr := f.orders.Get(context.Background(), res.Order.ID)
	if getErr != nil || stored.Status != domain.OrderStatusProcessing {
		t.Fatalf("order must stay in processing: %+v %v", stored, getErr)
	}
	if types := f.eventTypes(t, stored.ID); countType(types, domain.EventPaymentFailed) != 1 {
		t.Fatalf("expected PaymentInitiationFailed, got %v", types)
	}
}

func TestPlace_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  PlaceRequest
		want error
	}{
		{"unknown method", PlaceRequest{Customer: domain.Customer{ID: "u1"}, Items: []ItemRequest{{ProductID: "guante", Qty: 1}}, PaymentMethod: "crypto"}, domain.ErrInvalidPaymentMethod},
		{"no customer", PlaceRequest{Items: []ItemRequest{{ProductID: "guante", Qty: 1}}, PaymentMethod: "cash"}, domain.ErrCustomerRequired},
		{"no items", PlaceRequest{Customer: domain.Customer{ID: "u1"}, PaymentMethod: "cash"}, domain.ErrItemsRequired},
		{"bad phone", PlaceRequest{Customer: domain.Customer{ID: "u1", Phone: "1122"}, Items: []ItemRequest{{ProductID: "guante", Qty: 1}}, PaymentMethod: "bank_transfer"}, domain.ErrInvalidPhone},
		{"zero qty", PlaceRequest{Customer: domain.Customer{ID: "u1"}, Items: []ItemRequest{{ProductID: "guante", Qty: 0}}, PaymentMethod: "cash"}, domain.ErrItemQtyInvalid},
		{"unlisted", PlaceRequest{Customer: domain.Customer{ID: "u1"}, Items: []ItemRequest{{ProductID: "ghost", Name: "X", Qty: 1, PriceMinor: 100}}, PaymentMethod: "cash"}, domain.ErrProductNotFound},
		{"too large", PlaceRequest{Customer: domain.Customer{ID: "u1"}, Items: []ItemRequest{{ProductID: "guante", Qty: 100}}, PaymentMethod: "card"}, domain.ErrAmountTooLarge},
	}
	for _, tc := range cases {
		if _, err := f.svc.Place(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestPlace_UnlistedItemsAllowed(t *testing.T) {
	f := newFixture(t, WithAllowUnlistedItems(true))
	res := f.place(t, "efectivo", ItemRequest{Name: "Personalizado", Qty: 1, PriceMinor: 999_00})
	if res.Order.AmountMinor != 999_00 || res.Order.PointsEarned != 0 {
		t.Fatalf("unexpected unlisted order: %+v", res.Order)
	}
}

func TestPlace_CouponAndLoyaltyDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.coupons.Create(ctx, domain.Coupon{
		ID: "c1", Code: "VERANO", Type: domain.CouponTypePercentage, Value: 10,
		Active: true, OnePerUser: true, Version: 1, CreatedAt: f.now,
	}); err != nil {
		t.Fatalf("coupon: %v", err)
	}
	if _, err := f.loyalty.AddPoints(ctx, "u1", domain.PointsEntry{Date: f.now, Points: 30}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("loyalty: %v", err)
	}

	res, err := f.svc.Place(ctx, PlaceRequest{
		Customer:      domain.Customer{ID: "u1"},
		Items:         []ItemRequest{{ProductID: "guante", Qty: 1}},
		PaymentMethod: "cash",
		CouponCode:    " verano ",
	})
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	o := res.Order
	// 15000 - 10% = 13500; Bronce 5% от 13500 = 675.
	if o.CouponCode != "VERANO" || o.DiscountMinor != 1500_00+675_00 || o.AmountMinor != 12825_00 {
		t.Fatalf("unexpected discount: coupon=%s discount=%d amount=%d", o.CouponCode, o.DiscountMinor, o.AmountMinor)
	}
	if o.PointsEarned != 12 {
		t.Fatalf("points must be based on the discounted total: %d", o.PointsEarned)
	}

	if _, err := f.svc.Place(ctx, PlaceRequest{
		Customer: domain.Customer{ID: "u1"}, Items: []ItemRequest{{ProductID: "guante", Qty: 1}},
		PaymentMethod: "cash", CouponCode: "NOPE",
	}); !errors.Is(err, domain.ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}
}

func TestConfirm_RunsSideEffectsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.coupons.Create(ctx, domain.Coupon{ID: "c1", Code: "FIJO", Type: domain.CouponTypeFixed, Value: 100_00, Active: true, Version: 1}); err != nil {
		t.Fatalf("coupon: %v", err)
	}
	if err := f.referrals.Create(ctx, domain.Referral{ID: "r1", Code: "ANA123", ReferrerID: "ref-1", ReferredID: "u1", Status: domain.ReferralStatusPending, Reward: domain.ReferralReward}); err != nil {
		t.Fatalf("referral: %v", err)
	}

	res, err := f.svc.Place(ctx, PlaceRequest{
		Customer:      domain.Customer{ID: "u1", Phone: "5491122334455"},
		Items:         []ItemRequest{{ProductID: "canillera", Qty: 3}},
		PaymentMethod: "bank_transfer",
		CouponCode:    "FIJO",
	})
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	confirmed, err := f.svc.Confirm(ctx, res.Order.ID, "operator@shop")
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed || confirmed.ConfirmedBy != "operator@shop" || !confirmed.ConfirmedAt.Equal(f.now) {
		t.Fatalf("unexpected confirmed order: %+v", confirmed)
	}

	p, _ := f.products.Get(ctx, "canillera")
	if p.Stock != 0 {
		t.Fatalf("stock must be clamped at zero, got %d", p.Stock)
	}
	acc, err := f.loyalty.Get(ctx, "u1")
	if err != nil || acc.Points != confirmed.PointsEarned || acc.History[0].Reason != "Compra #"+confirmed.ID {
		t.Fatalf("unexpected loyalty account: %+v %v", acc, err)
	}
	ref, _ := f.referrals.GetByReferred(ctx, "u1")
	if ref.Status != domain.ReferralStatusCompleted {
		t.Fatalf("referral must be completed: %+v", ref)
	}
	referrer, err := f.loyalty.Get(ctx, "ref-1")
	if err != nil || referrer.Points != domain.ReferralReward {
		t.Fatalf("referrer must be rewarded: %+v %v", referrer, err)
	}
	c, _ := f.coupons.Get(ctx, "FIJO")
	if c.UsedCount != 1 {
		t.Fatalf("coupon must be redeemed once, used=%d", c.UsedCount)
	}

	again, err := f.svc.Confirm(ctx, res.Order.ID, "other")
	if err != nil || again.ConfirmedBy != "operator@shop" {
		t.Fatalf("second confirm must be a no-op: %+v %v", again, err)
	}
	acc, _ = f.loyalty.Get(ctx, "u1")
	if acc.Points != confirmed.PointsEarned {
		t.Fatalf("points must be awarded once, got %d", acc.Points)
	}
	types := f.eventTypes(t, res.Order.ID)
	if countType(types, domain.EventOrderConfirmed) != 1 || countType(types, domain.EventStockDecremented) != 1 || countType(types, domain.EventPointsAwarded) != 1 {
		t.Fatalf("unexpected timeline: %v", types)
	}
}

func TestConfirm_CanceledOrder(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "cash", ItemRequest{ProductID: "guante", Qty: 1})
	ctx := context.Background()

	canceled, err := f.svc.Cancel(ctx, res.Order.ID, "")
	if err != nil || canceled.Status != domain.OrderStatusCanceled || canceled.CancelReason != CancelReasonAdmin {
		t.Fatalf("unexpected cancel: %+v %v", canceled, err)
	}
	if _, err := f.svc.Confirm(ctx, res.Order.ID, "admin"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, "missing", "admin"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelExpired(t *testing.T) {
	f := newFixture(t)
	old := f.place(t, "cash", ItemRequest{ProductID: "guante", Qty: 1})
	f.now = f.now.Add(DefaultPreferenceLifetime + time.Hour)
	fresh := f.place(t, "cash", ItemRequest{ProductID: "guante", Qty: 1})

	worker := NewExpiryWorker(f.svc, time.Minute, 10, nil)
	if n := worker.RunOnce(context.Background()); n != 1 {
		t.Fatalf("expected one expired order, got %d", n)
	}
	o, _ := f.orders.Get(context.Background(), old.Order.ID)
	if o.Status != domain.OrderStatusCanceled {
		t.Fatalf("old order must be canceled: %s", o.Status)
	}
	o, _ = f.orders.Get(context.Background(), fresh.Order.ID)
	if o.Status != domain.OrderStatusPending {
		t.Fatalf("fresh order must stay pending: %s", o.Status)
	}
	if n := worker.RunOnce(context.Background()); n != 0 {
		t.Fatalf("second run must cancel nothing, got %d", n)
	}
}

type failingCanceler struct{}

func (failingCanceler) CancelExpired(context.Context, int) (int, error) {
	return 5, errors.New("db down")
}

func TestExpiryWorker_ErrorCountsZero(t *testing.T) {
	if n := NewExpiryWorker(failingCanceler{}, 0, 0, nil).RunOnce(context.Background()); n != 0 {
		t.Fatalf("errors must count as zero, got %d", n)
	}
}

type conflictOnce struct {
	domain.OrderRepository
	conflicts int
}

func (c *conflictOnce) Save(ctx context.Context, o domain.Order) error {
	if c.conflicts > 0 {
		c.conflicts--
		return domain.ErrOrderVersionConflict
	}
	return c.OrderRepository.Save(ctx, o)
}

func TestUpdateOrder_RetriesVersionConflict(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "cash", ItemRequest{ProductID: "guante", Qty: 1})

	repo := &conflictOnce{OrderRepository: f.orders, conflicts: 2}
	svc := NewService(Dependencies{Orders: repo, Gateway: f.gateway})
	order, err := svc.Confirm(context.Background(), res.Order.ID, "admin")
	if err != nil || order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirm after conflicts, got %+v %v", order, err)
	}

	other := f.place(t, "cash", ItemRequest{ProductID: "guante", Qty: 1})
	repo.conflicts = saveMaxRetries
	if _, err := svc.Cancel(context.Background(), other.Order.ID, ""); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict after retries, got %v", err)
	}
}

func TestTimeline(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Timeline(context.Background(), "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	res := f.place(t, "cash", ItemRequest{ProductID: "guante", Qty: 1})
	events, err := f.svc.Timeline(context.Background(), res.Order.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("unexpected timeline: %+v %v", events, err)
	}
	if events[0].Actor != domain.ActorCustomer {
		t.Fatalf("placement must be attributed to the customer, got %q", events[0].Actor)
	}

	if _, err := f.svc.Confirm(context.Background(), res.Order.ID, "ana"); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	events, _ = f.svc.Timeline(context.Background(), res.Order.ID)
	var confirmedBy string
	for _, e := range events {
		if e.Type == domain.EventOrderConfirmed {
			confirmedBy = e.Actor
		}
	}
	if confirmedBy != "admin:ana" {
		t.Fatalf("confirmation must be attributed to the operator, got %q", confirmedBy)
	}
}

func TestPlace_ReservesSingleUseCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.coupons.Create(ctx, domain.Coupon{ID: "c1", Code: "UNICO", Type: domain.CouponTypeFixed, Value: 100_00, UsageLimit: 1, Active: true, Version: 1}); err != nil {
		t.Fatalf("coupon: %v", err)
	}
	placeWith := func(customerID string) (PlaceResult, error) {
		return f.svc.Place(ctx, PlaceRequest{
			Customer:      domain.Customer{ID: customerID},
			Items:         []ItemRequest{{ProductID: "guante", Qty: 1}},
			PaymentMethod: "cash",
			CouponCode:    "UNICO",
		})
	}

	first, err := placeWith("u1")
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if c, _ := f.coupons.Get(ctx, "UNICO"); c.UsedCount != 1 {
		t.Fatalf("pending order must hold the coupon, used=%d", c.UsedCount)
	}
	if _, err := placeWith("u2"); !errors.Is(err, domain.ErrCouponExhausted) {
		t.Fatalf("second pending order must not share the coupon, got %v", err)
	}

	if _, err := f.svc.Cancel(ctx, first.Order.ID, "customer changed mind"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if c, _ := f.coupons.Get(ctx, "UNICO"); c.UsedCount != 0 {
		t.Fatalf("cancel must release the coupon, used=%d", c.UsedCount)
	}

	second, err := placeWith("u2")
	if err != nil {
		t.Fatalf("Place after release failed: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, second.Order.ID, "ops"); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if c, _ := f.coupons.Get(ctx, "UNICO"); c.UsedCount != 1 {
		t.Fatalf("settlement must not take the coupon twice, used=%d", c.UsedCount)
	}
}

func TestCancelExpired_ReleasesCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.coupons.Create(ctx, domain.Coupon{ID: "c1", Code: "UNICO", Type: domain.CouponTypeFixed, Value: 100_00, UsageLimit: 1, Active: true, Version: 1}); err != nil {
		t.Fatalf("coupon: %v", err)
	}
	if _, err := f.svc.Place(ctx, PlaceRequest{
		Customer:      domain.Customer{ID: "u1"},
		Items:         []ItemRequest{{ProductID: "guante", Qty: 1}},
		PaymentMethod: "cash",
		CouponCode:    "UNICO",
	}); err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	f.now = f.now.Add(72 * time.Hour)
	n, err := f.svc.CancelExpired(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("CancelExpired: n=%d err=%v", n, err)
	}
	if c, _ := f.coupons.Get(ctx, "UNICO"); c.UsedCount != 0 {
		t.Fatalf("expired order must release the coupon, used=%d", c.UsedCount)
	}
}
