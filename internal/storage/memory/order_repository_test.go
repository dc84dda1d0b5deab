package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newOrder(id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		Customer:      domain.Customer{ID: "customer-1"},
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCash,
		Currency:      domain.CurrencyARS,
		SubtotalMinor: 500,
		AmountMinor:   500,
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "sku-1", Name: "Lavandina", Qty: 5, PriceMinor: 100, CreatedAt: createdAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	order := newOrder("order-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || stored.Version != 1 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	// Изменение копии не должно влиять на хранилище.
	stored.Items[0].Qty = 99
	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Qty != 5 {
		t.Fatalf("repository leaked internal slice")
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListFilterAndOrder(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	base := time.Now().UTC()

	older := newOrder("order-old", base.Add(-2*time.Hour))
	newer := newOrder("order-new", base)
	confirmed := newOrder("order-confirmed", base.Add(-time.Hour))
	confirmed.Status = domain.OrderStatusConfirmed

	for _, o := range []domain.Order{older, newer, confirmed} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	all, err := repo.List(ctx, domain.OrderFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "order-new" || all[2].ID != "order-old" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}

	pending, _ := repo.List(ctx, domain.OrderFilter{Statuses: []domain.OrderStatus{domain.OrderStatusPending}, Limit: 1})
	if len(pending) != 1 || pending[0].ID != "order-new" {
		t.Fatalf("unexpected pending page: %v", ids(pending))
	}

	stale, _ := repo.List(ctx, domain.OrderFilter{CreatedBefore: base.Add(-90 * time.Minute)})
	if len(stale) != 1 || stale[0].ID != "order-old" {
		t.Fatalf("unexpected stale orders: %v", ids(stale))
	}
}

func TestOrderRepository_FindByPaymentID(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	order := newOrder("order-pay", time.Now().UTC())
	order.PaymentMethod = domain.PaymentMethodCard
	order.PaymentID = "payment_order-pay"
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := repo.FindByPaymentID(ctx, "payment_order-pay")
	if err != nil || got.ID != order.ID {
		t.Fatalf("find by payment id: %v %+v", err, got)
	}

	got.Payment = &domain.PaymentDetails{PaymentID: "123456"}
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if found, err := repo.FindByPaymentID(ctx, "123456"); err != nil || found.ID != order.ID {
		t.Fatalf("find by provider payment id: %v", err)
	}
	if _, err := repo.FindByPaymentID(ctx, ""); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found for empty id, got %v", err)
	}
}

func TestOrderRepository_Save(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	stored.Status = domain.OrderStatusConfirmed
	if err := repo.Save(ctx, stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", updated.Status)
	}
	if updated.Version != stored.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Version = 42
	if err := repo.Save(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict error, got %v", err)
	}
}

func ids(orders []domain.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func TestTimelineRepository_DefaultsAndOrdering(t *testing.T) {
	repo := memory.NewTimelineRepository()
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	if err := repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: domain.EventOrderConfirmed, Actor: "admin:ana", Occurred: at.Add(time.Minute)}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: domain.EventOrderPlaced, Occurred: at}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := repo.Append(ctx, domain.TimelineEvent{OrderID: " ", Type: domain.EventOrderPlaced}); !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}

	events, err := repo.List(ctx, "o-1")
	if err != nil || len(events) != 2 {
		t.Fatalf("unexpected timeline: %+v %v", events, err)
	}
	if events[0].Type != domain.EventOrderPlaced || events[0].Actor != domain.ActorSystem {
		t.Fatalf("unexpected first event: %+v", events[0])
	}

	events[0].Type = "mutated"
	again, _ := repo.List(ctx, "o-1")
	if again[0].Type != domain.EventOrderPlaced {
		t.Fatal("List must return a copy")
	}
}

func TestOrderRepository_PaymentIndexFollowsSave(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	order := newOrder("order-idx", time.Now().UTC())
	order.PaymentID = "payment_order-idx"
	order.Payment = &domain.PaymentDetails{PaymentID: "111"}
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, _ := repo.Get(ctx, order.ID)
	stored.PaymentID = "222"
	stored.Payment.PaymentID = "222"
	if err := repo.Save(ctx, stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for _, stale := range []string{"payment_order-idx", "111"} {
		if _, err := repo.FindByPaymentID(ctx, stale); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("stale payment id %q still resolves: %v", stale, err)
		}
	}
	if found, err := repo.FindByPaymentID(ctx, "222"); err != nil || found.Version != 2 {
		t.Fatalf("unexpected lookup by new payment id: %+v %v", found, err)
	}
}

func TestOrderRepository_CreateRequiresID(t *testing.T) {
	repo := memory.NewOrderRepository()
	if err := repo.Create(context.Background(), newOrder("  ", time.Now())); !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}
	if repo.Len() != 0 {
		t.Fatalf("rejected order was stored")
	}
}
