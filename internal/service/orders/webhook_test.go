package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func approvedPayment(id, orderID string, amount int64) domain.ProviderPayment {
	return domain.ProviderPayment{
		ID:                id,
		Status:            domain.PaymentStatusApproved,
		ExternalReference: orderID,
		AmountMinor:       amount,
		Currency:          domain.CurrencyARS,
	}
}

func TestWebhook_ApprovedCompletesOrderOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.place(t, "card", ItemRequest{ProductID: "guante", Qty: 1})
	f.gateway.AddPayment(approvedPayment("123456", res.Order.ID, res.Order.AmountMinor))

	n := domain.PaymentNotification{Type: "payment", PaymentID: "123456"}
	result, err := f.svc.HandlePaymentNotification(ctx, n, []byte(`{"type":"payment"}`))
	if err != nil {
		t.Fatalf("HandlePaymentNotification failed: %v", err)
	}
	if result.Outcome != WebhookProcessed || result.OrderStatus != domain.OrderStatusCompleted || result.OrderID != res.Order.ID {
		t.Fatalf("unexpected result: %+v", result)
	}

	stored, _ := f.orders.Get(ctx, res.Order.ID)
	if stored.PaymentID != "123456" || stored.Payment == nil || stored.Payment.Status != domain.PaymentStatusApproved {
		t.Fatalf("payment details must be stored: %+v", stored)
	}
	acc, err := f.loyalty.Get(ctx, "u1")
	if err != nil || acc.Points != stored.PointsEarned {
		t.Fatalf("points must be awarded: %+v %v", acc, err)
	}

	dup, err := f.svc.HandlePaymentNotification(ctx, n, nil)
	if err != nil || dup.Outcome != WebhookDuplicate {
		t.Fatalf("second delivery must be a duplicate: %+v %v", dup, err)
	}
	acc, _ = f.loyalty.Get(ctx, "u1")
	if acc.Points != stored.PointsEarned {
		t.Fatalf("points must not be awarded twice: %d", acc.Points)
	}
	if types := f.eventTypes(t, res.Order.ID); countType(types, domain.EventOrderCompleted) != 1 {
		t.Fatalf("unexpected timeline: %v", types)
	}
}

func TestWebhook_ApprovedAfterManualConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.place(t, "card", ItemRequest{ProductID: "guante", Qty: 1})
	if _, err := f.svc.Confirm(ctx, res.Order.ID, "admin"); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	f.gateway.AddPayment(approvedPayment("777", res.Order.ID, res.Order.AmountMinor))

	result, err := f.svc.HandlePaymentNotification(ctx, domain.PaymentNotification{Type: "payment", PaymentID: "777"}, nil)
	if err != nil || result.OrderStatus != domain.OrderStatusCompleted {
		t.Fatalf("unexpected result: %+v %v", result, err)
	}
	p, _ := f.products.Get(ctx, "guante")
	if p.Stock != 9 {
		t.Fatalf("stock must be decremented once, got %d", p.Stock)
	}
	types := f.eventTypes(t, res.Order.ID)
	if countType(types, domain.EventPointsAwarded) != 1 || countType(types, domain.EventOrderCompleted) != 1 {
		t.Fatalf("unexpected timeline: %v", types)
	}
}

func TestWebhook_RejectedCancelsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.place(t, "card", ItemRequest{ProductID: "guante", Qty: 1})
	f.gateway.AddPayment(domain.ProviderPayment{
		ID:                "555",
		Status:            domain.PaymentStatusRejected,
		StatusDetail:      "cc_rejected_insufficient_amount",
		ExternalReference: res.Order.ID,
	})

	result, err := f.svc.HandlePaymentNotification(ctx, domain.PaymentNotification{Type: "payment", PaymentID: "555"}, nil)
	if err != nil || result.Outcome != WebhookProcessed || result.OrderStatus != domain.OrderStatusCanceled {
		t.Fatalf("unexpected result: %+v %v", result, err)
	}
	stored, _ := f.orders.Get(ctx, res.Order.ID)
	if stored.CancelReason == "" {
		t.Fatal("cancel reason must be recorded")
	}
}

func TestWebhook_Ignored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.place(t, "card", ItemRequest{ProductID: "guante", Qty: 1})
	f.gateway.AddPayment(domain.ProviderPayment{ID: "900", Status: domain.PaymentStatusPending, ExternalReference: res.Order.ID})
	f.gateway.AddPayment(approvedPayment("901", "unknown-order", 100))

	cases := []struct {
		name string
		n    domain.PaymentNotification
	}{
		{"merchant order", domain.PaymentNotification{Type: "merchant_order", PaymentID: "900"}},
		{"pending payment", domain.PaymentNotification{Type: "payment", PaymentID: "900"}},
		{"unknown order", domain.PaymentNotification{Type: "payment", PaymentID: "901"}},
		{"unknown payment", domain.PaymentNotification{Type: "payment", PaymentID: "404"}},
	}
	for _, tc := range cases {
		result, err := f.svc.HandlePaymentNotification(ctx, tc.n, nil)
		if err != nil || result.Outcome != WebhookIgnored {
			t.Fatalf("%s: expected ignored, got %+v %v", tc.name, result, err)
		}
	}
	stored, _ := f.orders.Get(ctx, res.Order.ID)
	if stored.Status != domain.OrderStatusProcessing {
		t.Fatalf("order must stay processing: %s", stored.Status)
	}
}

func TestWebhook_TemporaryErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.gateway.GetErr = domain.ErrPaymentTemporary

	result, err := f.svc.HandlePaymentNotification(context.Background(), domain.PaymentNotification{Type: "payment", PaymentID: "1"}, nil)
	if !errors.Is(err, domain.ErrPaymentTemporary) || result.Outcome != WebhookFailed {
		t.Fatalf("expected temporary failure, got %+v %v", result, err)
	}
}

func TestWebhook_FindsOrderByPaymentID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.place(t, "card", ItemRequest{ProductID: "guante", Qty: 1})
	payment := approvedPayment(res.Order.PaymentID, "", res.Order.AmountMinor)
	f.gateway.AddPayment(payment)

	result, err := f.svc.HandlePaymentNotification(ctx, domain.PaymentNotification{Type: "payment", PaymentID: payment.ID}, nil)
	if err != nil || result.OrderID != res.Order.ID || result.Outcome != WebhookProcessed {
		t.Fatalf("unexpected result: %+v %v", result, err)
	}
}
