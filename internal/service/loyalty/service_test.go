package loyalty

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newTestService(now time.Time) *Service {
	svc := NewService(memory.NewLoyaltyRepository(), nil)
	svc.now = func() time.Time { return now }
	return svc
}

func TestAward_AccumulatesAndSetsLevel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(now)

	if _, err := svc.Award(ctx, "u1", 20, "Compra #o1", "o1"); err != nil {
		t.Fatalf("Award failed: %v", err)
	}
	acc, err := svc.Award(ctx, "u1", 35, "Compra #o2", "o2")
	if err != nil {
		t.Fatalf("Award failed: %v", err)
	}

	if acc.Points != 55 {
		t.Fatalf("unexpected points: got=%d want=55", acc.Points)
	}
	if acc.Level != domain.LevelSilver.Name {
		t.Fatalf("unexpected level: %q", acc.Level)
	}
	if len(acc.History) != 2 || acc.History[1].Reason != "Compra #o2" {
		t.Fatalf("unexpected history: %+v", acc.History)
	}
	if want := now.Add(domain.PointsLifetime); !acc.ExpiresAt.Equal(want) {
		t.Fatalf("unexpected expiry: got=%s want=%s", acc.ExpiresAt, want)
	}
}

func TestAward_Validation(t *testing.T) {
	svc := newTestService(time.Now())

	if _, err := svc.Award(context.Background(), "", 10, "x", ""); err != domain.ErrCustomerRequired {
		t.Fatalf("expected ErrCustomerRequired, got %v", err)
	}
	if _, err := svc.Award(context.Background(), "u1", 0, "x", ""); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBalance_ExpiredPointsReportZero(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(now)

	if _, err := svc.Award(ctx, "u1", 120, "Compra #o1", "o1"); err != nil {
		t.Fatalf("Award failed: %v", err)
	}

	b, err := svc.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if b.Points != 120 || b.Level != "Oro" || b.DiscountPercent != 15 {
		t.Fatalf("unexpected balance: %+v", b)
	}

	svc.now = func() time.Time { return now.Add(domain.PointsLifetime + time.Hour) }
	b, err = svc.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if b.Points != 0 || b.Level != "" || b.DiscountPercent != 0 {
		t.Fatalf("expired account must report zero: %+v", b)
	}
}

func TestBalance_UnknownUser(t *testing.T) {
	svc := newTestService(time.Now())

	b, err := svc.Balance(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if b.Points != 0 || b.UserID != "ghost" {
		t.Fatalf("unexpected balance: %+v", b)
	}
	if pct := svc.DiscountPercent(context.Background(), "ghost"); pct != 0 {
		t.Fatalf("unexpected discount: %d", pct)
	}
}

func TestAward_AfterExpiryStartsFromZero(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(now)

	if _, err := svc.Award(ctx, "u1", 200, "Compra #o1", "o1"); err != nil {
		t.Fatalf("Award failed: %v", err)
	}

	later := now.Add(61 * 24 * time.Hour)
	svc.now = func() time.Time { return later }
	acc, err := svc.Award(ctx, "u1", 1, "Compra #o2", "o2")
	if err != nil {
		t.Fatalf("Award failed: %v", err)
	}
	if acc.Points != 1 {
		t.Fatalf("expired points must not carry over: got=%d want=1", acc.Points)
	}
	if acc.Level != domain.LevelNone.Name {
		t.Fatalf("unexpected level after expiry: %q", acc.Level)
	}
	if want := later.Add(domain.PointsLifetime); !acc.ExpiresAt.Equal(want) {
		t.Fatalf("unexpected expiry: got=%s want=%s", acc.ExpiresAt, want)
	}
	if len(acc.History) != 2 {
		t.Fatalf("history must keep both entries: %+v", acc.History)
	}

	b, err := svc.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if b.Points != 1 || b.DiscountPercent != 0 {
		t.Fatalf("unexpected balance after expiry: %+v", b)
	}
}
