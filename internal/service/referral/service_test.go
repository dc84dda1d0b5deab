package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/loyalty"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newTestService() (*Service, domain.LoyaltyRepository) {
	loyaltyRepo := memory.NewLoyaltyRepository()
	svc := NewService(memory.NewReferralRepository(), loyalty.NewService(loyaltyRepo, nil), nil)
	return svc, loyaltyRepo
}

func TestBaseCode(t *testing.T) {
	cases := []struct {
		name, email, want string
	}{
		{"Juan Perez", "juan@example.com", "JUAN"},
		{"", "maria.g@example.com", "MARIA.G"},
		{"", "", "USER"},
	}
	for _, tc := range cases {
		if got := BaseCode(tc.name, tc.email); got != tc.want {
			t.Fatalf("BaseCode(%q, %q) = %q, want %q", tc.name, tc.email, got, tc.want)
		}
	}
}

func TestEnsureCode_StableAndRetriesCollisions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	numbers := []int{7, 7, 42}
	svc.randN = func(int) int {
		n := numbers[0]
		numbers = numbers[1:]
		return n
	}

	first, err := svc.EnsureCode(ctx, "u1", "Juan Perez", "")
	if err != nil {
		t.Fatalf("EnsureCode failed: %v", err)
	}
	if first.Code != "JUAN7" {
		t.Fatalf("unexpected code: %s", first.Code)
	}

	again, err := svc.EnsureCode(ctx, "u1", "Juan Perez", "")
	if err != nil || again.Code != "JUAN7" {
		t.Fatalf("code must be stable: %+v err=%v", again, err)
	}

	other, err := svc.EnsureCode(ctx, "u2", "Juan Lopez", "")
	if err != nil {
		t.Fatalf("EnsureCode failed: %v", err)
	}
	if other.Code != "JUAN42" {
		t.Fatalf("collision must be retried: %s", other.Code)
	}
}

func TestRegisterAndComplete(t *testing.T) {
	svc, loyaltyRepo := newTestService()
	ctx := context.Background()

	code, err := svc.EnsureCode(ctx, "referrer", "Ana", "")
	if err != nil {
		t.Fatalf("EnsureCode failed: %v", err)
	}

	if _, err := svc.Register(ctx, code.Code, "referrer", ""); !errors.Is(err, domain.ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
	if _, err := svc.Register(ctx, "UNKNOWN1", "friend", ""); !errors.Is(err, domain.ErrReferralCodeNotFound) {
		t.Fatalf("expected ErrReferralCodeNotFound, got %v", err)
	}

	ref, err := svc.Register(ctx, code.Code, "friend", "friend@example.com")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if ref.Status != domain.ReferralStatusPending || ref.Reward != domain.ReferralReward {
		t.Fatalf("unexpected referral: %+v", ref)
	}
	if _, err := svc.Register(ctx, code.Code, "friend", ""); !errors.Is(err, domain.ErrAlreadyReferred) {
		t.Fatalf("expected ErrAlreadyReferred, got %v", err)
	}

	_, completed, err := svc.Complete(ctx, "friend", "o1")
	if err != nil || !completed {
		t.Fatalf("Complete failed: completed=%v err=%v", completed, err)
	}
	_, completed, err = svc.Complete(ctx, "friend", "o2")
	if err != nil || completed {
		t.Fatalf("second completion must be a no-op: completed=%v err=%v", completed, err)
	}

	acc, err := loyaltyRepo.Get(ctx, "referrer")
	if err != nil {
		t.Fatalf("referrer account missing: %v", err)
	}
	if acc.Points != domain.ReferralReward {
		t.Fatalf("unexpected referrer points: %d", acc.Points)
	}

	stats, list, err := svc.Stats(ctx, "referrer")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(list) != 1 || stats.Completed != 1 || stats.Earnings != domain.ReferralReward {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestComplete_WithoutReferralIsNoop(t *testing.T) {
	svc, _ := newTestService()

	_, completed, err := svc.Complete(context.Background(), "nobody", "o1")
	if err != nil || completed {
		t.Fatalf("unexpected result: completed=%v err=%v", completed, err)
	}
}
