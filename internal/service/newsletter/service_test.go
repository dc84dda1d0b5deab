package newsletter

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Buyer@Example.COM ")
	if err != nil || got != "buyer@example.com" {
		t.Fatalf("unexpected result: %q err=%v", got, err)
	}
	for _, bad := range []string{"", "nope", "Name <a@b.c>", "a@"} {
		if _, err := NormalizeEmail(bad); !errors.Is(err, domain.ErrInvalidEmail) {
			t.Fatalf("expected ErrInvalidEmail for %q, got %v", bad, err)
		}
	}
}

func TestSubscribeLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewSubscriberRepository(), nil)

	sub, err := svc.Subscribe(ctx, SubscribeRequest{Email: "A@b.com", Interests: []string{"Guantes", "guantes", " "}})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.Source != domain.SubscriberSourceGuest || !sub.Active || len(sub.Interests) != 1 {
		t.Fatalf("unexpected subscriber: %+v", sub)
	}
	if sub.Preferences != domain.DefaultSubscriberPreferences() {
		t.Fatalf("unexpected preferences: %+v", sub.Preferences)
	}

	if _, err := svc.Subscribe(ctx, SubscribeRequest{Email: "a@b.com"}); !errors.Is(err, domain.ErrSubscriberExists) {
		t.Fatalf("expected ErrSubscriberExists, got %v", err)
	}

	sub, err = svc.Unsubscribe(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.Active || sub.UnsubscribedAt.IsZero() {
		t.Fatalf("unsubscribe must deactivate: %+v", sub)
	}

	active, err := svc.ListActive(ctx)
	if err != nil || len(active) != 0 {
		t.Fatalf("unexpected active list: %+v err=%v", active, err)
	}

	sub, err = svc.Subscribe(ctx, SubscribeRequest{Email: "a@b.com", UserID: "u1"})
	if err != nil {
		t.Fatalf("re-subscribe failed: %v", err)
	}
	if sub.Source != domain.SubscriberSourceAuthenticated || !sub.UnsubscribedAt.IsZero() {
		t.Fatalf("unexpected reactivated subscriber: %+v", sub)
	}
}

func TestUpdatePreferences(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewSubscriberRepository(), nil)

	if _, err := svc.UpdatePreferences(ctx, "x@y.com", domain.SubscriberPreferences{}); !errors.Is(err, domain.ErrSubscriberNotFound) {
		t.Fatalf("expected ErrSubscriberNotFound, got %v", err)
	}
	if _, err := svc.Subscribe(ctx, SubscribeRequest{Email: "x@y.com"}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub, err := svc.UpdatePreferences(ctx, "x@y.com", domain.SubscriberPreferences{Promotions: true})
	if err != nil {
		t.Fatalf("UpdatePreferences failed: %v", err)
	}
	if sub.Preferences.Newsletter || !sub.Preferences.Promotions {
		t.Fatalf("unexpected preferences: %+v", sub.Preferences)
	}
}
