package domain

import (
	"context"
	"testing"
	"time"
)

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	if got := ActorFromContext(ctx); got != ActorSystem {
		t.Fatalf("expected system actor by default, got %q", got)
	}
	if got := ActorFromContext(WithActor(ctx, "  ")); got != ActorSystem {
		t.Fatalf("blank actor must be ignored, got %q", got)
	}
	if got := ActorFromContext(WithActor(ctx, ActorWebhook)); got != ActorWebhook {
		t.Fatalf("unexpected actor %q", got)
	}

	for in, want := range map[string]string{"": ActorAdmin, "admin": ActorAdmin, " ana ": "admin:ana"} {
		if got := AdminActor(in); got != want {
			t.Fatalf("AdminActor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSortTimelineIsStable(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []TimelineEvent{
		{Type: EventOrderConfirmed, Occurred: at.Add(time.Second)},
		{Type: EventOrderPlaced, Occurred: at},
		{Type: EventPaymentInitiated, Occurred: at},
	}
	SortTimeline(events)
	if events[0].Type != EventOrderPlaced || events[1].Type != EventPaymentInitiated || events[2].Type != EventOrderConfirmed {
		t.Fatalf("unexpected order: %+v", events)
	}
}
