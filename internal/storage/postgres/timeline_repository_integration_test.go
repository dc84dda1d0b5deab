package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestTimelineRepository_PostgresKeepsActorAndOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orderRepo := NewOrderRepository(store)
	timelineRepo := NewTimelineRepository(store)
	ctx := context.Background()

	placedAt := time.Now().UTC().Add(-time.Minute).Round(time.Microsecond)
	order := sampleOrder("timeline-order", "customer-timeline", placedAt)
	require.NoError(t, orderRepo.Create(ctx, order))

	require.NoError(t, timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.EventOrderConfirmed,
		Actor:    domain.AdminActor("ana"),
		Occurred: placedAt.Add(10 * time.Second),
	}))
	require.NoError(t, timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.EventOrderPlaced,
		Actor:    domain.ActorCustomer,
		Occurred: placedAt,
	}))
	// без actor и времени
	require.NoError(t, timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID: order.ID,
		Type:    domain.EventNotificationQueued,
	}))

	events, err := timelineRepo.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, domain.EventOrderPlaced, events[0].Type)
	require.Equal(t, domain.ActorCustomer, events[0].Actor)
	require.Equal(t, domain.EventOrderConfirmed, events[1].Type)
	require.Equal(t, "admin:ana", events[1].Actor)
	require.Equal(t, domain.ActorSystem, events[2].Actor)
	require.False(t, events[2].Occurred.IsZero())
}

func TestTimelineRepository_PostgresRejectsEmptyOrderID(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timelineRepo := NewTimelineRepository(store)
	ctx := context.Background()

	err := timelineRepo.Append(ctx, domain.TimelineEvent{OrderID: "  ", Type: domain.EventOrderPlaced})
	require.ErrorIs(t, err, domain.ErrOrderIDRequired)

	events, err := timelineRepo.List(ctx, "unknown-order")
	require.NoError(t, err)
	require.Empty(t, events)
}
