package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type testEnv struct {
	svc      *Service
	products domain.ProductRepository
	outbox   *memory.OutboxRepository
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		products: memory.NewProductRepository(),
		outbox:   memory.NewOutboxRepository(),
		now:      time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC),
	}
	err := env.products.Upsert(context.Background(), domain.Product{
		ID: "guante", Name: "Guante de arquero", PriceMinor: 15000, Stock: 4, Category: "Guantes",
	})
	require.NoError(t, err)

	env.svc = NewService(env.products, memory.NewPriceHistoryRepository(), memory.NewPriceAlertRepository(), env.outbox, nil)
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) pendingAlerts(t *testing.T) []domain.PriceAlertPayload {
	t.Helper()
	msgs, err := e.outbox.PullPending(context.Background(), 100)
	require.NoError(t, err)

	var payloads []domain.PriceAlertPayload
	for _, m := range msgs {
		require.Equal(t, domain.EventPriceAlertTriggered, m.EventType)
		require.Equal(t, domain.AggregatePriceAlert, m.AggregateType)
		var p domain.PriceAlertPayload
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		payloads = append(payloads, p)
	}
	return payloads
}

func TestUpdatePrice_RecordsHistory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	change, err := env.svc.UpdatePrice(ctx, "guante", 12000, "admin", "promo")
	require.NoError(t, err)
	require.Equal(t, domain.PriceChangeDecrease, change.Direction())
	require.Equal(t, -20.0, change.PercentChange())

	env.now = env.now.Add(time.Hour)
	_, err = env.svc.UpdatePrice(ctx, "guante", 14000, "admin", "")
	require.NoError(t, err)

	product, err := env.products.Get(ctx, "guante")
	require.NoError(t, err)
	require.EqualValues(t, 14000, product.PriceMinor)

	history, err := env.svc.History(ctx, "guante")
	require.NoError(t, err)
	require.Len(t, history.Changes, 2)
	require.EqualValues(t, 14000, history.Changes[0].NewPriceMinor, "newest first")
	require.EqualValues(t, 12000, history.LowestMinor)
	require.False(t, history.AtLowest)
}

func TestUpdatePrice_SamePriceIsNoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.UpdatePrice(ctx, "guante", 15000, "admin", "")
	require.NoError(t, err)

	history, err := env.svc.History(ctx, "guante")
	require.NoError(t, err)
	require.Empty(t, history.Changes)
	require.True(t, history.AtLowest)
	require.EqualValues(t, 15000, history.LowestMinor)
}

func TestUpdatePrice_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.UpdatePrice(context.Background(), "guante", 0, "admin", "")
	require.True(t, domain.IsValidation(err))

	_, err = env.svc.UpdatePrice(context.Background(), "ghost", 100, "admin", "")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestPriceDrop_TriggersAlertOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	alert, err := env.svc.CreateAlert(ctx, "u1", "guante", 12500, "+5491100000000")
	require.NoError(t, err)
	require.False(t, alert.Notified)

	_, err = env.svc.UpdatePrice(ctx, "guante", 13000, "admin", "")
	require.NoError(t, err)
	require.Empty(t, env.pendingAlerts(t), "price above target")

	_, err = env.svc.UpdatePrice(ctx, "guante", 12000, "admin", "")
	require.NoError(t, err)
	payloads := env.pendingAlerts(t)
	require.Len(t, payloads, 1)
	require.Equal(t, alert.ID, payloads[0].AlertID)
	require.Equal(t, "+5491100000000", payloads[0].Phone)
	require.Equal(t, "Guante de arquero", payloads[0].ProductName)
	require.EqualValues(t, 12000, payloads[0].PriceMinor)

	_, err = env.svc.UpdatePrice(ctx, "guante", 11000, "admin", "")
	require.NoError(t, err)
	require.Empty(t, env.pendingAlerts(t), "alert fires once")

	alerts, err := env.svc.ListAlerts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.True(t, alerts[0].Notified)
	require.EqualValues(t, 12000, alerts[0].TriggeredPriceMinor)
}

func TestCreateAlert_AlreadyBelowTargetFiresImmediately(t *testing.T) {
	env := newTestEnv(t)

	alert, err := env.svc.CreateAlert(context.Background(), "u1", "guante", 20000, "")
	require.NoError(t, err)
	require.True(t, alert.Notified)
	require.Len(t, env.pendingAlerts(t), 1)
}

func TestCreateAlert_Rules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.CreateAlert(ctx, "", "guante", 100, "")
	require.ErrorIs(t, err, domain.ErrCustomerRequired)

	_, err = env.svc.CreateAlert(ctx, "u1", "guante", 0, "")
	require.ErrorIs(t, err, domain.ErrTargetPriceInvalid)

	_, err = env.svc.CreateAlert(ctx, "u1", "ghost", 100, "")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	first, err := env.svc.CreateAlert(ctx, "u1", "guante", 100, "")
	require.NoError(t, err)
	_, err = env.svc.CreateAlert(ctx, "u1", "guante", 200, "")
	require.True(t, errors.Is(err, domain.ErrPriceAlertExists))

	require.NoError(t, env.svc.RemoveAlert(ctx, first.ID, "u1"))
	_, err = env.svc.CreateAlert(ctx, "u1", "guante", 200, "")
	require.NoError(t, err, "removed alert frees the slot")
}

func TestRemoveAlert(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	alert, err := env.svc.CreateAlert(ctx, "u1", "guante", 100, "")
	require.NoError(t, err)

	require.ErrorIs(t, env.svc.RemoveAlert(ctx, alert.ID, "u2"), domain.ErrPriceAlertNotFound)
	require.NoError(t, env.svc.RemoveAlert(ctx, alert.ID, "u1"))
	require.NoError(t, env.svc.RemoveAlert(ctx, alert.ID, "u1"), "repeat is a no-op")

	alerts, err := env.svc.ListAlerts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.False(t, alerts[0].Active)
	require.Equal(t, env.now, alerts[0].DeletedAt)

	_, err = env.svc.UpdatePrice(ctx, "guante", 50, "admin", "")
	require.NoError(t, err)
	require.Empty(t, env.pendingAlerts(t), "inactive alert never fires")
}
