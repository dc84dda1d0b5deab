package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestProductRepository_PostgresDecrementClampsAtZero(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewProductRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Product{
		ID: "prod-1", Name: "Remera", PriceMinor: 1_500_000, Stock: 5, Category: "ropa",
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DecrementStock(ctx, "prod-1", 2); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := repo.Get(ctx, "prod-1")
	require.NoError(t, err)
	require.EqualValues(t, 0, p.Stock)

	adj, err := repo.DecrementStock(ctx, "prod-1", 3)
	require.NoError(t, err)
	require.True(t, adj.Clamped())
	require.EqualValues(t, 0, adj.Applied)

	_, err = repo.DecrementStock(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	listed, err := repo.List(ctx, domain.ProductFilter{Category: "ROPA"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestLoyaltyRepository_PostgresAddPoints(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewLoyaltyRepository(store)
	ctx := context.Background()

	_, err := repo.Get(ctx, "user-1")
	require.ErrorIs(t, err, domain.ErrLoyaltyAccountNotFound)

	now := time.Now().UTC().Round(time.Microsecond)
	_, err = repo.AddPoints(ctx, "user-1", domain.PointsEntry{Date: now, Points: 30, Reason: "Compra #o-1", OrderID: "o-1"}, now.Add(domain.PointsLifetime))
	require.NoError(t, err)
	acc, err := repo.AddPoints(ctx, "user-1", domain.PointsEntry{Date: now.Add(time.Second), Points: 25, Reason: "Compra #o-2", OrderID: "o-2"}, now.Add(time.Second+domain.PointsLifetime))
	require.NoError(t, err)

	require.EqualValues(t, 55, acc.Points)
	require.Equal(t, domain.LevelSilver.Name, acc.Level)
	require.Len(t, acc.History, 2)
	require.Equal(t, "o-1", acc.History[0].OrderID)
	require.True(t, acc.ExpiresAt.Equal(now.Add(time.Second+domain.PointsLifetime)))
}

func TestLoyaltyRepository_PostgresExpiredBalanceResets(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewLoyaltyRepository(store)
	ctx := context.Background()

	start := time.Now().UTC().Round(time.Microsecond)
	_, err := repo.AddPoints(ctx, "user-exp", domain.PointsEntry{Date: start, Points: 200, Reason: "Compra #o-1", OrderID: "o-1"}, start.Add(domain.PointsLifetime))
	require.NoError(t, err)

	later := start.Add(61 * 24 * time.Hour)
	acc, err := repo.AddPoints(ctx, "user-exp", domain.PointsEntry{Date: later, Points: 1, Reason: "Compra #o-2", OrderID: "o-2"}, later.Add(domain.PointsLifetime))
	require.NoError(t, err)

	require.EqualValues(t, 1, acc.Points)
	require.Equal(t, domain.LevelNone.Name, acc.Level)
	require.True(t, acc.ExpiresAt.Equal(later.Add(domain.PointsLifetime)))
	require.Len(t, acc.History, 2)
}

func TestCouponRepository_PostgresRedeem(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCouponRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	coupon := domain.Coupon{
		ID: "c-1", Code: "BIENVENIDA", Type: domain.CouponTypePercentage, Value: 10,
		UsageLimit: 2, OnePerUser: true, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, coupon))
	require.ErrorIs(t, repo.Create(ctx, coupon), domain.ErrCouponExists)

	require.NoError(t, repo.Assign(ctx, domain.CouponAssignment{
		Code: "BIENVENIDA", UserID: "u-1", AssignedAt: now, ExpiresAt: now.Add(domain.AssignedCouponLifetime),
	}))
	require.ErrorIs(t, repo.Assign(ctx, domain.CouponAssignment{
		Code: "MISSING", UserID: "u-1", AssignedAt: now, ExpiresAt: now,
	}), domain.ErrCouponNotFound)

	red := domain.CouponRedemption{Code: "BIENVENIDA", UserID: "u-1", OrderID: "o-1", DiscountMinor: 100}
	require.NoError(t, repo.Redeem(ctx, red, true))
	// повтор для того же заказа
	require.NoError(t, repo.Redeem(ctx, red, true))

	err := repo.Redeem(ctx, domain.CouponRedemption{Code: "BIENVENIDA", UserID: "u-1", OrderID: "o-2"}, true)
	require.ErrorIs(t, err, domain.ErrCouponAlreadyUsed)

	require.NoError(t, repo.Redeem(ctx, domain.CouponRedemption{Code: "BIENVENIDA", UserID: "u-2", OrderID: "o-3"}, true))
	err = repo.Redeem(ctx, domain.CouponRedemption{Code: "BIENVENIDA", UserID: "u-3", OrderID: "o-4"}, true)
	require.ErrorIs(t, err, domain.ErrCouponExhausted)

	got, err := repo.Get(ctx, "BIENVENIDA")
	require.NoError(t, err)
	require.Equal(t, 2, got.UsedCount)

	used, err := repo.HasRedemption(ctx, "BIENVENIDA", "u-1")
	require.NoError(t, err)
	require.True(t, used)

	assigned, err := repo.ListAssigned(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	require.True(t, assigned[0].Used)

	stale := got
	stale.Version--
	require.ErrorIs(t, repo.Save(ctx, stale), domain.ErrCouponConflict)
	got.Active = false
	require.NoError(t, repo.Save(ctx, got))

	active, err := repo.List(ctx, true)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestCouponRepository_PostgresRelease(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCouponRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	require.NoError(t, repo.Create(ctx, domain.Coupon{
		ID: "c-2", Code: "UNICO", Type: domain.CouponTypeFixed, Value: 100,
		UsageLimit: 1, Active: true, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, repo.Redeem(ctx, domain.CouponRedemption{ID: "r-1", Code: "UNICO", UserID: "u-1", OrderID: "o-1"}, false))
	require.ErrorIs(t, repo.Redeem(ctx, domain.CouponRedemption{ID: "r-2", Code: "UNICO", UserID: "u-2", OrderID: "o-2"}, false), domain.ErrCouponExhausted)

	require.NoError(t, repo.Release(ctx, "UNICO", "o-1"))
	require.NoError(t, repo.Release(ctx, "UNICO", "o-1"))

	c, err := repo.Get(ctx, "UNICO")
	require.NoError(t, err)
	require.Zero(t, c.UsedCount)
	require.NoError(t, repo.Redeem(ctx, domain.CouponRedemption{ID: "r-3", Code: "UNICO", UserID: "u-2", OrderID: "o-2"}, false))
}

func TestReferralRepository_PostgresCompleteOnce(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewReferralRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	require.NoError(t, repo.SaveCode(ctx, domain.ReferralCode{Code: "ANA1234", UserID: "ana", CreatedAt: now}))
	require.NoError(t, repo.SaveCode(ctx, domain.ReferralCode{Code: "OTHER99", UserID: "ana", CreatedAt: now}))

	code, err := repo.CodeByUser(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, "ANA1234", code.Code)

	ref := domain.Referral{
		ID: "r-1", Code: "ANA1234", ReferrerID: "ana", ReferredID: "bob",
		Status: domain.ReferralStatusPending, Reward: domain.ReferralReward, CreatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, ref))
	require.ErrorIs(t, repo.Create(ctx, ref), domain.ErrAlreadyReferred)

	completed, ok, err := repo.Complete(ctx, "bob", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.ReferralStatusCompleted, completed.Status)

	_, ok, err = repo.Complete(ctx, "bob", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = repo.Complete(ctx, "nobody", now)
	require.True(t, errors.Is(err, domain.ErrReferralNotFound))

	list, err := repo.ListByReferrer(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, domain.ReferralStats{Total: 1, Completed: 1, Earnings: domain.ReferralReward}, domain.StatsFor(list))
}

func TestSubscriberAndWebhookRepositories_Postgres(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	subs := NewSubscriberRepository(store)
	hooks := NewWebhookEventRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	require.NoError(t, subs.Save(ctx, domain.Subscriber{
		Email: "ana@example.com", Interests: []string{"ofertas"}, Source: domain.SubscriberSourceGuest,
		Active: true, Preferences: domain.DefaultSubscriberPreferences(), SubscribedAt: now, UpdatedAt: now,
	}))
	got, err := subs.Get(ctx, "ana@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"ofertas"}, got.Interests)

	active, err := subs.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	ev := domain.WebhookEvent{DedupKey: "payment:123", Provider: "mercadopago", PaymentID: "123", Type: "payment"}
	created, err := hooks.Record(ctx, ev)
	require.NoError(t, err)
	require.True(t, created)
	created, err = hooks.Record(ctx, ev)
	require.NoError(t, err)
	require.False(t, created)

	require.NoError(t, hooks.Finish(ctx, "payment:123", domain.WebhookEventProcessed, "order-1", ""))
	require.NoError(t, hooks.Forget(ctx, "payment:123"))
	created, err = hooks.Record(ctx, ev)
	require.NoError(t, err)
	require.True(t, created)

	deleted, err := hooks.Purge(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, deleted, 1)
	created, err = hooks.Record(ctx, ev)
	require.NoError(t, err)
	require.True(t, created)
}
