package domain

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Типы событий жизненного цикла заказа; они же используются как event type в outbox.
const (
	EventOrderPlaced        = "OrderPlaced"
	EventPaymentInitiated   = "PaymentInitiated"
	EventPaymentFailed      = "PaymentInitiationFailed"
	EventOrderConfirmed     = "OrderConfirmed"
	EventOrderCompleted     = "OrderCompleted"
	EventOrderCanceled      = "OrderCanceled"
	EventStockDecremented   = "StockDecremented"
	EventPointsAwarded      = "PointsAwarded"
	EventNotificationQueued = "NotificationQueued"
)

// Инициаторы событий timeline. Оператор записывается как "admin:<имя>".
const (
	ActorSystem   = "system"
	ActorCustomer = "customer"
	ActorWebhook  = "webhook"
	ActorAdmin    = "admin"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Actor    string
	Occurred time.Time
}

type actorKey struct{}

// WithActor помечает контекст инициатором изменений заказа.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext возвращает инициатора или ActorSystem.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return ActorSystem
}

// AdminActor формирует инициатора для действия оператора.
func AdminActor(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == ActorAdmin {
		return ActorAdmin
	}
	return ActorAdmin + ":" + name
}

// SortTimeline упорядочивает события по времени, сохраняя порядок записи при равенстве.
func SortTimeline(events []TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
}

// OrderEventPayload: тело outbox-события заказа.
type OrderEventPayload struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Timestamp     string `json:"ts"`
}
