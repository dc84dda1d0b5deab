package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderExists, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// FindByPaymentID ищет заказ по сохранённому идентификатору платежа.
	FindByPaymentID(ctx context.Context, paymentID string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// order.Version должен совпадать с сохранённой версией, после записи версия увеличивается.
	Save(ctx context.Context, order Order) error
}

// ProductRepository хранит каталог и остатки.
type ProductRepository interface {
	Upsert(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	// DecrementStock атомарно списывает остаток, не опуская его ниже нуля.
	DecrementStock(ctx context.Context, productID string, qty int64) (StockAdjustment, error)
}

// PriceHistoryRepository хранит историю цен.
type PriceHistoryRepository interface {
	Record(ctx context.Context, change PriceChange) error
	// List возвращает историю товара, новые изменения первыми.
	List(ctx context.Context, productID string) ([]PriceChange, error)
}

// PriceAlertRepository хранит ценовые подписки.
type PriceAlertRepository interface {
	// Create возвращает ErrPriceAlertExists, если у пользователя уже есть активная подписка на товар.
	Create(ctx context.Context, alert PriceAlert) error
	ListByUser(ctx context.Context, userID string) ([]PriceAlert, error)
	// Deactivate выключает подписку пользователя; чужая или неизвестная даёт ErrPriceAlertNotFound.
	Deactivate(ctx context.Context, id, userID string, at time.Time) error
	// Trigger атомарно отмечает сработавшими активные подписки товара с целью не ниже цены
	// и возвращает их.
	Trigger(ctx context.Context, productID string, priceMinor int64, at time.Time) ([]PriceAlert, error)
}

// LoyaltyRepository хранит бонусные счета.
type LoyaltyRepository interface {
	Get(ctx context.Context, userID string) (LoyaltyAccount, error)
	// AddPoints атомарно создаёт или пополняет счёт и продлевает срок действия баллов.
	AddPoints(ctx context.Context, userID string, entry PointsEntry, expiresAt time.Time) (LoyaltyAccount, error)
}

// CouponRepository хранит промокоды и факты их использования.
type CouponRepository interface {
	Create(ctx context.Context, coupon Coupon) error
	Get(ctx context.Context, code string) (Coupon, error)
	List(ctx context.Context, activeOnly bool) ([]Coupon, error)
	// Save обновляет купон с проверкой версии (ErrCouponConflict).
	Save(ctx context.Context, coupon Coupon) error
	// Redeem атомарно увеличивает счётчик использований и пишет запись о применении.
	Redeem(ctx context.Context, redemption CouponRedemption, onePerUser bool) error
	// Release снимает применение купона заказом и возвращает использование;
	// заказ без применения не ошибка.
	Release(ctx context.Context, code, orderID string) error
	HasRedemption(ctx context.Context, code, userID string) (bool, error)
	Assign(ctx context.Context, assignment CouponAssignment) error
	ListAssigned(ctx context.Context, userID string) ([]CouponAssignment, error)
}

// ReferralRepository хранит коды приглашений и сами приглашения.
type ReferralRepository interface {
	// SaveCode закрепляет код за пользователем; повтор для того же пользователя, no-op.
	SaveCode(ctx context.Context, code ReferralCode) error
	CodeByUser(ctx context.Context, userID string) (ReferralCode, error)
	CodeOwner(ctx context.Context, code string) (ReferralCode, error)
	// Create регистрирует приглашение; ErrAlreadyReferred, если приглашённый уже есть.
	Create(ctx context.Context, referral Referral) error
	GetByReferred(ctx context.Context, referredID string) (Referral, error)
	ListByReferrer(ctx context.Context, referrerID string) ([]Referral, error)
	// Complete переводит pending-приглашение в completed; false, если оно уже завершено.
	Complete(ctx context.Context, referredID string, at time.Time) (Referral, bool, error)
}

// SubscriberRepository хранит подписчиков рассылки.
type SubscriberRepository interface {
	Get(ctx context.Context, email string) (Subscriber, error)
	Save(ctx context.Context, sub Subscriber) error
	ListActive(ctx context.Context) ([]Subscriber, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// WebhookEventRepository журналирует уведомления провайдера.
type WebhookEventRepository interface {
	// Record сохраняет уведомление; created=false, если DedupKey уже встречался.
	Record(ctx context.Context, event WebhookEvent) (bool, error)
	// Finish фиксирует итог обработки.
	Finish(ctx context.Context, dedupKey string, status WebhookEventStatus, orderID, errMsg string) error
	// Forget удаляет запись, чтобы провайдер мог повторить доставку после временной ошибки.
	Forget(ctx context.Context, dedupKey string) error
	// Purge удаляет до limit записей, полученных раньше before.
	Purge(ctx context.Context, before time.Time, limit int) (int, error)
}
