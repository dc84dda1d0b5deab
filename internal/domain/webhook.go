package domain

import "time"

// WebhookEventStatus: результат обработки входящего уведомления.
type WebhookEventStatus string

const (
	WebhookEventReceived  WebhookEventStatus = "received"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventIgnored   WebhookEventStatus = "ignored"
	WebhookEventFailed    WebhookEventStatus = "failed"
)

// WebhookEvent: журнал уведомлений провайдера; ключ дедупликации, DedupKey.
type WebhookEvent struct {
	DedupKey   string
	Provider   string
	PaymentID  string
	Type       string
	Status     WebhookEventStatus
	OrderID    string
	Error      string
	Payload    []byte
	ReceivedAt time.Time
	UpdatedAt  time.Time
}
