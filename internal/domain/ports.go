package domain

import (
	"context"
	"time"
)

// PaymentGateway описывает взаимодействие с платёжным провайдером.
type PaymentGateway interface {
	// CreatePreference регистрирует redirect-оплату и возвращает адрес для покупателя.
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	// GetPayment запрашивает актуальное состояние платежа у провайдера.
	GetPayment(ctx context.Context, paymentID string) (ProviderPayment, error)
}

// MessageReceipt: ответ мессенджера об отправленном сообщении.
type MessageReceipt struct {
	SID    string
	Status string
}

// Notifier отправляет сообщения в WhatsApp.
type Notifier interface {
	SendWhatsApp(ctx context.Context, to, body string) (MessageReceipt, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
