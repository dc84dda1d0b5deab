package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq" // Dead Letter Queue для failed messages
)

// NotifierGroupID: consumer group ретранслятора уведомлений.
const NotifierGroupID = "storefront-notifier"

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderEventID       = "x-event-id"
	HeaderAggregateType = "x-aggregate-type"
)

// OutboxEnvelope: формат сообщения, в котором outbox-события уходят в Kafka.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Key возвращает ключ партиционирования: события одного заказа попадают в одну партицию.
func (e OutboxEnvelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// DeadLetter: сообщение, которое consumer отправил в DLQ после исчерпания попыток.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// OutboxDeadLetter: payload, который outbox worker кладёт в DLQ, когда не смог опубликовать событие.
type OutboxDeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}

// ParseOutboxEnvelope разбирает outbox-событие из сообщения Kafka.
func ParseOutboxEnvelope(message *sarama.ConsumerMessage) (*OutboxEnvelope, error) {
	var envelope OutboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox envelope: %w", err)
	}
	if envelope.EventType == "" {
		return nil, fmt.Errorf("outbox envelope without event_type")
	}
	return &envelope, nil
}

// ParseDeadLetter разбирает сообщение, отправленное consumer'ом в DLQ.
func ParseDeadLetter(message *sarama.ConsumerMessage) (*DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(message.Value, &dl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &dl, nil
}
