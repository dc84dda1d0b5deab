package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher кладёт сообщения outbox в один topic.
// Ключ сообщения: идентификатор заказа, поэтому события заказа не переупорядочиваются.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher возвращает publisher для topic; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string { return p.topic }

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("%w: kafka outbox publisher is not initialized", domain.ErrOutboxPublish)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	envelope := envelopeFor(event, time.Now().UTC())
	return p.producer.PublishEvent(p.topic, envelope.Key(), envelope,
		header(HeaderEventType, event.EventType),
		header(HeaderEventID, event.ID),
		header(HeaderAggregateType, event.AggregateType),
	)
}

func envelopeFor(event domain.OutboxMessage, publishedAt time.Time) OutboxEnvelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt,
	}
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
