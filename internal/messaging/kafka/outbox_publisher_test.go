package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func headerMap(headers []sarama.RecordHeader) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestOutboxPublisherWritesEnvelope(t *testing.T) {
	producer, sync := newMockProducer(t)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "ord-42" {
			return fmt.Errorf("key %s", key)
		}
		headers := headerMap(msg.Headers)
		if headers[HeaderEventType] != domain.EventOrderPlaced || headers[HeaderEventID] != "out-1" || headers[HeaderAggregateType] != "order" {
			return fmt.Errorf("headers %v", headers)
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var envelope OutboxEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return err
		}
		if envelope.ID != "out-1" || string(envelope.Payload) != `{"whatsapp":"+5491155550000"}` || envelope.PublishedAt.IsZero() {
			return fmt.Errorf("envelope %+v", envelope)
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)
	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "out-1",
		AggregateType: "order",
		AggregateID:   "ord-42",
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{"whatsapp":"+5491155550000"}`),
	}))
	require.NoError(t, producer.Close())
}

func TestOutboxPublisherDefaultsAndFailures(t *testing.T) {
	t.Run("empty topic falls back to order events", func(t *testing.T) {
		publisher := NewOutboxPublisher(nil, "").(*OutboxTopicPublisher)
		require.Equal(t, TopicOrderEvents, publisher.Topic())
	})

	t.Run("nil producer", func(t *testing.T) {
		err := NewOutboxPublisher(nil, TopicOrderEvents).Publish(context.Background(), domain.OutboxMessage{ID: "out-2"})
		require.ErrorIs(t, err, domain.ErrOutboxPublish)
	})

	t.Run("canceled context skips send", func(t *testing.T) {
		producer, _ := newMockProducer(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewOutboxPublisher(producer, TopicOrderEvents).Publish(ctx, domain.OutboxMessage{ID: "out-3"})
		require.ErrorIs(t, err, context.Canceled)
		require.NoError(t, producer.Close())
	})

	t.Run("broker failure", func(t *testing.T) {
		producer, sync := newMockProducer(t)
		sync.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		err := NewOutboxPublisher(producer, TopicDeadLetterQueue).Publish(context.Background(), domain.OutboxMessage{
			ID:          "out-4",
			AggregateID: "ord-4",
			EventType:   domain.EventOrderConfirmed,
		})
		require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		require.NoError(t, producer.Close())
	})
}

func TestEnvelopeForEmptyPayload(t *testing.T) {
	envelope := envelopeFor(domain.OutboxMessage{ID: "out-5"}, fixedTime)
	require.Equal(t, "null", string(envelope.Payload))
	require.Equal(t, "out-5", envelope.Key())
	require.Equal(t, fixedTime, envelope.PublishedAt)
}
