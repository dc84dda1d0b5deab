package orders

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	saveMaxRetries = 3
	saveBaseDelay  = 10 * time.Millisecond
)

// updateOrder загружает заказ, применяет mutate и сохраняет с optimistic locking.
// При конфликте версий заказ перечитывается и mutate применяется заново.
// mutate возвращает changed=false, если сохранять нечего.
func (s *Service) updateOrder(ctx context.Context, id string, mutate func(*domain.Order) (bool, error)) (domain.Order, bool, error) {
	for attempt := 0; attempt < saveMaxRetries; attempt++ {
		order, err := s.orders.Get(ctx, id)
		if err != nil {
			return domain.Order{}, false, err
		}

		changed, err := mutate(&order)
		if err != nil {
			return order, false, err
		}
		if !changed {
			return order, false, nil
		}

		err = s.orders.Save(ctx, order)
		if err == nil {
			order.Version++
			return order, true, nil
		}
		if !domain.IsVersionConflict(err) || attempt == saveMaxRetries-1 {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": id,
				"attempt":  attempt + 1,
			}).Error("failed to persist order")
			return order, false, err
		}

		s.logger.WithFields(log.Fields{
			"order_id": id,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		select {
		case <-ctx.Done():
			return order, false, ctx.Err()
		case <-time.After(saveBaseDelay * time.Duration(1<<uint(attempt))):
		}
	}
	return domain.Order{}, false, domain.ErrOrderVersionConflict
}

// emitEvent кладёт событие в outbox и дописывает его в timeline заказа.
// Ошибки только логируются: состояние заказа уже сохранено.
func (s *Service) emitEvent(ctx context.Context, order *domain.Order, eventType, reason string) {
	occurred := s.now()
	actor := domain.ActorFromContext(ctx)
	data, err := json.Marshal(domain.OrderEventPayload{
		OrderID:       order.ID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		Reason:        reason,
		Actor:         actor,
		Timestamp:     occurred.Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	if s.outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
			CreatedAt:     occurred,
		}
		if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if s.metrics != nil {
			s.metrics.RecordOutboxEvent()
		}
	}

	if s.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Actor:    actor,
			Occurred: occurred,
		}
		if err := s.timeline.Append(ctx, event); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if s.metrics != nil {
			s.metrics.RecordTimelineEvent()
		}
	}
}
