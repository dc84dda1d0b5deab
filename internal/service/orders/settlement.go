package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Источники подтверждения оплаты; они же метки метрик.
const (
	SettledByAdmin   = "admin"
	SettledByWebhook = "webhook"
)

// Причины отмены.
const (
	CancelReasonExpired  = "expired"
	CancelReasonRejected = "payment_rejected"
	CancelReasonAdmin    = "admin"
)

// Confirm: ручное подтверждение оплаты оператором.
// Повторное подтверждение уже оплаченного заказа ничего не меняет.
func (s *Service) Confirm(ctx context.Context, orderID, confirmedBy string) (domain.Order, error) {
	if s.metrics != nil {
		defer s.metrics.ObserveOperation("confirm")()
	}
	if confirmedBy == "" {
		confirmedBy = "admin"
	}
	ctx = domain.WithActor(ctx, domain.AdminActor(confirmedBy))
	order, settled, err := s.settle(ctx, orderID, domain.OrderStatusConfirmed, func(o *domain.Order) {
		o.ConfirmedBy = confirmedBy
	})
	if err != nil {
		return order, err
	}
	if !settled {
		return order, nil
	}

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"confirmed_by": confirmedBy,
	}).Info("order confirmed by operator")
	if s.metrics != nil {
		s.metrics.RecordOrderSettled(SettledByAdmin)
	}
	s.emitEvent(ctx, &order, domain.EventOrderConfirmed, "")
	s.runCompletionEffects(ctx, order)
	return order, nil
}

// complete фиксирует одобренный провайдером платёж.
func (s *Service) complete(ctx context.Context, orderID string, payment domain.ProviderPayment) (domain.Order, bool, error) {
	order, settled, err := s.settle(ctx, orderID, domain.OrderStatusCompleted, func(o *domain.Order) {
		o.PaymentID = payment.ID
		approvedAt := payment.ApprovedAt
		if approvedAt.IsZero() {
			approvedAt = s.now()
		}
		o.Payment = &domain.PaymentDetails{
			PaymentID:   payment.ID,
			Status:      payment.Status,
			AmountMinor: payment.AmountMinor,
			ApprovedAt:  approvedAt,
		}
	})
	if err != nil {
		return order, false, err
	}
	if payment.AmountMinor > 0 && payment.AmountMinor != order.AmountMinor {
		s.logger.WithFields(log.Fields{
			"order_id":       order.ID,
			"payment_id":     payment.ID,
			"order_amount":   order.AmountMinor,
			"payment_amount": payment.AmountMinor,
		}).Warn("payment amount differs from order amount")
	}
	return order, settled, nil
}

// settle переводит заказ в оплаченный статус. firstSettle=true ровно один раз на заказ:
// только переход из неоплаченного статуса в оплаченный запускает побочные эффекты.
func (s *Service) settle(ctx context.Context, orderID string, to domain.OrderStatus, apply func(*domain.Order)) (domain.Order, bool, error) {
	var firstSettle bool
	order, changed, err := s.updateOrder(ctx, orderID, func(o *domain.Order) (bool, error) {
		if o.Status == to || (to == domain.OrderStatusConfirmed && o.Status.IsSettled()) {
			return false, nil
		}
		wasSettled := o.Status.IsSettled()
		if err := o.Transition(to, s.now()); err != nil {
			return false, err
		}
		apply(o)
		firstSettle = !wasSettled
		return true, nil
	})
	if err != nil {
		return order, false, err
	}
	if changed && !firstSettle {
		// confirmed -> completed: провайдер подтвердил уже принятую оператором оплату.
		s.emitEvent(ctx, &order, domain.EventOrderCompleted, "")
	}
	return order, changed && firstSettle, nil
}

// runCompletionEffects списывает остатки, начисляет баллы, завершает реферал и гасит купон.
// Сбой одного эффекта не отменяет остальные: оплата уже зафиксирована.
func (s *Service) runCompletionEffects(ctx context.Context, order domain.Order) {
	logger := s.logger.WithField("order_id", order.ID)

	if s.catalog != nil {
		adjustments, err := s.catalog.DecrementForOrder(ctx, order.ID, order.Items)
		s.recordEffect("stock", err)
		if err != nil {
			logger.WithError(err).Error("stock decrement failed")
		} else if len(adjustments) > 0 {
			s.emitEvent(ctx, &order, domain.EventStockDecremented, "")
		}
	}

	if s.loyalty != nil && order.Customer.ID != "" {
		points := order.PointsEarned
		if points <= 0 {
			points = domain.PointsForAmount(order.AmountMinor)
		}
		if points > 0 {
			_, err := s.loyalty.Award(ctx, order.Customer.ID, points, "Compra #"+order.ID, order.ID)
			s.recordEffect("points", err)
			if err != nil {
				logger.WithError(err).Error("loyalty award failed")
			} else {
				s.emitEvent(ctx, &order, domain.EventPointsAwarded, fmt.Sprintf("%d points", points))
			}
		}
	}

	if s.referrals != nil && order.Customer.ID != "" {
		_, completed, err := s.referrals.Complete(ctx, order.Customer.ID, order.ID)
		s.recordEffect("referral", err)
		if err != nil {
			logger.WithError(err).Error("referral completion failed")
		} else if completed {
			logger.Info("referral completed by first purchase")
		}
	}

	// Резерв сделан при оформлении; повтор для того же заказа ничего не меняет,
	// а заказ, оплаченный после отмены, занимает купон заново.
	if s.coupons != nil && order.CouponCode != "" {
		err := s.coupons.Redeem(ctx, order.CouponCode, order.Customer.ID, order.ID, order.DiscountMinor)
		s.recordEffect("coupon", err)
		if err != nil {
			logger.WithError(err).WithField("coupon", order.CouponCode).Error("coupon redemption failed")
		}
	}
}

func (s *Service) recordEffect(effect string, err error) {
	if s.metrics != nil {
		s.metrics.RecordSideEffect(effect, err)
	}
}

// Cancel отменяет неоплаченный заказ. Повторная отмена ничего не меняет.
// Инициатор берётся из контекста, по умолчанию оператор.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	if domain.ActorFromContext(ctx) == domain.ActorSystem {
		ctx = domain.WithActor(ctx, domain.ActorAdmin)
	}
	return s.cancel(ctx, orderID, CancelReasonAdmin, reason)
}

func (s *Service) cancel(ctx context.Context, orderID, label, reason string) (domain.Order, error) {
	if reason == "" {
		reason = label
	}
	order, changed, err := s.updateOrder(ctx, orderID, func(o *domain.Order) (bool, error) {
		if o.Status == domain.OrderStatusCanceled {
			return false, nil
		}
		if err := o.Transition(domain.OrderStatusCanceled, s.now()); err != nil {
			return false, err
		}
		o.CancelReason = reason
		return true, nil
	})
	if err != nil {
		return order, err
	}
	if !changed {
		return order, nil
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Info("order canceled")
	if s.metrics != nil {
		s.metrics.RecordOrderCanceled(label)
	}
	s.emitEvent(ctx, &order, domain.EventOrderCanceled, reason)
	s.releaseCoupon(ctx, order)
	return order, nil
}

// releaseCoupon возвращает использование купона неоплаченного заказа.
func (s *Service) releaseCoupon(ctx context.Context, order domain.Order) {
	if s.coupons == nil || order.CouponCode == "" {
		return
	}
	err := s.coupons.Release(ctx, order.CouponCode, order.ID)
	s.recordEffect("coupon_release", err)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"coupon":   order.CouponCode,
		}).Error("coupon release failed")
	}
}

// CancelExpired отменяет pending/processing заказы старше срока оплаты.
func (s *Service) CancelExpired(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	expired, err := s.orders.List(ctx, domain.OrderFilter{
		Statuses:      []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusProcessing},
		CreatedBefore: s.now().Add(-s.lifetime),
		Limit:         batch,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired orders: %w", err)
	}

	canceled := 0
	for _, order := range expired {
		if ctx.Err() != nil {
			return canceled, ctx.Err()
		}
		age := s.now().Sub(order.CreatedAt).Round(time.Minute)
		if _, err := s.cancel(ctx, order.ID, CancelReasonExpired, "payment window expired after "+age.String()); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to cancel expired order")
			continue
		}
		canceled++
	}
	return canceled, nil
}
