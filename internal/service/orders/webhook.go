package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	webhookProvider = "mercadopago"
	webhookLockTTL  = 30 * time.Second
)

// WebhookOutcome: итог обработки уведомления; он же метка метрики.
type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookFailed    WebhookOutcome = "failed"
)

// WebhookResult описывает, что сделал HandlePaymentNotification.
type WebhookResult struct {
	Outcome       WebhookOutcome
	OrderID       string
	PaymentID     string
	PaymentStatus domain.ProviderPaymentStatus
	OrderStatus   domain.OrderStatus
}

// HandlePaymentNotification сверяет уведомление провайдера с заказом.
// Ошибка возвращается только для временных сбоев: тогда запись дедупликации снимается,
// чтобы повторная доставка от провайдера была обработана.
func (s *Service) HandlePaymentNotification(ctx context.Context, n domain.PaymentNotification, raw []byte) (WebhookResult, error) {
	if s.metrics != nil {
		defer s.metrics.ObserveOperation("webhook")()
	}
	ctx = domain.WithActor(ctx, domain.ActorWebhook)
	result := WebhookResult{Outcome: WebhookIgnored, PaymentID: n.PaymentID}
	if !n.IsPayment() {
		s.recordWebhook(result.Outcome)
		return result, nil
	}

	payment, err := s.gateway.GetPayment(ctx, n.PaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) || domain.IsValidation(err) {
			s.logger.WithError(err).WithField("payment_id", n.PaymentID).Warn("webhook for unknown payment")
			s.recordWebhook(result.Outcome)
			return result, nil
		}
		s.recordWebhook(WebhookFailed)
		return WebhookResult{Outcome: WebhookFailed, PaymentID: n.PaymentID}, fmt.Errorf("fetch payment %s: %w", n.PaymentID, err)
	}
	result.PaymentStatus = payment.Status

	dedupKey := fmt.Sprintf("%s:%s:%s", webhookProvider, payment.ID, payment.Status)
	if s.locker != nil {
		ok, err := s.locker.Acquire(ctx, "webhook:"+dedupKey, webhookLockTTL)
		if err != nil {
			// Redis недоступен: остаёмся на дедупликации в базе.
			s.logger.WithError(err).Warn("webhook lock unavailable")
		} else if !ok {
			result.Outcome = WebhookDuplicate
			s.recordWebhook(result.Outcome)
			return result, nil
		}
	}
	if s.webhooks != nil {
		now := s.now()
		created, err := s.webhooks.Record(ctx, domain.WebhookEvent{
			DedupKey:   dedupKey,
			Provider:   webhookProvider,
			PaymentID:  payment.ID,
			Type:       n.Type,
			Status:     domain.WebhookEventReceived,
			Payload:    raw,
			ReceivedAt: now,
			UpdatedAt:  now,
		})
		if err != nil {
			s.recordWebhook(WebhookFailed)
			return WebhookResult{Outcome: WebhookFailed, PaymentID: n.PaymentID}, fmt.Errorf("record webhook event: %w", err)
		}
		if !created {
			result.Outcome = WebhookDuplicate
			s.recordWebhook(result.Outcome)
			return result, nil
		}
	}

	result, err = s.reconcile(ctx, payment, result)
	s.finishWebhook(ctx, dedupKey, result, err)
	s.recordWebhook(result.Outcome)

	logger := s.logger.WithFields(log.Fields{
		"payment_id":     payment.ID,
		"payment_status": payment.Status,
		"order_id":       result.OrderID,
		"outcome":        result.Outcome,
	})
	if err != nil {
		if domain.CategorizeError(err).Retryable() {
			logger.WithError(err).Warn("webhook processing failed, provider will retry")
			return result, err
		}
		logger.WithError(err).Error("webhook processing failed")
		return result, nil
	}
	logger.Info("webhook processed")
	return result, nil
}

func (s *Service) reconcile(ctx context.Context, payment domain.ProviderPayment, result WebhookResult) (WebhookResult, error) {
	order, err := s.findOrderForPayment(ctx, payment)
	if errors.Is(err, domain.ErrOrderNotFound) {
		s.logger.WithFields(log.Fields{
			"payment_id":         payment.ID,
			"external_reference": payment.ExternalReference,
		}).Warn("no order matches payment")
		result.Outcome = WebhookIgnored
		return result, nil
	}
	if err != nil {
		result.Outcome = WebhookFailed
		return result, err
	}
	result.OrderID = order.ID

	switch {
	case payment.Status == domain.PaymentStatusApproved:
		completed, firstSettle, err := s.complete(ctx, order.ID, payment)
		if err != nil {
			result.Outcome = WebhookFailed
			result.OrderStatus = order.Status
			return result, err
		}
		result.OrderStatus = completed.Status
		if firstSettle {
			if s.metrics != nil {
				s.metrics.RecordOrderSettled(SettledByWebhook)
			}
			s.emitEvent(ctx, &completed, domain.EventOrderCompleted, "")
			s.runCompletionEffects(ctx, completed)
		}
		result.Outcome = WebhookProcessed
	case payment.Status.IsFailure():
		canceled, err := s.cancel(ctx, order.ID, CancelReasonRejected, "payment "+string(payment.Status)+": "+payment.StatusDetail)
		if err != nil {
			result.Outcome = WebhookFailed
			result.OrderStatus = order.Status
			return result, err
		}
		result.OrderStatus = canceled.Status
		result.Outcome = WebhookProcessed
	default:
		result.OrderStatus = order.Status
		result.Outcome = WebhookIgnored
	}
	return result, nil
}

// findOrderForPayment ищет заказ по external_reference, затем по сохранённому ID платежа.
func (s *Service) findOrderForPayment(ctx context.Context, payment domain.ProviderPayment) (domain.Order, error) {
	if payment.ExternalReference != "" {
		order, err := s.orders.Get(ctx, payment.ExternalReference)
		if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
			return order, err
		}
	}
	return s.orders.FindByPaymentID(ctx, payment.ID)
}

func (s *Service) finishWebhook(ctx context.Context, dedupKey string, result WebhookResult, procErr error) {
	if s.webhooks == nil {
		return
	}
	if procErr != nil && domain.CategorizeError(procErr).Retryable() {
		if err := s.webhooks.Forget(ctx, dedupKey); err != nil {
			s.logger.WithError(err).WithField("dedup_key", dedupKey).Warn("failed to release webhook event")
		}
		return
	}

	status := domain.WebhookEventProcessed
	errMsg := ""
	switch {
	case procErr != nil:
		status = domain.WebhookEventFailed
		errMsg = procErr.Error()
	case result.Outcome == WebhookIgnored:
		status = domain.WebhookEventIgnored
	}
	if err := s.webhooks.Finish(ctx, dedupKey, status, result.OrderID, errMsg); err != nil {
		s.logger.WithError(err).WithField("dedup_key", dedupKey).Warn("failed to finish webhook event")
	}
}

func (s *Service) recordWebhook(outcome WebhookOutcome) {
	if s.metrics != nil {
		s.metrics.RecordWebhook(string(outcome))
	}
}

// VerifyPayment возвращает платёж провайдера для страницы успеха.
func (s *Service) VerifyPayment(ctx context.Context, paymentID string) (domain.ProviderPayment, error) {
	return s.gateway.GetPayment(ctx, paymentID)
}
