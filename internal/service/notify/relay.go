package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// OrderReader: то, что нужно relay от хранилища заказов.
type OrderReader interface {
	Get(ctx context.Context, id string) (domain.Order, error)
}

// RelayConfig задаёт адресатов и ссылки в сообщениях.
type RelayConfig struct {
	// AdminPhone: номер оператора, которому уходят заказы с ручной оплатой.
	AdminPhone string
	// ConfirmBaseURL: база ссылки подтверждения оплаты.
	ConfirmBaseURL string
	TransferAlias  string
}

// Relay превращает события заказа и ценовых подписок из outbox в WhatsApp-сообщения.
// Используется и как in-process OutboxPublisher, и как обработчик Kafka consumer.
type Relay struct {
	cfg      RelayConfig
	notifier domain.Notifier
	orders   OrderReader
	metrics  *metrics.ProviderMetrics
	logger   *log.Entry
}

// NewRelay создаёт relay; providerMetrics может быть nil.
func NewRelay(cfg RelayConfig, notifier domain.Notifier, orders OrderReader, providerMetrics *metrics.ProviderMetrics, logger *log.Entry) *Relay {
	if logger == nil {
		logger = log.New().WithField("component", "notification-relay")
	}
	return &Relay{
		cfg:      cfg,
		notifier: notifier,
		orders:   orders,
		metrics:  providerMetrics,
		logger:   logger,
	}
}

// Publish реализует domain.OutboxPublisher: событие доставляется сразу, без брокера.
func (r *Relay) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	return r.Handle(ctx, msg.EventType, msg.AggregateID, msg.Payload)
}

// HandleKafkaMessage: kafka.MessageHandler для consumer group уведомлений.
func (r *Relay) HandleKafkaMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, err := kafka.ParseOutboxEnvelope(message)
	if err != nil {
		// Битое сообщение повтором не починить.
		r.logger.WithError(err).WithField("offset", message.Offset).Warn("skipping malformed outbox envelope")
		return nil
	}
	return r.Handle(ctx, envelope.EventType, envelope.AggregateID, envelope.Payload)
}

// Handle отправляет сообщение для события, если оно предусмотрено.
// Ошибка возвращается только для временных сбоев, чтобы вызывающий повторил доставку.
func (r *Relay) Handle(ctx context.Context, eventType, aggregateID string, payload []byte) error {
	if eventType == domain.EventPriceAlertTriggered {
		return r.handlePriceAlert(ctx, aggregateID, payload)
	}
	if eventType != domain.EventOrderPlaced && eventType != domain.EventOrderConfirmed {
		return nil
	}

	orderID := aggregateID
	if len(payload) > 0 {
		var p domain.OrderEventPayload
		if err := json.Unmarshal(payload, &p); err == nil && p.OrderID != "" {
			orderID = p.OrderID
		}
	}
	if orderID == "" {
		r.logger.WithField("event_type", eventType).Warn("order event without order id")
		return nil
	}

	order, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			r.logger.WithField("order_id", orderID).Warn("order for notification not found")
			return nil
		}
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	switch eventType {
	case domain.EventOrderPlaced:
		if !order.PaymentMethod.IsManual() {
			return nil
		}
		if r.cfg.AdminPhone == "" {
			r.logger.WithField("order_id", order.ID).Warn("admin phone not configured, operator notification skipped")
			return nil
		}
		body := OperatorOrderMessage(order, r.cfg.ConfirmBaseURL, r.cfg.TransferAlias)
		return r.send(ctx, TemplateOperatorOrder, log.Fields{"order_id": order.ID}, r.cfg.AdminPhone, body)
	case domain.EventOrderConfirmed:
		if order.Customer.Phone == "" {
			return nil
		}
		return r.send(ctx, TemplatePaymentConfirmation, log.Fields{"order_id": order.ID}, order.Customer.Phone, PaymentConfirmationMessage(order))
	}
	return nil
}

func (r *Relay) handlePriceAlert(ctx context.Context, alertID string, payload []byte) error {
	var p domain.PriceAlertPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.WithError(err).WithField("alert_id", alertID).Warn("skipping malformed price alert payload")
		return nil
	}
	if p.Phone == "" {
		r.logger.WithField("alert_id", alertID).Debug("price alert without phone, notification skipped")
		return nil
	}
	fields := log.Fields{"alert_id": alertID, "product_id": p.ProductID}
	return r.send(ctx, TemplatePriceAlert, fields, p.Phone, PriceAlertMessage(p))
}

// SendManual отправляет произвольное сообщение (POST /send-whatsapp).
func (r *Relay) SendManual(ctx context.Context, to, body string) (domain.MessageReceipt, error) {
	receipt, err := r.notifier.SendWhatsApp(ctx, to, body)
	r.record(TemplateManual, err)
	return receipt, err
}

func (r *Relay) send(ctx context.Context, template string, fields log.Fields, to, body string) error {
	receipt, err := r.notifier.SendWhatsApp(ctx, to, body)
	r.record(template, err)

	entry := r.logger.WithFields(fields).WithField("template", template)
	switch {
	case err == nil:
		entry.WithField("sid", receipt.SID).Info("notification delivered")
		return nil
	case errors.Is(err, domain.ErrNotifierNotConfigured), domain.IsValidation(err):
		entry.WithError(err).Warn("notification dropped")
		return nil
	default:
		entry.WithError(err).Warn("notification failed, will retry")
		return err
	}
}

func (r *Relay) record(template string, err error) {
	if r.metrics != nil {
		r.metrics.RecordNotification(template, err)
	}
}

var _ domain.OutboxPublisher = (*Relay)(nil)
