package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
)

const (
	defaultMaxRetries     = 3
	defaultRetryDelay     = 200 * time.Millisecond
	defaultConsumeBackoff = time.Second
)

// Итог обработки сообщения для метрики consumed_total.
const (
	resultHandled      = "handled"
	resultDeadLettered = "dead_lettered"
	resultFailed       = "failed"
)

var consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storefront_kafka_consumed_total",
	Help: "Kafka messages consumed by storefront grouped by topic and result.",
}, []string{"topic", "result"})

// MessageHandler обрабатывает одно сообщение topic.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает topic в составе consumer group и отправляет
// необработанные сообщения в DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
	backoff     time.Duration
	permanent   func(error) bool
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDLQ включает Dead Letter Queue.
func WithDLQ(producer *Producer) ConsumerOption {
	return func(c *Consumer) {
		c.dlqProducer = producer
	}
}

// WithMaxRetries задаёт общий лимит попыток с учётом заголовка x-retry-count.
func WithMaxRetries(maxRetries int) ConsumerOption {
	return func(c *Consumer) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
	}
}

// WithRetryDelay задаёт шаг паузы между попытками; пауза растёт линейно.
func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithPermanentError задаёт классификатор ошибок, после которых повтор бессмыслен.
func WithPermanentError(fn func(error) bool) ConsumerOption {
	return func(c *Consumer) {
		if fn != nil {
			c.permanent = fn
		}
	}
}

// NewConsumer подключается к брокерам и создаёт consumer group groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "storefront-notifier"
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	return config
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:   group,
		topics:     topics,
		handler:    handler,
		logger:     log.New().WithField("component", "kafka-consumer"),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		backoff:    defaultConsumeBackoff,
		permanent:  isPermanent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func isPermanent(err error) bool {
	return !resilience.ShouldRetry(err)
}

// Start запускает чтение в фоне и возвращается сразу.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go c.consumeLoop(ctx)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// consumeLoop повторяет Consume после каждого rebalance до отмены ctx.
func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		err := c.consumer.Consume(ctx, c.topics, c)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}

		c.logger.WithError(err).Error("consume session ended with error")
		if c.backoff <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
	}
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения partition до закрытия claim или сессии.
// Сообщение, которое не удалось ни обработать, ни переложить в DLQ, не маркируется.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			entry.Debug("message received")

			if err := c.handleMessageWithRetry(ctx, message); err != nil {
				entry.WithError(err).Error("message left unacknowledged")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// handleMessageWithRetry вызывает handler до исчерпания лимита или до постоянной ошибки.
// Попытки из заголовка x-retry-count засчитываются в лимит. nil означает,
// что сообщение обработано или переложено в DLQ.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	previous := c.getRetryCount(message)
	budget := c.maxRetries - previous
	if budget < 1 {
		budget = 1
	}

	var (
		err  error
		made int
	)
	for made < budget {
		made++
		if err = c.handler(ctx, message); err == nil {
			consumedTotal.WithLabelValues(message.Topic, resultHandled).Inc()
			return nil
		}
		if c.permanent(err) || made == budget {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": previous + made,
			"max_retries": c.maxRetries,
		}).Warn("message handler failed, retrying")

		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				consumedTotal.WithLabelValues(message.Topic, resultFailed).Inc()
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(made)):
			}
		}
	}

	if c.dlqProducer == nil {
		consumedTotal.WithLabelValues(message.Topic, resultFailed).Inc()
		return err
	}
	if dlqErr := c.sendToDLQ(message, err, previous+made); dlqErr != nil {
		consumedTotal.WithLabelValues(message.Topic, resultFailed).Inc()
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}

	consumedTotal.WithLabelValues(message.Topic, resultDeadLettered).Inc()
	c.logger.WithError(err).WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": previous + made,
		"permanent":   c.permanent(err),
	}).Warn("message moved to DLQ")
	return nil
}

// getRetryCount читает x-retry-count; отсутствующий или битый заголовок даёт 0.
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		count, err := strconv.Atoi(string(header.Value))
		if err != nil || count < 0 {
			return 0
		}
		return count
	}
	return 0
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, retryCount int) error {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	reason := processingErr.Error()

	return c.dlqProducer.PublishEvent(
		TopicDeadLetterQueue,
		string(message.Key),
		DeadLetter{
			OriginalTopic:     message.Topic,
			OriginalPartition: message.Partition,
			OriginalOffset:    message.Offset,
			OriginalKey:       string(message.Key),
			OriginalValue:     string(message.Value),
			ErrorMessage:      reason,
			FailedAt:          failedAt,
			RetryCount:        retryCount,
		},
		header(HeaderRetryCount, strconv.Itoa(retryCount)),
		header(HeaderOriginalTopic, message.Topic),
		header(HeaderErrorMessage, reason),
		header(HeaderFailedAt, failedAt),
	)
}

func header(key, value string) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(key), Value: []byte(value)}
}
