package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы.
// Пустой список брокеров возвращает nil, nil: события доставляются in-process.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// startNotifierConsumer подписывает ретранслятор уведомлений на topic событий заказов.
func startNotifierConsumer(ctx context.Context, brokers []string, topic string, handler kafka.MessageHandler, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(brokers, kafka.NotifierGroupID, []string{topic}, handler,
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
		kafka.WithDLQ(dlq),
	)
	if err != nil {
		return nil, fmt.Errorf("init notifier consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, fmt.Errorf("start notifier consumer: %w", err)
	}
	return consumer, nil
}

// closeKafkaProducer закрывает producer, если он создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopKafkaConsumer останавливает consumer group, если она запущена.
func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
