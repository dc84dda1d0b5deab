package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// ErrProducerClosed возвращается при публикации после Close.
var ErrProducerClosed = errors.New("kafka producer is closed")

var producedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storefront_kafka_produced_total",
	Help: "Messages written to Kafka by storefront grouped by topic and result.",
}, []string{"topic", "result"})

// Producer публикует JSON-сообщения синхронно, дожидаясь подтверждения всех реплик.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	closed   atomic.Bool
	now      func() time.Time
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFromSync(producer, logger), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer.
func NewProducerFromSync(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.New().WithField("component", "kafka-producer")
	}
	return &Producer{
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// NewProducerConfig возвращает настройки идемпотентного producer:
// acks=all, один запрос в полёте, сжатие snappy.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "storefront"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// PublishEvent кодирует event в JSON и публикует его.
func (p *Producer) PublishEvent(topic string, key string, event any, headers ...sarama.RecordHeader) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.PublishRaw(topic, key, value, headers...)
}

// PublishRaw публикует уже закодированное значение.
func (p *Producer) PublishRaw(topic string, key string, value []byte, headers ...sarama.RecordHeader) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: p.now(),
	})
	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	if err != nil {
		producedTotal.WithLabelValues(topic, "error").Inc()
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("failed to send message: %w", err)
	}

	producedTotal.WithLabelValues(topic, "ok").Inc()
	entry.WithFields(log.Fields{
		"partition": partition,
		"offset":    offset,
		"bytes":     len(value),
	}).Debug("kafka message sent")
	return nil
}

// Close закрывает producer; повторный вызов ничего не делает.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
