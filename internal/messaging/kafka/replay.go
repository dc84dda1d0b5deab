package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultReplayLimit       = 100
	DefaultReplayIdleTimeout = 2 * time.Second
)

// ReplayConfig описывает один проход переотправки сообщений из DLQ.
type ReplayConfig struct {
	SourceTopic string
	TargetTopic string
	Limit       int
	// При Execute=false кандидаты только логируются.
	Execute     bool
	FromNewest  bool
	IdleTimeout time.Duration
}

// Validate проверяет параметры прохода.
func (c ReplayConfig) Validate() error {
	if strings.TrimSpace(c.SourceTopic) == "" {
		return fmt.Errorf("source-topic is required")
	}
	if strings.TrimSpace(c.TargetTopic) == "" {
		return fmt.Errorf("target-topic is required")
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be > 0")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be > 0")
	}
	return nil
}

// ReplayStats: итог прохода.
type ReplayStats struct {
	Processed int
	Replayed  int
	Skipped   int
}

// OffsetClient: часть sarama.Client, нужная для чтения границ партиций.
type OffsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

// PartitionConsumer: часть sarama.PartitionConsumer.
type PartitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// PartitionConsumerSource открывает чтение партиции.
type PartitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error)
	Close() error
}

// ReplayProducer: синхронный producer для переотправки.
type ReplayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// Replayer перечитывает DLQ и возвращает сообщения в рабочий topic.
type Replayer struct {
	client   OffsetClient
	consumer PartitionConsumerSource
	producer ReplayProducer
	logger   *log.Entry
}

// NewReplayer собирает Replayer из готовых зависимостей; producer может быть nil для dry-run.
func NewReplayer(client OffsetClient, consumer PartitionConsumerSource, producer ReplayProducer, logger *log.Entry) *Replayer {
	if logger == nil {
		logger = log.New().WithField("component", "dlq-replay")
	}
	return &Replayer{client: client, consumer: consumer, producer: producer, logger: logger}
}

// OpenReplayer подключается к брокерам; producer создаётся только в режиме execute.
func OpenReplayer(brokers []string, execute bool, logger *log.Entry) (*Replayer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !execute {
		return NewReplayer(client, consumer, nil, logger), nil
	}

	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return NewReplayer(client, consumer, producer, logger), nil
}

// Close закрывает все зависимости.
func (r *Replayer) Close() {
	if r.producer != nil {
		_ = r.producer.Close()
	}
	if r.consumer != nil {
		_ = r.consumer.Close()
	}
	if r.client != nil {
		_ = r.client.Close()
	}
}

// Run выполняет один проход по партициям source topic в порядке их номеров.
func (r *Replayer) Run(ctx context.Context, cfg ReplayConfig) (ReplayStats, error) {
	var total ReplayStats
	if r.client == nil || r.consumer == nil {
		return total, fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.Execute && r.producer == nil {
		return total, fmt.Errorf("producer is required in execute mode")
	}

	r.logger.WithFields(log.Fields{
		"source_topic": cfg.SourceTopic,
		"target_topic": cfg.TargetTopic,
		"limit":        cfg.Limit,
		"execute":      cfg.Execute,
		"from_newest":  cfg.FromNewest,
	}).Info("starting dlq replay")

	partitions, err := r.client.Partitions(cfg.SourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.SourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", cfg.SourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.Processed >= cfg.Limit {
			break
		}

		stats, err := r.processPartition(ctx, cfg, partition, cfg.Limit-total.Processed)
		total.Processed += stats.Processed
		total.Replayed += stats.Replayed
		total.Skipped += stats.Skipped
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if cfg.Execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")

	return total, nil
}

func (r *Replayer) processPartition(ctx context.Context, cfg ReplayConfig, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := r.client.GetOffset(cfg.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(cfg.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.FromNewest {
		startOffset = newest - int64(limit)
		if startOffset < oldest {
			startOffset = oldest
		}
	}

	pc, err := r.consumer.ConsumePartition(cfg.SourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.IdleTimeout)
	defer idleTimer.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.IdleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}

			stats.Processed++
			replay, ok, err := ExtractReplayMessage(msg, cfg.TargetTopic)
			if err != nil {
				stats.Skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
				continue
			}
			if !ok {
				stats.Skipped++
				continue
			}

			if cfg.Execute {
				if err := r.publish(replay); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
			} else {
				r.logger.WithFields(log.Fields{
					"partition":    msg.Partition,
					"offset":       msg.Offset,
					"target_topic": replay.Topic,
					"key":          replay.Key,
				}).Info("dlq replay candidate")
			}
			stats.Replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

func (r *Replayer) publish(msg ReplayMessage) error {
	if r.producer == nil {
		return fmt.Errorf("producer is nil")
	}
	_, _, err := r.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.Topic,
		Key:       sarama.StringEncoder(msg.Key),
		Value:     sarama.ByteEncoder(msg.Value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

// ReplayMessage: сообщение, восстановленное из DLQ.
type ReplayMessage struct {
	Topic string
	Key   string
	Value []byte
}

// ExtractReplayMessage восстанавливает исходное сообщение из DLQ-записи consumer'а
// или outbox worker'а. ok=false, формат не распознан, сообщение пропускается.
func ExtractReplayMessage(msg *sarama.ConsumerMessage, defaultTopic string) (ReplayMessage, bool, error) {
	var dl DeadLetter
	if err := json.Unmarshal(msg.Value, &dl); err == nil && dl.OriginalValue != "" {
		target := strings.TrimSpace(dl.OriginalTopic)
		if target == "" {
			target = defaultTopic
		}
		return ReplayMessage{Topic: target, Key: dl.OriginalKey, Value: []byte(dl.OriginalValue)}, true, nil
	}

	var envelope OutboxEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return ReplayMessage{}, false, nil
	}
	if len(envelope.Payload) == 0 {
		return ReplayMessage{}, false, nil
	}

	var outboxDL OutboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &outboxDL); err != nil {
		return ReplayMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(outboxDL.Payload) == 0 {
		return ReplayMessage{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	replay := OutboxEnvelope{
		ID:            firstNonEmpty(outboxDL.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(outboxDL.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(outboxDL.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(outboxDL.EventType, envelope.EventType),
		Payload:       outboxDL.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return ReplayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return ReplayMessage{Topic: defaultTopic, Key: replay.Key(), Value: encoded}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
