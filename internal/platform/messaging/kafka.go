package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"meridian/internal/shared/events"
)

const deadLetterTopicSuffix = ".dlq"

// KafkaBus is the broker-backed bus implementation. Messages are hash
// balanced on the envelope's aggregate id so one aggregate always lands on
// one partition, which is what gives per-aggregate delivery order inside a
// consumer group. Undecodable messages are forwarded to a <topic>.dlq topic
// and committed, never retried.
type KafkaBus struct {
	brokers []string
	writer  *kafka.Writer
	logger  *slog.Logger
	metrics Metrics

	maxDeliveries   int
	redeliveryDelay time.Duration

	mu      sync.Mutex
	readers map[groupKey]map[string]*kafkaConsumer
	closed  bool
}

type kafkaConsumer struct {
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// KafkaOption configures the Kafka bus.
type KafkaOption func(*KafkaBus)

// WithKafkaMetrics attaches a metrics sink.
func WithKafkaMetrics(m Metrics) KafkaOption {
	return func(b *KafkaBus) { b.metrics = m }
}

// WithKafkaLogger attaches a logger.
func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(b *KafkaBus) { b.logger = logger }
}

// WithKafkaMaxDeliveries bounds in-consumer retries before a failing message
// is dead-lettered and committed.
func WithKafkaMaxDeliveries(n int) KafkaOption {
	return func(b *KafkaBus) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// NewKafkaBus constructs a bus on the given brokers.
func NewKafkaBus(brokers []string, opts ...KafkaOption) *KafkaBus {
	b := &KafkaBus{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		logger:          slog.Default(),
		maxDeliveries:   defaultMaxDeliveries,
		redeliveryDelay: defaultRedeliveryDelay,
		readers:         make(map[groupKey]map[string]*kafkaConsumer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *KafkaBus) Publish(ctx context.Context, topic string, env events.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}

	err = b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(env.AggregateID),
		Value: payload,
	})
	if err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.EventPublished(topic, env.EventType.String())
	}
	return nil
}

func (b *KafkaBus) Subscribe(topic, group, name string, fn Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	gk := groupKey{topic: topic, group: group}
	if _, exists := b.readers[gk][name]; exists {
		return nil
	}
	if b.readers[gk] == nil {
		b.readers[gk] = make(map[string]*kafkaConsumer)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	ctx, cancel := context.WithCancel(context.Background())
	consumer := &kafkaConsumer{
		reader: reader,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.readers[gk][name] = consumer

	go b.consume(ctx, consumer, topic, group, fn)
	return nil
}

func (b *KafkaBus) Unsubscribe(topic, group, name string) {
	b.mu.Lock()
	consumers := b.readers[groupKey{topic: topic, group: group}]
	consumer, ok := consumers[name]
	if ok {
		delete(consumers, name)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	consumer.cancel()
	<-consumer.done
	_ = consumer.reader.Close()
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var consumers []*kafkaConsumer
	for _, group := range b.readers {
		for _, consumer := range group {
			consumers = append(consumers, consumer)
		}
	}
	b.readers = make(map[groupKey]map[string]*kafkaConsumer)
	b.mu.Unlock()

	var errs []error
	for _, consumer := range consumers {
		consumer.cancel()
		<-consumer.done
		if err := consumer.reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *KafkaBus) consume(ctx context.Context, consumer *kafkaConsumer, topic, group string, fn Handler) {
	defer close(consumer.done)

	for {
		msg, err := consumer.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.logger.Error("kafka fetch failed",
				"event", "kafka_fetch_failed",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"consumer_group", group,
				"error", err.Error(),
			)
			continue
		}

		env, err := events.Decode(msg.Value)
		if err != nil {
			reason := ReasonUndecodable
			if errors.Is(err, events.ErrUnknownEventType) {
				reason = ReasonUnknownType
			}
			b.forwardDeadLetter(ctx, topic, group, reason, msg)
			_ = consumer.reader.CommitMessages(ctx, msg)
			continue
		}

		if b.handleWithRetry(ctx, topic, group, fn, env) {
			if b.metrics != nil {
				b.metrics.EventConsumed(topic, group, env.EventType.String())
			}
		} else {
			b.forwardDeadLetter(ctx, topic, group, ReasonMaxRedelivered, msg)
		}
		// Commit either way: success, or the message has moved to the DLQ.
		if err := consumer.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("kafka commit failed",
				"event", "kafka_commit_failed",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"consumer_group", group,
				"event_id", env.EventID,
				"error", err.Error(),
			)
		}
	}
}

func (b *KafkaBus) handleWithRetry(ctx context.Context, topic, group string, fn Handler, env events.Envelope) bool {
	for attempt := 1; attempt <= b.maxDeliveries; attempt++ {
		err := fn(ctx, env)
		if err == nil {
			return true
		}
		b.logger.Warn("handler failed, message will be redelivered",
			"event", "kafka_redelivery",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"consumer_group", group,
			"event_id", env.EventID,
			"event_type", env.EventType,
			"attempt", attempt,
			"error", err.Error(),
		)
		if attempt < b.maxDeliveries {
			select {
			case <-time.After(b.redeliveryDelay):
			case <-ctx.Done():
				return false
			}
		}
	}
	return false
}

func (b *KafkaBus) forwardDeadLetter(ctx context.Context, topic, group, reason string, msg kafka.Message) {
	if b.metrics != nil {
		b.metrics.DeadLettered(topic, reason)
	}
	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic + deadLetterTopicSuffix,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "dlq-reason", Value: []byte(reason)},
			{Key: "dlq-consumer-group", Value: []byte(group)},
		},
	})
	if err != nil {
		b.logger.Error("dead-letter forward failed",
			"event", "kafka_dead_letter_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"reason", reason,
			"error", err.Error(),
		)
	}
}
