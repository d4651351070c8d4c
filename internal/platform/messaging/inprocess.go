package messaging

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"meridian/internal/shared/events"
)

const (
	defaultShardCount      = 8
	defaultQueueDepth      = 256
	defaultMaxDeliveries   = 5
	defaultRedeliveryDelay = 25 * time.Millisecond
)

// Metrics is the narrow sink the bus reports into. Fire-and-forget; the bus
// never blocks on it.
type Metrics interface {
	EventPublished(topic, eventType string)
	EventConsumed(topic, group, eventType string)
	DeadLettered(topic, reason string)
}

type busConfig struct {
	shardCount      int
	queueDepth      int
	maxDeliveries   int
	redeliveryDelay time.Duration
	deadLetters     DeadLetterSink
	metrics         Metrics
	logger          *slog.Logger
}

// BusOption configures the in-process bus.
type BusOption func(*busConfig)

// WithShardCount sets how many ordered delivery lanes each consumer group
// runs. Messages are assigned to a lane by aggregate id, so per-aggregate
// order is preserved while distinct aggregates proceed in parallel.
func WithShardCount(n int) BusOption {
	return func(c *busConfig) {
		if n > 0 {
			c.shardCount = n
		}
	}
}

// WithMaxDeliveries bounds redelivery of a failing message before it is
// routed to the dead-letter sink.
func WithMaxDeliveries(n int) BusOption {
	return func(c *busConfig) {
		if n > 0 {
			c.maxDeliveries = n
		}
	}
}

// WithRedeliveryDelay sets the pause between redeliveries of a failed message.
func WithRedeliveryDelay(d time.Duration) BusOption {
	return func(c *busConfig) {
		if d > 0 {
			c.redeliveryDelay = d
		}
	}
}

// WithDeadLetterSink routes poisoned messages to the given sink.
func WithDeadLetterSink(sink DeadLetterSink) BusOption {
	return func(c *busConfig) { c.deadLetters = sink }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) BusOption {
	return func(c *busConfig) { c.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) BusOption {
	return func(c *busConfig) { c.logger = logger }
}

type rawMessage struct {
	key     string
	payload []byte
}

type consumerGroup struct {
	topic string
	name  string

	mu       sync.RWMutex
	handlers map[string]Handler
	shards   []chan rawMessage
}

func (g *consumerGroup) pick(key string) (Handler, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.handlers) == 0 {
		return nil, false
	}
	names := make([]string, 0, len(g.handlers))
	for name := range g.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return g.handlers[names[shardIndex(key, len(names))]], true
}

type groupKey struct {
	topic string
	group string
}

// InProcessBus is a channel-backed bus used for the single-process runtime
// and for tests. It keeps the same contract as the Kafka adapter: serialized
// messages, at-least-once delivery per consumer group, per-aggregate ordering
// within a group, bounded redelivery, dead-letter routing for poison
// messages.
type InProcessBus struct {
	cfg busConfig

	mu     sync.RWMutex
	groups map[groupKey]*consumerGroup
	closed bool
	wg     sync.WaitGroup
}

// NewInProcessBus constructs a bus ready for Subscribe/Publish.
func NewInProcessBus(opts ...BusOption) *InProcessBus {
	cfg := busConfig{
		shardCount:      defaultShardCount,
		queueDepth:      defaultQueueDepth,
		maxDeliveries:   defaultMaxDeliveries,
		redeliveryDelay: defaultRedeliveryDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &InProcessBus{
		cfg:    cfg,
		groups: make(map[groupKey]*consumerGroup),
	}
}

// Publish serializes the envelope and enqueues it for every consumer group
// subscribed to the topic. The envelope's aggregate id is the partition key:
// publish order is preserved per key within each group.
func (b *InProcessBus) Publish(ctx context.Context, topic string, env events.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	if err := b.enqueue(ctx, topic, env.AggregateID, payload); err != nil {
		return err
	}
	if b.cfg.metrics != nil {
		b.cfg.metrics.EventPublished(topic, env.EventType.String())
	}
	b.cfg.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", env.EventID,
		"event_type", env.EventType,
	)
	return nil
}

// PublishRaw enqueues an already-serialized message. This is the transport
// seam: malformed payloads delivered through it exercise the consumer-side
// dead-letter path.
func (b *InProcessBus) PublishRaw(ctx context.Context, topic, key string, payload []byte) error {
	return b.enqueue(ctx, topic, key, payload)
}

func (b *InProcessBus) enqueue(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for gk, group := range b.groups {
		if gk.topic != topic {
			continue
		}
		shard := group.shards[shardIndex(key, len(group.shards))]
		select {
		case shard <- rawMessage{key: key, payload: payload}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers fn under the named consumer group. Duplicate
// registration of the same (topic, group, name) is a no-op.
func (b *InProcessBus) Subscribe(topic, group, name string, fn Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	gk := groupKey{topic: topic, group: group}
	cg, ok := b.groups[gk]
	if !ok {
		cg = &consumerGroup{
			topic:    topic,
			name:     group,
			handlers: make(map[string]Handler),
			shards:   make([]chan rawMessage, b.cfg.shardCount),
		}
		for i := range cg.shards {
			ch := make(chan rawMessage, b.cfg.queueDepth)
			cg.shards[i] = ch
			b.wg.Add(1)
			go b.runShard(cg, ch)
		}
		b.groups[gk] = cg
	}

	cg.mu.Lock()
	defer cg.mu.Unlock()
	if _, exists := cg.handlers[name]; exists {
		return nil
	}
	cg.handlers[name] = fn
	return nil
}

// Unsubscribe removes a handler registration. Deliveries already dispatched
// to the handler complete normally; messages arriving afterwards are handled
// by the group's remaining handlers, or dropped if none remain.
func (b *InProcessBus) Unsubscribe(topic, group, name string) {
	b.mu.RLock()
	cg, ok := b.groups[groupKey{topic: topic, group: group}]
	b.mu.RUnlock()
	if !ok {
		return
	}
	cg.mu.Lock()
	delete(cg.handlers, name)
	cg.mu.Unlock()
}

// Close stops all delivery lanes and waits for in-flight handlers to finish.
func (b *InProcessBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, group := range b.groups {
		for _, shard := range group.shards {
			close(shard)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *InProcessBus) runShard(group *consumerGroup, ch <-chan rawMessage) {
	defer b.wg.Done()
	for msg := range ch {
		b.deliver(group, msg)
	}
}

func (b *InProcessBus) deliver(group *consumerGroup, msg rawMessage) {
	env, err := events.Decode(msg.payload)
	if err != nil {
		reason := ReasonUndecodable
		if errors.Is(err, events.ErrUnknownEventType) {
			reason = ReasonUnknownType
		}
		b.deadLetter(group, reason, err.Error(), msg.payload)
		return
	}

	ctx := context.Background()
	for attempt := 1; attempt <= b.cfg.maxDeliveries; attempt++ {
		fn, ok := group.pick(msg.key)
		if !ok {
			b.cfg.logger.Debug("no handler registered, dropping event",
				"event", "bus_delivery_dropped",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", group.topic,
				"consumer_group", group.name,
				"event_id", env.EventID,
			)
			return
		}

		err := fn(ctx, env)
		if err == nil {
			if b.cfg.metrics != nil {
				b.cfg.metrics.EventConsumed(group.topic, group.name, env.EventType.String())
			}
			return
		}
		b.cfg.logger.Warn("handler failed, message will be redelivered",
			"event", "bus_redelivery",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", group.topic,
			"consumer_group", group.name,
			"event_id", env.EventID,
			"event_type", env.EventType,
			"attempt", attempt,
			"error", err.Error(),
		)

		if attempt < b.cfg.maxDeliveries {
			time.Sleep(b.cfg.redeliveryDelay)
		}
	}

	b.deadLetter(group, ReasonMaxRedelivered, "", msg.payload)
}

func (b *InProcessBus) deadLetter(group *consumerGroup, reason, detail string, payload []byte) {
	b.cfg.logger.Error("message routed to dead-letter",
		"event", "bus_dead_letter",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", group.topic,
		"consumer_group", group.name,
		"reason", reason,
		"detail", detail,
		"payload", string(payload),
	)
	if b.cfg.metrics != nil {
		b.cfg.metrics.DeadLettered(group.topic, reason)
	}
	if b.cfg.deadLetters == nil {
		return
	}
	letter := DeadLetter{
		Topic:      group.topic,
		Group:      group.name,
		Reason:     reason,
		Detail:     detail,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
	if err := b.cfg.deadLetters.Record(context.Background(), letter); err != nil {
		b.cfg.logger.Error("dead-letter sink write failed",
			"event", "bus_dead_letter_sink_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", group.topic,
			"error", err.Error(),
		)
	}
}

func shardIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
