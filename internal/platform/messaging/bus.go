package messaging

import (
	"context"
	"errors"
	"time"

	"meridian/internal/shared/events"
)

// Handler consumes a decoded envelope. Returning an error leaves the message
// unacknowledged: the bus redelivers it, so handlers must be idempotent with
// respect to the envelope's EventID.
type Handler func(ctx context.Context, env events.Envelope) error

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}

// Subscriber is the consumer side of the bus. Handlers are registered under a
// named consumer group; within one group delivery is load-balanced, across
// groups it is broadcast. Registering the same (topic, group, name) twice is
// a no-op. Unsubscribe removes the registration; deliveries already
// dispatched to the handler complete normally.
type Subscriber interface {
	Subscribe(topic, group, name string, fn Handler) error
	Unsubscribe(topic, group, name string)
}

// Bus is a full publish/subscribe transport with at-least-once delivery and
// per-aggregate ordering inside each consumer group.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

var (
	// ErrBusClosed is returned by Publish and Subscribe after Close.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrDeliveryFailed signals that publish retries were exhausted and the
	// event was not handed to the transport. The saga orchestrator treats
	// this as a saga-level failure trigger.
	ErrDeliveryFailed = errors.New("event delivery failed")
)

// Dead-letter reasons recorded alongside poisoned messages.
const (
	ReasonUndecodable    = "undecodable_payload"
	ReasonUnknownType    = "unknown_event_type"
	ReasonMaxRedelivered = "max_redeliveries_exceeded"
)

// DeadLetter is a message removed from the normal retry flow, kept with its
// full raw payload for manual inspection.
type DeadLetter struct {
	Topic      string
	Group      string
	Reason     string
	Detail     string
	Payload    []byte
	OccurredAt time.Time
}

// DeadLetterSink records poisoned messages. Implementations must not retry
// into the normal flow.
type DeadLetterSink interface {
	Record(ctx context.Context, letter DeadLetter) error
}
