package ports

import (
	"context"

	"meridian/internal/shared/events"
)

// Notification is one message to a customer. ID is the triggering event id;
// implementations treat it as an idempotency key.
type Notification struct {
	ID       string
	OrderID  string
	Channel  string
	Template string
	Body     string
}

// Notifier delivers notifications. Send with an already-delivered ID is a
// no-op.
type Notifier interface {
	Send(ctx context.Context, notification Notification) (bool, error)
}

// EventPublisher publishes envelopes to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}
