package ports

import (
	"context"
	"time"

	"meridian/contexts/ordering/order-saga/domain/saga"
	"meridian/internal/shared/events"
)

// SagaStore persists saga instances. Save is create-or-update with no lost
// updates: a create of an existing saga returns ErrDuplicateSaga, an update
// whose Version does not match the stored row returns ErrVersionConflict.
// The returned instance carries the incremented version.
type SagaStore interface {
	Load(ctx context.Context, sagaID string) (saga.Instance, bool, error)
	Save(ctx context.Context, instance saga.Instance) (saga.Instance, error)
	// ListStale returns non-terminal sagas untouched since the cutoff,
	// oldest first. The timeout scanner feeds them into the failure path.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]saga.Instance, error)
}

// EventPublisher publishes envelopes to a topic. Implementations retry
// transient transport failures internally and surface only exhausted
// delivery failures.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}

// Clock allows deterministic testing of timeout and ledger timestamps.
type Clock interface {
	Now() time.Time
}

// Metrics receives saga state transitions, fire-and-forget.
type Metrics interface {
	SagaTransition(from, to string)
}
