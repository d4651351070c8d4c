package ports

import (
	"context"
	"time"

	"meridian/internal/shared/events"
)

// ChargeRequest is what the gateway needs to take money.
type ChargeRequest struct {
	OrderID     string
	AmountCents int64
	AccountRef  string
}

// ChargeResult carries the gateway's reference for a successful charge.
type ChargeResult struct {
	Reference string
}

// Gateway is the external payment processor. Charge returns
// ErrPaymentDeclined for business declines and ErrGatewayUnavailable when
// the processor cannot be reached.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, orderID, accountRef string, amountCents int64) error
}

// EventDedupStore reserves event ids so redelivered commands are charged at
// most once. ReserveEvent reports true when the event was already reserved.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string) (bool, error)
}

// PendingCharge is a payment command parked for retry after the gateway was
// unavailable. The original envelope is kept verbatim so the retry emits
// results on the same correlation chain.
type PendingCharge struct {
	EventID       string
	Envelope      []byte
	Attempts      int
	NextAttemptAt time.Time
}

// RetryQueue parks pending charges. Enqueue upserts by EventID; ListDue
// returns charges whose NextAttemptAt has passed, oldest first.
type RetryQueue interface {
	Enqueue(ctx context.Context, charge PendingCharge) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]PendingCharge, error)
	Remove(ctx context.Context, eventID string) error
}

// EventPublisher publishes envelopes to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}

// Clock allows deterministic testing of retry scheduling.
type Clock interface {
	Now() time.Time
}
