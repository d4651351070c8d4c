package ports

import (
	"context"

	"meridian/contexts/inventory/inventory-service/domain/entities"
	"meridian/internal/shared/events"
)

// StockRepository holds stock levels and order reservations. Reserve is
// idempotent per order id: a redelivered reserve command returns the
// original reservation outcome without touching stock again. Release undoes
// a granted reservation and is a no-op when called twice.
type StockRepository interface {
	Reserve(ctx context.Context, orderID string, items []events.OrderItem) (entities.Reservation, error)
	Release(ctx context.Context, orderID string) (bool, error)
}

// EventPublisher publishes envelopes to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}
