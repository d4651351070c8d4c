package ports

import (
	"context"
	"time"

	"meridian/contexts/users/user-service/domain/entities"
	"meridian/internal/shared/events"
)

// UserRepository stores registered users. Create with an existing user id or
// email returns domain errors.ErrDuplicateUser.
type UserRepository interface {
	Create(ctx context.Context, user entities.User) error
	Load(ctx context.Context, userID string) (entities.User, bool, error)
}

// EventPublisher publishes envelopes to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
