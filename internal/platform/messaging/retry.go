package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"meridian/internal/shared/events"
)

// RetryingPublisher wraps a publisher with bounded exponential backoff.
// Transport unavailability is a transient condition: the decorator retries
// quietly, and only after exhausting MaxRetries surfaces ErrDeliveryFailed
// to the caller.
type RetryingPublisher struct {
	Next            Publisher
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *slog.Logger
}

func (p RetryingPublisher) Publish(ctx context.Context, topic string, env events.Envelope) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}

	maxRetries := p.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := p.Next.Publish(ctx, topic, env)
		if err != nil {
			logger.Warn("publish attempt failed",
				"event", "bus_publish_retry",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"event_id", env.EventID,
				"attempt", attempts,
				"error", err.Error(),
			)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err != nil {
		return fmt.Errorf("%w: topic %s after %d attempts: %v", ErrDeliveryFailed, topic, attempts, err)
	}
	return nil
}
