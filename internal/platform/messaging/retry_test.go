package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"meridian/internal/shared/events"
)

type flakyPublisher struct {
	failures int
	calls    int
}

func (p *flakyPublisher) Publish(_ context.Context, _ string, _ events.Envelope) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("transport down")
	}
	return nil
}

func TestRetryingPublisherRecoversFromTransientFailure(t *testing.T) {
	next := &flakyPublisher{failures: 2}
	publisher := RetryingPublisher{
		Next:            next,
		MaxRetries:      5,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}

	env := mustEnvelope(t, events.TypeOrderCreated, "order-retry")
	if err := publisher.Publish(context.Background(), "orders", env); err != nil {
		t.Fatalf("expected publish to recover, got %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", next.calls)
	}
}

func TestRetryingPublisherExhaustionWrapsDeliveryFailed(t *testing.T) {
	next := &flakyPublisher{failures: 100}
	publisher := RetryingPublisher{
		Next:            next,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}

	env := mustEnvelope(t, events.TypeOrderCreated, "order-exhausted")
	err := publisher.Publish(context.Background(), "orders", env)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d", next.calls)
	}
}
