// Package observability provides the fire-and-forget metrics sink used by
// the bus, the saga orchestrator and the circuit breakers. Nothing here is
// allowed to block or fail core logic.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the full sink surface. Modules depend on structural subsets of
// it through their own ports, so this interface never leaks into context
// packages.
type Metrics interface {
	EventPublished(topic, eventType string)
	EventConsumed(topic, group, eventType string)
	DeadLettered(topic, reason string)
	SagaTransition(from, to string)
	BreakerTransition(name, from, to string)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) EventPublished(string, string)            {}
func (Noop) EventConsumed(string, string, string)     {}
func (Noop) DeadLettered(string, string)              {}
func (Noop) SagaTransition(string, string)            {}
func (Noop) BreakerTransition(string, string, string) {}

// OTel reports counters through the OpenTelemetry metric API.
type OTel struct {
	published   metric.Int64Counter
	consumed    metric.Int64Counter
	deadLetters metric.Int64Counter
	sagas       metric.Int64Counter
	breakers    metric.Int64Counter
}

// NewOTel builds the counter set on the given meter.
func NewOTel(meter metric.Meter) (*OTel, error) {
	published, err := meter.Int64Counter("meridian.events.published",
		metric.WithDescription("Events handed to the bus transport"))
	if err != nil {
		return nil, err
	}
	consumed, err := meter.Int64Counter("meridian.events.consumed",
		metric.WithDescription("Events acknowledged by consumer handlers"))
	if err != nil {
		return nil, err
	}
	deadLetters, err := meter.Int64Counter("meridian.events.dead_lettered",
		metric.WithDescription("Messages routed to the dead-letter path"))
	if err != nil {
		return nil, err
	}
	sagas, err := meter.Int64Counter("meridian.saga.transitions",
		metric.WithDescription("Order saga state transitions"))
	if err != nil {
		return nil, err
	}
	breakers, err := meter.Int64Counter("meridian.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"))
	if err != nil {
		return nil, err
	}

	return &OTel{
		published:   published,
		consumed:    consumed,
		deadLetters: deadLetters,
		sagas:       sagas,
		breakers:    breakers,
	}, nil
}

func (m *OTel) EventPublished(topic, eventType string) {
	m.published.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("event_type", eventType),
	))
}

func (m *OTel) EventConsumed(topic, group, eventType string) {
	m.consumed.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("consumer_group", group),
		attribute.String("event_type", eventType),
	))
}

func (m *OTel) DeadLettered(topic, reason string) {
	m.deadLetters.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("reason", reason),
	))
}

func (m *OTel) SagaTransition(from, to string) {
	m.sagas.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *OTel) BreakerTransition(name, from, to string) {
	m.breakers.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("dependency", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
