package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical event shape exchanged between Meridian modules.
// Field names are the cross-runtime wire contract; do not rename.
// An envelope is immutable after construction: derive a new one with Derive
// when a handler needs to emit a follow-up event.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     Type            `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId"`
	CausationID   string          `json:"causationId,omitempty"`
}

var (
	// ErrInvalidEnvelope is returned when required envelope fields are
	// missing or the payload is not a valid envelope at all.
	ErrInvalidEnvelope = errors.New("invalid event envelope")

	// ErrUnknownEventType is returned when a structurally valid envelope
	// carries an event type outside the catalog.
	ErrUnknownEventType = errors.New("unknown event type")
)

// Option customizes envelope construction.
type Option func(*Envelope)

// WithCorrelationID overrides the default correlation id (the aggregate id).
func WithCorrelationID(id string) Option {
	return func(e *Envelope) {
		e.CorrelationID = id
	}
}

// New constructs an envelope for a fresh event. EventID and Timestamp are
// always assigned here, never by the caller, so identity and temporal
// plausibility hold across producers. CorrelationID defaults to the
// aggregate id, which for saga events equals the saga id.
func New(eventType Type, aggregateID string, payload any, opts ...Option) (Envelope, error) {
	if !eventType.Known() {
		return Envelope{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidEnvelope, eventType)
	}
	if aggregateID == "" {
		return Envelope{}, fmt.Errorf("%w: aggregate id is required", ErrInvalidEnvelope)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode event payload: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Envelope{}, fmt.Errorf("generate event id: %w", err)
	}

	env := Envelope{
		EventID:       id.String(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		Payload:       data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: aggregateID,
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env, nil
}

// Derive constructs a follow-up event caused by parent. The derived envelope
// gets a fresh EventID, inherits the parent's correlation id, and records the
// parent's EventID as its causation id, extending the causal chain.
func Derive(parent Envelope, eventType Type, payload any) (Envelope, error) {
	env, err := New(eventType, parent.AggregateID, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.CorrelationID = parent.CorrelationID
	env.CausationID = parent.EventID
	return env, nil
}

// Decode unmarshals a wire message into an envelope, rejecting payloads that
// do not carry a known event type or the mandatory identity fields. Callers
// route rejected messages to the dead-letter path.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.EventID == "" || env.AggregateID == "" {
		return Envelope{}, fmt.Errorf("%w: missing event or aggregate id", ErrInvalidEnvelope)
	}
	if !env.EventType.Known() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
	return env, nil
}

// Encode marshals the envelope for transport.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the opaque payload into the given target.
func (e Envelope) DecodePayload(target any) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}
