package saga

import (
	"encoding/json"
	"fmt"
	"time"

	domainerrors "meridian/contexts/ordering/order-saga/domain/errors"
)

// State is the saga's position in the order workflow.
type State string

const (
	StateStarted            State = "started"
	StateInventoryReserving State = "inventory_reserving"
	StateInventoryReserved  State = "inventory_reserved"
	StatePaymentProcessing  State = "payment_processing"
	StateCompleted          State = "completed"
	StateCompensating       State = "compensating"
	StateCompensated        State = "compensated"
	StateFailed             State = "failed"
	StateTimedOut           State = "timed_out"
)

// Terminal reports whether the saga can never leave this state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCompensated, StateFailed:
		return true
	default:
		return false
	}
}

func (s State) String() string { return string(s) }

// Business step identifiers recorded in CompletedSteps.
const (
	StepSagaStarted      = "saga_started"
	StepReserveInventory = "reserve_inventory"
	StepProcessPayment   = "process_payment"
)

// Step outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeDenied    = "denied"
	OutcomeFailed    = "failed"
)

// transitions is the closed forward graph. Compensation paths
// (non-terminal -> TimedOut/Compensating -> Compensated) are the only
// backward-pointing movement the saga ever makes.
var transitions = map[State][]State{
	StateStarted:            {StateInventoryReserving, StateCompensating, StateTimedOut},
	StateInventoryReserving: {StateInventoryReserved, StateFailed, StateCompensating, StateTimedOut},
	StateInventoryReserved:  {StatePaymentProcessing, StateCompensating, StateTimedOut},
	StatePaymentProcessing:  {StateCompleted, StateCompensating, StateTimedOut},
	StateTimedOut:           {StateCompensating},
	StateCompensating:       {StateCompensated},
}

// StepRecord is one completed (or conclusively failed) step of the saga,
// in completion order. It doubles as the idempotency ledger: an incoming
// event whose type already appears here has been processed.
type StepRecord struct {
	Step       string    `json:"step"`
	EventType  string    `json:"event_type"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CompensationRecord is one compensating command already issued.
type CompensationRecord struct {
	Step      string    `json:"step"`
	EventType string    `json:"event_type"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Instance is the durable record of one order saga. It is owned exclusively
// by the orchestrator; stores only persist it. Version supports optimistic
// concurrency in the saga store.
type Instance struct {
	SagaID         string
	State          State
	CompletedSteps []StepRecord
	Compensations  []CompensationRecord

	// OrderPayload is the original order.created payload, kept so later
	// steps (payment command, compensations) can be built without waiting
	// on other services to echo order data back.
	OrderPayload []byte

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// NewInstance starts a saga for the given order.
func NewInstance(sagaID string, now time.Time) Instance {
	return Instance{
		SagaID:    sagaID,
		State:     StateStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the saga forward, rejecting transitions outside the
// closed graph and any movement out of a terminal state.
func (i *Instance) TransitionTo(to State, now time.Time) error {
	if i.State.Terminal() {
		return domainerrors.ErrSagaTerminal
	}
	for _, allowed := range transitions[i.State] {
		if allowed == to {
			i.State = to
			i.UpdatedAt = now
			return nil
		}
	}
	return domainerrors.ErrIllegalTransition
}

// RecordStep appends a step outcome to the ledger.
func (i *Instance) RecordStep(step, eventType, outcome, detail string, now time.Time) {
	i.CompletedSteps = append(i.CompletedSteps, StepRecord{
		Step:       step,
		EventType:  eventType,
		Outcome:    outcome,
		Detail:     detail,
		RecordedAt: now,
	})
	i.UpdatedAt = now
}

// RecordCompensation appends an issued compensation command.
func (i *Instance) RecordCompensation(step, eventType string, now time.Time) {
	i.Compensations = append(i.Compensations, CompensationRecord{
		Step:      step,
		EventType: eventType,
		IssuedAt:  now,
	})
	i.UpdatedAt = now
}

// HasProcessed reports whether an event of this type already advanced the
// saga. Together with the per-saga lock this makes duplicate delivery a
// no-op.
func (i *Instance) HasProcessed(eventType string) bool {
	for _, step := range i.CompletedSteps {
		if step.EventType == eventType {
			return true
		}
	}
	for _, comp := range i.Compensations {
		if comp.EventType == eventType {
			return true
		}
	}
	return false
}

// HasCompensated reports whether a compensation was already issued for the
// given step.
func (i *Instance) HasCompensated(step string) bool {
	for _, comp := range i.Compensations {
		if comp.Step == step {
			return true
		}
	}
	return false
}

// DecodeOrder unmarshals the stored order.created payload into target.
func (i *Instance) DecodeOrder(target any) error {
	if len(i.OrderPayload) == 0 {
		return fmt.Errorf("saga %s has no order payload", i.SagaID)
	}
	return json.Unmarshal(i.OrderPayload, target)
}

// CompletedStepsReversed returns steps with OutcomeCompleted, last completed
// first — the order compensations are issued in.
func (i *Instance) CompletedStepsReversed() []StepRecord {
	var out []StepRecord
	for idx := len(i.CompletedSteps) - 1; idx >= 0; idx-- {
		if i.CompletedSteps[idx].Outcome == OutcomeCompleted {
			out = append(out, i.CompletedSteps[idx])
		}
	}
	return out
}
