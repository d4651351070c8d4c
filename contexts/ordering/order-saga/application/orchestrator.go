package application

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	domainerrors "meridian/contexts/ordering/order-saga/domain/errors"
	"meridian/contexts/ordering/order-saga/domain/saga"
	"meridian/contexts/ordering/order-saga/ports"
	"meridian/internal/platform/messaging"
	"meridian/internal/shared/events"
)

const sagaLockStripes = 64

// ReasonTimeout is the failure reason the timeout path reports.
const ReasonTimeout = "timeout"

// compensations maps a completed step to the command that undoes it.
var compensations = map[string]events.Type{
	saga.StepReserveInventory: events.TypeInventoryRelease,
	saga.StepProcessPayment:   events.TypePaymentRefund,
}

// Orchestrator drives the per-order saga: it consumes domain events, keeps
// the saga instance moving through its state machine, and emits the next
// command or compensation. All mutation of one saga is serialized through a
// striped lock; different sagas proceed fully in parallel.
type Orchestrator struct {
	Store     ports.SagaStore
	Publisher ports.EventPublisher
	Clock     ports.Clock
	Metrics   ports.Metrics
	Logger    *slog.Logger

	locks [sagaLockStripes]sync.Mutex
}

// New constructs an orchestrator.
func New(store ports.SagaStore, publisher ports.EventPublisher, clock ports.Clock, metrics ports.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Store:     store,
		Publisher: publisher,
		Clock:     clock,
		Metrics:   metrics,
		Logger:    logger,
	}
}

// HandleEvent is the single bus entry point. The orchestrator subscribes to
// the order, inventory and payment topics; event types it does not react to
// (its own emitted commands among them) are acknowledged untouched.
func (o *Orchestrator) HandleEvent(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypeOrderCreated:
		return o.handleOrderCreated(ctx, env)
	case events.TypeInventoryReserved:
		return o.handleInventoryReserved(ctx, env)
	case events.TypeInventoryReservationDenied:
		return o.handleInventoryDenied(ctx, env)
	case events.TypePaymentProcessed:
		return o.handlePaymentProcessed(ctx, env)
	case events.TypePaymentFailed:
		return o.handlePaymentFailed(ctx, env)
	default:
		return nil
	}
}

// handleOrderCreated starts the saga: create the instance, issue the
// inventory reservation command, move to InventoryReserving. A saga that
// already exists for this order means duplicate delivery and is a no-op.
func (o *Orchestrator) handleOrderCreated(ctx context.Context, env events.Envelope) error {
	logger := ResolveLogger(o.Logger)
	sagaID := env.AggregateID

	unlock := o.lock(sagaID)
	defer unlock()

	_, found, err := o.Store.Load(ctx, sagaID)
	if err != nil {
		return err
	}
	if found {
		o.logDiscard(logger, env, sagaID, "saga already exists")
		return nil
	}

	var order events.OrderCreatedPayload
	if err := env.DecodePayload(&order); err != nil {
		return err
	}

	now := o.now()
	inst := saga.NewInstance(sagaID, now)
	inst.OrderPayload = env.Payload
	inst.RecordStep(saga.StepSagaStarted, env.EventType.String(), saga.OutcomeCompleted, "", now)
	if err := o.transition(logger, &inst, saga.StateInventoryReserving, now); err != nil {
		return err
	}

	inst, err = o.Store.Save(ctx, inst)
	if err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateSaga) {
			o.logDiscard(logger, env, sagaID, "saga created concurrently")
			return nil
		}
		return err
	}

	logger.Info("order saga started",
		"event", "saga_started",
		"module", "ordering/order-saga",
		"layer", "application",
		"saga_id", sagaID,
		"event_id", env.EventID,
	)

	command, err := events.Derive(env, events.TypeInventoryReserve, events.ReserveInventoryPayload{
		OrderID: order.OrderID,
		Items:   order.Items,
	})
	if err != nil {
		return err
	}
	return o.publishCommand(ctx, logger, &inst, events.TopicInventory, command, saga.StepReserveInventory)
}

// handleInventoryReserved advances the saga to payment. Events for unknown
// sagas, duplicates, or sagas no longer in InventoryReserving are stale and
// discarded after logging.
func (o *Orchestrator) handleInventoryReserved(ctx context.Context, env events.Envelope) error {
	logger := ResolveLogger(o.Logger)
	sagaID := env.CorrelationID

	unlock := o.lock(sagaID)
	defer unlock()

	inst, ok, err := o.loadActionable(ctx, logger, env, sagaID, saga.StateInventoryReserving)
	if err != nil || !ok {
		return err
	}

	var order events.OrderCreatedPayload
	if err := inst.DecodeOrder(&order); err != nil {
		return err
	}

	now := o.now()
	inst.RecordStep(saga.StepReserveInventory, env.EventType.String(), saga.OutcomeCompleted, "", now)
	if err := o.transition(logger, &inst, saga.StateInventoryReserved, now); err != nil {
		return err
	}
	if err := o.transition(logger, &inst, saga.StatePaymentProcessing, now); err != nil {
		return err
	}

	inst, err = o.Store.Save(ctx, inst)
	if err != nil {
		return err
	}

	command, err := events.Derive(env, events.TypePaymentProcess, events.ProcessPaymentPayload{
		OrderID:     order.OrderID,
		AmountCents: order.AmountCents,
		AccountRef:  order.AccountRef,
	})
	if err != nil {
		return err
	}
	return o.publishCommand(ctx, logger, &inst, events.TopicPayments, command, saga.StepProcessPayment)
}

// handleInventoryDenied ends the saga without compensation: nothing has
// succeeded yet, so the order is simply cancelled.
func (o *Orchestrator) handleInventoryDenied(ctx context.Context, env events.Envelope) error {
	logger := ResolveLogger(o.Logger)
	sagaID := env.CorrelationID

	unlock := o.lock(sagaID)
	defer unlock()

	inst, ok, err := o.loadActionable(ctx, logger, env, sagaID, saga.StateInventoryReserving)
	if err != nil || !ok {
		return err
	}

	var result events.InventoryResultPayload
	if err := env.DecodePayload(&result); err != nil {
		return err
	}

	now := o.now()
	inst.RecordStep(saga.StepReserveInventory, env.EventType.String(), saga.OutcomeDenied, result.Reason, now)
	if err := o.transition(logger, &inst, saga.StateFailed, now); err != nil {
		return err
	}

	inst, err = o.Store.Save(ctx, inst)
	if err != nil {
		return err
	}

	logger.Info("order saga failed on inventory denial",
		"event", "saga_failed",
		"module", "ordering/order-saga",
		"layer", "application",
		"saga_id", sagaID,
		"reason", result.Reason,
	)

	cancelled, err := events.Derive(env, events.TypeOrderCancelled, events.OrderClosedPayload{
		OrderID: sagaID,
		Reason:  result.Reason,
	})
	if err != nil {
		return err
	}
	o.publishTerminal(ctx, logger, events.TopicOrders, cancelled)
	return nil
}

// handlePaymentProcessed completes the saga.
func (o *Orchestrator) handlePaymentProcessed(ctx context.Context, env events.Envelope) error {
	logger := ResolveLogger(o.Logger)
	sagaID := env.CorrelationID

	unlock := o.lock(sagaID)
	defer unlock()

	inst, ok, err := o.loadActionable(ctx, logger, env, sagaID, saga.StatePaymentProcessing)
	if err != nil || !ok {
		return err
	}

	now := o.now()
	inst.RecordStep(saga.StepProcessPayment, env.EventType.String(), saga.OutcomeCompleted, "", now)
	inst, err = o.Store.Save(ctx, inst)
	if err != nil {
		return err
	}

	confirmed, err := events.Derive(env, events.TypeOrderConfirmed, events.OrderClosedPayload{OrderID: sagaID})
	if err != nil {
		return err
	}
	if err := o.Publisher.Publish(ctx, events.TopicOrders, confirmed); err != nil {
		if errors.Is(err, messaging.ErrDeliveryFailed) {
			// The charge went through but the confirmation cannot be
			// delivered: undo everything, refund included.
			logger.Error("order confirmation delivery failed, compensating",
				"event", "saga_command_delivery_failed",
				"module", "ordering/order-saga",
				"layer", "application",
				"saga_id", sagaID,
				"error", err.Error(),
			)
			return o.compensate(ctx, logger, &inst, &env)
		}
		return err
	}

	if err := o.transition(logger, &inst, saga.StateCompleted, o.now()); err != nil {
		return err
	}
	inst, err = o.Store.Save(ctx, inst)
	if err != nil {
		return err
	}

	logger.Info("order saga completed",
		"event", "saga_completed",
		"module", "ordering/order-saga",
		"layer", "application",
		"saga_id", sagaID,
	)
	return nil
}

// handlePaymentFailed records the payment outcome and walks the compensation
// path: every completed step is undone in reverse completion order.
func (o *Orchestrator) handlePaymentFailed(ctx context.Context, env events.Envelope) error {
	logger := ResolveLogger(o.Logger)
	sagaID := env.CorrelationID

	unlock := o.lock(sagaID)
	defer unlock()

	inst, ok, err := o.loadActionable(ctx, logger, env, sagaID, saga.StatePaymentProcessing)
	if err != nil || !ok {
		return err
	}

	var result events.PaymentResultPayload
	if err := env.DecodePayload(&result); err != nil {
		return err
	}

	now := o.now()
	inst.RecordStep(saga.StepProcessPayment, env.EventType.String(), saga.OutcomeFailed, result.Reason, now)

	logger.Info("order saga compensating after payment failure",
		"event", "saga_compensating",
		"module", "ordering/order-saga",
		"layer", "application",
		"saga_id", sagaID,
		"reason", result.Reason,
		"retryable", result.Retryable,
	)
	return o.compensate(ctx, logger, &inst, &env)
}

// HandleSagaFailure drives the generalized compensation path for a saga,
// regardless of which step failed. The timeout scanner uses it with
// ReasonTimeout; delivery failures use it with their own reason. Terminal
// sagas are left untouched.
func (o *Orchestrator) HandleSagaFailure(ctx context.Context, sagaID, failedStep, reason string) error {
	logger := ResolveLogger(o.Logger)

	unlock := o.lock(sagaID)
	defer unlock()

	inst, found, err := o.Store.Load(ctx, sagaID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", domainerrors.ErrSagaNotFound, sagaID)
	}
	if inst.State.Terminal() {
		return nil
	}

	logger.Warn("order saga failure reported",
		"event", "saga_failure_reported",
		"module", "ordering/order-saga",
		"layer", "application",
		"saga_id", sagaID,
		"failed_step", failedStep,
		"reason", reason,
		"state", inst.State.String(),
	)

	now := o.now()
	if reason == ReasonTimeout && inst.State != saga.StateCompensating {
		if err := o.transition(logger, &inst, saga.StateTimedOut, now); err != nil {
			return err
		}
	}
	return o.compensate(ctx, logger, &inst, nil)
}

// compensate transitions into Compensating (if not already there), issues a
// compensation command for each completed step in reverse completion order,
// then settles on Compensated. Steps already compensated on a previous
// attempt are skipped, so the walk is safe to re-run after a partial
// failure.
func (o *Orchestrator) compensate(ctx context.Context, logger *slog.Logger, inst *saga.Instance, cause *events.Envelope) error {
	now := o.now()
	if inst.State != saga.StateCompensating {
		if err := o.transition(logger, inst, saga.StateCompensating, now); err != nil {
			return err
		}
	}

	for _, step := range inst.CompletedStepsReversed() {
		commandType, ok := compensations[step.Step]
		if !ok || inst.HasCompensated(step.Step) {
			continue
		}

		command, err := o.compensationEvent(inst, cause, commandType)
		if err != nil {
			return err
		}
		topic, _ := events.TopicFor(commandType)
		if err := o.Publisher.Publish(ctx, topic, command); err != nil {
			// Keep the partial ledger: the timeout scanner re-enters this
			// saga and resumes from the first uncompensated step.
			if _, saveErr := o.Store.Save(ctx, *inst); saveErr != nil {
				return saveErr
			}
			return err
		}
		inst.RecordCompensation(step.Step, commandType.String(), o.now())

		logger.Info("compensation issued",
			"event", "saga_compensation_issued",
			"module", "ordering/order-saga",
			"layer", "application",
			"saga_id", inst.SagaID,
			"step", step.Step,
			"command", commandType,
		)
	}

	if err := o.transition(logger, inst, saga.StateCompensated, o.now()); err != nil {
		return err
	}
	saved, err := o.Store.Save(ctx, *inst)
	if err != nil {
		return err
	}
	*inst = saved
	return nil
}

func (o *Orchestrator) compensationEvent(inst *saga.Instance, cause *events.Envelope, commandType events.Type) (events.Envelope, error) {
	var order events.OrderCreatedPayload
	if err := inst.DecodeOrder(&order); err != nil {
		return events.Envelope{}, err
	}

	var payload any
	switch commandType {
	case events.TypeInventoryRelease:
		payload = events.ReserveInventoryPayload{OrderID: order.OrderID, Items: order.Items}
	case events.TypePaymentRefund:
		payload = events.ProcessPaymentPayload{
			OrderID:     order.OrderID,
			AmountCents: order.AmountCents,
			AccountRef:  order.AccountRef,
		}
	default:
		payload = events.OrderClosedPayload{OrderID: inst.SagaID}
	}

	if cause != nil {
		return events.Derive(*cause, commandType, payload)
	}
	return events.New(commandType, inst.SagaID, payload)
}

// publishCommand sends the next forward command. Exhausted delivery is a
// saga-level failure: the saga flips into the compensation path instead of
// surfacing a transport error.
func (o *Orchestrator) publishCommand(ctx context.Context, logger *slog.Logger, inst *saga.Instance, topic string, command events.Envelope, step string) error {
	err := o.Publisher.Publish(ctx, topic, command)
	if err == nil {
		logger.Info("saga command issued",
			"event", "saga_command_issued",
			"module", "ordering/order-saga",
			"layer", "application",
			"saga_id", inst.SagaID,
			"step", step,
			"command", command.EventType,
			"event_id", command.EventID,
		)
		return nil
	}

	if errors.Is(err, messaging.ErrDeliveryFailed) {
		logger.Error("saga command delivery failed, compensating",
			"event", "saga_command_delivery_failed",
			"module", "ordering/order-saga",
			"layer", "application",
			"saga_id", inst.SagaID,
			"step", step,
			"error", err.Error(),
		)
		return o.compensate(ctx, logger, inst, nil)
	}
	return err
}

// publishTerminal emits a closing notification (order confirmed/cancelled).
// The saga is already terminal; a lost notification is logged, not fatal.
func (o *Orchestrator) publishTerminal(ctx context.Context, logger *slog.Logger, topic string, env events.Envelope) {
	if err := o.Publisher.Publish(ctx, topic, env); err != nil {
		logger.Error("terminal saga event publish failed",
			"event", "saga_terminal_publish_failed",
			"module", "ordering/order-saga",
			"layer", "application",
			"saga_id", env.CorrelationID,
			"event_type", env.EventType,
			"error", err.Error(),
		)
	}
}

// loadActionable loads the saga and applies the shared guards: unknown saga,
// duplicate event, or a saga outside the expected state all mean the event
// is stale and gets discarded after logging.
func (o *Orchestrator) loadActionable(ctx context.Context, logger *slog.Logger, env events.Envelope, sagaID string, expected saga.State) (saga.Instance, bool, error) {
	inst, found, err := o.Store.Load(ctx, sagaID)
	if err != nil {
		return saga.Instance{}, false, err
	}
	if !found {
		o.logDiscard(logger, env, sagaID, "no saga for correlation id")
		return saga.Instance{}, false, nil
	}
	if inst.HasProcessed(env.EventType.String()) {
		o.logDiscard(logger, env, sagaID, "event type already processed")
		return saga.Instance{}, false, nil
	}
	if inst.State != expected {
		o.logDiscard(logger, env, sagaID, fmt.Sprintf("saga in state %s, expected %s", inst.State, expected))
		return saga.Instance{}, false, nil
	}
	return inst, true, nil
}

func (o *Orchestrator) logDiscard(logger *slog.Logger, env events.Envelope, sagaID, why string) {
	logger.Info("stale or duplicate event discarded",
		"event", "saga_event_discarded",
		"module", "ordering/order-saga",
		"layer", "application",
		"saga_id", sagaID,
		"event_id", env.EventID,
		"event_type", env.EventType,
		"why", why,
	)
}

func (o *Orchestrator) transition(logger *slog.Logger, inst *saga.Instance, to saga.State, now time.Time) error {
	from := inst.State
	if err := inst.TransitionTo(to, now); err != nil {
		return fmt.Errorf("saga %s: %s -> %s: %w", inst.SagaID, from, to, err)
	}
	if o.Metrics != nil {
		o.Metrics.SagaTransition(from.String(), to.String())
	}
	logger.Debug("saga state transition",
		"event", "saga_transition",
		"module", "ordering/order-saga",
		"layer", "application",
		"saga_id", inst.SagaID,
		"from", from.String(),
		"to", to.String(),
	)
	return nil
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) lock(sagaID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sagaID))
	mu := &o.locks[h.Sum32()%sagaLockStripes]
	mu.Lock()
	return mu.Unlock
}
