package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "meridian/contexts/payments/payment-service/application"
	domainerrors "meridian/contexts/payments/payment-service/domain/errors"
	"meridian/contexts/payments/payment-service/ports"
	"meridian/internal/shared/events"
)

const retryBatch = 25

// RetryRelay drains parked payment charges once the gateway recovers. Each
// due charge is retried through the gateway; the outcome is published on the
// original correlation chain, where the orchestrator's staleness guards
// decide whether it still matters. A charge that finds the gateway still
// unavailable is re-parked with a doubled delay.
type RetryRelay struct {
	Queue     ports.RetryQueue
	Gateway   ports.Gateway
	Publisher ports.EventPublisher
	Clock     ports.Clock
	Interval  time.Duration
	Logger    *slog.Logger
}

func (r RetryRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	due, err := r.Queue.ListDue(ctx, now, retryBatch)
	if err != nil {
		logger.Error("retry queue sweep failed",
			"event", "payment_retry_sweep_failed",
			"module", "payments/payment-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	for _, charge := range due {
		if err := r.retryOne(ctx, logger, charge, now); err != nil {
			logger.Error("payment retry failed",
				"event", "payment_retry_failed",
				"module", "payments/payment-service",
				"layer", "worker",
				"event_id", charge.EventID,
				"error", err.Error(),
			)
		}
	}
	return nil
}

func (r RetryRelay) retryOne(ctx context.Context, logger *slog.Logger, charge ports.PendingCharge, now time.Time) error {
	env, err := events.Decode(charge.Envelope)
	if err != nil {
		// A corrupt entry can never succeed; drop it from the queue.
		_ = r.Queue.Remove(ctx, charge.EventID)
		return err
	}
	var cmd events.ProcessPaymentPayload
	if err := env.DecodePayload(&cmd); err != nil {
		_ = r.Queue.Remove(ctx, charge.EventID)
		return err
	}

	result, err := r.Gateway.Charge(ctx, ports.ChargeRequest{
		OrderID:     cmd.OrderID,
		AmountCents: cmd.AmountCents,
		AccountRef:  cmd.AccountRef,
	})
	switch {
	case err == nil:
		if err := r.Queue.Remove(ctx, charge.EventID); err != nil {
			return err
		}
		logger.Info("parked payment charged on retry",
			"event", "payment_retry_charged",
			"module", "payments/payment-service",
			"layer", "worker",
			"order_id", cmd.OrderID,
			"attempts", charge.Attempts+1,
		)
		return r.publish(ctx, env, events.TypePaymentProcessed, events.PaymentResultPayload{
			OrderID:   cmd.OrderID,
			Reference: result.Reference,
		})

	case errors.Is(err, domainerrors.ErrPaymentDeclined):
		if err := r.Queue.Remove(ctx, charge.EventID); err != nil {
			return err
		}
		return r.publish(ctx, env, events.TypePaymentFailed, events.PaymentResultPayload{
			OrderID: cmd.OrderID,
			Reason:  events.PaymentReasonDeclined,
		})

	case errors.Is(err, domainerrors.ErrGatewayUnavailable):
		charge.Attempts++
		charge.NextAttemptAt = now.Add(r.interval() * time.Duration(charge.Attempts))
		return r.Queue.Enqueue(ctx, charge)

	default:
		return err
	}
}

func (r RetryRelay) publish(ctx context.Context, cause events.Envelope, resultType events.Type, payload events.PaymentResultPayload) error {
	result, err := events.Derive(cause, resultType, payload)
	if err != nil {
		return err
	}
	return r.Publisher.Publish(ctx, events.TopicPayments, result)
}

func (r RetryRelay) interval() time.Duration {
	if r.Interval <= 0 {
		return time.Minute
	}
	return r.Interval
}
