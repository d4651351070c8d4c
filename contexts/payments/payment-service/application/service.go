package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainerrors "meridian/contexts/payments/payment-service/domain/errors"
	"meridian/contexts/payments/payment-service/ports"
	"meridian/internal/shared/events"
)

const defaultRetryInterval = time.Minute

// Service consumes payment commands. A process command is charged through
// the gateway exactly once per event id; the outcome is published as
// payment.processed or payment.failed. When the gateway is unavailable the
// command is parked on the retry queue and a retryable payment.failed is
// published so the orchestrator can observe the fallback.
type Service struct {
	Gateway       ports.Gateway
	Dedup         ports.EventDedupStore
	Retry         ports.RetryQueue
	Publisher     ports.EventPublisher
	Clock         ports.Clock
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// HandleEvent is the bus entry point for the payments topic. Event types the
// service does not own (its own published results) are acknowledged
// untouched.
func (s Service) HandleEvent(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypePaymentProcess:
		return s.processCharge(ctx, env)
	case events.TypePaymentRefund:
		return s.processRefund(ctx, env)
	default:
		return nil
	}
}

func (s Service) processCharge(ctx context.Context, env events.Envelope) error {
	logger := ResolveLogger(s.Logger)

	var cmd events.ProcessPaymentPayload
	if err := env.DecodePayload(&cmd); err != nil {
		return err
	}
	if err := validateCharge(cmd); err != nil {
		return err
	}

	already, err := s.Dedup.ReserveEvent(ctx, env.EventID)
	if err != nil {
		return err
	}
	if already {
		logger.Info("duplicate payment command discarded",
			"event", "payment_duplicate_discarded",
			"module", "payments/payment-service",
			"layer", "application",
			"event_id", env.EventID,
			"order_id", cmd.OrderID,
		)
		return nil
	}

	result, err := s.Gateway.Charge(ctx, ports.ChargeRequest{
		OrderID:     cmd.OrderID,
		AmountCents: cmd.AmountCents,
		AccountRef:  cmd.AccountRef,
	})
	switch {
	case err == nil:
		logger.Info("payment charged",
			"event", "payment_charged",
			"module", "payments/payment-service",
			"layer", "application",
			"order_id", cmd.OrderID,
			"amount_cents", cmd.AmountCents,
			"reference", result.Reference,
		)
		return s.publishResult(ctx, env, events.TypePaymentProcessed, events.PaymentResultPayload{
			OrderID:   cmd.OrderID,
			Reference: result.Reference,
		})

	case errors.Is(err, domainerrors.ErrPaymentDeclined):
		logger.Info("payment declined",
			"event", "payment_declined",
			"module", "payments/payment-service",
			"layer", "application",
			"order_id", cmd.OrderID,
		)
		return s.publishResult(ctx, env, events.TypePaymentFailed, events.PaymentResultPayload{
			OrderID: cmd.OrderID,
			Reason:  events.PaymentReasonDeclined,
		})

	case errors.Is(err, domainerrors.ErrGatewayUnavailable):
		return s.parkForRetry(ctx, logger, env, cmd)

	default:
		return err
	}
}

// parkForRetry is the breaker fallback: the command goes onto the retry
// queue and a retryable failure is published so the saga does not hang
// waiting on a dead gateway.
func (s Service) parkForRetry(ctx context.Context, logger *slog.Logger, env events.Envelope, cmd events.ProcessPaymentPayload) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	if err := s.Retry.Enqueue(ctx, ports.PendingCharge{
		EventID:       env.EventID,
		Envelope:      raw,
		Attempts:      1,
		NextAttemptAt: s.now().Add(s.retryInterval()),
	}); err != nil {
		return err
	}

	logger.Warn("gateway unavailable, payment parked for retry",
		"event", "payment_parked_for_retry",
		"module", "payments/payment-service",
		"layer", "application",
		"order_id", cmd.OrderID,
		"event_id", env.EventID,
	)

	return s.publishResult(ctx, env, events.TypePaymentFailed, events.PaymentResultPayload{
		OrderID:   cmd.OrderID,
		Reason:    events.PaymentReasonGatewayUnavailable,
		Retryable: true,
	})
}

func (s Service) processRefund(ctx context.Context, env events.Envelope) error {
	logger := ResolveLogger(s.Logger)

	var cmd events.ProcessPaymentPayload
	if err := env.DecodePayload(&cmd); err != nil {
		return err
	}

	already, err := s.Dedup.ReserveEvent(ctx, env.EventID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	if err := s.Gateway.Refund(ctx, cmd.OrderID, cmd.AccountRef, cmd.AmountCents); err != nil {
		// Refunds are compensations; the saga has already settled. Surface
		// the error so the bus redelivers until the gateway accepts it.
		return err
	}

	logger.Info("payment refunded",
		"event", "payment_refunded",
		"module", "payments/payment-service",
		"layer", "application",
		"order_id", cmd.OrderID,
		"amount_cents", cmd.AmountCents,
	)
	return nil
}

func (s Service) publishResult(ctx context.Context, cause events.Envelope, resultType events.Type, payload events.PaymentResultPayload) error {
	result, err := events.Derive(cause, resultType, payload)
	if err != nil {
		return err
	}
	return s.Publisher.Publish(ctx, events.TopicPayments, result)
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s Service) retryInterval() time.Duration {
	if s.RetryInterval <= 0 {
		return defaultRetryInterval
	}
	return s.RetryInterval
}

func validateCharge(cmd events.ProcessPaymentPayload) error {
	if strings.TrimSpace(cmd.OrderID) == "" || cmd.AmountCents <= 0 {
		return domainerrors.ErrInvalidCommand
	}
	return nil
}
