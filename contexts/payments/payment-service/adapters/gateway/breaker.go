package gateway

import (
	"context"
	"errors"
	"fmt"

	domainerrors "meridian/contexts/payments/payment-service/domain/errors"
	"meridian/contexts/payments/payment-service/ports"
	"meridian/internal/platform/resilience"
)

// Guarded wraps a gateway with a circuit breaker. Business declines count as
// successful calls for breaker accounting; only transport-level failures
// feed the failure window. An open breaker surfaces as
// ErrGatewayUnavailable so the application layer takes its fallback path.
type Guarded struct {
	Next    ports.Gateway
	Breaker *resilience.Breaker
}

func NewGuarded(next ports.Gateway, breaker *resilience.Breaker) Guarded {
	return Guarded{Next: next, Breaker: breaker}
}

func (g Guarded) Charge(ctx context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	var result ports.ChargeResult
	var declined bool

	err := g.Breaker.Execute(ctx, func(ctx context.Context) error {
		res, err := g.Next.Charge(ctx, req)
		if errors.Is(err, domainerrors.ErrPaymentDeclined) {
			declined = true
			return nil
		}
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if errors.Is(err, resilience.ErrOpen) {
		return ports.ChargeResult{}, fmt.Errorf("%w: %v", domainerrors.ErrGatewayUnavailable, err)
	}
	if err != nil {
		return ports.ChargeResult{}, err
	}
	if declined {
		return ports.ChargeResult{}, domainerrors.ErrPaymentDeclined
	}
	return result, nil
}

func (g Guarded) Refund(ctx context.Context, orderID, accountRef string, amountCents int64) error {
	err := g.Breaker.Execute(ctx, func(ctx context.Context) error {
		return g.Next.Refund(ctx, orderID, accountRef, amountCents)
	})
	if errors.Is(err, resilience.ErrOpen) {
		return fmt.Errorf("%w: %v", domainerrors.ErrGatewayUnavailable, err)
	}
	return err
}
