package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	domainerrors "meridian/contexts/payments/payment-service/domain/errors"
	"meridian/contexts/payments/payment-service/ports"
)

// DeclinePrefix marks account refs the stub declines, so flows can be
// exercised end to end without a real processor.
const DeclinePrefix = "DECLINE"

// Stub is a deterministic in-process gateway for local runtime and tests.
// Charges succeed unless the account ref carries the decline prefix; the
// whole gateway can be switched unavailable to drive the breaker.
type Stub struct {
	mu          sync.Mutex
	unavailable bool
	charges     map[string]string
	refunds     map[string]int64
}

func NewStub() *Stub {
	return &Stub{
		charges: make(map[string]string),
		refunds: make(map[string]int64),
	}
}

// SetAvailable flips the simulated processor up or down.
func (g *Stub) SetAvailable(available bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unavailable = !available
}

func (g *Stub) Charge(_ context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unavailable {
		return ports.ChargeResult{}, fmt.Errorf("%w: stub gateway down", domainerrors.ErrGatewayUnavailable)
	}
	if strings.HasPrefix(req.AccountRef, DeclinePrefix) {
		return ports.ChargeResult{}, domainerrors.ErrPaymentDeclined
	}

	reference := "ch_" + uuid.NewString()
	g.charges[req.OrderID] = reference
	return ports.ChargeResult{Reference: reference}, nil
}

func (g *Stub) Refund(_ context.Context, orderID, _ string, amountCents int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unavailable {
		return fmt.Errorf("%w: stub gateway down", domainerrors.ErrGatewayUnavailable)
	}
	g.refunds[orderID] = amountCents
	return nil
}

// Refunded is a test helper reporting the refunded amount for an order.
func (g *Stub) Refunded(orderID string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	amount, ok := g.refunds[orderID]
	return amount, ok
}
