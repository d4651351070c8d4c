package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"meridian/contexts/payments/payment-service/adapters/gateway"
	"meridian/contexts/payments/payment-service/adapters/memory"
	"meridian/contexts/payments/payment-service/application"
	"meridian/contexts/payments/payment-service/application/workers"
	"meridian/internal/platform/resilience"
	"meridian/internal/shared/events"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, env)
	return nil
}

func (p *recordingPublisher) byType(eventType events.Type) []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Envelope
	for _, env := range p.published {
		if env.EventType == eventType {
			out = append(out, env)
		}
	}
	return out
}

func breakerConfig() resilience.Config {
	return resilience.Config{
		ConsecutiveFailures:  2,
		FailureRateThreshold: 0.5,
		WindowSize:           4,
		OpenDuration:         30 * time.Second,
		HalfOpenTrials:       1,
	}
}

func newService(t *testing.T) (application.Service, *gateway.Stub, *memory.Store, *recordingPublisher) {
	t.Helper()
	stub := gateway.NewStub()
	store := memory.NewStore()
	publisher := &recordingPublisher{}
	service := application.Service{
		Gateway:       gateway.NewGuarded(stub, resilience.New("payment-gateway", breakerConfig())),
		Dedup:         store,
		Retry:         store,
		Publisher:     publisher,
		RetryInterval: time.Minute,
	}
	return service, stub, store, publisher
}

func chargeCommand(t *testing.T, orderID, accountRef string) events.Envelope {
	t.Helper()
	env, err := events.New(events.TypePaymentProcess, orderID, events.ProcessPaymentPayload{
		OrderID:     orderID,
		AmountCents: 1500,
		AccountRef:  accountRef,
	})
	if err != nil {
		t.Fatalf("build payment.process failed: %v", err)
	}
	return env
}

func TestPaymentChargeSuccess(t *testing.T) {
	service, _, store, publisher := newService(t)

	cmd := chargeCommand(t, "order-pay-1", "acct-1")
	if err := service.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("charge failed: %v", err)
	}

	processed := publisher.byType(events.TypePaymentProcessed)
	if len(processed) != 1 {
		t.Fatalf("expected one payment.processed, got %d", len(processed))
	}
	var result events.PaymentResultPayload
	if err := processed[0].DecodePayload(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Reference == "" {
		t.Fatalf("expected a charge reference")
	}
	if processed[0].CorrelationID != cmd.CorrelationID || processed[0].CausationID != cmd.EventID {
		t.Fatalf("result off the causal chain: %+v", processed[0])
	}
	if store.PendingCount() != 0 {
		t.Fatalf("nothing should be parked on success")
	}
}

func TestPaymentDeclinedPublishesTerminalFailure(t *testing.T) {
	service, _, store, publisher := newService(t)

	cmd := chargeCommand(t, "order-pay-2", gateway.DeclinePrefix+"-acct")
	if err := service.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("declined charge must be acknowledged, got %v", err)
	}

	failed := publisher.byType(events.TypePaymentFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one payment.failed, got %d", len(failed))
	}
	var result events.PaymentResultPayload
	if err := failed[0].DecodePayload(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Reason != events.PaymentReasonDeclined || result.Retryable {
		t.Fatalf("expected terminal decline, got %+v", result)
	}
	if store.PendingCount() != 0 {
		t.Fatalf("declines are terminal, nothing to park")
	}
}

func TestPaymentDuplicateCommandChargesOnce(t *testing.T) {
	service, _, _, publisher := newService(t)

	cmd := chargeCommand(t, "order-pay-3", "acct-3")
	if err := service.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := service.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("duplicate delivery must be acknowledged, got %v", err)
	}
	if got := len(publisher.byType(events.TypePaymentProcessed)); got != 1 {
		t.Fatalf("expected a single charge, got %d results", got)
	}
}

func TestPaymentGatewayDownParksChargeAndSignalsRetryableFailure(t *testing.T) {
	service, stub, store, publisher := newService(t)
	stub.SetAvailable(false)

	cmd := chargeCommand(t, "order-pay-4", "acct-4")
	if err := service.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("fallback path must acknowledge, got %v", err)
	}

	if store.PendingCount() != 1 {
		t.Fatalf("expected the charge to be parked, pending=%d", store.PendingCount())
	}
	failed := publisher.byType(events.TypePaymentFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one payment.failed, got %d", len(failed))
	}
	var result events.PaymentResultPayload
	if err := failed[0].DecodePayload(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Reason != events.PaymentReasonGatewayUnavailable || !result.Retryable {
		t.Fatalf("expected retryable gateway failure, got %+v", result)
	}
}

func TestPaymentOpenBreakerFastFailsWithoutGatewayCall(t *testing.T) {
	service, stub, store, _ := newService(t)
	stub.SetAvailable(false)

	// Two transport failures trip the breaker.
	_ = service.HandleEvent(context.Background(), chargeCommand(t, "order-trip-1", "acct"))
	_ = service.HandleEvent(context.Background(), chargeCommand(t, "order-trip-2", "acct"))

	// The processor recovers, but the breaker is still open: the charge must
	// be parked without reaching the gateway.
	stub.SetAvailable(true)
	cmd := chargeCommand(t, "order-trip-3", "acct")
	if err := service.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("open-breaker fallback must acknowledge, got %v", err)
	}
	if store.PendingCount() != 3 {
		t.Fatalf("expected all three charges parked, pending=%d", store.PendingCount())
	}
}

func TestPaymentRefundCommand(t *testing.T) {
	service, stub, _, _ := newService(t)

	refund, err := events.New(events.TypePaymentRefund, "order-pay-5", events.ProcessPaymentPayload{
		OrderID:     "order-pay-5",
		AmountCents: 1500,
		AccountRef:  "acct-5",
	})
	if err != nil {
		t.Fatalf("build payment.refund failed: %v", err)
	}
	if err := service.HandleEvent(context.Background(), refund); err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if amount, ok := stub.Refunded("order-pay-5"); !ok || amount != 1500 {
		t.Fatalf("expected refund of 1500, got %d (ok=%v)", amount, ok)
	}
}

func TestRetryRelayDrainsParkedChargesOnRecovery(t *testing.T) {
	stub := gateway.NewStub()
	store := memory.NewStore()
	publisher := &recordingPublisher{}
	service := application.Service{
		Gateway:       stub,
		Dedup:         store,
		Retry:         store,
		Publisher:     publisher,
		RetryInterval: time.Millisecond,
	}

	stub.SetAvailable(false)
	cmd := chargeCommand(t, "order-relay-1", "acct-r")
	if err := service.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("parking failed: %v", err)
	}
	if store.PendingCount() != 1 {
		t.Fatalf("expected one parked charge")
	}

	stub.SetAvailable(true)
	relay := workers.RetryRelay{
		Queue:     store,
		Gateway:   stub,
		Publisher: publisher,
		Clock:     memory.SystemClock{},
		Interval:  time.Millisecond,
	}
	time.Sleep(5 * time.Millisecond)
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay sweep failed: %v", err)
	}

	if store.PendingCount() != 0 {
		t.Fatalf("expected queue drained, pending=%d", store.PendingCount())
	}
	processed := publisher.byType(events.TypePaymentProcessed)
	if len(processed) != 1 {
		t.Fatalf("expected one payment.processed from the relay, got %d", len(processed))
	}
	if processed[0].CorrelationID != cmd.CorrelationID {
		t.Fatalf("relay result lost the correlation chain: %+v", processed[0])
	}
}
