package paymentservice

import (
	"log/slog"
	"time"

	"meridian/contexts/payments/payment-service/adapters/gateway"
	"meridian/contexts/payments/payment-service/adapters/memory"
	"meridian/contexts/payments/payment-service/application"
	"meridian/contexts/payments/payment-service/application/workers"
	"meridian/contexts/payments/payment-service/ports"
	"meridian/internal/platform/resilience"
)

// ConsumerGroup is the bus consumer group for payment command consumption.
const ConsumerGroup = "payments-cg"

// Module is the composition surface for the payment service within Meridian.
// Runtime wiring consumes Service and RetryRelay; Store and StubGateway are
// exposed for tests/inspection.
type Module struct {
	Service     application.Service
	RetryRelay  workers.RetryRelay
	Store       *memory.Store
	StubGateway *gateway.Stub
}

type Dependencies struct {
	Gateway       ports.Gateway
	Dedup         ports.EventDedupStore
	Retry         ports.RetryQueue
	Publisher     ports.EventPublisher
	Clock         ports.Clock
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// NewModule wires the payment use cases against explicit ports.
func NewModule(deps Dependencies) Module {
	service := application.Service{
		Gateway:       deps.Gateway,
		Dedup:         deps.Dedup,
		Retry:         deps.Retry,
		Publisher:     deps.Publisher,
		Clock:         deps.Clock,
		RetryInterval: deps.RetryInterval,
		Logger:        deps.Logger,
	}
	relay := workers.RetryRelay{
		Queue:     deps.Retry,
		Gateway:   deps.Gateway,
		Publisher: deps.Publisher,
		Clock:     deps.Clock,
		Interval:  deps.RetryInterval,
		Logger:    deps.Logger,
	}
	return Module{Service: service, RetryRelay: relay}
}

// NewInMemoryModule wires the payment service against the stub gateway
// guarded by the given breaker and in-memory stores.
func NewInMemoryModule(publisher ports.EventPublisher, breaker *resilience.Breaker, retryInterval time.Duration, logger *slog.Logger) Module {
	store := memory.NewStore()
	stub := gateway.NewStub()
	module := NewModule(Dependencies{
		Gateway:       gateway.NewGuarded(stub, breaker),
		Dedup:         store,
		Retry:         store,
		Publisher:     publisher,
		Clock:         memory.SystemClock{},
		RetryInterval: retryInterval,
		Logger:        logger,
	})
	module.Store = store
	module.StubGateway = stub
	return module
}
