package ordersaga

import (
	"log/slog"
	"time"

	"meridian/contexts/ordering/order-saga/adapters/memory"
	"meridian/contexts/ordering/order-saga/application"
	"meridian/contexts/ordering/order-saga/application/workers"
	"meridian/contexts/ordering/order-saga/ports"
)

// ConsumerGroup is the bus consumer group all orchestrator subscriptions
// share, so order, inventory and payment events are load-balanced across
// worker replicas.
const ConsumerGroup = "order-saga-cg"

// Module is the composition surface for the order saga within Meridian.
// Runtime wiring consumes Orchestrator and TimeoutScanner; Store is exposed
// for tests/inspection.
type Module struct {
	Orchestrator   *application.Orchestrator
	TimeoutScanner workers.TimeoutScanner
	Store          *memory.Store
}

type Dependencies struct {
	Store       ports.SagaStore
	Publisher   ports.EventPublisher
	Clock       ports.Clock
	Metrics     ports.Metrics
	SagaTimeout time.Duration
	Logger      *slog.Logger
}

// NewModule wires the orchestrator and its timeout worker against explicit
// ports.
func NewModule(deps Dependencies) Module {
	orchestrator := application.New(deps.Store, deps.Publisher, deps.Clock, deps.Metrics, deps.Logger)
	scanner := workers.TimeoutScanner{
		Store:        deps.Store,
		Orchestrator: orchestrator,
		Timeout:      deps.SagaTimeout,
		Clock:        deps.Clock,
		Logger:       deps.Logger,
	}
	return Module{Orchestrator: orchestrator, TimeoutScanner: scanner}
}

// NewInMemoryModule wires the orchestrator against the in-memory saga store,
// the developer/runtime bootstrap path until a relational store is selected.
func NewInMemoryModule(publisher ports.EventPublisher, metrics ports.Metrics, sagaTimeout time.Duration, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Store:       store,
		Publisher:   publisher,
		Clock:       memory.SystemClock{},
		Metrics:     metrics,
		SagaTimeout: sagaTimeout,
		Logger:      logger,
	})
	module.Store = store
	return module
}
