package workers

import (
	"context"
	"log/slog"
	"time"

	application "meridian/contexts/ordering/order-saga/application"
	"meridian/contexts/ordering/order-saga/ports"
)

const staleSagaBatch = 50

// TimeoutScanner sweeps non-terminal sagas that have not progressed within
// the configured timeout and pushes each one onto the compensation path. A
// saga stuck in Compensating is picked up again, so partially compensated
// sagas eventually settle.
type TimeoutScanner struct {
	Store        ports.SagaStore
	Orchestrator *application.Orchestrator
	Timeout      time.Duration
	Clock        ports.Clock
	Logger       *slog.Logger
}

func (s TimeoutScanner) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}
	cutoff := now.Add(-s.Timeout)

	stale, err := s.Store.ListStale(ctx, cutoff, staleSagaBatch)
	if err != nil {
		logger.Error("stale saga sweep failed",
			"event", "saga_timeout_sweep_failed",
			"module", "ordering/order-saga",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	var swept int
	for _, inst := range stale {
		if err := s.Orchestrator.HandleSagaFailure(ctx, inst.SagaID, inst.State.String(), application.ReasonTimeout); err != nil {
			logger.Error("stale saga compensation failed",
				"event", "saga_timeout_compensation_failed",
				"module", "ordering/order-saga",
				"layer", "worker",
				"saga_id", inst.SagaID,
				"error", err.Error(),
			)
			continue
		}
		swept++
	}

	if swept > 0 {
		logger.Info("stale saga sweep completed",
			"event", "saga_timeout_sweep_completed",
			"module", "ordering/order-saga",
			"layer", "worker",
			"swept_count", swept,
		)
	}
	return nil
}
