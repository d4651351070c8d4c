package application

import (
	"context"
	"io"
	"log/slog"
	"strings"

	domainerrors "meridian/contexts/inventory/inventory-service/domain/errors"
	"meridian/contexts/inventory/inventory-service/ports"
	"meridian/internal/shared/events"
)

// Service consumes inventory commands. Reserve commands grant or deny a hold
// and publish the outcome; release commands return held stock. Idempotency
// lives in the repository, keyed by order id, so redelivery republishes the
// original outcome.
type Service struct {
	Stock     ports.StockRepository
	Publisher ports.EventPublisher
	Logger    *slog.Logger
}

// HandleEvent is the bus entry point for the inventory topic.
func (s Service) HandleEvent(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypeInventoryReserve:
		return s.reserve(ctx, env)
	case events.TypeInventoryRelease:
		return s.release(ctx, env)
	default:
		return nil
	}
}

func (s Service) reserve(ctx context.Context, env events.Envelope) error {
	logger := resolveLogger(s.Logger)

	var cmd events.ReserveInventoryPayload
	if err := env.DecodePayload(&cmd); err != nil {
		return err
	}
	if strings.TrimSpace(cmd.OrderID) == "" || len(cmd.Items) == 0 {
		return domainerrors.ErrInvalidCommand
	}

	reservation, err := s.Stock.Reserve(ctx, cmd.OrderID, cmd.Items)
	if err != nil {
		return err
	}

	if reservation.Granted {
		logger.Info("stock reserved",
			"event", "inventory_reserved",
			"module", "inventory/inventory-service",
			"layer", "application",
			"order_id", cmd.OrderID,
			"lines", len(cmd.Items),
		)
		result, err := events.Derive(env, events.TypeInventoryReserved, events.InventoryResultPayload{
			OrderID: cmd.OrderID,
		})
		if err != nil {
			return err
		}
		return s.Publisher.Publish(ctx, events.TopicInventory, result)
	}

	logger.Info("stock reservation denied",
		"event", "inventory_reservation_denied",
		"module", "inventory/inventory-service",
		"layer", "application",
		"order_id", cmd.OrderID,
		"reason", reservation.Reason,
	)
	result, err := events.Derive(env, events.TypeInventoryReservationDenied, events.InventoryResultPayload{
		OrderID: cmd.OrderID,
		Reason:  reservation.Reason,
	})
	if err != nil {
		return err
	}
	return s.Publisher.Publish(ctx, events.TopicInventory, result)
}

func (s Service) release(ctx context.Context, env events.Envelope) error {
	logger := resolveLogger(s.Logger)

	var cmd events.ReserveInventoryPayload
	if err := env.DecodePayload(&cmd); err != nil {
		return err
	}
	if strings.TrimSpace(cmd.OrderID) == "" {
		return domainerrors.ErrInvalidCommand
	}

	released, err := s.Stock.Release(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if !released {
		// Duplicate release or a release for a denied reservation; nothing
		// to publish.
		return nil
	}

	logger.Info("stock released",
		"event", "inventory_released",
		"module", "inventory/inventory-service",
		"layer", "application",
		"order_id", cmd.OrderID,
	)
	result, err := events.Derive(env, events.TypeInventoryReleased, events.InventoryResultPayload{
		OrderID: cmd.OrderID,
	})
	if err != nil {
		return err
	}
	return s.Publisher.Publish(ctx, events.TopicInventory, result)
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
