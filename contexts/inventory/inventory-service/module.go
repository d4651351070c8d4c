package inventoryservice

import (
	"log/slog"

	"meridian/contexts/inventory/inventory-service/adapters/memory"
	"meridian/contexts/inventory/inventory-service/application"
	"meridian/contexts/inventory/inventory-service/ports"
)

// ConsumerGroup is the bus consumer group for inventory command consumption.
const ConsumerGroup = "inventory-cg"

// Module is the composition surface for the inventory service within
// Meridian. Runtime wiring consumes Service; Store is exposed for
// tests/inspection.
type Module struct {
	Service application.Service
	Store   *memory.StockStore
}

type Dependencies struct {
	Stock     ports.StockRepository
	Publisher ports.EventPublisher
	Logger    *slog.Logger
}

// NewModule wires the inventory service against explicit ports.
func NewModule(deps Dependencies) Module {
	return Module{
		Service: application.Service{
			Stock:     deps.Stock,
			Publisher: deps.Publisher,
			Logger:    deps.Logger,
		},
	}
}

// NewInMemoryModule wires the inventory service against in-memory stock
// seeded per SKU.
func NewInMemoryModule(seed map[string]int, publisher ports.EventPublisher, logger *slog.Logger) Module {
	store := memory.NewStockStore(seed)
	module := NewModule(Dependencies{
		Stock:     store,
		Publisher: publisher,
		Logger:    logger,
	})
	module.Store = store
	return module
}
