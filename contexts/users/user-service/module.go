package userservice

import (
	"log/slog"

	"meridian/contexts/users/user-service/adapters/memory"
	"meridian/contexts/users/user-service/application"
	"meridian/contexts/users/user-service/ports"
)

// Module is the composition surface for the user service within Meridian.
// Store is exposed for tests/inspection.
type Module struct {
	Service application.Service
	Store   *memory.Store
}

type Dependencies struct {
	Users     ports.UserRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	Logger    *slog.Logger
}

// NewModule wires the user service against explicit ports.
func NewModule(deps Dependencies) Module {
	return Module{
		Service: application.Service{
			Users:     deps.Users,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			Logger:    deps.Logger,
		},
	}
}

// NewInMemoryModule wires the user service against the in-memory repository.
func NewInMemoryModule(publisher ports.EventPublisher, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Users:     store,
		Publisher: publisher,
		Clock:     memory.SystemClock{},
		Logger:    logger,
	})
	module.Store = store
	return module
}
