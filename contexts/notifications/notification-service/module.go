package notificationservice

import (
	"log/slog"

	"meridian/contexts/notifications/notification-service/adapters/memory"
	"meridian/contexts/notifications/notification-service/application"
	"meridian/contexts/notifications/notification-service/ports"
)

// ConsumerGroup is the bus consumer group for order outcome consumption.
const ConsumerGroup = "notifications-cg"

// Module is the composition surface for the notification service within
// Meridian. Notifier is exposed for tests/inspection.
type Module struct {
	Service  application.Service
	Notifier *memory.Notifier
}

type Dependencies struct {
	Notifier  ports.Notifier
	Publisher ports.EventPublisher
	Logger    *slog.Logger
}

// NewModule wires the notification service against explicit ports.
func NewModule(deps Dependencies) Module {
	return Module{
		Service: application.Service{
			Notifier:  deps.Notifier,
			Publisher: deps.Publisher,
			Logger:    deps.Logger,
		},
	}
}

// NewInMemoryModule wires the notification service against the in-memory
// notifier.
func NewInMemoryModule(publisher ports.EventPublisher, logger *slog.Logger) Module {
	notifier := memory.NewNotifier()
	module := NewModule(Dependencies{
		Notifier:  notifier,
		Publisher: publisher,
		Logger:    logger,
	})
	module.Notifier = notifier
	return module
}
