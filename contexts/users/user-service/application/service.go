package application

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"meridian/contexts/users/user-service/domain/entities"
	domainerrors "meridian/contexts/users/user-service/domain/errors"
	"meridian/contexts/users/user-service/ports"
	"meridian/internal/shared/events"
)

// RegisterCommand carries a registration request.
type RegisterCommand struct {
	UserID string
	Email  string
	Name   string
}

// Service registers users and announces them on the bus. The HTTP surface
// that would normally accept registrations is out of scope; callers invoke
// Register directly.
type Service struct {
	Users     ports.UserRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	Logger    *slog.Logger
}

// Register stores the user and publishes user.registered. Registering the
// same user id twice returns ErrDuplicateUser without a second event.
func (s Service) Register(ctx context.Context, cmd RegisterCommand) error {
	logger := resolveLogger(s.Logger)

	if cmd.UserID == "" || !strings.Contains(cmd.Email, "@") {
		return domainerrors.ErrInvalidRegistration
	}

	user := entities.User{
		UserID:    cmd.UserID,
		Email:     cmd.Email,
		Name:      cmd.Name,
		CreatedAt: s.Clock.Now(),
	}
	if err := s.Users.Create(ctx, user); err != nil {
		return err
	}

	logger.Info("user registered",
		"event", "user_registered",
		"module", "users/user-service",
		"layer", "application",
		"user_id", cmd.UserID,
	)

	registered, err := events.New(events.TypeUserRegistered, cmd.UserID, events.UserRegisteredPayload{
		UserID: cmd.UserID,
		Email:  cmd.Email,
		Name:   cmd.Name,
	})
	if err != nil {
		return err
	}
	return s.Publisher.Publish(ctx, events.TopicUsers, registered)
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
