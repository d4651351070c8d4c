package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"meridian/contexts/notifications/notification-service/ports"
	"meridian/internal/shared/events"
)

const defaultChannel = "email"

// Service turns order outcomes into customer notifications. Delivery is
// idempotent on the triggering event id, so redelivered outcomes send at
// most one message.
type Service struct {
	Notifier  ports.Notifier
	Publisher ports.EventPublisher
	Logger    *slog.Logger
}

// HandleEvent is the bus entry point for the orders, payments, and users
// topics.
func (s Service) HandleEvent(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypeOrderConfirmed:
		return s.notify(ctx, env, "order_confirmed")
	case events.TypeOrderCancelled:
		return s.notify(ctx, env, "order_cancelled")
	case events.TypePaymentProcessed:
		return s.receipt(ctx, env)
	case events.TypeUserRegistered:
		return s.welcome(ctx, env)
	default:
		return nil
	}
}

func (s Service) notify(ctx context.Context, env events.Envelope, template string) error {
	logger := resolveLogger(s.Logger)

	var closed events.OrderClosedPayload
	if err := env.DecodePayload(&closed); err != nil {
		return err
	}

	body := fmt.Sprintf("order %s: %s", closed.OrderID, template)
	if closed.Reason != "" {
		body = fmt.Sprintf("%s (%s)", body, closed.Reason)
	}

	sent, err := s.Notifier.Send(ctx, ports.Notification{
		ID:       env.EventID,
		OrderID:  closed.OrderID,
		Channel:  defaultChannel,
		Template: template,
		Body:     body,
	})
	if err != nil {
		return err
	}
	if !sent {
		return nil
	}

	logger.Info("notification sent",
		"event", "notification_sent",
		"module", "notifications/notification-service",
		"layer", "application",
		"order_id", closed.OrderID,
		"template", template,
	)

	confirmation, err := events.Derive(env, events.TypeNotificationSent, events.NotificationSentPayload{
		OrderID:  closed.OrderID,
		Channel:  defaultChannel,
		Template: template,
	})
	if err != nil {
		return err
	}
	return s.Publisher.Publish(ctx, events.TopicNotifications, confirmation)
}

// receipt sends a payment receipt for a successful charge. The notification
// carries the gateway reference so the customer can quote it to support.
func (s Service) receipt(ctx context.Context, env events.Envelope) error {
	logger := resolveLogger(s.Logger)

	const template = "payment_receipt"

	var result events.PaymentResultPayload
	if err := env.DecodePayload(&result); err != nil {
		return err
	}

	body := fmt.Sprintf("order %s: payment received", result.OrderID)
	if result.Reference != "" {
		body = fmt.Sprintf("%s (ref %s)", body, result.Reference)
	}

	sent, err := s.Notifier.Send(ctx, ports.Notification{
		ID:       env.EventID,
		OrderID:  result.OrderID,
		Channel:  defaultChannel,
		Template: template,
		Body:     body,
	})
	if err != nil {
		return err
	}
	if !sent {
		return nil
	}

	logger.Info("notification sent",
		"event", "notification_sent",
		"module", "notifications/notification-service",
		"layer", "application",
		"order_id", result.OrderID,
		"template", template,
	)

	confirmation, err := events.Derive(env, events.TypeNotificationSent, events.NotificationSentPayload{
		OrderID:  result.OrderID,
		Channel:  defaultChannel,
		Template: template,
	})
	if err != nil {
		return err
	}
	return s.Publisher.Publish(ctx, events.TopicNotifications, confirmation)
}

// welcome greets a freshly registered user.
func (s Service) welcome(ctx context.Context, env events.Envelope) error {
	logger := resolveLogger(s.Logger)

	const template = "welcome"

	var registered events.UserRegisteredPayload
	if err := env.DecodePayload(&registered); err != nil {
		return err
	}

	name := registered.Name
	if name == "" {
		name = registered.Email
	}

	sent, err := s.Notifier.Send(ctx, ports.Notification{
		ID:       env.EventID,
		Channel:  defaultChannel,
		Template: template,
		Body:     fmt.Sprintf("welcome, %s", name),
	})
	if err != nil {
		return err
	}
	if !sent {
		return nil
	}

	logger.Info("notification sent",
		"event", "notification_sent",
		"module", "notifications/notification-service",
		"layer", "application",
		"user_id", registered.UserID,
		"template", template,
	)

	confirmation, err := events.Derive(env, events.TypeNotificationSent, events.NotificationSentPayload{
		Channel:  defaultChannel,
		Template: template,
	})
	if err != nil {
		return err
	}
	return s.Publisher.Publish(ctx, events.TopicNotifications, confirmation)
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
