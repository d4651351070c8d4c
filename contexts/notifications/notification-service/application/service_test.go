package application_test

import (
	"context"
	"sync"
	"testing"

	"meridian/contexts/notifications/notification-service/adapters/memory"
	"meridian/contexts/notifications/notification-service/application"
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

func TestConfirmedOrderNotifiesOnce(t *testing.T) {
	notifier := memory.NewNotifier()
	publisher := &recordingPublisher{}
	service := application.Service{Notifier: notifier, Publisher: publisher}

	confirmed, err := events.New(events.TypeOrderConfirmed, "order-n1", events.OrderClosedPayload{OrderID: "order-n1"})
	if err != nil {
		t.Fatalf("build order.confirmed failed: %v", err)
	}

	if err := service.HandleEvent(context.Background(), confirmed); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if err := service.HandleEvent(context.Background(), confirmed); err != nil {
		t.Fatalf("redelivery must be acknowledged, got %v", err)
	}

	sent := notifier.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sent))
	}
	if sent[0].Template != "order_confirmed" || sent[0].OrderID != "order-n1" {
		t.Fatalf("unexpected notification: %+v", sent[0])
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.published) != 1 || publisher.published[0].EventType != events.TypeNotificationSent {
		t.Fatalf("expected a single notification.sent, got %+v", publisher.published)
	}
}

func TestCancelledOrderCarriesReason(t *testing.T) {
	notifier := memory.NewNotifier()
	service := application.Service{Notifier: notifier, Publisher: &recordingPublisher{}}

	cancelled, err := events.New(events.TypeOrderCancelled, "order-n2", events.OrderClosedPayload{
		OrderID: "order-n2",
		Reason:  "insufficient_stock",
	})
	if err != nil {
		t.Fatalf("build order.cancelled failed: %v", err)
	}
	if err := service.HandleEvent(context.Background(), cancelled); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	sent := notifier.Sent()
	if len(sent) != 1 || sent[0].Template != "order_cancelled" {
		t.Fatalf("unexpected deliveries: %+v", sent)
	}
}

func TestSuccessfulPaymentSendsReceipt(t *testing.T) {
	notifier := memory.NewNotifier()
	service := application.Service{Notifier: notifier, Publisher: &recordingPublisher{}}

	processed, err := events.New(events.TypePaymentProcessed, "order-n4", events.PaymentResultPayload{
		OrderID:   "order-n4",
		Reference: "ch_receipt",
	})
	if err != nil {
		t.Fatalf("build payment.processed failed: %v", err)
	}
	if err := service.HandleEvent(context.Background(), processed); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if err := service.HandleEvent(context.Background(), processed); err != nil {
		t.Fatalf("redelivery must be acknowledged, got %v", err)
	}

	sent := notifier.Sent()
	if len(sent) != 1 || sent[0].Template != "payment_receipt" {
		t.Fatalf("unexpected deliveries: %+v", sent)
	}
	if sent[0].Body != "order order-n4: payment received (ref ch_receipt)" {
		t.Fatalf("unexpected receipt body: %q", sent[0].Body)
	}
}

func TestRegisteredUserIsWelcomed(t *testing.T) {
	notifier := memory.NewNotifier()
	service := application.Service{Notifier: notifier, Publisher: &recordingPublisher{}}

	registered, err := events.New(events.TypeUserRegistered, "user-n5", events.UserRegisteredPayload{
		UserID: "user-n5",
		Email:  "ada@example.com",
		Name:   "Ada",
	})
	if err != nil {
		t.Fatalf("build user.registered failed: %v", err)
	}
	if err := service.HandleEvent(context.Background(), registered); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	sent := notifier.Sent()
	if len(sent) != 1 || sent[0].Template != "welcome" || sent[0].Body != "welcome, Ada" {
		t.Fatalf("unexpected deliveries: %+v", sent)
	}
}

func TestUnrelatedEventsAreIgnored(t *testing.T) {
	notifier := memory.NewNotifier()
	service := application.Service{Notifier: notifier, Publisher: &recordingPublisher{}}

	created, err := events.New(events.TypeOrderCreated, "order-n3", events.OrderCreatedPayload{OrderID: "order-n3"})
	if err != nil {
		t.Fatalf("build order.created failed: %v", err)
	}
	if err := service.HandleEvent(context.Background(), created); err != nil {
		t.Fatalf("unrelated event must be acknowledged, got %v", err)
	}
	if len(notifier.Sent()) != 0 {
		t.Fatalf("unrelated event produced a notification")
	}
}
