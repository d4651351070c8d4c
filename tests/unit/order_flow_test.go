package unit

import (
	"context"
	"testing"
	"time"

	inventoryservice "meridian/contexts/inventory/inventory-service"
	notificationservice "meridian/contexts/notifications/notification-service"
	ordersaga "meridian/contexts/ordering/order-saga"
	"meridian/contexts/ordering/order-saga/domain/saga"
	paymentservice "meridian/contexts/payments/payment-service"
	userservice "meridian/contexts/users/user-service"
	userapp "meridian/contexts/users/user-service/application"
	"meridian/internal/platform/messaging"
	"meridian/internal/platform/resilience"
	"meridian/internal/shared/events"
)

type fixture struct {
	bus          *messaging.InProcessBus
	saga         ordersaga.Module
	payment      paymentservice.Module
	inventory    inventoryservice.Module
	notification notificationservice.Module
	users        userservice.Module
}

func newFixture(t *testing.T, stock map[string]int) *fixture {
	t.Helper()

	bus := messaging.NewInProcessBus(
		messaging.WithMaxDeliveries(3),
		messaging.WithRedeliveryDelay(time.Millisecond),
	)
	t.Cleanup(func() { _ = bus.Close() })

	publisher := messaging.RetryingPublisher{
		Next:            bus,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}

	breaker := resilience.New("payment-gateway", resilience.DefaultConfig())
	f := &fixture{
		bus:          bus,
		saga:         ordersaga.NewInMemoryModule(publisher, nil, 5*time.Minute, nil),
		payment:      paymentservice.NewInMemoryModule(publisher, breaker, time.Minute, nil),
		inventory:    inventoryservice.NewInMemoryModule(stock, publisher, nil),
		notification: notificationservice.NewInMemoryModule(publisher, nil),
		users:        userservice.NewInMemoryModule(publisher, nil),
	}

	subscriptions := []struct {
		topic   string
		group   string
		handler messaging.Handler
	}{
		{events.TopicOrders, ordersaga.ConsumerGroup, f.saga.Orchestrator.HandleEvent},
		{events.TopicInventory, ordersaga.ConsumerGroup, f.saga.Orchestrator.HandleEvent},
		{events.TopicPayments, ordersaga.ConsumerGroup, f.saga.Orchestrator.HandleEvent},
		{events.TopicInventory, inventoryservice.ConsumerGroup, f.inventory.Service.HandleEvent},
		{events.TopicPayments, paymentservice.ConsumerGroup, f.payment.Service.HandleEvent},
		{events.TopicOrders, notificationservice.ConsumerGroup, f.notification.Service.HandleEvent},
		{events.TopicPayments, notificationservice.ConsumerGroup, f.notification.Service.HandleEvent},
		{events.TopicUsers, notificationservice.ConsumerGroup, f.notification.Service.HandleEvent},
	}
	for _, sub := range subscriptions {
		if err := bus.Subscribe(sub.topic, sub.group, "worker", sub.handler); err != nil {
			t.Fatalf("subscribe %s/%s failed: %v", sub.topic, sub.group, err)
		}
	}
	return f
}

func (f *fixture) placeOrder(t *testing.T, orderID, accountRef string, items []events.OrderItem, amountCents int64) {
	t.Helper()
	created, err := events.New(events.TypeOrderCreated, orderID, events.OrderCreatedPayload{
		OrderID:     orderID,
		UserID:      "user-flow",
		Items:       items,
		AmountCents: amountCents,
		AccountRef:  accountRef,
	})
	if err != nil {
		t.Fatalf("build order.created failed: %v", err)
	}
	if err := f.bus.Publish(context.Background(), events.TopicOrders, created); err != nil {
		t.Fatalf("publish order.created failed: %v", err)
	}
}

func (f *fixture) waitForSagaState(t *testing.T, orderID string, want saga.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last saga.State
	for time.Now().Before(deadline) {
		inst, found, err := f.saga.Store.Load(context.Background(), orderID)
		if err != nil {
			t.Fatalf("load saga failed: %v", err)
		}
		if found {
			last = inst.State
			if inst.State == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("saga %s never reached %s, last state %s", orderID, want, last)
}

func TestOrderFlowHappyPath(t *testing.T) {
	f := newFixture(t, map[string]int{"SKU-STD": 10})

	f.placeOrder(t, "O1", "acct-flow", []events.OrderItem{{SKU: "SKU-STD", Quantity: 2}}, 2599)
	f.waitForSagaState(t, "O1", saga.StateCompleted)

	// Stock stays held for the confirmed order.
	level, _ := f.inventory.Store.Level("SKU-STD")
	if level.Available != 8 || level.Reserved != 2 {
		t.Fatalf("expected 8 available / 2 reserved, got %+v", level)
	}

	// The customer gets a payment receipt and an order confirmation, once
	// each. Receipt and confirmation travel on different topics, so their
	// relative order is not fixed.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.notification.Notifier.Sent()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent := f.notification.Notifier.Sent()
	templates := make(map[string]int, len(sent))
	for _, n := range sent {
		templates[n.Template]++
	}
	if len(sent) != 2 || templates["payment_receipt"] != 1 || templates["order_confirmed"] != 1 {
		t.Fatalf("expected one payment_receipt and one order_confirmed, got %+v", sent)
	}
}

func TestOrderFlowInsufficientStockCancelsOrder(t *testing.T) {
	f := newFixture(t, map[string]int{"SKU-STD": 1})

	f.placeOrder(t, "O2", "acct-flow", []events.OrderItem{{SKU: "SKU-STD", Quantity: 5}}, 9999)
	f.waitForSagaState(t, "O2", saga.StateFailed)

	level, _ := f.inventory.Store.Level("SKU-STD")
	if level.Available != 1 || level.Reserved != 0 {
		t.Fatalf("denied order must not hold stock, got %+v", level)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.notification.Notifier.Sent()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent := f.notification.Notifier.Sent()
	if len(sent) != 1 || sent[0].Template != "order_cancelled" {
		t.Fatalf("expected one order_cancelled notification, got %+v", sent)
	}
}

func TestOrderFlowDeclinedPaymentReleasesStock(t *testing.T) {
	f := newFixture(t, map[string]int{"SKU-STD": 10})

	f.placeOrder(t, "O3", "DECLINE-acct", []events.OrderItem{{SKU: "SKU-STD", Quantity: 4}}, 4400)
	f.waitForSagaState(t, "O3", saga.StateCompensated)

	// The compensation released the hold.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		level, _ := f.inventory.Store.Level("SKU-STD")
		if level.Available == 10 && level.Reserved == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	level, _ := f.inventory.Store.Level("SKU-STD")
	t.Fatalf("expected stock restored after compensation, got %+v", level)
}

func TestOrderFlowGatewayOutageCompensatesAndParksCharge(t *testing.T) {
	f := newFixture(t, map[string]int{"SKU-STD": 10})
	f.payment.StubGateway.SetAvailable(false)

	f.placeOrder(t, "O4", "acct-flow", []events.OrderItem{{SKU: "SKU-STD", Quantity: 1}}, 500)
	f.waitForSagaState(t, "O4", saga.StateCompensated)

	if f.payment.Store.PendingCount() != 1 {
		t.Fatalf("expected the charge parked for retry, pending=%d", f.payment.Store.PendingCount())
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		level, _ := f.inventory.Store.Level("SKU-STD")
		if level.Available == 10 && level.Reserved == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	level, _ := f.inventory.Store.Level("SKU-STD")
	t.Fatalf("expected stock restored after outage compensation, got %+v", level)
}

func TestOrderFlowIndependentOrdersProceedInParallel(t *testing.T) {
	f := newFixture(t, map[string]int{"SKU-STD": 100})

	for i := 0; i < 5; i++ {
		f.placeOrder(t, "O-par-"+string(rune('a'+i)), "acct-flow", []events.OrderItem{{SKU: "SKU-STD", Quantity: 1}}, 100)
	}
	for i := 0; i < 5; i++ {
		f.waitForSagaState(t, "O-par-"+string(rune('a'+i)), saga.StateCompleted)
	}

	level, _ := f.inventory.Store.Level("SKU-STD")
	if level.Available != 95 || level.Reserved != 5 {
		t.Fatalf("expected 95 available / 5 reserved, got %+v", level)
	}
}

func TestUserRegistrationSendsWelcome(t *testing.T) {
	f := newFixture(t, map[string]int{"SKU-STD": 1})

	err := f.users.Service.Register(context.Background(), userapp.RegisterCommand{
		UserID: "U-flow",
		Email:  "flow@example.com",
		Name:   "Flow",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.notification.Notifier.Sent()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent := f.notification.Notifier.Sent()
	if len(sent) != 1 || sent[0].Template != "welcome" {
		t.Fatalf("expected one welcome notification, got %+v", sent)
	}
}
