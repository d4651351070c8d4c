package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"meridian/internal/shared/events"
)

func mustEnvelope(t *testing.T, eventType events.Type, aggregateID string) events.Envelope {
	t.Helper()
	env, err := events.New(eventType, aggregateID, events.OrderClosedPayload{OrderID: aggregateID})
	if err != nil {
		t.Fatalf("new envelope failed: %v", err)
	}
	return env
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestInProcessBusPreservesPerAggregateOrder(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	err := bus.Subscribe("orders", "cg", "c1", func(_ context.Context, env events.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env.EventID)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	var want []string
	for i := 0; i < 20; i++ {
		env := mustEnvelope(t, events.TypeOrderCreated, "order-ordered")
		want = append(want, env.EventID)
		if err := bus.Publish(context.Background(), "orders", env); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	})

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order broken at %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestInProcessBusBroadcastsAcrossGroups(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	var mu sync.Mutex
	counts := map[string]int{}
	for _, group := range []string{"cg-a", "cg-b"} {
		group := group
		err := bus.Subscribe("orders", group, "c1", func(_ context.Context, _ events.Envelope) error {
			mu.Lock()
			defer mu.Unlock()
			counts[group]++
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	if err := bus.Publish(context.Background(), "orders", mustEnvelope(t, events.TypeOrderCreated, "order-b")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["cg-a"] == 1 && counts["cg-b"] == 1
	})
}

func TestInProcessBusLoadBalancesWithinGroup(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	var mu sync.Mutex
	total := 0
	perConsumer := map[string]int{}
	for _, name := range []string{"c1", "c2"} {
		name := name
		err := bus.Subscribe("orders", "cg", name, func(_ context.Context, _ events.Envelope) error {
			mu.Lock()
			defer mu.Unlock()
			total++
			perConsumer[name]++
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	for i := 0; i < 40; i++ {
		env := mustEnvelope(t, events.TypeOrderCreated, fmt.Sprintf("order-%d", i))
		if err := bus.Publish(context.Background(), "orders", env); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 40
	})

	mu.Lock()
	defer mu.Unlock()
	if perConsumer["c1"] == 0 || perConsumer["c2"] == 0 {
		t.Fatalf("expected both consumers to receive work, got %v", perConsumer)
	}
	if perConsumer["c1"]+perConsumer["c2"] != 40 {
		t.Fatalf("expected each event handled exactly once within the group, got %v", perConsumer)
	}
}

func TestInProcessBusDuplicateSubscribeIsNoOp(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	handler := func(_ context.Context, _ events.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	}
	if err := bus.Subscribe("orders", "cg", "c1", handler); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := bus.Subscribe("orders", "cg", "c1", handler); err != nil {
		t.Fatalf("duplicate subscribe should be a no-op, got %v", err)
	}

	if err := bus.Publish(context.Background(), "orders", mustEnvelope(t, events.TypeOrderCreated, "order-dup")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one delivery, got %d", count)
	}
}

func TestInProcessBusRedeliversThenDeadLetters(t *testing.T) {
	sink := NewMemoryDeadLetterSink()
	bus := NewInProcessBus(
		WithMaxDeliveries(3),
		WithRedeliveryDelay(time.Millisecond),
		WithDeadLetterSink(sink),
	)
	defer bus.Close()

	var mu sync.Mutex
	attempts := 0
	err := bus.Subscribe("orders", "cg", "c1", func(_ context.Context, _ events.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("handler broken")
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), "orders", mustEnvelope(t, events.TypeOrderCreated, "order-poison")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(sink.Letters()) == 1
	})

	mu.Lock()
	if attempts != 3 {
		mu.Unlock()
		t.Fatalf("expected 3 delivery attempts, got %d", attempts)
	}
	mu.Unlock()

	letter := sink.Letters()[0]
	if letter.Reason != ReasonMaxRedelivered {
		t.Fatalf("expected reason %q, got %q", ReasonMaxRedelivered, letter.Reason)
	}
	if letter.Topic != "orders" || letter.Group != "cg" {
		t.Fatalf("unexpected dead letter origin: %+v", letter)
	}
}

func TestInProcessBusDeadLettersUndecodableWithoutInvokingHandler(t *testing.T) {
	sink := NewMemoryDeadLetterSink()
	bus := NewInProcessBus(WithDeadLetterSink(sink))
	defer bus.Close()

	var mu sync.Mutex
	invoked := 0
	err := bus.Subscribe("orders", "cg", "c1", func(_ context.Context, _ events.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		invoked++
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.PublishRaw(context.Background(), "orders", "order-raw", []byte("{broken")); err != nil {
		t.Fatalf("publish raw failed: %v", err)
	}
	unknown := []byte(`{"eventId":"evt-1","eventType":"order.teleported","aggregateId":"order-raw"}`)
	if err := bus.PublishRaw(context.Background(), "orders", "order-raw", unknown); err != nil {
		t.Fatalf("publish raw failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(sink.Letters()) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if invoked != 0 {
		t.Fatalf("handler must not run for poison messages, ran %d times", invoked)
	}

	reasons := map[string]bool{}
	for _, letter := range sink.Letters() {
		reasons[letter.Reason] = true
	}
	if !reasons[ReasonUndecodable] || !reasons[ReasonUnknownType] {
		t.Fatalf("expected undecodable and unknown-type reasons, got %v", reasons)
	}
}

func TestInProcessBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	err := bus.Subscribe("orders", "cg", "c1", func(_ context.Context, _ events.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), "orders", mustEnvelope(t, events.TypeOrderCreated, "order-u1")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	bus.Unsubscribe("orders", "cg", "c1")
	if err := bus.Publish(context.Background(), "orders", mustEnvelope(t, events.TypeOrderCreated, "order-u2")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestInProcessBusPublishAfterClose(t *testing.T) {
	bus := NewInProcessBus()
	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	err := bus.Publish(context.Background(), "orders", mustEnvelope(t, events.TypeOrderCreated, "order-c"))
	if !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
	if err := bus.Subscribe("orders", "cg", "c1", func(context.Context, events.Envelope) error { return nil }); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed on subscribe, got %v", err)
	}
}
