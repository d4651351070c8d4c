package memory

import (
	"context"
	"sync"

	"meridian/contexts/notifications/notification-service/ports"
)

// Notifier records notifications in memory, for local runtime and tests.
type Notifier struct {
	mu        sync.Mutex
	delivered map[string]ports.Notification
	order     []string
}

func NewNotifier() *Notifier {
	return &Notifier{delivered: make(map[string]ports.Notification)}
}

func (n *Notifier) Send(_ context.Context, notification ports.Notification) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.delivered[notification.ID]; ok {
		return false, nil
	}
	n.delivered[notification.ID] = notification
	n.order = append(n.order, notification.ID)
	return true, nil
}

// Sent is a test helper returning deliveries in send order.
func (n *Notifier) Sent() []ports.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]ports.Notification, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.delivered[id])
	}
	return out
}
