package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"meridian/contexts/payments/payment-service/ports"
)

// Store is the in-memory event dedup store and retry queue for local runtime
// and tests.
type Store struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	pending map[string]ports.PendingCharge
}

func NewStore() *Store {
	return &Store{
		seen:    make(map[string]struct{}),
		pending: make(map[string]ports.PendingCharge),
	}
}

func (s *Store) ReserveEvent(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[eventID]; ok {
		return true, nil
	}
	s.seen[eventID] = struct{}{}
	return false, nil
}

func (s *Store) Enqueue(_ context.Context, charge ports.PendingCharge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[charge.EventID] = charge
	return nil
}

func (s *Store) ListDue(_ context.Context, now time.Time, limit int) ([]ports.PendingCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 25
	}
	var due []ports.PendingCharge
	for _, charge := range s.pending {
		if charge.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, charge)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) Remove(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, eventID)
	return nil
}

// PendingCount is a test helper.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// SystemClock is the wall-clock implementation of ports.Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
