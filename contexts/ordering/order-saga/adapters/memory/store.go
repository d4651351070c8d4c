package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainerrors "meridian/contexts/ordering/order-saga/domain/errors"
	"meridian/contexts/ordering/order-saga/domain/saga"
)

// Store is an in-memory saga store for local runtime and tests. It is not
// intended as production persistence.
type Store struct {
	mu    sync.RWMutex
	sagas map[string]saga.Instance
}

func NewStore() *Store {
	return &Store{sagas: make(map[string]saga.Instance)}
}

func (s *Store) Load(_ context.Context, sagaID string) (saga.Instance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.sagas[sagaID]
	if !ok {
		return saga.Instance{}, false, nil
	}
	return cloneInstance(inst), true, nil
}

func (s *Store) Save(_ context.Context, instance saga.Instance) (saga.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.sagas[instance.SagaID]
	if instance.Version == 0 {
		if exists {
			return saga.Instance{}, domainerrors.ErrDuplicateSaga
		}
	} else {
		if !exists {
			return saga.Instance{}, domainerrors.ErrSagaNotFound
		}
		if stored.Version != instance.Version {
			return saga.Instance{}, domainerrors.ErrVersionConflict
		}
	}

	instance.Version++
	s.sagas[instance.SagaID] = cloneInstance(instance)
	return instance, nil
}

func (s *Store) ListStale(_ context.Context, cutoff time.Time, limit int) ([]saga.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var stale []saga.Instance
	for _, inst := range s.sagas {
		if inst.State.Terminal() {
			continue
		}
		if !inst.UpdatedAt.Before(cutoff) {
			continue
		}
		stale = append(stale, cloneInstance(inst))
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// cloneInstance deep-copies the slices so callers cannot mutate stored state
// behind the lock.
func cloneInstance(inst saga.Instance) saga.Instance {
	out := inst
	out.CompletedSteps = append([]saga.StepRecord(nil), inst.CompletedSteps...)
	out.Compensations = append([]saga.CompensationRecord(nil), inst.Compensations...)
	out.OrderPayload = append([]byte(nil), inst.OrderPayload...)
	return out
}

// SystemClock is the wall-clock implementation of ports.Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
