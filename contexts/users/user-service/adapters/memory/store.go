package memory

import (
	"context"
	"sync"
	"time"

	"meridian/contexts/users/user-service/domain/entities"
	domainerrors "meridian/contexts/users/user-service/domain/errors"
)

// Store is an in-memory user repository.
type Store struct {
	mu      sync.Mutex
	byID    map[string]entities.User
	byEmail map[string]string
}

func NewStore() *Store {
	return &Store{
		byID:    make(map[string]entities.User),
		byEmail: make(map[string]string),
	}
}

func (s *Store) Create(_ context.Context, user entities.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[user.UserID]; exists {
		return domainerrors.ErrDuplicateUser
	}
	if _, exists := s.byEmail[user.Email]; exists {
		return domainerrors.ErrDuplicateUser
	}
	s.byID[user.UserID] = user
	s.byEmail[user.Email] = user.UserID
	return nil
}

func (s *Store) Load(_ context.Context, userID string) (entities.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, found := s.byID[userID]
	return user, found, nil
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
