package errors

import "errors"

var (
	// ErrDuplicateUser signals a registration for a user id or email that
	// already exists.
	ErrDuplicateUser = errors.New("user already registered")

	// ErrInvalidRegistration signals a registration missing required fields.
	ErrInvalidRegistration = errors.New("invalid registration")
)
