package errors

import "errors"

var (
	ErrSagaNotFound      = errors.New("saga not found")
	ErrDuplicateSaga     = errors.New("saga already exists")
	ErrVersionConflict   = errors.New("saga version conflict")
	ErrIllegalTransition = errors.New("illegal saga state transition")
	ErrSagaTerminal      = errors.New("saga already in terminal state")
)
