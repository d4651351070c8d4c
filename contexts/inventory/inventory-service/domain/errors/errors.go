package errors

import "errors"

var (
	// ErrReservationNotFound marks a release for an order that holds no
	// reservation.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidCommand marks an inventory command whose payload fails
	// validation.
	ErrInvalidCommand = errors.New("invalid inventory command")
)

// ReasonInsufficientStock is the denial reason when any line cannot be
// covered.
const ReasonInsufficientStock = "insufficient_stock"
