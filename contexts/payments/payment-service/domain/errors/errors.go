package errors

import "errors"

var (
	// ErrPaymentDeclined is a business decline from the gateway. The charge
	// ran; the account said no.
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrGatewayUnavailable means the gateway could not be reached, either
	// directly or because the circuit breaker is open. Callers take the
	// fallback path instead of treating it as a decline.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrInvalidCommand marks a payment command whose payload fails
	// validation.
	ErrInvalidCommand = errors.New("invalid payment command")
)
