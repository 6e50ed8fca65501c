package booking

import "errors"

var (
	// ErrInvalidSchedule is returned when the requested time is malformed or in the past
	ErrInvalidSchedule = errors.New("scheduled time must be a future instant")

	// ErrNoAvailability is returned when no doctor is free for the requested interval
	ErrNoAvailability = errors.New("no doctor available for the requested time")

	// ErrInvalidPaymentType is returned for an unknown payment type
	ErrInvalidPaymentType = errors.New("invalid payment type")

	// ErrNotFound is returned when the booking does not exist
	ErrNotFound = errors.New("booking not found")

	// ErrInvalidTransition is returned when a lifecycle operation violates the state machine
	ErrInvalidTransition = errors.New("invalid booking state transition")

	// ErrForbidden is returned when the actor is not allowed to act on the booking
	ErrForbidden = errors.New("actor may not modify this booking")
)
