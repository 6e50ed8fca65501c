package plans

import "errors"

var (
	// ErrPackageNotFound is returned when the package does not exist or is retired
	ErrPackageNotFound = errors.New("plan package not found")

	// ErrGrantNotFound is returned when the grant does not exist
	ErrGrantNotFound = errors.New("plan grant not found")

	// ErrNoActivePlan is returned when the patient holds no active plan grant
	ErrNoActivePlan = errors.New("no active plan for patient")

	// ErrPlanExhausted is returned when the patient's plan has no credits left
	ErrPlanExhausted = errors.New("plan has no remaining bookings")

	// ErrTooSoon is returned when the minimum-interval rule rejects the booking
	ErrTooSoon = errors.New("minimum interval between plan bookings not met")
)
