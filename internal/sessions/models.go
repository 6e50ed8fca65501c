// Package sessions tracks the live consultation attached to a confirmed
// booking: who has joined, when it started and how long it ran.
package sessions

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when no session exists for the booking.
var ErrSessionNotFound = errors.New("consultation session not found")

// ErrSessionClosed is returned when a signal arrives for an ended session.
var ErrSessionClosed = errors.New("consultation session already ended")

// Status is the lifecycle state of a consultation session.
type Status string

const (
	StatusPending Status = "pending" // created at booking confirmation
	StatusActive  Status = "active"  // at least one party connected
	StatusEnded   Status = "ended"
)

// Session is the per-booking consultation record. DurationSeconds is
// derived at end time from StartedAt.
type Session struct {
	ID              uuid.UUID  `json:"id"`
	BookingID       uuid.UUID  `json:"bookingId"`
	Status          Status     `json:"status"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	PatientJoinedAt *time.Time `json:"patientJoinedAt,omitempty"`
	DoctorJoinedAt  *time.Time `json:"doctorJoinedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
