package booking

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// SessionType is the consultation medium.
type SessionType string

const (
	SessionAudio SessionType = "audio"
	SessionVideo SessionType = "video"
)

// Valid reports whether the session type is known.
func (s SessionType) Valid() bool {
	return s == SessionAudio || s == SessionVideo
}

// Type classifies how the booking was made.
type Type string

const (
	TypeNormal    Type = "normal"
	TypeInstant   Type = "instant"
	TypeSpecial   Type = "special"
	TypeRebooking Type = "rebooking"
)

// Valid reports whether the booking type is known.
func (t Type) Valid() bool {
	switch t {
	case TypeNormal, TypeInstant, TypeSpecial, TypeRebooking:
		return true
	}
	return false
}

// PaymentType selects the funding path for a booking.
type PaymentType string

const (
	PaymentOneTime PaymentType = "one_time"
	PaymentPlan    PaymentType = "plan"
)

// Valid reports whether the payment type is known.
func (p PaymentType) Valid() bool {
	return p == PaymentOneTime || p == PaymentPlan
}

// Booking is a scheduled consultation between one patient and one doctor.
// It is the aggregate root of the scheduling engine: the unavailability
// block, transaction and consultation session rows hang off its id.
type Booking struct {
	ID              uuid.UUID   `json:"id"`
	DoctorID        uuid.UUID   `json:"doctorId"`
	PatientID       uuid.UUID   `json:"patientId"`
	ScheduledAt     time.Time   `json:"scheduledAt"`
	DurationMinutes int         `json:"durationMinutes"`
	SessionType     SessionType `json:"sessionType"`
	BookingType     Type        `json:"bookingType"`
	PaymentType     PaymentType `json:"paymentType"`
	AmountCents     int64       `json:"amountCents"`
	IsPaid          bool        `json:"isPaid"`
	Status          Status      `json:"status"`
	PlanGrantID     *uuid.UUID  `json:"planGrantId,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// EndsAt returns the exclusive end of the occupied interval.
func (b *Booking) EndsAt() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}
