package plans

import (
	"time"

	"github.com/google/uuid"
)

// Package is a purchasable multi-session consultation bundle.
type Package struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	BookingsAllowed int       `json:"bookingsAllowed"`
	PeriodDays      int       `json:"periodDays"`
	PriceCents      int64     `json:"priceCents"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Grant is a patient's purchase of a Package, tracked as remaining session
// credits. It is created inactive and only activated by a verified
// purchase payment; bookings_pending is monotonically non-increasing while
// the grant is active, except for the compensation path when a reserved
// credit's booking could not be created.
type Grant struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patientId"`
	PackageID       uuid.UUID  `json:"packageId"`
	BookingsPending int        `json:"bookingsPending"`
	StartDate       *time.Time `json:"startDate,omitempty"`
	EndDate         *time.Time `json:"endDate,omitempty"`
	IsActive        bool       `json:"isActive"`
	CreatedAt       time.Time  `json:"createdAt"`
}
