package availability

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBadSchedule is returned for malformed schedule or block input.
var ErrBadSchedule = errors.New("invalid schedule input")

// RecurringWindow is a doctor's weekly-recurring bookable time range.
// Start and end are minutes from UTC midnight: local wall-clock input is
// normalized to UTC when the schedule is written, so availability math
// never reasons in local time.
type RecurringWindow struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctorId"`
	DayOfWeek   int       `json:"dayOfWeek"` // Sunday = 0
	StartMinute int       `json:"startMinute"`
	EndMinute   int       `json:"endMinute"`
	Timezone    string    `json:"timezone"`
	IsRecurring bool      `json:"isRecurring"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UnavailabilityBlock is a concrete range during which a doctor cannot be
// booked. BookingID is set when the block is held on behalf of a booking;
// such blocks are released when the booking is cancelled or expired.
type UnavailabilityBlock struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	BookingID *uuid.UUID `json:"bookingId,omitempty"`
	StartTime time.Time  `json:"startTime"`
	EndTime   time.Time  `json:"endTime"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open intervals intersect. Back-to-back
// intervals do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// DayScheduleInput is one weekday's worth of bookable ranges, expressed in
// the doctor's local wall-clock time.
type DayScheduleInput struct {
	DayOfWeek  int              `json:"dayOfWeek"`
	TimeRanges []TimeRangeInput `json:"timeRanges"`
}

// TimeRangeInput is a local "HH:MM" pair.
type TimeRangeInput struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}
