package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/internal/booking"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// Store is the persistence surface the service needs.
type Store interface {
	ReplaceWeekly(ctx context.Context, doctorID uuid.UUID, windows []RecurringWindow) error
	ListWindows(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]RecurringWindow, error)
	ListBlocksBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]UnavailabilityBlock, error)
	CreateBlock(ctx context.Context, b *UnavailabilityBlock) error
	DeleteBlock(ctx context.Context, doctorID, blockID uuid.UUID) error
}

// BookingSource lists the bookings occupying a doctor's time.
type BookingSource interface {
	ListForDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]booking.Booking, error)
}

// DoctorSource enumerates the bookable doctor population.
type DoctorSource interface {
	ListActiveDoctorIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Service answers "is doctor D free at instant T for duration L" and
// produces the free-slot grid for a date. Free time is the doctor's
// recurring window for the weekday minus unavailability blocks and the
// occupied intervals of non-terminal bookings, on a fixed slot grid.
type Service struct {
	store       Store
	bookings    BookingSource
	doctors     DoctorSource
	slotMinutes int
	logger      *logging.Logger
}

// NewService constructs an availability service.
func NewService(store Store, bookings BookingSource, doctors DoctorSource, slotMinutes int, logger *logging.Logger) *Service {
	if store == nil {
		panic("availability: store required")
	}
	if slotMinutes <= 0 {
		slotMinutes = 30
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:       store,
		bookings:    bookings,
		doctors:     doctors,
		slotMinutes: slotMinutes,
		logger:      logger,
	}
}

// SetWeeklySchedule replaces the doctor's recurring schedule. Local
// wall-clock ranges are normalized to UTC minutes using the supplied IANA
// timezone before they are stored.
//
// Each range must stay within a single UTC day after conversion: a range
// whose UTC image wraps past midnight (04:00-06:00 in UTC+5 is 23:00-01:00
// UTC) is rejected, since stored windows are keyed to one day-of-week.
// Doctors in such offsets split the range at the UTC boundary.
func (s *Service) SetWeeklySchedule(ctx context.Context, doctorID uuid.UUID, timezone string, entries []DayScheduleInput) ([]RecurringWindow, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrBadSchedule, timezone)
	}

	var windows []RecurringWindow
	for _, day := range entries {
		if day.DayOfWeek < 0 || day.DayOfWeek > 6 {
			return nil, fmt.Errorf("%w: day of week %d out of range", ErrBadSchedule, day.DayOfWeek)
		}
		for _, tr := range day.TimeRanges {
			startMin, err := localToUTCMinute(tr.StartTime, loc)
			if err != nil {
				return nil, err
			}
			endMin, err := localToUTCMinute(tr.EndTime, loc)
			if err != nil {
				return nil, err
			}
			if startMin >= endMin {
				return nil, fmt.Errorf("%w: range %s-%s is empty or crosses UTC midnight", ErrBadSchedule, tr.StartTime, tr.EndTime)
			}
			windows = append(windows, RecurringWindow{
				ID:          uuid.New(),
				DoctorID:    doctorID,
				DayOfWeek:   day.DayOfWeek,
				StartMinute: startMin,
				EndMinute:   endMin,
				Timezone:    timezone,
				IsRecurring: true,
			})
		}
	}

	if err := s.store.ReplaceWeekly(ctx, doctorID, windows); err != nil {
		return nil, err
	}
	s.logger.Info("weekly schedule replaced", "doctor_id", doctorID, "windows", len(windows))
	return windows, nil
}

// IsFree reports whether the doctor can take a consultation starting at
// start for the given duration. The answer is advisory: booking creation
// re-checks atomically at commit time.
func (s *Service) IsFree(ctx context.Context, doctorID uuid.UUID, start time.Time, duration time.Duration) (bool, error) {
	if duration <= 0 {
		return false, fmt.Errorf("availability: non-positive duration")
	}
	start = start.UTC()
	end := start.Add(duration)

	startMin := start.Hour()*60 + start.Minute()
	endMin := startMin + int(duration.Minutes())
	if endMin > 24*60 {
		// Consultations never span UTC midnight.
		return false, nil
	}

	windows, err := s.store.ListWindows(ctx, doctorID, int(start.Weekday()))
	if err != nil {
		return false, err
	}
	covered := false
	for _, w := range windows {
		if w.StartMinute <= startMin && endMin <= w.EndMinute {
			covered = true
			break
		}
	}
	if !covered {
		return false, nil
	}

	blocks, err := s.store.ListBlocksBetween(ctx, doctorID, start, end)
	if err != nil {
		return false, err
	}
	if len(blocks) > 0 {
		return false, nil
	}

	if s.bookings != nil {
		occupied, err := s.bookings.ListForDoctorBetween(ctx, doctorID, start, end)
		if err != nil {
			return false, err
		}
		if len(occupied) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// ListFreeWindows returns the ordered free slot grid for the doctor on the
// given date (interpreted in UTC).
func (s *Service) ListFreeWindows(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Interval, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	windows, err := s.store.ListWindows(ctx, doctorID, int(dayStart.Weekday()))
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, nil
	}

	blocks, err := s.store.ListBlocksBetween(ctx, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	var occupied []booking.Booking
	if s.bookings != nil {
		occupied, err = s.bookings.ListForDoctorBetween(ctx, doctorID, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
	}

	slot := time.Duration(s.slotMinutes) * time.Minute
	var free []Interval
	for _, w := range windows {
		for m := w.StartMinute; m+s.slotMinutes <= w.EndMinute; m += s.slotMinutes {
			candidate := Interval{
				Start: dayStart.Add(time.Duration(m) * time.Minute),
				End:   dayStart.Add(time.Duration(m)*time.Minute + slot),
			}
			if overlapsAny(candidate, blocks, occupied) {
				continue
			}
			free = append(free, candidate)
		}
	}

	sort.Slice(free, func(i, j int) bool { return free[i].Start.Before(free[j].Start) })
	return free, nil
}

// ListFreeWindowsAllDoctors merges the free grids of every active doctor,
// deduplicated, for the date-only availability query.
func (s *Service) ListFreeWindowsAllDoctors(ctx context.Context, date time.Time) ([]Interval, error) {
	if s.doctors == nil {
		return nil, fmt.Errorf("availability: doctor source not configured")
	}
	ids, err := s.doctors.ListActiveDoctorIDs(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[time.Time]Interval)
	for _, id := range ids {
		slots, err := s.ListFreeWindows(ctx, id, date)
		if err != nil {
			return nil, err
		}
		for _, iv := range slots {
			seen[iv.Start] = iv
		}
	}

	merged := make([]Interval, 0, len(seen))
	for _, iv := range seen {
		merged = append(merged, iv)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start.Before(merged[j].Start) })
	return merged, nil
}

// AddBlock records a manual unavailability range for the doctor.
func (s *Service) AddBlock(ctx context.Context, doctorID uuid.UUID, start, end time.Time, reason string) (*UnavailabilityBlock, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: block end must follow start", ErrBadSchedule)
	}
	b := &UnavailabilityBlock{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Reason:    reason,
	}
	if err := s.store.CreateBlock(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// RemoveBlock deletes a manual block.
func (s *Service) RemoveBlock(ctx context.Context, doctorID, blockID uuid.UUID) error {
	return s.store.DeleteBlock(ctx, doctorID, blockID)
}

func overlapsAny(candidate Interval, blocks []UnavailabilityBlock, occupied []booking.Booking) bool {
	for _, blk := range blocks {
		if candidate.Overlaps(Interval{Start: blk.StartTime, End: blk.EndTime}) {
			return true
		}
	}
	for i := range occupied {
		b := &occupied[i]
		if candidate.Overlaps(Interval{Start: b.ScheduledAt, End: b.EndsAt()}) {
			return true
		}
	}
	return false
}

// localToUTCMinute converts a local "HH:MM" to minutes from UTC midnight.
// The zone offset is taken at a fixed reference date.
func localToUTCMinute(hhmm string, loc *time.Location) (int, error) {
	t, err := time.ParseInLocation("15:04", hhmm, loc)
	if err != nil {
		return 0, fmt.Errorf("%w: bad time %q", ErrBadSchedule, hhmm)
	}
	ref := time.Date(2000, 1, 3, t.Hour(), t.Minute(), 0, 0, loc).UTC()
	return ref.Hour()*60 + ref.Minute(), nil
}
