package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/telehealth-platform/internal/booking"
	"github.com/careline/telehealth-platform/pkg/logging"
)

type stubStore struct {
	windows map[int][]RecurringWindow
	blocks  []UnavailabilityBlock

	replaced []RecurringWindow
	created  *UnavailabilityBlock
	deleted  uuid.UUID
}

func (s *stubStore) ReplaceWeekly(_ context.Context, _ uuid.UUID, windows []RecurringWindow) error {
	s.replaced = windows
	return nil
}

func (s *stubStore) ListWindows(_ context.Context, _ uuid.UUID, dayOfWeek int) ([]RecurringWindow, error) {
	return s.windows[dayOfWeek], nil
}

func (s *stubStore) ListBlocksBetween(_ context.Context, _ uuid.UUID, from, to time.Time) ([]UnavailabilityBlock, error) {
	var out []UnavailabilityBlock
	for _, b := range s.blocks {
		if b.StartTime.Before(to) && from.Before(b.EndTime) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubStore) CreateBlock(_ context.Context, b *UnavailabilityBlock) error {
	s.created = b
	return nil
}

func (s *stubStore) DeleteBlock(_ context.Context, _, blockID uuid.UUID) error {
	s.deleted = blockID
	return nil
}

type stubBookings struct {
	bookings []booking.Booking
}

func (s *stubBookings) ListForDoctorBetween(_ context.Context, _ uuid.UUID, from, to time.Time) ([]booking.Booking, error) {
	var out []booking.Booking
	for i := range s.bookings {
		b := s.bookings[i]
		if b.ScheduledAt.Before(to) && from.Before(b.EndsAt()) {
			out = append(out, b)
		}
	}
	return out, nil
}

type stubDoctors struct {
	ids []uuid.UUID
}

func (s *stubDoctors) ListActiveDoctorIDs(context.Context) ([]uuid.UUID, error) {
	return s.ids, nil
}

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func mondayWindow(doctorID uuid.UUID, startMin, endMin int) RecurringWindow {
	return RecurringWindow{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		DayOfWeek:   1,
		StartMinute: startMin,
		EndMinute:   endMin,
		Timezone:    "UTC",
		IsRecurring: true,
	}
}

func TestListFreeWindows_SlotGrid(t *testing.T) {
	doctorID := uuid.New()
	store := &stubStore{windows: map[int][]RecurringWindow{
		1: {mondayWindow(doctorID, 9*60, 12*60)},
	}}
	svc := NewService(store, &stubBookings{}, nil, 30, logging.Default())

	slots, err := svc.ListFreeWindows(context.Background(), doctorID, monday)
	require.NoError(t, err)
	require.Len(t, slots, 6)

	assert.Equal(t, monday.Add(9*time.Hour), slots[0].Start)
	assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), slots[0].End)
	assert.Equal(t, monday.Add(11*time.Hour+30*time.Minute), slots[5].Start)
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i].Start.After(slots[i-1].Start), "slots must be ordered")
	}
}

func TestListFreeWindows_ExcludesBookedAndBlocked(t *testing.T) {
	doctorID := uuid.New()
	store := &stubStore{
		windows: map[int][]RecurringWindow{
			1: {mondayWindow(doctorID, 9*60, 12*60)},
		},
		blocks: []UnavailabilityBlock{{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			StartTime: monday.Add(11 * time.Hour),
			EndTime:   monday.Add(11*time.Hour + 30*time.Minute),
		}},
	}
	booked := &stubBookings{bookings: []booking.Booking{{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		ScheduledAt:     monday.Add(9*time.Hour + 30*time.Minute),
		DurationMinutes: 30,
		Status:          booking.StatusConfirmed,
	}}}
	svc := NewService(store, booked, nil, 30, logging.Default())

	slots, err := svc.ListFreeWindows(context.Background(), doctorID, monday)
	require.NoError(t, err)
	require.Len(t, slots, 4)
	for _, s := range slots {
		assert.NotEqual(t, monday.Add(9*time.Hour+30*time.Minute), s.Start)
		assert.NotEqual(t, monday.Add(11*time.Hour), s.Start)
	}
}

func TestListFreeWindows_NoScheduleMeansNoSlots(t *testing.T) {
	svc := NewService(&stubStore{windows: map[int][]RecurringWindow{}}, &stubBookings{}, nil, 30, logging.Default())

	slots, err := svc.ListFreeWindows(context.Background(), uuid.New(), monday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestIsFree(t *testing.T) {
	doctorID := uuid.New()
	store := &stubStore{windows: map[int][]RecurringWindow{
		1: {mondayWindow(doctorID, 9*60, 12*60)},
	}}
	booked := &stubBookings{bookings: []booking.Booking{{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		ScheduledAt:     monday.Add(10 * time.Hour),
		DurationMinutes: 30,
		Status:          booking.StatusConfirmed,
	}}}
	svc := NewService(store, booked, nil, 30, logging.Default())
	ctx := context.Background()

	tests := []struct {
		name  string
		start time.Time
		want  bool
	}{
		{"inside window", monday.Add(9 * time.Hour), true},
		{"back to back with booking", monday.Add(10*time.Hour + 30*time.Minute), true},
		{"overlaps booking", monday.Add(10 * time.Hour), false},
		{"before window", monday.Add(8 * time.Hour), false},
		{"spills past window end", monday.Add(11*time.Hour + 45*time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.IsFree(ctx, doctorID, tt.start, 30*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsFree_RejectsNonPositiveDuration(t *testing.T) {
	svc := NewService(&stubStore{}, nil, nil, 30, logging.Default())
	_, err := svc.IsFree(context.Background(), uuid.New(), monday, 0)
	assert.Error(t, err)
}

func TestSetWeeklySchedule_ConvertsLocalToUTC(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store, nil, nil, 30, logging.Default())

	// Asia/Kolkata is UTC+05:30 year round, so 10:00 local is 04:30 UTC.
	windows, err := svc.SetWeeklySchedule(context.Background(), uuid.New(), "Asia/Kolkata", []DayScheduleInput{
		{DayOfWeek: 1, TimeRanges: []TimeRangeInput{{StartTime: "10:00", EndTime: "13:00"}}},
	})
	require.NoError(t, err)
	require.Len(t, windows, 1)

	assert.Equal(t, 4*60+30, windows[0].StartMinute)
	assert.Equal(t, 7*60+30, windows[0].EndMinute)
	assert.Equal(t, "Asia/Kolkata", windows[0].Timezone)
	assert.Len(t, store.replaced, 1)
}

func TestSetWeeklySchedule_Validation(t *testing.T) {
	svc := NewService(&stubStore{}, nil, nil, 30, logging.Default())
	ctx := context.Background()
	doctorID := uuid.New()

	tests := []struct {
		name     string
		timezone string
		days     []DayScheduleInput
	}{
		{"unknown timezone", "Mars/Olympus", nil},
		{"day out of range", "UTC", []DayScheduleInput{{DayOfWeek: 7}}},
		{"empty range", "UTC", []DayScheduleInput{
			{DayOfWeek: 1, TimeRanges: []TimeRangeInput{{StartTime: "10:00", EndTime: "10:00"}}},
		}},
		{"malformed time", "UTC", []DayScheduleInput{
			{DayOfWeek: 1, TimeRanges: []TimeRangeInput{{StartTime: "25:99", EndTime: "26:00"}}},
		}},
		// 04:00-06:00 in Karachi (UTC+5) is 23:00-01:00 UTC: the converted
		// window wraps past UTC midnight.
		{"crosses utc midnight", "Asia/Karachi", []DayScheduleInput{
			{DayOfWeek: 1, TimeRanges: []TimeRangeInput{{StartTime: "04:00", EndTime: "06:00"}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SetWeeklySchedule(ctx, doctorID, tt.timezone, tt.days)
			assert.True(t, errors.Is(err, ErrBadSchedule), "expected ErrBadSchedule, got %v", err)
		})
	}
}

func TestListFreeWindowsAllDoctors_MergesAndDedupes(t *testing.T) {
	docA := uuid.New()
	docB := uuid.New()
	store := &stubStore{windows: map[int][]RecurringWindow{
		1: {
			mondayWindow(docA, 9*60, 10*60),
			mondayWindow(docB, 9*60, 10*60),
		},
	}}
	svc := NewService(store, &stubBookings{}, &stubDoctors{ids: []uuid.UUID{docA, docB}}, 30, logging.Default())

	// Both doctors share the same stub windows, so the merged grid must
	// dedupe identical slot starts.
	slots, err := svc.ListFreeWindowsAllDoctors(context.Background(), monday)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, monday.Add(9*time.Hour), slots[0].Start)
	assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), slots[1].Start)
}

func TestAddBlock(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store, nil, nil, 30, logging.Default())
	doctorID := uuid.New()

	blk, err := svc.AddBlock(context.Background(), doctorID, monday.Add(9*time.Hour), monday.Add(10*time.Hour), "personal")
	require.NoError(t, err)
	assert.Equal(t, doctorID, blk.DoctorID)
	assert.Equal(t, "personal", blk.Reason)
	assert.NotNil(t, store.created)

	_, err = svc.AddBlock(context.Background(), doctorID, monday.Add(10*time.Hour), monday.Add(9*time.Hour), "")
	assert.True(t, errors.Is(err, ErrBadSchedule))
}
