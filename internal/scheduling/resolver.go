// Package scheduling assigns a doctor to a booking request.
package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/internal/booking"
	"github.com/careline/telehealth-platform/internal/directory"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// AvailabilityChecker answers whether a doctor is free for an interval.
type AvailabilityChecker interface {
	IsFree(ctx context.Context, doctorID uuid.UUID, start time.Time, duration time.Duration) (bool, error)
}

// Presence reports which doctors are currently online. Best-effort: errors
// and empty answers degrade to the offline ordering.
type Presence interface {
	OnlineDoctors(ctx context.Context) ([]uuid.UUID, error)
}

// Resolver validates a requested doctor/time pair or scans the active
// doctor population for the first free doctor.
//
// The scan order is deterministic: doctor id ascending. For instant
// bookings, online doctors are tried first (each group still id
// ascending), so walk-in requests route to someone already connected. The
// check-then-act here is advisory; the bookings table's exclusion
// constraint is what makes the final claim atomic.
type Resolver struct {
	directory directory.Directory
	checker   AvailabilityChecker
	presence  Presence
	logger    *logging.Logger
}

// NewResolver constructs a resolver. presence may be nil.
func NewResolver(dir directory.Directory, checker AvailabilityChecker, presence Presence, logger *logging.Logger) *Resolver {
	if dir == nil {
		panic("scheduling: directory required")
	}
	if checker == nil {
		panic("scheduling: availability checker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{directory: dir, checker: checker, presence: presence, logger: logger}
}

// Resolve returns the doctor to book. When requested is non-nil the
// requested doctor is validated; otherwise the population is scanned.
func (r *Resolver) Resolve(ctx context.Context, requested *uuid.UUID, bookingType booking.Type, start time.Time, duration time.Duration) (uuid.UUID, error) {
	if requested != nil {
		return r.validate(ctx, *requested, start, duration)
	}

	ids, err := r.directory.ListActiveDoctorIDs(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if bookingType == booking.TypeInstant {
		ids = r.onlineFirst(ctx, ids)
	}

	for _, id := range ids {
		free, err := r.checker.IsFree(ctx, id, start, duration)
		if err != nil {
			return uuid.Nil, err
		}
		if free {
			return id, nil
		}
	}
	return uuid.Nil, booking.ErrNoAvailability
}

func (r *Resolver) validate(ctx context.Context, doctorID uuid.UUID, start time.Time, duration time.Duration) (uuid.UUID, error) {
	doc, err := r.directory.GetDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, directory.ErrDoctorNotFound) {
			return uuid.Nil, booking.ErrNotFound
		}
		return uuid.Nil, err
	}
	if !doc.Active() {
		return uuid.Nil, booking.ErrNoAvailability
	}
	free, err := r.checker.IsFree(ctx, doctorID, start, duration)
	if err != nil {
		return uuid.Nil, err
	}
	if !free {
		return uuid.Nil, booking.ErrNoAvailability
	}
	return doctorID, nil
}

// onlineFirst stably partitions ids into online and offline doctors.
func (r *Resolver) onlineFirst(ctx context.Context, ids []uuid.UUID) []uuid.UUID {
	if r.presence == nil {
		return ids
	}
	online, err := r.presence.OnlineDoctors(ctx)
	if err != nil {
		r.logger.Warn("presence lookup failed, using directory order", "error", err)
		return ids
	}
	if len(online) == 0 {
		return ids
	}
	isOnline := make(map[uuid.UUID]bool, len(online))
	for _, id := range online {
		isOnline[id] = true
	}
	ordered := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if isOnline[id] {
			ordered = append(ordered, id)
		}
	}
	for _, id := range ids {
		if !isOnline[id] {
			ordered = append(ordered, id)
		}
	}
	return ordered
}
