package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/internal/booking"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// Store is the persistence surface the service needs; satisfied by
// *Repository.
type Store interface {
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Session, error)
	MarkJoined(ctx context.Context, bookingID uuid.UUID, role string, at time.Time) (*Session, error)
	End(ctx context.Context, bookingID uuid.UUID, at time.Time) (*Session, error)
}

// BookingSource loads bookings for authorization; satisfied by
// *booking.Repository.
type BookingSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
}

// Service drives the consultation session attached to a confirmed
// booking: join signals activate it, the end signal closes it and derives
// the duration.
type Service struct {
	store    Store
	bookings BookingSource
	logger   *logging.Logger
	now      func() time.Time
}

// NewService constructs the session service.
func NewService(store Store, bookings BookingSource, logger *logging.Logger) *Service {
	if store == nil || bookings == nil {
		panic("sessions: missing dependency")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    store,
		bookings: bookings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the session for a booking the actor is a party to.
func (s *Service) Get(ctx context.Context, bookingID uuid.UUID, actor booking.Actor) (*Session, error) {
	if _, err := s.authorizedBooking(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	return s.store.GetByBooking(ctx, bookingID)
}

// Join records the actor connecting to the consultation. Only the two
// booked parties may join, and only while the booking is confirmed.
func (s *Service) Join(ctx context.Context, bookingID uuid.UUID, actor booking.Actor) (*Session, error) {
	b, err := s.authorizedBooking(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	if b.Status != booking.StatusConfirmed {
		return nil, fmt.Errorf("%w: booking is %s", booking.ErrInvalidTransition, b.Status)
	}
	sess, err := s.store.MarkJoined(ctx, bookingID, actor.Role, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("party joined consultation",
		"booking_id", bookingID, "role", actor.Role, "session_id", sess.ID)
	return sess, nil
}

// End closes the consultation. Either party may end it; duration is
// derived from the first join.
func (s *Service) End(ctx context.Context, bookingID uuid.UUID, actor booking.Actor) (*Session, error) {
	if _, err := s.authorizedBooking(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	sess, err := s.store.End(ctx, bookingID, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("consultation ended",
		"booking_id", bookingID, "duration_seconds", sess.DurationSeconds, "ended_by", actor.Role)
	return sess, nil
}

func (s *Service) authorizedBooking(ctx context.Context, bookingID uuid.UUID, actor booking.Actor) (*booking.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case "admin":
		return b, nil
	case "doctor":
		if b.DoctorID == actor.ID {
			return b, nil
		}
	case "patient":
		if b.PatientID == actor.ID {
			return b, nil
		}
	}
	return nil, booking.ErrForbidden
}
