// Package notify delivers booking and plan lifecycle emails. Producers
// enqueue rendered messages; a worker drains the queue and hands them to
// an EmailSender. Delivery is best-effort and never blocks the operation
// that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/internal/booking"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// ContactSource resolves a user id to a deliverable address.
type ContactSource interface {
	ContactFor(ctx context.Context, userID uuid.UUID) (email, name string, err error)
}

// Service renders and enqueues lifecycle notifications. It satisfies
// booking.Notifier.
type Service struct {
	queue    Queue
	contacts ContactSource
	logger   *logging.Logger
}

// NewService creates a notification service.
func NewService(queue Queue, contacts ContactSource, logger *logging.Logger) *Service {
	if queue == nil {
		panic("notify: queue required")
	}
	if contacts == nil {
		panic("notify: contact source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{queue: queue, contacts: contacts, logger: logger}
}

// BookingConfirmed notifies both parties that the consultation is on.
func (s *Service) BookingConfirmed(ctx context.Context, b *booking.Booking) {
	when := b.ScheduledAt.Format("Monday, January 2 at 15:04 MST")
	s.enqueueFor(ctx, b.PatientID, "Your consultation is confirmed",
		fmt.Sprintf("Your %s consultation on %s is confirmed. Booking reference: %s.",
			b.SessionType, when, shortRef(b.ID)))
	s.enqueueFor(ctx, b.DoctorID, "New confirmed consultation",
		fmt.Sprintf("A %s consultation on %s has been confirmed. Booking reference: %s.",
			b.SessionType, when, shortRef(b.ID)))
}

// BookingCancelled notifies both parties of a cancellation.
func (s *Service) BookingCancelled(ctx context.Context, b *booking.Booking) {
	when := b.ScheduledAt.Format("Monday, January 2 at 15:04 MST")
	body := fmt.Sprintf("The consultation scheduled for %s was cancelled. Booking reference: %s.",
		when, shortRef(b.ID))
	s.enqueueFor(ctx, b.PatientID, "Consultation cancelled", body)
	s.enqueueFor(ctx, b.DoctorID, "Consultation cancelled", body)
}

// BookingFailed notifies the patient that their booking lapsed or its
// payment failed.
func (s *Service) BookingFailed(ctx context.Context, b *booking.Booking) {
	when := b.ScheduledAt.Format("Monday, January 2 at 15:04 MST")
	s.enqueueFor(ctx, b.PatientID, "Your booking could not be completed",
		fmt.Sprintf("We could not complete payment for your consultation on %s, so the slot was released. You can book again at any time.", when))
}

// PlanActivated notifies the patient that their purchased plan is live.
func (s *Service) PlanActivated(ctx context.Context, patientID uuid.UUID, bookingsAllowed int, endDate time.Time) {
	s.enqueueFor(ctx, patientID, "Your consultation plan is active",
		fmt.Sprintf("Your plan is active: %d consultations available until %s.",
			bookingsAllowed, endDate.Format("January 2, 2006")))
}

func (s *Service) enqueueFor(ctx context.Context, userID uuid.UUID, subject, body string) {
	email, name, err := s.contacts.ContactFor(ctx, userID)
	if err != nil {
		s.logger.Error("notify: no contact for user", "user_id", userID, "error", err)
		return
	}
	msg := EmailMessage{To: email, ToName: name, Subject: subject, Body: body}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("notify: encode message", "error", err)
		return
	}
	if err := s.queue.Send(ctx, string(payload)); err != nil {
		s.logger.Error("notify: enqueue failed", "user_id", userID, "subject", subject, "error", err)
		return
	}
	s.logger.Debug("notification enqueued", "to", email, "subject", subject)
}

func shortRef(id uuid.UUID) string {
	return id.String()[:8]
}

var _ booking.Notifier = (*Service)(nil)
