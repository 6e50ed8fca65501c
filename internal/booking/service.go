package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/careline/telehealth-platform/internal/directory"
	"github.com/careline/telehealth-platform/internal/observability/metrics"
	"github.com/careline/telehealth-platform/internal/plans"
	"github.com/careline/telehealth-platform/pkg/logging"
)

var tracer = otel.Tracer("careline.internal.booking")

// Actor identifies who is driving a lifecycle operation. Role is one of
// "patient", "doctor", "admin".
type Actor struct {
	ID   uuid.UUID
	Role string
}

// Store is the persistence surface the lifecycle manager needs; satisfied
// by *Repository.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	Confirm(ctx context.Context, id uuid.UUID) (b *Booking, alreadyApplied bool, err error)
	ConfirmPlanFunded(ctx context.Context, b *Booking) error
	Fail(ctx context.Context, id uuid.UUID) (*Booking, error)
	Cancel(ctx context.Context, id uuid.UUID) (*Booking, error)
	Complete(ctx context.Context, id uuid.UUID) (*Booking, error)
	Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time) (*Booking, error)
}

// DoctorResolver picks or validates the doctor for a request; satisfied by
// *scheduling.Resolver.
type DoctorResolver interface {
	Resolve(ctx context.Context, requested *uuid.UUID, bookingType Type, start time.Time, duration time.Duration) (uuid.UUID, error)
}

// CreditLedger reserves and compensates plan credits; satisfied by
// *plans.Ledger.
type CreditLedger interface {
	ReserveCredit(ctx context.Context, patientID uuid.UUID, scheduledAt time.Time) (*plans.Grant, error)
	ReturnCredit(ctx context.Context, grantID uuid.UUID) error
}

// IntentCreator opens a charge with the payment gateway; satisfied by
// *payments.StripeClient.
type IntentCreator interface {
	CreateBookingIntent(ctx context.Context, userID uuid.UUID, amountCents int64, bookingID uuid.UUID) (clientSecret, intentID string, err error)
}

// ChargeRecorder appends money-movement audit records; satisfied by
// *payments.TransactionRepository.
type ChargeRecorder interface {
	RecordBookingCharge(ctx context.Context, userID, bookingID uuid.UUID, amountCents int64) error
	AttachProviderRef(ctx context.Context, bookingID uuid.UUID, providerRef string) error
}

// Notifier delivers booking lifecycle notifications. Best-effort: failures
// are logged, never surfaced to the caller.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b *Booking)
	BookingCancelled(ctx context.Context, b *Booking)
	BookingFailed(ctx context.Context, b *Booking)
}

// CreateRequest is a request to book a consultation.
type CreateRequest struct {
	PatientID   uuid.UUID
	DoctorID    *uuid.UUID // nil lets the resolver pick
	ScheduledAt time.Time
	SessionType SessionType
	BookingType Type // zero value defaults to TypeNormal
	PaymentType PaymentType
}

// CreateResult is the outcome of a booking request. PaymentClientSecret is
// set only on the one-time path, where the patient still has to confirm
// the charge.
type CreateResult struct {
	Booking             *Booking `json:"booking"`
	PaymentClientSecret string   `json:"paymentClientSecret,omitempty"`
}

// Service is the booking lifecycle manager: it owns booking creation and
// every state transition, delegating doctor selection to the resolver,
// credit accounting to the plan ledger and charge creation to the gateway.
type Service struct {
	store    Store
	resolver DoctorResolver
	ledger   CreditLedger
	intents  IntentCreator
	charges  ChargeRecorder
	dir      directory.Directory
	notifier Notifier
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger

	defaultFeeCents int64
	slotMinutes     int
	now             func() time.Time
}

// ServiceParams collects the service's dependencies. notifier and metrics
// are optional.
type ServiceParams struct {
	Store           Store
	Resolver        DoctorResolver
	Ledger          CreditLedger
	Intents         IntentCreator
	Charges         ChargeRecorder
	Directory       directory.Directory
	Notifier        Notifier
	Metrics         *metrics.BookingMetrics
	Logger          *logging.Logger
	DefaultFeeCents int64
	SlotMinutes     int
}

// NewService constructs the lifecycle manager.
func NewService(p ServiceParams) *Service {
	if p.Store == nil || p.Resolver == nil || p.Ledger == nil || p.Intents == nil || p.Charges == nil || p.Directory == nil {
		panic("booking: missing service dependency")
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	if p.SlotMinutes <= 0 {
		p.SlotMinutes = 30
	}
	return &Service{
		store:           p.Store,
		resolver:        p.Resolver,
		ledger:          p.Ledger,
		intents:         p.Intents,
		charges:         p.Charges,
		dir:             p.Directory,
		notifier:        p.Notifier,
		metrics:         p.Metrics,
		logger:          p.Logger,
		defaultFeeCents: p.DefaultFeeCents,
		slotMinutes:     p.SlotMinutes,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Create books a consultation.
//
// One-time path: the booking is inserted pending and unpaid, a pending
// transaction is appended, and a payment intent is opened; confirmation
// arrives later on the webhook. The pending row already occupies the
// doctor's interval, so the slot is soft-held until payment or expiry.
//
// Plan path: a credit is reserved first, then the booking is inserted
// directly confirmed and paid. If the insert loses the slot race the
// credit is returned.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ctx, span := tracer.Start(ctx, "booking.create")
	defer span.End()

	if req.BookingType == "" {
		req.BookingType = TypeNormal
	}
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("careline.patient_id", req.PatientID.String()),
		attribute.String("careline.payment_type", string(req.PaymentType)),
		attribute.String("careline.booking_type", string(req.BookingType)),
	)

	duration := time.Duration(s.slotMinutes) * time.Minute
	doctorID, err := s.resolver.Resolve(ctx, req.DoctorID, req.BookingType, req.ScheduledAt, duration)
	if err != nil {
		if errors.Is(err, ErrNoAvailability) {
			s.metrics.ObserveConflict()
		}
		return nil, err
	}

	amount := s.priceFor(ctx, doctorID, req.SessionType)

	switch req.PaymentType {
	case PaymentOneTime:
		return s.createOneTime(ctx, req, doctorID, amount, duration)
	case PaymentPlan:
		return s.createPlanFunded(ctx, req, doctorID, amount, duration)
	default:
		return nil, ErrInvalidPaymentType
	}
}

func (s *Service) createOneTime(ctx context.Context, req CreateRequest, doctorID uuid.UUID, amount int64, duration time.Duration) (*CreateResult, error) {
	b := &Booking{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       req.PatientID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: int(duration / time.Minute),
		SessionType:     req.SessionType,
		BookingType:     req.BookingType,
		PaymentType:     PaymentOneTime,
		AmountCents:     amount,
		Status:          StatusPending,
	}
	if err := s.store.Create(ctx, b); err != nil {
		if errors.Is(err, ErrNoAvailability) {
			s.metrics.ObserveConflict()
		}
		return nil, err
	}

	if err := s.charges.RecordBookingCharge(ctx, req.PatientID, b.ID, amount); err != nil {
		return nil, err
	}

	secret, intentID, err := s.intents.CreateBookingIntent(ctx, req.PatientID, amount, b.ID)
	if err != nil {
		// Release the slot now rather than waiting for the sweeper.
		if _, failErr := s.store.Fail(ctx, b.ID); failErr != nil {
			s.logger.Error("could not fail booking after intent error",
				"booking_id", b.ID, "error", failErr)
		}
		return nil, fmt.Errorf("booking: open payment intent: %w", err)
	}
	if err := s.charges.AttachProviderRef(ctx, b.ID, intentID); err != nil {
		s.logger.Error("could not attach provider ref", "booking_id", b.ID, "error", err)
	}

	s.metrics.ObserveBooking(string(PaymentOneTime), string(StatusPending))
	s.logger.Info("booking created pending payment",
		"booking_id", b.ID, "doctor_id", doctorID, "patient_id", req.PatientID,
		"scheduled_at", b.ScheduledAt.Format(time.RFC3339), "amount_cents", amount)
	return &CreateResult{Booking: b, PaymentClientSecret: secret}, nil
}

func (s *Service) createPlanFunded(ctx context.Context, req CreateRequest, doctorID uuid.UUID, amount int64, duration time.Duration) (*CreateResult, error) {
	grant, err := s.ledger.ReserveCredit(ctx, req.PatientID, req.ScheduledAt)
	if err != nil {
		return nil, err
	}

	grantID := grant.ID
	b := &Booking{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       req.PatientID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: int(duration / time.Minute),
		SessionType:     req.SessionType,
		BookingType:     req.BookingType,
		PaymentType:     PaymentPlan,
		AmountCents:     amount,
		IsPaid:          true,
		Status:          StatusConfirmed,
		PlanGrantID:     &grantID,
	}
	if err := s.store.Create(ctx, b); err != nil {
		if returnErr := s.ledger.ReturnCredit(ctx, grantID); returnErr != nil {
			s.logger.Error("could not return plan credit after failed insert",
				"grant_id", grantID, "error", returnErr)
		}
		if errors.Is(err, ErrNoAvailability) {
			s.metrics.ObserveConflict()
		}
		return nil, err
	}
	if err := s.store.ConfirmPlanFunded(ctx, b); err != nil {
		// Roll back rather than leave a confirmed row without its slot
		// block and session placeholder.
		if _, cancelErr := s.store.Cancel(ctx, b.ID); cancelErr != nil {
			s.logger.Error("could not roll back plan booking after confirm error",
				"booking_id", b.ID, "error", cancelErr)
		}
		if returnErr := s.ledger.ReturnCredit(ctx, grantID); returnErr != nil {
			s.logger.Error("could not return plan credit after confirm error",
				"grant_id", grantID, "error", returnErr)
		}
		return nil, err
	}

	s.metrics.ObserveBooking(string(PaymentPlan), string(StatusConfirmed))
	s.logger.Info("plan-funded booking confirmed",
		"booking_id", b.ID, "doctor_id", doctorID, "patient_id", req.PatientID,
		"grant_id", grantID, "scheduled_at", b.ScheduledAt.Format(time.RFC3339))
	s.notifyConfirmed(ctx, b)
	return &CreateResult{Booking: b}, nil
}

// Get fetches a booking the actor is allowed to see.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor Actor) (*Booking, error) {
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(b, actor); err != nil {
		return nil, err
	}
	return b, nil
}

// ConfirmPayment applies a verified payment success: pending -> confirmed.
// Idempotent under webhook redelivery.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.confirm_payment")
	defer span.End()
	span.SetAttributes(attribute.String("careline.booking_id", id.String()))

	b, alreadyApplied, err := s.store.Confirm(ctx, id)
	if err != nil {
		return nil, err
	}
	if alreadyApplied {
		s.logger.Info("payment confirmation already applied", "booking_id", id)
		return b, nil
	}
	s.metrics.ObserveBooking(string(b.PaymentType), string(StatusConfirmed))
	s.logger.Info("booking confirmed", "booking_id", b.ID, "doctor_id", b.DoctorID)
	s.notifyConfirmed(ctx, b)
	return b, nil
}

// FailPayment applies a verified payment failure: pending -> failed, slot
// released.
func (s *Service) FailPayment(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.store.Fail(ctx, id)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveBooking(string(b.PaymentType), string(StatusFailed))
	s.logger.Info("booking failed on payment", "booking_id", b.ID)
	if s.notifier != nil {
		s.notifier.BookingFailed(ctx, b)
	}
	return b, nil
}

// Cancel cancels a pending or confirmed future booking. A consumed plan
// credit is forfeited; any refund is an out-of-band operator action.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()

	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(b, actor); err != nil {
		return nil, err
	}
	if !b.ScheduledAt.After(s.now()) {
		return nil, fmt.Errorf("%w: booking already started", ErrInvalidTransition)
	}
	cancelled, err := s.store.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveBooking(string(cancelled.PaymentType), string(StatusCancelled))
	s.logger.Info("booking cancelled", "booking_id", id, "actor_role", actor.Role)
	if s.notifier != nil {
		s.notifier.BookingCancelled(ctx, cancelled)
	}
	return cancelled, nil
}

// Complete marks a confirmed consultation as delivered. Doctors and admins
// only.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor Actor) (*Booking, error) {
	if actor.Role != "doctor" && actor.Role != "admin" {
		return nil, ErrForbidden
	}
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(b, actor); err != nil {
		return nil, err
	}
	completed, err := s.store.Complete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("booking completed", "booking_id", id)
	return completed, nil
}

// Reschedule moves a pending or confirmed booking to a new future time with
// the same doctor. The new interval is validated against the doctor's
// schedule; the database constraint re-checks it at commit.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time, actor Actor) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.reschedule")
	defer span.End()

	newTime = newTime.UTC()
	if !newTime.After(s.now()) {
		return nil, ErrInvalidSchedule
	}
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(b, actor); err != nil {
		return nil, err
	}
	duration := time.Duration(b.DurationMinutes) * time.Minute
	if _, err := s.resolver.Resolve(ctx, &b.DoctorID, TypeRebooking, newTime, duration); err != nil {
		return nil, err
	}
	moved, err := s.store.Reschedule(ctx, id, newTime)
	if err != nil {
		if errors.Is(err, ErrNoAvailability) {
			s.metrics.ObserveConflict()
		}
		return nil, err
	}
	s.logger.Info("booking rescheduled",
		"booking_id", id, "scheduled_at", moved.ScheduledAt.Format(time.RFC3339))
	s.notifyConfirmed(ctx, moved)
	return moved, nil
}

func (s *Service) validateRequest(req *CreateRequest) error {
	req.ScheduledAt = req.ScheduledAt.UTC()
	if req.ScheduledAt.IsZero() || !req.ScheduledAt.After(s.now()) {
		return ErrInvalidSchedule
	}
	if !req.SessionType.Valid() {
		return fmt.Errorf("%w: unknown session type %q", ErrInvalidSchedule, req.SessionType)
	}
	if !req.BookingType.Valid() {
		return fmt.Errorf("%w: unknown booking type %q", ErrInvalidSchedule, req.BookingType)
	}
	if !req.PaymentType.Valid() {
		return ErrInvalidPaymentType
	}
	return nil
}

// priceFor resolves the charge amount: the doctor's configured rate for
// the session type, else the platform default fee.
func (s *Service) priceFor(ctx context.Context, doctorID uuid.UUID, sessionType SessionType) int64 {
	doc, err := s.dir.GetDoctor(ctx, doctorID)
	if err != nil {
		s.logger.Error("could not load doctor rate, using default fee",
			"doctor_id", doctorID, "error", err)
		return s.defaultFeeCents
	}
	if rate := doc.RateCents(string(sessionType)); rate > 0 {
		return rate
	}
	return s.defaultFeeCents
}

func (s *Service) notifyConfirmed(ctx context.Context, b *Booking) {
	if s.notifier != nil {
		s.notifier.BookingConfirmed(ctx, b)
	}
}

// authorize enforces ownership: patients and doctors may act on their own
// bookings, admins on any.
func authorize(b *Booking, actor Actor) error {
	switch actor.Role {
	case "admin":
		return nil
	case "doctor":
		if b.DoctorID == actor.ID {
			return nil
		}
	case "patient":
		if b.PatientID == actor.ID {
			return nil
		}
	}
	return ErrForbidden
}
