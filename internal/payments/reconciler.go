package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/careline/telehealth-platform/internal/booking"
	"github.com/careline/telehealth-platform/internal/plans"
	"github.com/careline/telehealth-platform/pkg/logging"
)

var reconcilerTracer = otel.Tracer("careline.internal.payments")

// BookingLifecycle is the slice of the booking manager the reconciler
// drives.
type BookingLifecycle interface {
	ConfirmPayment(ctx context.Context, bookingID uuid.UUID) (*booking.Booking, error)
	FailPayment(ctx context.Context, bookingID uuid.UUID) (*booking.Booking, error)
}

// PlanLedger is the slice of the plan ledger the reconciler drives.
type PlanLedger interface {
	Activate(ctx context.Context, grantID uuid.UUID) (*plans.Grant, error)
	AbandonPurchase(ctx context.Context, grantID uuid.UUID) error
}

// TxnSettler settles plan-purchase ledger records.
type TxnSettler interface {
	SettleByPlanGrant(ctx context.Context, grantID uuid.UUID, status TransactionStatus, providerRef string) error
}

// PlanNotifier announces an activated plan to the patient; satisfied by
// *notify.Service.
type PlanNotifier interface {
	PlanActivated(ctx context.Context, patientID uuid.UUID, bookingsAllowed int, endDate time.Time)
}

// Reconciler applies verified terminal payment outcomes to bookings and
// plan grants. Every apply is idempotent on current state: the gateway
// redelivers events, and an event-id store alone is not trusted to
// survive.
type Reconciler struct {
	bookings BookingLifecycle
	ledger   PlanLedger
	txns     TxnSettler
	notifier PlanNotifier
	logger   *logging.Logger
}

// NewReconciler constructs the reconciliation service.
func NewReconciler(bookings BookingLifecycle, ledger PlanLedger, txns TxnSettler, logger *logging.Logger) *Reconciler {
	if bookings == nil {
		panic("payments: booking lifecycle required")
	}
	if ledger == nil {
		panic("payments: plan ledger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{bookings: bookings, ledger: ledger, txns: txns, logger: logger}
}

// WithNotifier wires the plan activation announcement. Optional.
func (r *Reconciler) WithNotifier(n PlanNotifier) *Reconciler {
	r.notifier = n
	return r
}

// ApplySuccess dispatches a verified success event by purpose.
func (r *Reconciler) ApplySuccess(ctx context.Context, providerRef string, metadata map[string]string) error {
	ctx, span := reconcilerTracer.Start(ctx, "payments.apply_success")
	defer span.End()
	span.SetAttributes(attribute.String("careline.purpose", metadata[MetaPurpose]))

	switch metadata[MetaPurpose] {
	case PurposeBooking:
		bookingID, err := uuid.Parse(metadata[MetaBookingID])
		if err != nil {
			return fmt.Errorf("payments: success event without booking id: %w", err)
		}
		if _, err := r.bookings.ConfirmPayment(ctx, bookingID); err != nil {
			if errors.Is(err, booking.ErrNotFound) {
				// A paid-for booking that no longer exists cannot be
				// repaired automatically.
				r.logger.Error("payment succeeded for missing booking",
					"booking_id", bookingID, "provider_ref", providerRef, "operator_alert", true)
				return nil
			}
			if errors.Is(err, booking.ErrInvalidTransition) {
				// The booking reached a terminal state before the success
				// arrived, typically swept while the charge settled. Money
				// was taken for a released slot; an operator has to refund
				// or rebook, retrying the event cannot.
				r.logger.Error("payment succeeded for terminal booking",
					"booking_id", bookingID, "provider_ref", providerRef, "operator_alert", true)
				return nil
			}
			return err
		}
		return nil

	case PurposePlanPurchase:
		grantID, err := uuid.Parse(metadata[MetaPlanGrantID])
		if err != nil {
			return fmt.Errorf("payments: success event without grant id: %w", err)
		}
		grant, err := r.ledger.Activate(ctx, grantID)
		if err != nil {
			if errors.Is(err, plans.ErrGrantNotFound) {
				r.logger.Error("payment succeeded for missing plan grant",
					"grant_id", grantID, "provider_ref", providerRef, "operator_alert", true)
				return nil
			}
			return err
		}
		if r.txns != nil {
			if err := r.txns.SettleByPlanGrant(ctx, grantID, TxnSuccess, providerRef); err != nil {
				return err
			}
		}
		if r.notifier != nil && grant.EndDate != nil {
			r.notifier.PlanActivated(ctx, grant.PatientID, grant.BookingsPending, *grant.EndDate)
		}
		return nil
	}

	r.logger.Warn("success event with unknown purpose", "purpose", metadata[MetaPurpose], "provider_ref", providerRef)
	return nil
}

// ApplyFailure dispatches a verified failure event by purpose. No booking
// or grant is left half-confirmed.
func (r *Reconciler) ApplyFailure(ctx context.Context, providerRef string, metadata map[string]string) error {
	ctx, span := reconcilerTracer.Start(ctx, "payments.apply_failure")
	defer span.End()

	switch metadata[MetaPurpose] {
	case PurposeBooking:
		bookingID, err := uuid.Parse(metadata[MetaBookingID])
		if err != nil {
			return fmt.Errorf("payments: failure event without booking id: %w", err)
		}
		if _, err := r.bookings.FailPayment(ctx, bookingID); err != nil {
			if errors.Is(err, booking.ErrNotFound) || errors.Is(err, booking.ErrInvalidTransition) {
				// Already swept or already terminal; nothing to undo.
				r.logger.Info("failure event had nothing to apply", "booking_id", bookingID)
				return nil
			}
			return err
		}
		return nil

	case PurposePlanPurchase:
		grantID, err := uuid.Parse(metadata[MetaPlanGrantID])
		if err != nil {
			return fmt.Errorf("payments: failure event without grant id: %w", err)
		}
		if err := r.ledger.AbandonPurchase(ctx, grantID); err != nil {
			return err
		}
		if r.txns != nil {
			if err := r.txns.SettleByPlanGrant(ctx, grantID, TxnFailed, providerRef); err != nil {
				return err
			}
		}
		return nil
	}

	r.logger.Warn("failure event with unknown purpose", "purpose", metadata[MetaPurpose], "provider_ref", providerRef)
	return nil
}
