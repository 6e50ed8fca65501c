package plans

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/pkg/logging"
)

// Store is the persistence surface the ledger needs.
type Store interface {
	CreatePackage(ctx context.Context, p *Package) error
	GetPackage(ctx context.Context, id uuid.UUID) (*Package, error)
	GetPackageAny(ctx context.Context, id uuid.UUID) (*Package, error)
	ListActivePackages(ctx context.Context) ([]Package, error)
	DeactivatePackage(ctx context.Context, id uuid.UUID) error
	CreateGrant(ctx context.Context, g *Grant) error
	GetGrant(ctx context.Context, id uuid.UUID) (*Grant, error)
	FindReservableGrant(ctx context.Context, patientID uuid.UUID, now time.Time) (*Grant, error)
	HasActiveGrant(ctx context.Context, patientID uuid.UUID, now time.Time) (bool, error)
	DecrementCredit(ctx context.Context, grantID uuid.UUID) (bool, error)
	ReturnCredit(ctx context.Context, grantID uuid.UUID) error
	Activate(ctx context.Context, grantID uuid.UUID, start, end time.Time) (*Grant, error)
	DeactivateGrant(ctx context.Context, grantID uuid.UUID) error
}

// LastBookingSource looks up the most recent confirmed booking under a
// grant, for the minimum-interval rule.
type LastBookingSource interface {
	LastConfirmedUnderGrant(ctx context.Context, grantID uuid.UUID) (*time.Time, error)
}

// Ledger tracks plan grants and enforces credit invariants. Credits are
// claimed with a conditional decrement so concurrent bookings can never
// overspend a grant.
type Ledger struct {
	store            Store
	lastBookings     LastBookingSource
	intervalEnforced bool
	logger           *logging.Logger
	now              func() time.Time
}

// NewLedger constructs the plan ledger. lastBookings may be nil when the
// minimum-interval rule is disabled.
func NewLedger(store Store, lastBookings LastBookingSource, intervalEnforced bool, logger *logging.Logger) *Ledger {
	if store == nil {
		panic("plans: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ledger{
		store:            store,
		lastBookings:     lastBookings,
		intervalEnforced: intervalEnforced,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// ReserveCredit claims one credit from the patient's soonest-expiring
// eligible grant for a booking at scheduledAt.
//
// The decrement is conditional on credits remaining, so when two requests
// race for the last credit exactly one wins; the loser gets
// ErrPlanExhausted. The interval rule, when enforced, rejects with
// ErrTooSoon before any credit is consumed.
func (l *Ledger) ReserveCredit(ctx context.Context, patientID uuid.UUID, scheduledAt time.Time) (*Grant, error) {
	now := l.now()

	grant, err := l.store.FindReservableGrant(ctx, patientID, now)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		hasActive, err := l.store.HasActiveGrant(ctx, patientID, now)
		if err != nil {
			return nil, err
		}
		if hasActive {
			return nil, ErrPlanExhausted
		}
		return nil, ErrNoActivePlan
	}

	if l.intervalEnforced && l.lastBookings != nil {
		pkg, err := l.store.GetPackageAny(ctx, grant.PackageID)
		if err != nil {
			return nil, err
		}
		if pkg.PeriodDays > 0 {
			last, err := l.lastBookings.LastConfirmedUnderGrant(ctx, grant.ID)
			if err != nil {
				return nil, err
			}
			if last != nil && scheduledAt.Before(last.AddDate(0, 0, pkg.PeriodDays)) {
				return nil, ErrTooSoon
			}
		}
	}

	claimed, err := l.store.DecrementCredit(ctx, grant.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race for the final credit.
		return nil, ErrPlanExhausted
	}
	grant.BookingsPending--
	l.logger.Info("plan credit reserved",
		"grant_id", grant.ID, "patient_id", patientID, "remaining", grant.BookingsPending)
	return grant, nil
}

// ReturnCredit compensates a reservation whose booking could not be
// created.
func (l *Ledger) ReturnCredit(ctx context.Context, grantID uuid.UUID) error {
	if err := l.store.ReturnCredit(ctx, grantID); err != nil {
		return err
	}
	l.logger.Info("plan credit returned", "grant_id", grantID)
	return nil
}

// Purchase creates an inactive grant for the package. The grant stays
// unusable until Activate is driven by the purchase payment webhook.
func (l *Ledger) Purchase(ctx context.Context, patientID, packageID uuid.UUID) (*Grant, *Package, error) {
	pkg, err := l.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}
	grant := &Grant{
		ID:              uuid.New(),
		PatientID:       patientID,
		PackageID:       pkg.ID,
		BookingsPending: pkg.BookingsAllowed,
	}
	if err := l.store.CreateGrant(ctx, grant); err != nil {
		return nil, nil, err
	}
	l.logger.Info("plan grant created", "grant_id", grant.ID, "package_id", pkg.ID, "patient_id", patientID)
	return grant, pkg, nil
}

// Activate flips a purchased grant active, dating its validity window from
// now for the package period. Idempotent under webhook redelivery.
func (l *Ledger) Activate(ctx context.Context, grantID uuid.UUID) (*Grant, error) {
	grant, err := l.store.GetGrant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if grant.IsActive {
		return grant, nil
	}
	pkg, err := l.store.GetPackageAny(ctx, grant.PackageID)
	if err != nil {
		return nil, err
	}
	start := l.now()
	end := start.AddDate(0, 0, pkg.PeriodDays)
	activated, err := l.store.Activate(ctx, grantID, start, end)
	if err != nil {
		return nil, err
	}
	l.logger.Info("plan grant activated", "grant_id", grantID, "end_date", end.Format(time.RFC3339))
	return activated, nil
}

// AbandonPurchase marks a never-activated grant dead after its purchase
// payment failed.
func (l *Ledger) AbandonPurchase(ctx context.Context, grantID uuid.UUID) error {
	if err := l.store.DeactivateGrant(ctx, grantID); err != nil {
		return err
	}
	l.logger.Info("plan purchase abandoned", "grant_id", grantID)
	return nil
}

// Catalog operations, passed through for the HTTP layer.

func (l *Ledger) ListPackages(ctx context.Context) ([]Package, error) {
	return l.store.ListActivePackages(ctx)
}

func (l *Ledger) GetCatalogPackage(ctx context.Context, id uuid.UUID) (*Package, error) {
	return l.store.GetPackage(ctx, id)
}

func (l *Ledger) CreatePackage(ctx context.Context, name string, bookingsAllowed, periodDays int, priceCents int64) (*Package, error) {
	p := &Package{
		ID:              uuid.New(),
		Name:            name,
		BookingsAllowed: bookingsAllowed,
		PeriodDays:      periodDays,
		PriceCents:      priceCents,
	}
	if err := l.store.CreatePackage(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Ledger) RetirePackage(ctx context.Context, id uuid.UUID) error {
	return l.store.DeactivatePackage(ctx, id)
}
