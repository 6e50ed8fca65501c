package plans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists plan packages and grants.
//
// Credit movements are single conditional updates, never read-then-write:
// two concurrent reservations against a grant with one credit left cannot
// both succeed.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("plans: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mocked pool for tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

const packageColumns = `id, name, bookings_allowed, period_days, price_cents, is_active, created_at`
const grantColumns = `id, patient_id, package_id, bookings_pending, start_date, end_date, is_active, created_at`

// CreatePackage inserts a new package.
func (r *Repository) CreatePackage(ctx context.Context, p *Package) error {
	query := `
		INSERT INTO plan_packages (id, name, bookings_allowed, period_days, price_cents, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING created_at
	`
	if err := r.db.QueryRow(ctx, query, p.ID, p.Name, p.BookingsAllowed, p.PeriodDays, p.PriceCents).Scan(&p.CreatedAt); err != nil {
		return fmt.Errorf("plans: insert package: %w", err)
	}
	p.IsActive = true
	return nil
}

// GetPackage fetches an active package.
func (r *Repository) GetPackage(ctx context.Context, id uuid.UUID) (*Package, error) {
	query := `SELECT ` + packageColumns + ` FROM plan_packages WHERE id = $1 AND is_active = TRUE`
	p, err := scanPackage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("plans: select package: %w", err)
	}
	return p, nil
}

// GetPackageAny fetches a package regardless of catalog status. Grants
// outlive package retirement, so grant-driven lookups use this.
func (r *Repository) GetPackageAny(ctx context.Context, id uuid.UUID) (*Package, error) {
	query := `SELECT ` + packageColumns + ` FROM plan_packages WHERE id = $1`
	p, err := scanPackage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("plans: select package: %w", err)
	}
	return p, nil
}

// ListActivePackages returns the purchasable catalog, newest first.
func (r *Repository) ListActivePackages(ctx context.Context) ([]Package, error) {
	query := `SELECT ` + packageColumns + ` FROM plan_packages WHERE is_active = TRUE ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("plans: list packages: %w", err)
	}
	defer rows.Close()

	var out []Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("plans: scan package: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("plans: iterate packages: %w", err)
	}
	return out, nil
}

// DeactivatePackage retires a package from the catalog. Existing grants
// keep working until they expire.
func (r *Repository) DeactivatePackage(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `UPDATE plan_packages SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("plans: deactivate package: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrPackageNotFound
	}
	return nil
}

// CreateGrant inserts an inactive grant at purchase time. Activation waits
// for the verified payment.
func (r *Repository) CreateGrant(ctx context.Context, g *Grant) error {
	query := `
		INSERT INTO plan_grants (id, patient_id, package_id, bookings_pending, is_active)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING created_at
	`
	if err := r.db.QueryRow(ctx, query, g.ID, g.PatientID, g.PackageID, g.BookingsPending).Scan(&g.CreatedAt); err != nil {
		return fmt.Errorf("plans: insert grant: %w", err)
	}
	g.IsActive = false
	return nil
}

// GetGrant fetches a grant.
func (r *Repository) GetGrant(ctx context.Context, id uuid.UUID) (*Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM plan_grants WHERE id = $1`
	g, err := scanGrant(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("plans: select grant: %w", err)
	}
	return g, nil
}

// FindReservableGrant returns the soonest-expiring active grant with
// credits left whose validity covers now, or nil when none qualifies.
func (r *Repository) FindReservableGrant(ctx context.Context, patientID uuid.UUID, now time.Time) (*Grant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM plan_grants
		WHERE patient_id = $1
		  AND is_active = TRUE
		  AND bookings_pending > 0
		  AND (start_date IS NULL OR start_date <= $2)
		  AND (end_date IS NULL OR end_date >= $2)
		ORDER BY end_date ASC NULLS LAST, created_at ASC
		LIMIT 1
	`
	g, err := scanGrant(r.db.QueryRow(ctx, query, patientID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("plans: find reservable grant: %w", err)
	}
	return g, nil
}

// HasActiveGrant reports whether the patient holds any currently valid
// grant, credits or not. Distinguishes "no plan" from "plan exhausted".
func (r *Repository) HasActiveGrant(ctx context.Context, patientID uuid.UUID, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM plan_grants
			WHERE patient_id = $1
			  AND is_active = TRUE
			  AND (start_date IS NULL OR start_date <= $2)
			  AND (end_date IS NULL OR end_date >= $2)
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, patientID, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("plans: active grant check: %w", err)
	}
	return exists, nil
}

// DecrementCredit atomically claims one credit. Returns false when the
// grant had none left (or went inactive) by the time the update ran.
func (r *Repository) DecrementCredit(ctx context.Context, grantID uuid.UUID) (bool, error) {
	query := `
		UPDATE plan_grants
		SET bookings_pending = bookings_pending - 1
		WHERE id = $1 AND is_active = TRUE AND bookings_pending > 0
	`
	ct, err := r.db.Exec(ctx, query, grantID)
	if err != nil {
		return false, fmt.Errorf("plans: decrement credit: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ReturnCredit gives a reserved credit back. Only the compensation path
// uses this, when the booking the credit was reserved for could not be
// created; cancellation does not refund.
func (r *Repository) ReturnCredit(ctx context.Context, grantID uuid.UUID) error {
	query := `UPDATE plan_grants SET bookings_pending = bookings_pending + 1 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, grantID); err != nil {
		return fmt.Errorf("plans: return credit: %w", err)
	}
	return nil
}

// Activate flips a grant active with a concrete validity window. Invoked
// only from verified purchase-payment success. Idempotent: an already
// active grant is returned unchanged.
func (r *Repository) Activate(ctx context.Context, grantID uuid.UUID, start, end time.Time) (*Grant, error) {
	query := `
		UPDATE plan_grants
		SET is_active = TRUE, start_date = $2, end_date = $3
		WHERE id = $1 AND is_active = FALSE
		RETURNING ` + grantColumns
	g, err := scanGrant(r.db.QueryRow(ctx, query, grantID, start, end))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetGrant(ctx, grantID)
	}
	if err != nil {
		return nil, fmt.Errorf("plans: activate grant: %w", err)
	}
	return g, nil
}

// DeactivateGrant marks an abandoned purchase. Used when the purchase
// payment fails.
func (r *Repository) DeactivateGrant(ctx context.Context, grantID uuid.UUID) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE plan_grants SET is_active = FALSE WHERE id = $1`, grantID,
	); err != nil {
		return fmt.Errorf("plans: deactivate grant: %w", err)
	}
	return nil
}

func scanPackage(row pgx.Row) (*Package, error) {
	var p Package
	err := row.Scan(&p.ID, &p.Name, &p.BookingsAllowed, &p.PeriodDays, &p.PriceCents, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.PatientID, &g.PackageID, &g.BookingsPending, &g.StartDate, &g.EndDate, &g.IsActive, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
