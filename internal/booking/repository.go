package booking

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

// Postgres error codes surfaced by the scheduling constraints.
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists bookings and drives their lifecycle transitions.
//
// The doctor/time-window pair is the contended resource: the bookings table
// carries an exclusion constraint on (doctor_id, occupied interval) limited
// to non-terminal statuses, so two concurrent inserts for overlapping
// intervals cannot both commit. The repository maps that constraint
// violation to ErrNoAvailability.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("booking: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mocked pool for tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

const bookingColumns = `id, doctor_id, patient_id, scheduled_at, duration_minutes,
	session_type, booking_type, payment_type, amount_cents, is_paid, status,
	plan_grant_id, created_at, updated_at`

// Create inserts a booking row. Exactly one of two concurrent inserts for
// an overlapping doctor interval succeeds; the loser gets ErrNoAvailability.
func (r *Repository) Create(ctx context.Context, b *Booking) error {
	query := `
		INSERT INTO bookings (id, doctor_id, patient_id, scheduled_at, duration_minutes,
			session_type, booking_type, payment_type, amount_cents, is_paid, status, plan_grant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		b.ID,
		b.DoctorID,
		b.PatientID,
		b.ScheduledAt,
		b.DurationMinutes,
		b.SessionType,
		b.BookingType,
		b.PaymentType,
		b.AmountCents,
		b.IsPaid,
		b.Status,
		b.PlanGrantID,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isSlotConflict(err) {
			return ErrNoAvailability
		}
		return fmt.Errorf("booking: insert failed: %w", err)
	}
	return nil
}

// GetByID fetches a booking.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("booking: select failed: %w", err)
	}
	return b, nil
}

// ListForDoctorBetween returns non-terminal bookings occupying any part of
// [from, to) for the doctor. Used by the availability computation.
func (r *Repository) ListForDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE doctor_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_at
	`
	rows, err := r.db.Query(ctx, query, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("booking: list for doctor: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// Confirm atomically applies a verified payment success to the booking and
// its satellites: pending -> confirmed, paid, unavailability block held,
// consultation session created, transaction marked success.
//
// It is idempotent: re-invocation on an already confirmed (or completed)
// booking changes nothing and reports alreadyApplied.
func (r *Repository) Confirm(ctx context.Context, id uuid.UUID) (b *Booking, alreadyApplied bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("booking: begin confirm: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE bookings
		SET status = 'confirmed', is_paid = TRUE, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + bookingColumns
	b, err = scanBooking(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		// Not pending: either already applied or an illegal transition.
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		if current.Status == StatusConfirmed || current.Status == StatusCompleted {
			return current, true, nil
		}
		return nil, false, ErrInvalidTransition
	}
	if err != nil {
		return nil, false, fmt.Errorf("booking: confirm update: %w", err)
	}

	if err := holdSlotTx(ctx, tx, b); err != nil {
		return nil, false, err
	}

	sessionQuery := `
		INSERT INTO consultation_sessions (id, booking_id, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (booking_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, sessionQuery, uuid.New(), b.ID); err != nil {
		return nil, false, fmt.Errorf("booking: create session: %w", err)
	}

	txnQuery := `
		UPDATE transactions
		SET status = 'success', updated_at = now()
		WHERE booking_id = $1 AND status = 'pending'
	`
	if _, err := tx.Exec(ctx, txnQuery, b.ID); err != nil {
		return nil, false, fmt.Errorf("booking: settle transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("booking: commit confirm: %w", err)
	}
	return b, false, nil
}

// ConfirmPlanFunded finalizes the satellites of a booking created directly
// in confirmed state: the held slot and the session placeholder.
func (r *Repository) ConfirmPlanFunded(ctx context.Context, b *Booking) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("booking: begin plan confirm: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := holdSlotTx(ctx, tx, b); err != nil {
		return err
	}
	sessionQuery := `
		INSERT INTO consultation_sessions (id, booking_id, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (booking_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, sessionQuery, uuid.New(), b.ID); err != nil {
		return fmt.Errorf("booking: create session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("booking: commit plan confirm: %w", err)
	}
	return nil
}

// Fail transitions pending -> failed and releases any held block. Invoked
// on verified payment failure. Idempotent on already failed bookings.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.closeOut(ctx, id, StatusFailed, []Status{StatusPending}, true)
}

// Cancel transitions pending|confirmed -> cancelled and releases the block.
// Consumed plan credits are forfeited; see the plan ledger policy.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.closeOut(ctx, id, StatusCancelled, []Status{StatusPending, StatusConfirmed}, true)
}

// Complete transitions confirmed -> completed. The block stays: the time
// was consumed.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.closeOut(ctx, id, StatusCompleted, []Status{StatusConfirmed}, false)
}

func (r *Repository) closeOut(ctx context.Context, id uuid.UUID, to Status, from []Status, releaseSlot bool) (*Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("booking: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fromStates := make([]string, len(from))
	for i, s := range from {
		fromStates[i] = string(s)
	}
	query := `
		UPDATE bookings
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING ` + bookingColumns
	b, err := scanBooking(tx.QueryRow(ctx, query, id, to, fromStates))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	if err != nil {
		return nil, fmt.Errorf("booking: transition update: %w", err)
	}

	if releaseSlot {
		if _, err := tx.Exec(ctx, `DELETE FROM doctor_unavailability WHERE booking_id = $1`, b.ID); err != nil {
			return nil, fmt.Errorf("booking: release slot: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("booking: commit transition: %w", err)
	}
	return b, nil
}

// Reschedule moves a pending or confirmed booking to a new time. The
// exclusion constraint re-validates the new interval at commit; a conflict
// surfaces as ErrNoAvailability and leaves the row untouched.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time) (*Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("booking: begin reschedule: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE bookings
		SET scheduled_at = $2, booking_type = 'rebooking', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING ` + bookingColumns
	b, err := scanBooking(tx.QueryRow(ctx, query, id, newTime))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s -> rescheduled", ErrInvalidTransition, current.Status)
	}
	if err != nil {
		if isSlotConflict(err) {
			return nil, ErrNoAvailability
		}
		return nil, fmt.Errorf("booking: reschedule update: %w", err)
	}

	blockQuery := `
		UPDATE doctor_unavailability
		SET start_time = $2, end_time = $3
		WHERE booking_id = $1
	`
	if _, err := tx.Exec(ctx, blockQuery, b.ID, b.ScheduledAt, b.EndsAt()); err != nil {
		return nil, fmt.Errorf("booking: move slot block: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isSlotConflict(err) {
			return nil, ErrNoAvailability
		}
		return nil, fmt.Errorf("booking: commit reschedule: %w", err)
	}
	return b, nil
}

// ListStalePending returns unpaid one-time bookings still pending past the
// cutoff. The sweeper expires them one by one.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'pending'
		  AND is_paid = FALSE
		  AND payment_type = 'one_time'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("booking: list stale pending: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// Expire transitions a stale pending booking to failed, fails its pending
// transaction and drops its provisional block, all in one transaction.
// A booking confirmed between scan and expiry is left alone.
func (r *Repository) Expire(ctx context.Context, id uuid.UUID) (expired bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("booking: begin expire: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE bookings
		SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status = 'pending' AND is_paid = FALSE
	`
	ct, err := tx.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("booking: expire update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	txnQuery := `
		UPDATE transactions
		SET status = 'failed', updated_at = now()
		WHERE booking_id = $1 AND status = 'pending'
	`
	if _, err := tx.Exec(ctx, txnQuery, id); err != nil {
		return false, fmt.Errorf("booking: expire transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM doctor_unavailability WHERE booking_id = $1`, id); err != nil {
		return false, fmt.Errorf("booking: expire release slot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("booking: commit expire: %w", err)
	}
	return true, nil
}

// LastConfirmedUnderGrant returns the scheduled time of the most recent
// confirmed or completed booking funded by the grant. Used by the plan
// ledger's minimum-interval rule.
func (r *Repository) LastConfirmedUnderGrant(ctx context.Context, grantID uuid.UUID) (*time.Time, error) {
	query := `
		SELECT scheduled_at
		FROM bookings
		WHERE plan_grant_id = $1 AND status IN ('confirmed', 'completed')
		ORDER BY scheduled_at DESC
		LIMIT 1
	`
	var t time.Time
	if err := r.db.QueryRow(ctx, query, grantID).Scan(&t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("booking: last under grant: %w", err)
	}
	return &t, nil
}

// holdSlotTx creates the unavailability block owned by the booking. The
// insert is keyed on booking_id so re-confirmation never duplicates it.
func holdSlotTx(ctx context.Context, tx pgx.Tx, b *Booking) error {
	query := `
		INSERT INTO doctor_unavailability (id, doctor_id, booking_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5, 'Booked session')
		ON CONFLICT (booking_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, uuid.New(), b.DoctorID, b.ID, b.ScheduledAt, b.EndsAt()); err != nil {
		return fmt.Errorf("booking: hold slot: %w", err)
	}
	return nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.PatientID,
		&b.ScheduledAt,
		&b.DurationMinutes,
		&b.SessionType,
		&b.BookingType,
		&b.PaymentType,
		&b.AmountCents,
		&b.IsPaid,
		&b.Status,
		&b.PlanGrantID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("booking: scan row: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: iterate rows: %w", err)
	}
	return out, nil
}

func isSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation
	}
	return false
}
