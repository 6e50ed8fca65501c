package availability

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

// ErrBlockNotFound is returned when a block does not exist for the doctor.
var ErrBlockNotFound = errors.New("unavailability block not found")

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists recurring windows and unavailability blocks.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("availability: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mocked pool for tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

// ReplaceWeekly swaps the doctor's entire recurring schedule in one
// transaction, matching the replace-all semantics of schedule submission.
func (r *Repository) ReplaceWeekly(ctx context.Context, doctorID uuid.UUID, windows []RecurringWindow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("availability: begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM doctor_schedules WHERE doctor_id = $1 AND is_recurring = TRUE`,
		doctorID,
	); err != nil {
		return fmt.Errorf("availability: clear schedule: %w", err)
	}

	insert := `
		INSERT INTO doctor_schedules (id, doctor_id, day_of_week, start_minute, end_minute, timezone, is_recurring)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
	`
	for _, w := range windows {
		if _, err := tx.Exec(ctx, insert, w.ID, doctorID, w.DayOfWeek, w.StartMinute, w.EndMinute, w.Timezone); err != nil {
			return fmt.Errorf("availability: insert window: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("availability: commit replace: %w", err)
	}
	return nil
}

// ListWindows returns the doctor's recurring windows for a weekday,
// ordered by start.
func (r *Repository) ListWindows(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]RecurringWindow, error) {
	query := `
		SELECT id, doctor_id, day_of_week, start_minute, end_minute, timezone, is_recurring, created_at
		FROM doctor_schedules
		WHERE doctor_id = $1 AND day_of_week = $2 AND is_recurring = TRUE
		ORDER BY start_minute
	`
	rows, err := r.db.Query(ctx, query, doctorID, dayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("availability: list windows: %w", err)
	}
	defer rows.Close()

	var out []RecurringWindow
	for rows.Next() {
		var w RecurringWindow
		if err := rows.Scan(&w.ID, &w.DoctorID, &w.DayOfWeek, &w.StartMinute, &w.EndMinute, &w.Timezone, &w.IsRecurring, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("availability: scan window: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("availability: iterate windows: %w", err)
	}
	return out, nil
}

// ListBlocksBetween returns blocks intersecting [from, to) for the doctor.
func (r *Repository) ListBlocksBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]UnavailabilityBlock, error) {
	query := `
		SELECT id, doctor_id, booking_id, start_time, end_time, reason, created_at
		FROM doctor_unavailability
		WHERE doctor_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`
	rows, err := r.db.Query(ctx, query, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("availability: list blocks: %w", err)
	}
	defer rows.Close()

	var out []UnavailabilityBlock
	for rows.Next() {
		var b UnavailabilityBlock
		if err := rows.Scan(&b.ID, &b.DoctorID, &b.BookingID, &b.StartTime, &b.EndTime, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("availability: scan block: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("availability: iterate blocks: %w", err)
	}
	return out, nil
}

// CreateBlock inserts a manual unavailability block.
func (r *Repository) CreateBlock(ctx context.Context, b *UnavailabilityBlock) error {
	query := `
		INSERT INTO doctor_unavailability (id, doctor_id, booking_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	if err := r.db.QueryRow(ctx, query, b.ID, b.DoctorID, b.BookingID, b.StartTime, b.EndTime, b.Reason).Scan(&b.CreatedAt); err != nil {
		return fmt.Errorf("availability: insert block: %w", err)
	}
	return nil
}

// DeleteBlock removes a manual block owned by the doctor. Blocks held by a
// booking are released through the booking lifecycle, never directly.
func (r *Repository) DeleteBlock(ctx context.Context, doctorID, blockID uuid.UUID) error {
	ct, err := r.db.Exec(ctx,
		`DELETE FROM doctor_unavailability WHERE id = $1 AND doctor_id = $2 AND booking_id IS NULL`,
		blockID, doctorID,
	)
	if err != nil {
		return fmt.Errorf("availability: delete block: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}
