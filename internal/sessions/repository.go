package sessions

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
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists consultation sessions. The row itself is created by
// the booking confirmation transaction; this repository only reads and
// advances it.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("sessions: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mocked pool for tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, booking_id, status, started_at, patient_joined_at,
	doctor_joined_at, ended_at, duration_seconds, created_at, updated_at`

// GetByBooking fetches the session for a booking.
func (r *Repository) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM consultation_sessions WHERE booking_id = $1`
	s, err := scanSession(r.db.QueryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("sessions: select: %w", err)
	}
	return s, nil
}

// MarkJoined records a party connecting. The first join also activates the
// session and stamps its start. Idempotent per party.
func (r *Repository) MarkJoined(ctx context.Context, bookingID uuid.UUID, role string, at time.Time) (*Session, error) {
	var col string
	switch role {
	case "patient":
		col = "patient_joined_at"
	case "doctor":
		col = "doctor_joined_at"
	default:
		return nil, fmt.Errorf("sessions: unknown party %q", role)
	}
	query := `
		UPDATE consultation_sessions
		SET ` + col + ` = COALESCE(` + col + `, $2),
		    started_at = COALESCE(started_at, $2),
		    status = 'active',
		    updated_at = now()
		WHERE booking_id = $1 AND status != 'ended'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.db.QueryRow(ctx, query, bookingID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByBooking(ctx, bookingID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("sessions: mark joined: %w", err)
	}
	return s, nil
}

// End closes the session and derives its duration from the recorded start.
// Idempotent: ending an ended session returns it unchanged.
func (r *Repository) End(ctx context.Context, bookingID uuid.UUID, at time.Time) (*Session, error) {
	query := `
		UPDATE consultation_sessions
		SET status = 'ended',
		    ended_at = $2,
		    duration_seconds = CASE
		        WHEN started_at IS NULL THEN 0
		        ELSE GREATEST(0, EXTRACT(EPOCH FROM ($2 - started_at))::int)
		    END,
		    updated_at = now()
		WHERE booking_id = $1 AND status != 'ended'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.db.QueryRow(ctx, query, bookingID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetByBooking(ctx, bookingID)
		}
		return nil, fmt.Errorf("sessions: end: %w", err)
	}
	return s, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(
		&s.ID,
		&s.BookingID,
		&s.Status,
		&s.StartedAt,
		&s.PatientJoinedAt,
		&s.DoctorJoinedAt,
		&s.EndedAt,
		&s.DurationSeconds,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
