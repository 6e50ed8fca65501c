// Package directory is the booking core's view of the external user
// directory: just enough of a doctor to schedule and price a consultation.
package directory

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

// ErrDoctorNotFound is returned when the doctor does not exist.
var ErrDoctorNotFound = errors.New("doctor not found")

// Doctor is the directory projection used by scheduling: identity, status
// and the per-session-type charge profile.
type Doctor struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Status         string    `json:"status"`
	AudioRateCents *int64    `json:"audioRateCents,omitempty"`
	VideoRateCents *int64    `json:"videoRateCents,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Active reports whether the doctor is currently bookable.
func (d *Doctor) Active() bool {
	return d.Status == "active"
}

// RateCents returns the doctor's rate for a session type, or 0 when no
// rate is configured and the system default applies.
func (d *Doctor) RateCents(sessionType string) int64 {
	switch sessionType {
	case "audio":
		if d.AudioRateCents != nil {
			return *d.AudioRateCents
		}
	case "video":
		if d.VideoRateCents != nil {
			return *d.VideoRateCents
		}
	}
	return 0
}

// Directory resolves doctors. The platform's user service owns the
// authoritative records; this interface is all the core depends on.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListActiveDoctorIDs(ctx context.Context) ([]uuid.UUID, error)
}

// DB is the subset of pgxpool.Pool the postgres directory needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads the doctors projection table the user service
// maintains.
type PostgresDirectory struct {
	db DB
}

// NewPostgresDirectory initializes a directory backed by pgxpool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("directory: pgx pool required")
	}
	return &PostgresDirectory{db: pool}
}

// NewPostgresDirectoryWithDB allows injecting a mocked pool for tests.
func NewPostgresDirectoryWithDB(db DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// GetDoctor fetches one doctor.
func (d *PostgresDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	query := `
		SELECT id, name, email, status, audio_rate_cents, video_rate_cents, created_at
		FROM doctors
		WHERE id = $1
	`
	var doc Doctor
	err := d.db.QueryRow(ctx, query, id).Scan(
		&doc.ID,
		&doc.Name,
		&doc.Email,
		&doc.Status,
		&doc.AudioRateCents,
		&doc.VideoRateCents,
		&doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("directory: select doctor: %w", err)
	}
	return &doc, nil
}

// ListActiveDoctorIDs returns bookable doctor ids in ascending order. The
// stable order makes automatic doctor assignment deterministic.
func (d *PostgresDirectory) ListActiveDoctorIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := d.db.Query(ctx, `SELECT id FROM doctors WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("directory: list active doctors: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("directory: scan doctor id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: iterate doctor ids: %w", err)
	}
	return ids, nil
}
