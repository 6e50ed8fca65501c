package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrContactNotFound is returned when the user has no directory entry.
var ErrContactNotFound = errors.New("contact not found")

// PostgresContacts resolves user contact details from the users projection
// table maintained by the identity service.
type PostgresContacts struct {
	db interface {
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	}
}

// NewPostgresContacts initializes a contact source backed by pgxpool.
func NewPostgresContacts(pool *pgxpool.Pool) *PostgresContacts {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &PostgresContacts{db: pool}
}

// ContactFor returns the user's email and display name.
func (c *PostgresContacts) ContactFor(ctx context.Context, userID uuid.UUID) (string, string, error) {
	var email, name string
	err := c.db.QueryRow(ctx, `SELECT email, name FROM users WHERE id = $1`, userID).Scan(&email, &name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrContactNotFound
		}
		return "", "", fmt.Errorf("notify: lookup contact: %w", err)
	}
	return email, name, nil
}

var _ ContactSource = (*PostgresContacts)(nil)
