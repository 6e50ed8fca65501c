package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedStore records webhook event ids that were already applied. It
// is a backstop only: reconciliation is idempotent on booking/grant state
// first, since an event-id store can be lost and rebuilt.
type ProcessedStore struct {
	db TxnDB
}

// NewProcessedStore creates the store backed by pgx.
func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &ProcessedStore{db: pool}
}

// NewProcessedStoreWithDB allows injecting a mocked pool for tests.
func NewProcessedStoreWithDB(db TxnDB) *ProcessedStore {
	return &ProcessedStore{db: db}
}

// AlreadyProcessed checks whether this provider event id was seen.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx,
		`SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`,
		provider, eventID,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("payments: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed records an applied event id.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO processed_events (provider, event_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		provider, eventID,
	)
	if err != nil {
		return fmt.Errorf("payments: mark processed: %w", err)
	}
	return nil
}
