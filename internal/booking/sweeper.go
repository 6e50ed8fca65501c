package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/internal/observability/metrics"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// SweepStore is the repository slice the sweeper scans; satisfied by
// *Repository.
type SweepStore interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error)
	Expire(ctx context.Context, id uuid.UUID) (expired bool, err error)
}

// Sweeper expires one-time bookings whose payment never arrived, releasing
// their soft-held slots. Expiry runs per booking in its own transaction,
// so a booking confirmed mid-scan is left alone and one bad row does not
// block the rest of the batch.
type Sweeper struct {
	store     SweepStore
	notifier  Notifier
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	ttl       time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewSweeper constructs the sweeper. notifier and metrics are optional.
func NewSweeper(store SweepStore, notifier Notifier, m *metrics.BookingMetrics, logger *logging.Logger, ttl, interval time.Duration) *Sweeper {
	if store == nil {
		panic("booking: sweep store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:     store,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		ttl:       ttl,
		interval:  interval,
		batchSize: 100,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run scans on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", "interval", s.interval.String(), "ttl", s.ttl.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.ProcessOnce(ctx); err != nil {
				s.logger.Error("sweep scan failed", "error", err)
			}
		}
	}
}

// ProcessOnce performs one scan and returns how many bookings it expired.
func (s *Sweeper) ProcessOnce(ctx context.Context) (int, error) {
	started := s.now()
	cutoff := started.Add(-s.ttl)

	stale, err := s.store.ListStalePending(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		b := &stale[i]
		ok, err := s.store.Expire(ctx, b.ID)
		if err != nil {
			s.logger.Error("could not expire booking", "booking_id", b.ID, "error", err)
			continue
		}
		if !ok {
			// Confirmed or already closed between scan and expiry.
			continue
		}
		expired++
		s.logger.Info("expired stale pending booking",
			"booking_id", b.ID, "doctor_id", b.DoctorID, "created_at", b.CreatedAt.Format(time.RFC3339))
		if s.notifier != nil {
			b.Status = StatusFailed
			s.notifier.BookingFailed(ctx, b)
		}
	}

	s.metrics.ObserveSweep(expired, time.Since(started).Seconds())
	if len(stale) > 0 {
		s.logger.Info("sweep finished", "scanned", len(stale), "expired", expired)
	}
	return expired, nil
}
