package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/telehealth-platform/pkg/logging"
)

type stubSweepStore struct {
	stale      []Booking
	expireOK   map[uuid.UUID]bool
	expireErr  map[uuid.UUID]error
	gotCutoff  time.Time
	expireSeen []uuid.UUID
}

func (s *stubSweepStore) ListStalePending(_ context.Context, cutoff time.Time, _ int) ([]Booking, error) {
	s.gotCutoff = cutoff
	return s.stale, nil
}

func (s *stubSweepStore) Expire(_ context.Context, id uuid.UUID) (bool, error) {
	s.expireSeen = append(s.expireSeen, id)
	if err := s.expireErr[id]; err != nil {
		return false, err
	}
	return s.expireOK[id], nil
}

func TestProcessOnce_ExpiresStalePending(t *testing.T) {
	staleA := Booking{ID: uuid.New(), PatientID: uuid.New(), Status: StatusPending}
	staleB := Booking{ID: uuid.New(), PatientID: uuid.New(), Status: StatusPending}
	store := &stubSweepStore{
		stale:    []Booking{staleA, staleB},
		expireOK: map[uuid.UUID]bool{staleA.ID: true, staleB.ID: true},
	}
	notifier := &recordingNotifier{}
	sw := NewSweeper(store, notifier, nil, logging.Default(), 10*time.Minute, time.Minute)
	sw.now = func() time.Time { return svcNow }

	expired, err := sw.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, expired)
	assert.Equal(t, svcNow.Add(-10*time.Minute), store.gotCutoff)
	assert.ElementsMatch(t, []uuid.UUID{staleA.ID, staleB.ID}, notifier.failed)
}

func TestProcessOnce_SkipsBookingConfirmedMidScan(t *testing.T) {
	raced := Booking{ID: uuid.New(), Status: StatusPending}
	store := &stubSweepStore{
		stale:    []Booking{raced},
		expireOK: map[uuid.UUID]bool{raced.ID: false},
	}
	notifier := &recordingNotifier{}
	sw := NewSweeper(store, notifier, nil, logging.Default(), 10*time.Minute, time.Minute)

	expired, err := sw.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Empty(t, notifier.failed, "a booking that escaped expiry must not be flagged failed")
}

func TestProcessOnce_OneBadRowDoesNotBlockBatch(t *testing.T) {
	bad := Booking{ID: uuid.New(), Status: StatusPending}
	good := Booking{ID: uuid.New(), Status: StatusPending}
	store := &stubSweepStore{
		stale:     []Booking{bad, good},
		expireOK:  map[uuid.UUID]bool{good.ID: true},
		expireErr: map[uuid.UUID]error{bad.ID: errors.New("deadlock")},
	}
	sw := NewSweeper(store, nil, nil, logging.Default(), 10*time.Minute, time.Minute)

	expired, err := sw.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Len(t, store.expireSeen, 2)
}

func TestProcessOnce_EmptyScan(t *testing.T) {
	sw := NewSweeper(&stubSweepStore{}, nil, nil, logging.Default(), 10*time.Minute, time.Minute)

	expired, err := sw.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}
