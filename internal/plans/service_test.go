package plans

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

type stubStore struct {
	packages map[uuid.UUID]*Package
	grants   map[uuid.UUID]*Grant

	reservable *Grant
	hasActive  bool

	returned     []uuid.UUID
	deactivated  []uuid.UUID
	createdGrant *Grant
}

func newStubStore() *stubStore {
	return &stubStore{
		packages: make(map[uuid.UUID]*Package),
		grants:   make(map[uuid.UUID]*Grant),
	}
}

func (s *stubStore) CreatePackage(_ context.Context, p *Package) error {
	p.IsActive = true
	s.packages[p.ID] = p
	return nil
}

func (s *stubStore) GetPackage(_ context.Context, id uuid.UUID) (*Package, error) {
	p, ok := s.packages[id]
	if !ok || !p.IsActive {
		return nil, ErrPackageNotFound
	}
	return p, nil
}

func (s *stubStore) GetPackageAny(_ context.Context, id uuid.UUID) (*Package, error) {
	p, ok := s.packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return p, nil
}

func (s *stubStore) ListActivePackages(context.Context) ([]Package, error) {
	var out []Package
	for _, p := range s.packages {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubStore) DeactivatePackage(_ context.Context, id uuid.UUID) error {
	if p, ok := s.packages[id]; ok {
		p.IsActive = false
	}
	return nil
}

func (s *stubStore) CreateGrant(_ context.Context, g *Grant) error {
	s.createdGrant = g
	s.grants[g.ID] = g
	return nil
}

func (s *stubStore) GetGrant(_ context.Context, id uuid.UUID) (*Grant, error) {
	g, ok := s.grants[id]
	if !ok {
		return nil, ErrGrantNotFound
	}
	return g, nil
}

func (s *stubStore) FindReservableGrant(_ context.Context, _ uuid.UUID, _ time.Time) (*Grant, error) {
	if s.reservable == nil {
		return nil, nil
	}
	copied := *s.reservable
	return &copied, nil
}

func (s *stubStore) HasActiveGrant(_ context.Context, _ uuid.UUID, _ time.Time) (bool, error) {
	return s.hasActive, nil
}

func (s *stubStore) DecrementCredit(_ context.Context, grantID uuid.UUID) (bool, error) {
	g := s.reservable
	if g == nil || g.ID != grantID || g.BookingsPending <= 0 {
		return false, nil
	}
	g.BookingsPending--
	return true, nil
}

func (s *stubStore) ReturnCredit(_ context.Context, grantID uuid.UUID) error {
	s.returned = append(s.returned, grantID)
	return nil
}

func (s *stubStore) Activate(_ context.Context, grantID uuid.UUID, start, end time.Time) (*Grant, error) {
	g, ok := s.grants[grantID]
	if !ok {
		return nil, ErrGrantNotFound
	}
	g.IsActive = true
	g.StartDate = &start
	g.EndDate = &end
	return g, nil
}

func (s *stubStore) DeactivateGrant(_ context.Context, grantID uuid.UUID) error {
	s.deactivated = append(s.deactivated, grantID)
	return nil
}

type stubLastBookings struct {
	last *time.Time
}

func (s *stubLastBookings) LastConfirmedUnderGrant(context.Context, uuid.UUID) (*time.Time, error) {
	return s.last, nil
}

var ledgerNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestLedger(store *stubStore, last LastBookingSource, intervalEnforced bool) *Ledger {
	l := NewLedger(store, last, intervalEnforced, logging.Default())
	l.now = func() time.Time { return ledgerNow }
	return l
}

func TestReserveCredit(t *testing.T) {
	store := newStubStore()
	grantID := uuid.New()
	store.reservable = &Grant{ID: grantID, PatientID: uuid.New(), BookingsPending: 2, IsActive: true}
	ledger := newTestLedger(store, nil, false)

	g, err := ledger.ReserveCredit(context.Background(), uuid.New(), ledgerNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, grantID, g.ID)
	assert.Equal(t, 1, g.BookingsPending)
}

func TestReserveCredit_NoActivePlan(t *testing.T) {
	ledger := newTestLedger(newStubStore(), nil, false)

	_, err := ledger.ReserveCredit(context.Background(), uuid.New(), ledgerNow.Add(24*time.Hour))
	assert.True(t, errors.Is(err, ErrNoActivePlan))
}

func TestReserveCredit_Exhausted(t *testing.T) {
	store := newStubStore()
	store.hasActive = true // active grant exists, but nothing is reservable
	ledger := newTestLedger(store, nil, false)

	_, err := ledger.ReserveCredit(context.Background(), uuid.New(), ledgerNow.Add(24*time.Hour))
	assert.True(t, errors.Is(err, ErrPlanExhausted))
}

func TestReserveCredit_LostRaceForLastCredit(t *testing.T) {
	store := newStubStore()
	store.reservable = &Grant{ID: uuid.New(), BookingsPending: 0, IsActive: true}
	ledger := newTestLedger(store, nil, false)

	_, err := ledger.ReserveCredit(context.Background(), uuid.New(), ledgerNow.Add(24*time.Hour))
	assert.True(t, errors.Is(err, ErrPlanExhausted))
}

func TestReserveCredit_IntervalRule(t *testing.T) {
	store := newStubStore()
	pkg := &Package{ID: uuid.New(), Name: "Monthly", BookingsAllowed: 4, PeriodDays: 7, IsActive: true}
	store.packages[pkg.ID] = pkg
	grantID := uuid.New()
	lastAt := ledgerNow.Add(-24 * time.Hour)
	last := &stubLastBookings{last: &lastAt}

	t.Run("too soon when enforced", func(t *testing.T) {
		store.reservable = &Grant{ID: grantID, PackageID: pkg.ID, BookingsPending: 3, IsActive: true}
		ledger := newTestLedger(store, last, true)

		_, err := ledger.ReserveCredit(context.Background(), uuid.New(), lastAt.AddDate(0, 0, 3))
		assert.True(t, errors.Is(err, ErrTooSoon))
		assert.Equal(t, 3, store.reservable.BookingsPending, "no credit may be consumed on rejection")
	})

	t.Run("allowed once the interval has passed", func(t *testing.T) {
		store.reservable = &Grant{ID: grantID, PackageID: pkg.ID, BookingsPending: 3, IsActive: true}
		ledger := newTestLedger(store, last, true)

		g, err := ledger.ReserveCredit(context.Background(), uuid.New(), lastAt.AddDate(0, 0, 8))
		require.NoError(t, err)
		assert.Equal(t, 2, g.BookingsPending)
	})

	t.Run("ignored when disabled", func(t *testing.T) {
		store.reservable = &Grant{ID: grantID, PackageID: pkg.ID, BookingsPending: 3, IsActive: true}
		ledger := newTestLedger(store, last, false)

		_, err := ledger.ReserveCredit(context.Background(), uuid.New(), lastAt.AddDate(0, 0, 3))
		assert.NoError(t, err)
	})
}

func TestPurchaseCreatesInactiveGrant(t *testing.T) {
	store := newStubStore()
	pkg := &Package{ID: uuid.New(), Name: "Starter", BookingsAllowed: 4, PeriodDays: 30, PriceCents: 20000, IsActive: true}
	store.packages[pkg.ID] = pkg
	ledger := newTestLedger(store, nil, false)
	patientID := uuid.New()

	grant, gotPkg, err := ledger.Purchase(context.Background(), patientID, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, gotPkg.ID)
	assert.Equal(t, patientID, grant.PatientID)
	assert.Equal(t, 4, grant.BookingsPending)
	assert.False(t, grant.IsActive, "grant must stay inactive until payment settles")
}

func TestPurchase_UnknownPackage(t *testing.T) {
	ledger := newTestLedger(newStubStore(), nil, false)

	_, _, err := ledger.Purchase(context.Background(), uuid.New(), uuid.New())
	assert.True(t, errors.Is(err, ErrPackageNotFound))
}

func TestActivate(t *testing.T) {
	store := newStubStore()
	pkg := &Package{ID: uuid.New(), BookingsAllowed: 4, PeriodDays: 30, IsActive: true}
	store.packages[pkg.ID] = pkg
	grant := &Grant{ID: uuid.New(), PackageID: pkg.ID, BookingsPending: 4}
	store.grants[grant.ID] = grant
	ledger := newTestLedger(store, nil, false)

	activated, err := ledger.Activate(context.Background(), grant.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)
	require.NotNil(t, activated.StartDate)
	require.NotNil(t, activated.EndDate)
	assert.Equal(t, ledgerNow, *activated.StartDate)
	assert.Equal(t, ledgerNow.AddDate(0, 0, 30), *activated.EndDate)
}

func TestActivate_IdempotentOnRedelivery(t *testing.T) {
	store := newStubStore()
	start := ledgerNow.AddDate(0, 0, -1)
	end := ledgerNow.AddDate(0, 0, 29)
	grant := &Grant{ID: uuid.New(), BookingsPending: 3, IsActive: true, StartDate: &start, EndDate: &end}
	store.grants[grant.ID] = grant
	ledger := newTestLedger(store, nil, false)

	again, err := ledger.Activate(context.Background(), grant.ID)
	require.NoError(t, err)
	assert.Equal(t, start, *again.StartDate, "redelivery must not re-date the window")
}

func TestAbandonPurchase(t *testing.T) {
	store := newStubStore()
	ledger := newTestLedger(store, nil, false)
	grantID := uuid.New()

	require.NoError(t, ledger.AbandonPurchase(context.Background(), grantID))
	assert.Equal(t, []uuid.UUID{grantID}, store.deactivated)
}

func TestReturnCredit(t *testing.T) {
	store := newStubStore()
	ledger := newTestLedger(store, nil, false)
	grantID := uuid.New()

	require.NoError(t, ledger.ReturnCredit(context.Background(), grantID))
	assert.Equal(t, []uuid.UUID{grantID}, store.returned)
}
