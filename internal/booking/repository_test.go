package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var repoNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func repoBooking(status Status) *Booking {
	return &Booking{
		ID:              uuid.New(),
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		ScheduledAt:     repoNow.Add(24 * time.Hour),
		DurationMinutes: 30,
		SessionType:     SessionVideo,
		BookingType:     TypeNormal,
		PaymentType:     PaymentOneTime,
		AmountCents:     5000,
		IsPaid:          status == StatusConfirmed,
		Status:          status,
		CreatedAt:       repoNow,
		UpdatedAt:       repoNow,
	}
}

func bookingRows(b *Booking) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "doctor_id", "patient_id", "scheduled_at", "duration_minutes",
		"session_type", "booking_type", "payment_type", "amount_cents", "is_paid",
		"status", "plan_grant_id", "created_at", "updated_at",
	}).AddRow(
		b.ID, b.DoctorID, b.PatientID, b.ScheduledAt, b.DurationMinutes,
		b.SessionType, b.BookingType, b.PaymentType, b.AmountCents, b.IsPaid,
		b.Status, b.PlanGrantID, b.CreatedAt, b.UpdatedAt,
	)
}

func TestRepositoryCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	b := repoBooking(StatusPending)
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(b.ID, b.DoctorID, b.PatientID, b.ScheduledAt, b.DurationMinutes,
			b.SessionType, b.BookingType, b.PaymentType, b.AmountCents, b.IsPaid,
			b.Status, (*uuid.UUID)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(repoNow, repoNow))

	if err := repo.Create(context.Background(), b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !b.CreatedAt.Equal(repoNow) {
		t.Fatalf("expected created_at backfilled, got %v", b.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryCreateSlotConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	// The exclusion constraint on (doctor_id, occupied interval) rejects the
	// losing insert of a concurrent pair.
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23P01"})

	if err := repo.Create(context.Background(), repoBooking(StatusPending)); !errors.Is(err, ErrNoAvailability) {
		t.Fatalf("expected ErrNoAvailability, got %v", err)
	}
}

func TestRepositoryGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM bookings").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryConfirm(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	b := repoBooking(StatusConfirmed)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bookings").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	mock.ExpectExec("INSERT INTO doctor_unavailability").
		WithArgs(pgxmock.AnyArg(), b.DoctorID, b.ID, b.ScheduledAt, b.EndsAt()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO consultation_sessions").
		WithArgs(pgxmock.AnyArg(), b.ID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE transactions").
		WithArgs(b.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	got, alreadyApplied, err := repo.Confirm(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if alreadyApplied {
		t.Fatal("first confirmation reported as already applied")
	}
	if got.Status != StatusConfirmed || !got.IsPaid {
		t.Fatalf("expected confirmed paid booking, got %s paid=%v", got.Status, got.IsPaid)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryConfirmAlreadyApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	b := repoBooking(StatusConfirmed)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bookings").WithArgs(b.ID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM bookings").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	mock.ExpectRollback()

	got, alreadyApplied, err := repo.Confirm(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("confirm redelivery: %v", err)
	}
	if !alreadyApplied {
		t.Fatal("expected alreadyApplied on a confirmed booking")
	}
	if got.ID != b.ID {
		t.Fatalf("expected current booking returned, got %s", got.ID)
	}
}

func TestRepositoryConfirmIllegalTransition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	b := repoBooking(StatusCancelled)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bookings").WithArgs(b.ID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM bookings").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	mock.ExpectRollback()

	if _, _, err := repo.Confirm(context.Background(), b.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRepositoryCancelReleasesSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	b := repoBooking(StatusCancelled)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bookings").
		WithArgs(b.ID, StatusCancelled, []string{"pending", "confirmed"}).
		WillReturnRows(bookingRows(b))
	mock.ExpectExec("DELETE FROM doctor_unavailability").
		WithArgs(b.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	got, err := repo.Cancel(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryCompleteKeepsSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	b := repoBooking(StatusCompleted)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bookings").
		WithArgs(b.ID, StatusCompleted, []string{"confirmed"}).
		WillReturnRows(bookingRows(b))
	mock.ExpectCommit()

	if _, err := repo.Complete(context.Background(), b.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryRescheduleConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	id := uuid.New()
	newTime := repoNow.Add(48 * time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bookings").
		WithArgs(id, newTime).
		WillReturnError(&pgconn.PgError{Code: "23P01"})
	mock.ExpectRollback()

	if _, err := repo.Reschedule(context.Background(), id, newTime); !errors.Is(err, ErrNoAvailability) {
		t.Fatalf("expected ErrNoAvailability, got %v", err)
	}
}

func TestRepositoryExpire(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bookings").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE transactions").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM doctor_unavailability").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	expired, err := repo.Expire(context.Background(), id)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if !expired {
		t.Fatal("expected booking expired")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryExpireSkipsConfirmed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	// Confirmed between scan and expiry: the guarded update matches no row
	// and nothing else runs.
	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bookings").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	expired, err := repo.Expire(context.Background(), id)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired {
		t.Fatal("confirmed booking must not be expired")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryLastConfirmedUnderGrant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepositoryWithDB(mock)

	grantID := uuid.New()
	last := repoNow.Add(-72 * time.Hour)
	mock.ExpectQuery("SELECT scheduled_at").WithArgs(grantID).
		WillReturnRows(pgxmock.NewRows([]string{"scheduled_at"}).AddRow(last))

	got, err := repo.LastConfirmedUnderGrant(context.Background(), grantID)
	if err != nil {
		t.Fatalf("last under grant: %v", err)
	}
	if got == nil || !got.Equal(last) {
		t.Fatalf("expected %v, got %v", last, got)
	}

	mock.ExpectQuery("SELECT scheduled_at").WithArgs(grantID).WillReturnError(pgx.ErrNoRows)
	got, err = repo.LastConfirmedUnderGrant(context.Background(), grantID)
	if err != nil || got != nil {
		t.Fatalf("expected no prior booking, got %v err=%v", got, err)
	}
}
