package payments

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

// ErrTransactionNotFound is returned when no transaction matches.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionStatus is the settlement state of a ledger record.
type TransactionStatus string

const (
	TxnPending TransactionStatus = "pending"
	TxnSuccess TransactionStatus = "success"
	TxnFailed  TransactionStatus = "failed"
)

// Transaction is an append-only ledger record of money movement. Rows are
// never deleted; the only permitted mutation is pending -> success|failed.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	UserID      uuid.UUID         `json:"userId"`
	BookingID   *uuid.UUID        `json:"bookingId,omitempty"`
	PlanGrantID *uuid.UUID        `json:"planGrantId,omitempty"`
	AmountCents int64             `json:"amountCents"`
	Status      TransactionStatus `json:"status"`
	PaymentType string            `json:"paymentType"`
	ProviderRef string            `json:"providerRef,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// TxnDB is the subset of pgxpool.Pool the repository needs.
type TxnDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TransactionRepository persists the money-movement audit trail.
type TransactionRepository struct {
	db TxnDB
}

// NewTransactionRepository creates a repository backed by pgx.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &TransactionRepository{db: pool}
}

// NewTransactionRepositoryWithDB allows injecting a mocked pool for tests.
func NewTransactionRepositoryWithDB(db TxnDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create appends a ledger record.
func (r *TransactionRepository) Create(ctx context.Context, t *Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, booking_id, plan_grant_id, amount_cents, status, payment_type, provider_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		t.ID, t.UserID, t.BookingID, t.PlanGrantID, t.AmountCents, t.Status, t.PaymentType, t.ProviderRef,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payments: insert transaction: %w", err)
	}
	return nil
}

// RecordBookingCharge appends the pending ledger record for a one-time
// booking charge.
func (r *TransactionRepository) RecordBookingCharge(ctx context.Context, userID, bookingID uuid.UUID, amountCents int64) error {
	return r.Create(ctx, &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		BookingID:   &bookingID,
		AmountCents: amountCents,
		Status:      TxnPending,
		PaymentType: "one_time",
	})
}

// RecordPlanPurchase appends the pending ledger record for a plan grant
// purchase.
func (r *TransactionRepository) RecordPlanPurchase(ctx context.Context, userID, grantID uuid.UUID, amountCents int64) error {
	return r.Create(ctx, &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		PlanGrantID: &grantID,
		AmountCents: amountCents,
		Status:      TxnPending,
		PaymentType: "plan",
	})
}

// SettleByPlanGrant moves the grant's pending transaction to a terminal
// status. A no-op when nothing is pending, which keeps webhook redelivery
// safe.
func (r *TransactionRepository) SettleByPlanGrant(ctx context.Context, grantID uuid.UUID, status TransactionStatus, providerRef string) error {
	query := `
		UPDATE transactions
		SET status = $2, provider_ref = COALESCE(NULLIF($3, ''), provider_ref), updated_at = now()
		WHERE plan_grant_id = $1 AND status = 'pending'
	`
	if _, err := r.db.Exec(ctx, query, grantID, status, providerRef); err != nil {
		return fmt.Errorf("payments: settle plan transaction: %w", err)
	}
	return nil
}

// AttachProviderRef records the gateway's intent id on a booking's pending
// transaction once the intent exists.
func (r *TransactionRepository) AttachProviderRef(ctx context.Context, bookingID uuid.UUID, providerRef string) error {
	query := `
		UPDATE transactions
		SET provider_ref = $2, updated_at = now()
		WHERE booking_id = $1 AND status = 'pending'
	`
	if _, err := r.db.Exec(ctx, query, bookingID, providerRef); err != nil {
		return fmt.Errorf("payments: attach provider ref: %w", err)
	}
	return nil
}
