package payout

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("payout record not found")

	// ErrAlreadyPaid indicates an attempt to assign a transaction id to a
	// record that already carries one. Transaction ids are write-once.
	ErrAlreadyPaid = errors.New("payout record already has a transaction id")

	// ErrNotConfirmed indicates a destructive operation was invoked without
	// operator confirmation.
	ErrNotConfirmed = errors.New("operation not confirmed")
)

// Confirmer is asked to approve a destructive bulk operation before it
// commits. It receives the number of affected records.
type Confirmer func(count int) bool

// Repository persists payout records with exclusive-writer semantics: at most
// one write transaction against the payout table is in flight at a time, and
// no writer observes another's uncommitted change.
type Repository interface {
	// UpsertNew inserts a record for the given external id if none exists.
	// It reports whether a row was created; concurrent duplicate calls for
	// the same external id yield exactly one row.
	UpsertNew(ctx context.Context, externalID, beneficiary string, amount int64) (bool, error)

	// SelectUnlockedUnpaid returns a fixed snapshot of records eligible for
	// disbursement (no transaction id, not locked).
	SelectUnlockedUnpaid(ctx context.Context) ([]Record, error)

	// LockBatch marks the given records locked in a single transaction. The
	// lock must be durably committed before any funds move.
	LockBatch(ctx context.Context, ids []int64) error

	// RecordSuccess stamps the wallet transaction id onto the batch and
	// releases the locks in a single transaction. Transaction ids are
	// write-once; records already paid are left untouched.
	RecordSuccess(ctx context.Context, ids []int64, txid string) error

	// Unlock releases the locks on the batch without touching transaction
	// ids. Used on confirmed-clean send failures so the batch can retry.
	Unlock(ctx context.Context, ids []int64) error

	// MarkAssociated flags the batch as associated on the remote ledger.
	MarkAssociated(ctx context.Context, ids []int64) error

	// AssignTransaction stamps a transaction id onto unpaid, locked records.
	// Manual recovery tool for payments that went out but were never
	// recorded locally. Fails with ErrAlreadyPaid if any record is paid.
	AssignTransaction(ctx context.Context, ids []int64, txid string) error

	// ResetAllLocked unconditionally unlocks every locked record after the
	// confirmer approves. Returns the number of records unlocked.
	ResetAllLocked(ctx context.Context, confirm Confirmer) (int64, error)

	// Report queries. Read-only listings for the administrative surface.
	UnpaidLocked(ctx context.Context) ([]Record, error)
	PaidUnassociated(ctx context.Context) ([]Record, error)
	UnpaidUnlocked(ctx context.Context) ([]Record, error)
	Completed(ctx context.Context) ([]Record, error)
}
