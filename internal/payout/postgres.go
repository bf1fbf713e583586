package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// payoutTableLock is the advisory lock key serializing all write transactions
// against the payouts table. Every writer takes it for the duration of its
// transaction, which gives true cross-process exclusive-writer semantics.
const payoutTableLock = 0x70617971 // "payq"

// PostgresRepository persists payout records in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the payouts table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS payouts (
        id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
        external_id TEXT NOT NULL UNIQUE,
        beneficiary TEXT NOT NULL,
        amount BIGINT NOT NULL CHECK (amount > 0),
        txid TEXT NOT NULL DEFAULT '',
        locked BOOLEAN NOT NULL DEFAULT FALSE,
        associated BOOLEAN NOT NULL DEFAULT FALSE,
        pulled_at TIMESTAMPTZ NOT NULL,
        locked_at TIMESTAMPTZ,
        paid_at TIMESTAMPTZ,
        associated_at TIMESTAMPTZ
    )`)
	return err
}

// exclusively runs fn inside a transaction holding the payout table advisory
// lock, so concurrent writers queue instead of interleaving.
func (r *PostgresRepository) exclusively(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, payoutTableLock); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpsertNew inserts a record for the external id unless one already exists.
func (r *PostgresRepository) UpsertNew(ctx context.Context, externalID, beneficiary string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("amount must be positive")
	}
	var created bool
	err := r.exclusively(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO payouts (external_id, beneficiary, amount, pulled_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (external_id) DO NOTHING`, externalID, beneficiary, amount, time.Now().UTC())
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		return nil
	})
	return created, err
}

// SelectUnlockedUnpaid returns the records eligible for disbursement.
func (r *PostgresRepository) SelectUnlockedUnpaid(ctx context.Context) ([]Record, error) {
	return r.query(ctx, `WHERE txid = '' AND NOT locked`)
}

// LockBatch marks the given records locked in one transaction.
func (r *PostgresRepository) LockBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.exclusively(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE payouts SET locked = TRUE, locked_at = $2
            WHERE id = ANY($1)`, ids, time.Now().UTC())
		return err
	})
}

// RecordSuccess stamps the transaction id and releases the batch locks.
// Transaction ids are write-once: rows that already carry one are left
// untouched rather than overwritten.
func (r *PostgresRepository) RecordSuccess(ctx context.Context, ids []int64, txid string) error {
	if len(ids) == 0 {
		return nil
	}
	if txid == "" {
		return fmt.Errorf("transaction id is required")
	}
	return r.exclusively(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE payouts SET txid = $2, paid_at = $3, locked = FALSE
            WHERE id = ANY($1) AND txid = ''`, ids, txid, time.Now().UTC())
		return err
	})
}

// Unlock releases locks without touching transaction ids.
func (r *PostgresRepository) Unlock(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.exclusively(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE payouts SET locked = FALSE, locked_at = NULL
            WHERE id = ANY($1)`, ids)
		return err
	})
}

// MarkAssociated flags the batch as associated on the remote ledger.
func (r *PostgresRepository) MarkAssociated(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.exclusively(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE payouts SET associated = TRUE, associated_at = $2
            WHERE id = ANY($1)`, ids, time.Now().UTC())
		return err
	})
}

// AssignTransaction stamps a transaction id onto unpaid locked records.
func (r *PostgresRepository) AssignTransaction(ctx context.Context, ids []int64, txid string) error {
	if txid == "" {
		return fmt.Errorf("transaction id is required")
	}
	return r.exclusively(ctx, func(tx pgx.Tx) error {
		var paid int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM payouts WHERE id = ANY($1) AND txid <> ''`, ids).Scan(&paid); err != nil {
			return err
		}
		if paid > 0 {
			return ErrAlreadyPaid
		}
		_, err := tx.Exec(ctx, `UPDATE payouts SET txid = $2, paid_at = $3
            WHERE id = ANY($1) AND locked AND txid = ''`, ids, txid, time.Now().UTC())
		return err
	})
}

// ResetAllLocked unconditionally unlocks every locked record once the
// confirmer approves. The count shown to the confirmer is read inside the
// same exclusive transaction that performs the update.
func (r *PostgresRepository) ResetAllLocked(ctx context.Context, confirm Confirmer) (int64, error) {
	if confirm == nil {
		return 0, ErrNotConfirmed
	}
	var reset int64
	err := r.exclusively(ctx, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM payouts WHERE locked`).Scan(&locked); err != nil {
			return err
		}
		if !confirm(int(locked)) {
			return ErrNotConfirmed
		}
		tag, err := tx.Exec(ctx, `UPDATE payouts SET locked = FALSE, locked_at = NULL WHERE locked`)
		if err != nil {
			return err
		}
		reset = tag.RowsAffected()
		return nil
	})
	return reset, err
}

// UnpaidLocked lists records stuck in the locked, unpaid state.
func (r *PostgresRepository) UnpaidLocked(ctx context.Context) ([]Record, error) {
	return r.query(ctx, `WHERE txid = '' AND locked`)
}

// PaidUnassociated lists paid records awaiting remote association.
func (r *PostgresRepository) PaidUnassociated(ctx context.Context) ([]Record, error) {
	return r.query(ctx, `WHERE txid <> '' AND NOT associated`)
}

// UnpaidUnlocked lists records ready for the next disbursement run.
func (r *PostgresRepository) UnpaidUnlocked(ctx context.Context) ([]Record, error) {
	return r.query(ctx, `WHERE txid = '' AND NOT locked`)
}

// Completed lists fully settled records (paid and associated).
func (r *PostgresRepository) Completed(ctx context.Context) ([]Record, error) {
	return r.query(ctx, `WHERE txid <> '' AND associated`)
}

func (r *PostgresRepository) query(ctx context.Context, where string) ([]Record, error) {
	rows, err := r.db.Query(ctx, `SELECT id, external_id, beneficiary, amount, txid, locked, associated,
        pulled_at, locked_at, paid_at, associated_at FROM payouts `+where+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var lockedAt, paidAt, associatedAt *time.Time
		if err := rows.Scan(&rec.ID, &rec.ExternalID, &rec.Beneficiary, &rec.Amount, &rec.TxID,
			&rec.Locked, &rec.Associated, &rec.PulledAt, &lockedAt, &paidAt, &associatedAt); err != nil {
			return nil, err
		}
		if lockedAt != nil {
			rec.LockedAt = lockedAt.UTC()
		}
		if paidAt != nil {
			rec.PaidAt = paidAt.UTC()
		}
		if associatedAt != nil {
			rec.AssociatedAt = associatedAt.UTC()
		}
		rec.PulledAt = rec.PulledAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
