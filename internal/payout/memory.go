package payout

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryRepository struct {
	mu     sync.Mutex
	nextID int64
	byExt  map[string]int64
	rows   map[int64]*Record
}

// NewMemoryRepository constructs an in-memory repository for tests. Writes
// are serialized by a single mutex, mirroring the exclusive-writer semantics
// of the Postgres implementation.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		nextID: 1,
		byExt:  make(map[string]int64),
		rows:   make(map[int64]*Record),
	}
}

func (r *memoryRepository) UpsertNew(_ context.Context, externalID, beneficiary string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("amount must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byExt[externalID]; exists {
		return false, nil
	}
	id := r.nextID
	r.nextID++
	r.byExt[externalID] = id
	r.rows[id] = &Record{
		ID:          id,
		ExternalID:  externalID,
		Beneficiary: beneficiary,
		Amount:      amount,
		PulledAt:    time.Now().UTC(),
	}
	return true, nil
}

func (r *memoryRepository) SelectUnlockedUnpaid(ctx context.Context) ([]Record, error) {
	return r.snapshot(func(rec *Record) bool { return !rec.Paid() && !rec.Locked })
}

func (r *memoryRepository) LockBatch(_ context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		rec, ok := r.rows[id]
		if !ok {
			return ErrNotFound
		}
		rec.Locked = true
		rec.LockedAt = now
	}
	return nil
}

func (r *memoryRepository) RecordSuccess(_ context.Context, ids []int64, txid string) error {
	if txid == "" {
		return fmt.Errorf("transaction id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		rec, ok := r.rows[id]
		if !ok {
			return ErrNotFound
		}
		if rec.Paid() {
			continue
		}
		rec.TxID = txid
		rec.PaidAt = now
		rec.Locked = false
	}
	return nil
}

func (r *memoryRepository) Unlock(_ context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		rec, ok := r.rows[id]
		if !ok {
			return ErrNotFound
		}
		rec.Locked = false
		rec.LockedAt = time.Time{}
	}
	return nil
}

func (r *memoryRepository) MarkAssociated(_ context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		rec, ok := r.rows[id]
		if !ok {
			return ErrNotFound
		}
		rec.Associated = true
		rec.AssociatedAt = now
	}
	return nil
}

func (r *memoryRepository) AssignTransaction(_ context.Context, ids []int64, txid string) error {
	if txid == "" {
		return fmt.Errorf("transaction id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		rec, ok := r.rows[id]
		if !ok {
			return ErrNotFound
		}
		if rec.Paid() {
			return ErrAlreadyPaid
		}
	}
	now := time.Now().UTC()
	for _, id := range ids {
		rec := r.rows[id]
		if rec.Locked && !rec.Paid() {
			rec.TxID = txid
			rec.PaidAt = now
		}
	}
	return nil
}

func (r *memoryRepository) ResetAllLocked(_ context.Context, confirm Confirmer) (int64, error) {
	if confirm == nil {
		return 0, ErrNotConfirmed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var locked []*Record
	for _, rec := range r.rows {
		if rec.Locked {
			locked = append(locked, rec)
		}
	}
	if !confirm(len(locked)) {
		return 0, ErrNotConfirmed
	}
	for _, rec := range locked {
		rec.Locked = false
		rec.LockedAt = time.Time{}
	}
	return int64(len(locked)), nil
}

func (r *memoryRepository) UnpaidLocked(context.Context) ([]Record, error) {
	return r.snapshot(func(rec *Record) bool { return !rec.Paid() && rec.Locked })
}

func (r *memoryRepository) PaidUnassociated(context.Context) ([]Record, error) {
	return r.snapshot(func(rec *Record) bool { return rec.Paid() && !rec.Associated })
}

func (r *memoryRepository) UnpaidUnlocked(context.Context) ([]Record, error) {
	return r.snapshot(func(rec *Record) bool { return !rec.Paid() && !rec.Locked })
}

func (r *memoryRepository) Completed(context.Context) ([]Record, error) {
	return r.snapshot(func(rec *Record) bool { return rec.Paid() && rec.Associated })
}

func (r *memoryRepository) snapshot(keep func(*Record) bool) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var records []Record
	for id := int64(1); id < r.nextID; id++ {
		rec, ok := r.rows[id]
		if ok && keep(rec) {
			records = append(records, *rec)
		}
	}
	return records, nil
}
