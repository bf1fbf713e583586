package engine

import (
	"context"
	"fmt"

	"github.com/ended/simplecoin-rpc-client/internal/payout"
)

// ResetAllLocked unconditionally unlocks every locked record. This is the
// only way out of the ambiguous-failure state and must run only after a
// manual wallet audit has ruled out a double payment; the confirmer is the
// operator's explicit approval step.
func (e *Engine) ResetAllLocked(ctx context.Context, confirm payout.Confirmer) (int64, error) {
	reset, err := e.repo.ResetAllLocked(ctx, confirm)
	if err != nil {
		return 0, err
	}
	e.logger.Info("reset locked payouts", "records", reset)
	return reset, nil
}

// LocalAssociate stamps a wallet transaction id onto every unpaid, locked
// record. Recovery tool for a payment that went out while the local stamp
// failed: the operator takes the txid from the disbursement log and replays
// the stamp, after which Associate can close the records out normally.
func (e *Engine) LocalAssociate(ctx context.Context, txid string) (int, error) {
	if txid == "" {
		return 0, fmt.Errorf("a transaction id is required")
	}
	stuck, err := e.repo.UnpaidLocked(ctx)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		e.logger.Info("no unpaid locked payouts to associate")
		return 0, nil
	}
	ids := make([]int64, 0, len(stuck))
	for _, rec := range stuck {
		ids = append(ids, rec.ID)
	}
	if err := e.repo.AssignTransaction(ctx, ids, txid); err != nil {
		return 0, err
	}
	e.logger.Info("locally associated payouts with txid", "records", len(ids), "txid", txid)
	return len(ids), nil
}
