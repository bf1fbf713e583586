package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ended/simplecoin-rpc-client/internal/payout"
)

// AssociateResult summarizes an association run.
type AssociateResult struct {
	Groups     int
	Associated int
	Failed     int
}

// Associate pushes every paid-but-unassociated record group to the server.
// Records are grouped by the wallet transaction that paid them; each group
// succeeds or fails independently, and a group is only marked associated
// locally after the server accepted it.
func (e *Engine) Associate(ctx context.Context) (AssociateResult, error) {
	records, err := e.repo.PaidUnassociated(ctx)
	if err != nil {
		return AssociateResult{}, err
	}
	if len(records) == 0 {
		e.logger.Info("no payouts awaiting association")
		return AssociateResult{}, nil
	}

	groups := make(map[string][]payout.Record)
	var order []string
	for _, rec := range records {
		if !rec.Paid() {
			// PaidUnassociated must never return unpaid rows; treat it as
			// a store defect rather than associating an unpaid record.
			return AssociateResult{}, fmt.Errorf("record %d selected for association without txid", rec.ID)
		}
		if _, seen := groups[rec.TxID]; !seen {
			order = append(order, rec.TxID)
		}
		groups[rec.TxID] = append(groups[rec.TxID], rec)
	}

	res := AssociateResult{Groups: len(groups)}
	var failures []error
	for _, txid := range order {
		group := groups[txid]
		ids := make([]int64, 0, len(group))
		externalIDs := make([]string, 0, len(group))
		for _, rec := range group {
			ids = append(ids, rec.ID)
			externalIDs = append(externalIDs, rec.ExternalID)
		}

		var fee int64
		hasFee := false
		if info, err := e.wallet.Transaction(ctx, txid); err != nil {
			e.logger.Warn("fee lookup failed, associating without fee", "txid", txid, "error", err)
		} else if info.HasFee {
			fee, hasFee = info.Fee, true
		}

		e.logger.Info("associating payouts with txid", "txid", txid, "records", len(group))
		if err := e.remote.AssociatePayouts(ctx, e.opts.Currency, txid, externalIDs, fee, hasFee); err != nil {
			e.logger.Error("association rejected", "txid", txid, "error", err)
			res.Failed++
			failures = append(failures, fmt.Errorf("txid %s: %w", txid, err))
			continue
		}
		if err := e.repo.MarkAssociated(ctx, ids); err != nil {
			res.Failed++
			failures = append(failures, fmt.Errorf("txid %s: mark associated: %w", txid, err))
			continue
		}
		res.Associated += len(group)
	}

	return res, errors.Join(failures...)
}
