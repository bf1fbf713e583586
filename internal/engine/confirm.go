package engine

import (
	"context"
	"fmt"
)

// ConfirmResult summarizes a confirmation run.
type ConfirmResult struct {
	// Checked is the number of unconfirmed transactions the server offered.
	Checked int
	// Confirmed is the number reported back as past the depth threshold.
	Confirmed int
	// Fees is the number of fee values captured for the server.
	Fees int
	// Skipped is the number of transactions the wallet could not look up.
	Skipped int
}

// Confirm fetches the server's unconfirmed transactions, checks their depth
// against the wallet and pushes back the confirmed set together with any fee
// values the server is missing. Per-transaction wallet failures are logged
// and skipped; the final push is one all-or-nothing batch.
func (e *Engine) Confirm(ctx context.Context) (ConfirmResult, error) {
	if err := e.wallet.Ping(ctx); err != nil {
		return ConfirmResult{}, fmt.Errorf("wallet not reachable: %w", err)
	}

	unconfirmed, err := e.remote.FetchUnconfirmed(ctx, e.opts.Currency)
	if err != nil {
		return ConfirmResult{}, err
	}
	if len(unconfirmed) == 0 {
		e.logger.Info("no transactions to confirm, exiting")
		return ConfirmResult{}, nil
	}

	res := ConfirmResult{Checked: len(unconfirmed)}
	var tids []string
	fees := make(map[string]int64)
	for _, tx := range unconfirmed {
		info, err := e.wallet.Transaction(ctx, tx.TxID)
		if err != nil {
			e.logger.Warn("skipping transaction, wallet lookup failed", "txid", tx.TxID, "error", err)
			res.Skipped++
			continue
		}

		if info.Confirmations > e.opts.MinConfirms {
			tids = append(tids, tx.TxID)
			res.Confirmed++
			e.logger.Info("transaction confirmed", "txid", tx.TxID, "confirmations", info.Confirmations)
		} else {
			e.logger.Info("transaction not yet confirmed",
				"txid", tx.TxID,
				"confirmations", info.Confirmations,
				"required", e.opts.MinConfirms)
		}

		// Capture the fee only when the server has none recorded and the
		// wallet reports one.
		if !tx.HasFee && info.HasFee {
			fees[tx.TxID] = info.Fee
			res.Fees++
			e.logger.Info("captured fee value", "txid", tx.TxID, "fee", info.Fee)
		}
	}

	if len(tids) == 0 && len(fees) == 0 {
		e.logger.Info("no transactions in need of fee value or confirmation")
		return res, nil
	}

	if err := e.remote.ConfirmTransactions(ctx, tids, fees); err != nil {
		return res, fmt.Errorf("push confirmations: %w", err)
	}
	e.logger.Info("confirmed transactions pushed", "confirmed", len(tids), "fees", len(fees))
	return res, nil
}
