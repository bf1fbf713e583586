package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/ended/simplecoin-rpc-client/internal/notification"
	"github.com/ended/simplecoin-rpc-client/internal/report"
	"github.com/ended/simplecoin-rpc-client/internal/wallet"
)

// DisburseResult summarizes a disbursement run.
type DisburseResult struct {
	// Records is the number of payout records covered by the send.
	Records int
	// Beneficiaries is the number of distinct destinations paid.
	Beneficiaries int
	// Total is the amount sent, in minor units.
	Total int64
	// TxID is the wallet transaction covering the whole batch; empty when
	// nothing needed sending.
	TxID string
	// Deferred is the number of records left unlocked because their
	// beneficiary aggregate fell below the network relay minimum.
	Deferred int
}

// Disburse pays every eligible payout record in one wallet transaction.
//
// The order of effects is the correctness core: the lock on the batch is
// durably committed before the wallet is asked to move funds, so a crash
// between the two never lets a later run re-pay the same records. When the
// send call fails, the wallet balance decides the recovery: an unchanged
// balance proves no funds moved and the batch unlocks for retry; a changed
// balance means the outcome is unknown, the batch stays locked, and only an
// operator audit followed by reset_all_locked may release it.
func (e *Engine) Disburse(ctx context.Context) (DisburseResult, error) {
	if err := e.wallet.Ping(ctx); err != nil {
		return DisburseResult{}, fmt.Errorf("wallet not reachable: %w", err)
	}

	// A fixed snapshot: obligations arriving after this point belong to the
	// next run.
	snapshot, err := e.repo.SelectUnlockedUnpaid(ctx)
	if err != nil {
		return DisburseResult{}, err
	}
	if len(snapshot) == 0 {
		e.logger.Info("no payouts to process, exiting")
		return DisburseResult{}, nil
	}

	// The wallet pays beneficiaries, not records: aggregate per address and
	// keep the record ids behind each one.
	amounts := make(map[string]int64)
	idsByBeneficiary := make(map[string][]int64)
	extsByBeneficiary := make(map[string][]string)
	for _, rec := range snapshot {
		amounts[rec.Beneficiary] += rec.Amount
		idsByBeneficiary[rec.Beneficiary] = append(idsByBeneficiary[rec.Beneficiary], rec.ID)
		extsByBeneficiary[rec.Beneficiary] = append(extsByBeneficiary[rec.Beneficiary], rec.ExternalID)
	}

	var res DisburseResult
	var total int64
	var batch []int64
	for beneficiary, amount := range amounts {
		if amount < e.opts.MinTxOutput {
			e.logger.Warn("deferring beneficiary below network output minimum",
				"beneficiary", beneficiary,
				"amount", wallet.FormatAmount(amount),
				"minimum", wallet.FormatAmount(e.opts.MinTxOutput))
			res.Deferred += len(idsByBeneficiary[beneficiary])
			delete(amounts, beneficiary)
			continue
		}
		total += amount
		batch = append(batch, idsByBeneficiary[beneficiary]...)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i] < batch[j] })

	if len(amounts) == 0 || total == 0 {
		e.logger.Info("nothing above the payable minimum, exiting")
		return res, nil
	}

	// Lock before any external effect. From here on a crash leaves the
	// batch locked, never double-payable.
	if err := e.repo.LockBatch(ctx, batch); err != nil {
		return res, err
	}

	balance, err := e.wallet.Balance(ctx)
	if err != nil {
		if uerr := e.repo.Unlock(ctx, batch); uerr != nil {
			return res, fmt.Errorf("balance check failed (%v) and unlock failed: %w", err, uerr)
		}
		return res, fmt.Errorf("balance check failed: %w", err)
	}
	e.logger.Info("wallet balance read",
		"balance", wallet.FormatAmount(balance),
		"requested", wallet.FormatAmount(total))

	if balance < total {
		if err := e.repo.Unlock(ctx, batch); err != nil {
			return res, fmt.Errorf("insufficient funds and unlock failed: %w", err)
		}
		e.alert(ctx, notification.KindInsufficientFunds,
			fmt.Sprintf("balance %s cannot cover requested %s",
				wallet.FormatAmount(balance), wallet.FormatAmount(total)))
		return res, ErrInsufficientFunds
	}

	for beneficiary, amount := range amounts {
		e.logger.Info("payment summary entry",
			"beneficiary", beneficiary,
			"amount", wallet.FormatAmount(amount),
			"pids", report.SummarizeIDs(extsByBeneficiary[beneficiary]))
	}

	// Unlocking the wallet and setting the fee move no funds; a failure
	// here is still a clean abort.
	if err := e.prepareSend(ctx); err != nil {
		if uerr := e.repo.Unlock(ctx, batch); uerr != nil {
			return res, fmt.Errorf("send preparation failed (%v) and unlock failed: %w", err, uerr)
		}
		return res, err
	}

	txid, err := e.wallet.SendMany(ctx, amounts)
	if err != nil {
		return res, e.recoverFailedSend(ctx, batch, balance, err)
	}

	res.Records = len(batch)
	res.Beneficiaries = len(amounts)
	res.Total = total
	res.TxID = txid

	if err := e.repo.RecordSuccess(ctx, batch, txid); err != nil {
		// Funds are out but the local stamp failed: the batch stays locked
		// and the txid in this log line is what local_associate needs.
		e.logger.Error("CRITICAL: send succeeded but recording failed; run local_associate with this txid",
			"txid", txid, "records", len(batch), "error", err)
		return res, fmt.Errorf("send succeeded (txid %s) but recording failed: %w", txid, err)
	}

	e.logger.Info("updated payouts with txid", "records", len(batch), "txid", txid)
	return res, nil
}

// prepareSend runs the node-side preamble for a send: wallet unlock when a
// passphrase is configured, then the fee setting when one is configured.
func (e *Engine) prepareSend(ctx context.Context) error {
	if e.opts.WalletPassphrase != "" {
		if err := e.wallet.Unlock(ctx, e.opts.WalletPassphrase, e.opts.UnlockSeconds); err != nil {
			return fmt.Errorf("wallet unlock failed: %w", err)
		}
	}
	if e.opts.TxFee > 0 {
		if err := e.wallet.SetFee(ctx, e.opts.TxFee); err != nil {
			return fmt.Errorf("set tx fee failed: %w", err)
		}
	}
	return nil
}

// recoverFailedSend applies the balance-delta rule after a failed send call.
func (e *Engine) recoverFailedSend(ctx context.Context, batch []int64, preBalance int64, sendErr error) error {
	newBalance, err := e.wallet.Balance(ctx)
	if err != nil {
		// Cannot prove the send had no effect, so the batch must stay
		// locked exactly as in the balance-changed case.
		e.alert(ctx, notification.KindAmbiguousFailure,
			fmt.Sprintf("send failed (%v) and balance re-read failed (%v); batch stays locked", sendErr, err))
		return fmt.Errorf("%w: send error %v, balance re-read error %v", ErrAmbiguousEffect, sendErr, err)
	}

	if newBalance != preBalance {
		e.logger.Error("send failed and wallet balance changed; keeping payouts locked",
			"error", sendErr,
			"balance_before", wallet.FormatAmount(preBalance),
			"balance_after", wallet.FormatAmount(newBalance))
		e.alert(ctx, notification.KindAmbiguousFailure,
			fmt.Sprintf("send failed but balance moved from %s to %s; audit the wallet, then run reset_all_locked",
				wallet.FormatAmount(preBalance), wallet.FormatAmount(newBalance)))
		return fmt.Errorf("%w: %v", ErrAmbiguousEffect, sendErr)
	}

	e.logger.Error("send failed and wallet balance is unchanged; unlocking payouts", "error", sendErr)
	if err := e.repo.Unlock(ctx, batch); err != nil {
		return fmt.Errorf("send failed (%v) and unlock failed: %w", sendErr, err)
	}
	return fmt.Errorf("send failed, batch unlocked for retry: %w", sendErr)
}
