package engine

import (
	"context"

	"github.com/ended/simplecoin-rpc-client/internal/address"
)

// PullResult reports what happened to each obligation offered by the server.
type PullResult struct {
	New       int
	Duplicate int
	Invalid   int
}

// Pull fetches the open obligations for the configured currency and records
// the ones not yet known locally. Obligations whose beneficiary address fails
// the version allow-list are counted invalid and skipped. A fetch failure
// aborts the whole operation with zero side effects.
func (e *Engine) Pull(ctx context.Context) (PullResult, error) {
	obligations, err := e.remote.FetchObligations(ctx, e.opts.Currency)
	if err != nil {
		return PullResult{}, err
	}

	if len(obligations) == 0 {
		e.logger.Info("no payouts to process", "currency", e.opts.Currency)
		return PullResult{}, nil
	}

	var res PullResult
	for _, ob := range obligations {
		if !address.Allowed(ob.Beneficiary, e.opts.AddressVersions) {
			e.logger.Warn("ignoring payout with invalid address",
				"external_id", ob.ExternalID,
				"beneficiary", ob.Beneficiary,
				"amount", ob.Amount)
			res.Invalid++
			continue
		}
		created, err := e.repo.UpsertNew(ctx, ob.ExternalID, ob.Beneficiary, ob.Amount)
		if err != nil {
			return res, err
		}
		if created {
			res.New++
		} else {
			res.Duplicate++
		}
	}

	e.logger.Info("pulled payouts from server",
		"currency", e.opts.Currency,
		"new", res.New,
		"duplicate", res.Duplicate,
		"invalid", res.Invalid)
	return res, nil
}
