// Package remote talks to the authoritative payout server: the source of new
// obligations and the sink for confirmation and association facts.
package remote

import (
	"context"
	"errors"
)

var (
	// ErrRejected indicates the server answered with a well-formed negative
	// result. This is a defined business rejection, not a transport failure,
	// and must not be retried blindly.
	ErrRejected = errors.New("remote rejected request")

	// ErrStaleResponse indicates the response signature was valid but older
	// than the configured maximum age. Treated as a protocol failure.
	ErrStaleResponse = errors.New("remote response exceeds max age")

	// ErrBadEnvelope indicates the response envelope could not be verified.
	ErrBadEnvelope = errors.New("invalid remote envelope")
)

// Obligation is a payout the server wants disbursed.
type Obligation struct {
	Beneficiary string `json:"beneficiary"`
	Amount      int64  `json:"amount"`
	ExternalID  string `json:"external_id"`
}

// UnconfirmedTx is a transaction the server has not yet marked final.
type UnconfirmedTx struct {
	TxID string `json:"txid"`
	// Fee is in minor units; HasFee is false when the server has no fee
	// value recorded yet.
	Fee    int64
	HasFee bool
}

// Source is the payout server contract. Every call is synchronous, bounded
// by the client's fixed timeout, and carries the signed timestamp-bound
// envelope except FetchUnconfirmed, which uses the public read-only API.
type Source interface {
	// FetchObligations returns the open payout obligations for a currency.
	FetchObligations(ctx context.Context, currency string) ([]Obligation, error)

	// FetchUnconfirmed returns the transactions awaiting confirmation for a
	// currency.
	FetchUnconfirmed(ctx context.Context, currency string) ([]UnconfirmedTx, error)

	// ConfirmTransactions reports confirmed transaction ids and observed
	// fees in one all-or-nothing batch.
	ConfirmTransactions(ctx context.Context, tids []string, fees map[string]int64) error

	// AssociatePayouts tells the server which obligations a wallet
	// transaction covered, including the fee it incurred.
	AssociatePayouts(ctx context.Context, currency, txid string, externalIDs []string, fee int64, hasFee bool) error
}
