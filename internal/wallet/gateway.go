package wallet

import (
	"context"
	"errors"
)

// ErrTxNotFound indicates the node does not know the requested transaction.
var ErrTxNotFound = errors.New("transaction not found in wallet")

// TxInfo describes a wallet transaction as reported by the node.
type TxInfo struct {
	TxID          string
	Confirmations int64
	// Fee is in minor units, always non-negative. HasFee distinguishes a
	// zero fee from a node that did not report one.
	Fee    int64
	HasFee bool
}

// Gateway is the connector to the coin node RPC service: the only entity able
// to move real funds and observe the true wallet balance. All calls are
// synchronous and bounded by the client's fixed timeout.
type Gateway interface {
	// Ping probes node liveness. A send is never attempted against a node
	// that fails the probe.
	Ping(ctx context.Context) error

	// Balance returns the spendable wallet balance in minor units.
	Balance(ctx context.Context) (int64, error)

	// Transaction looks up a wallet transaction by id.
	Transaction(ctx context.Context, txid string) (TxInfo, error)

	// SendMany pays every beneficiary in one wallet-level transaction and
	// returns the single transaction id covering the whole batch. This is
	// the only irrevocable external effect in the system.
	SendMany(ctx context.Context, amounts map[string]int64) (string, error)

	// SetFee configures the transaction fee used for subsequent sends.
	SetFee(ctx context.Context, fee int64) error

	// Unlock decrypts the wallet with the passphrase for the given number
	// of seconds so a send can be signed.
	Unlock(ctx context.Context, passphrase string, seconds int) error
}
