// Package engine orchestrates the payout lifecycle against the local record
// store, the wallet gateway and the remote payout server: pull obligations,
// disburse them, confirm their transactions and associate them back.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/ended/simplecoin-rpc-client/internal/notification"
	"github.com/ended/simplecoin-rpc-client/internal/payout"
	"github.com/ended/simplecoin-rpc-client/internal/remote"
	"github.com/ended/simplecoin-rpc-client/internal/wallet"
)

var (
	// ErrInsufficientFunds indicates the wallet balance cannot cover the
	// aggregate payout. Nothing is sent and the batch returns to unlocked.
	ErrInsufficientFunds = errors.New("payout wallet is out of funds")

	// ErrAmbiguousEffect indicates a send failed while the wallet balance
	// moved, so a partial or full payment cannot be ruled out. The batch
	// stays locked until an operator audits the wallet and runs
	// reset_all_locked.
	ErrAmbiguousEffect = errors.New("send outcome unknown: wallet balance changed")
)

// Options carries the policy knobs the engine needs per run.
type Options struct {
	Currency string
	// AddressVersions is the allow-list of beneficiary address version
	// bytes accepted during pull.
	AddressVersions []byte
	// MinConfirms is the depth a transaction must exceed to count as final.
	MinConfirms int64
	// MinTxOutput drops beneficiaries whose aggregate is below the network
	// relay minimum; their records are deferred, not locked.
	MinTxOutput int64
	// TxFee, when positive, is pushed to the node before each send.
	TxFee int64
	// WalletPassphrase, when set, unlocks the wallet before each send.
	WalletPassphrase string
	UnlockSeconds    int
	// ReportOut receives the plain-text report tables. Defaults to stdout.
	ReportOut io.Writer
	// Confirm approves reset_all_locked before it commits. Nil means the
	// reset is always refused.
	Confirm payout.Confirmer
}

// Engine owns its collaborators for the lifetime of the process; it is
// constructed once and passed explicitly, never held in package state.
type Engine struct {
	repo     payout.Repository
	wallet   wallet.Gateway
	remote   remote.Source
	notifier notification.Notifier
	opts     Options
	logger   *slog.Logger
}

// New constructs an engine.
func New(repo payout.Repository, gateway wallet.Gateway, source remote.Source, notifier notification.Notifier, opts Options, logger *slog.Logger) *Engine {
	if opts.ReportOut == nil {
		opts.ReportOut = os.Stdout
	}
	if opts.UnlockSeconds <= 0 {
		opts.UnlockSeconds = 10
	}
	return &Engine{
		repo:     repo,
		wallet:   gateway,
		remote:   source,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
	}
}

func (e *Engine) alert(ctx context.Context, kind, body string) {
	if e.notifier == nil {
		return
	}
	// Alerts are advisory; delivery failure must not mask the run outcome.
	_ = e.notifier.Send(ctx, notification.Message{Kind: kind, Currency: e.opts.Currency, Body: body})
}
