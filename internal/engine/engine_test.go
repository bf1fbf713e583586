package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ended/simplecoin-rpc-client/internal/logging"
	"github.com/ended/simplecoin-rpc-client/internal/payout"
	"github.com/ended/simplecoin-rpc-client/internal/remote"
	"github.com/ended/simplecoin-rpc-client/internal/wallet"
)

// Base58Check addresses with known version bytes.
const (
	addrV0  = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa" // version 0
	addrV0b = "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2" // version 0
	addrV5  = "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy" // version 5
)

type fakeWallet struct {
	pingErr      error
	balance      int64
	balanceAfter int64
	sendErr      error
	sendTxID     string
	sendCalls    int
	sent         map[string]int64
	unlocked     bool
	feeSet       int64
	txs          map[string]wallet.TxInfo
	txErrs       map[string]error
}

func (w *fakeWallet) Ping(context.Context) error { return w.pingErr }

func (w *fakeWallet) Balance(context.Context) (int64, error) {
	if w.sendCalls > 0 {
		return w.balanceAfter, nil
	}
	return w.balance, nil
}

func (w *fakeWallet) Transaction(_ context.Context, txid string) (wallet.TxInfo, error) {
	if err, ok := w.txErrs[txid]; ok {
		return wallet.TxInfo{}, err
	}
	info, ok := w.txs[txid]
	if !ok {
		return wallet.TxInfo{}, wallet.ErrTxNotFound
	}
	return info, nil
}

func (w *fakeWallet) SendMany(_ context.Context, amounts map[string]int64) (string, error) {
	w.sendCalls++
	if w.sendErr != nil {
		return "", w.sendErr
	}
	w.sent = amounts
	if w.sendTxID == "" {
		w.sendTxID = "txid-1"
	}
	return w.sendTxID, nil
}

func (w *fakeWallet) SetFee(_ context.Context, fee int64) error {
	w.feeSet = fee
	return nil
}

func (w *fakeWallet) Unlock(context.Context, string, int) error {
	w.unlocked = true
	return nil
}

type confirmPush struct {
	tids []string
	fees map[string]int64
}

type associatePush struct {
	txid        string
	externalIDs []string
	fee         int64
	hasFee      bool
}

type fakeRemote struct {
	obligations []remote.Obligation
	fetchErr    error
	unconfirmed []remote.UnconfirmedTx
	confirmErr  error
	confirms    []confirmPush
	rejectTxids map[string]bool
	associates  []associatePush
}

func (r *fakeRemote) FetchObligations(context.Context, string) ([]remote.Obligation, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	return r.obligations, nil
}

func (r *fakeRemote) FetchUnconfirmed(context.Context, string) ([]remote.UnconfirmedTx, error) {
	return r.unconfirmed, nil
}

func (r *fakeRemote) ConfirmTransactions(_ context.Context, tids []string, fees map[string]int64) error {
	if r.confirmErr != nil {
		return r.confirmErr
	}
	r.confirms = append(r.confirms, confirmPush{tids: tids, fees: fees})
	return nil
}

func (r *fakeRemote) AssociatePayouts(_ context.Context, _, txid string, externalIDs []string, fee int64, hasFee bool) error {
	if r.rejectTxids[txid] {
		return remote.ErrRejected
	}
	r.associates = append(r.associates, associatePush{txid: txid, externalIDs: externalIDs, fee: fee, hasFee: hasFee})
	return nil
}

func newTestEngine(repo payout.Repository, w *fakeWallet, r *fakeRemote, opts Options) *Engine {
	if opts.Currency == "" {
		opts.Currency = "LTC"
	}
	if opts.AddressVersions == nil {
		opts.AddressVersions = []byte{0}
	}
	if opts.MinConfirms == 0 {
		opts.MinConfirms = 6
	}
	return New(repo, w, r, nil, opts, logging.Discard())
}

func TestPullCountsNewDuplicateInvalid(t *testing.T) {
	repo := payout.NewMemoryRepository()
	rem := &fakeRemote{obligations: []remote.Obligation{
		{Beneficiary: addrV0, Amount: 500000000, ExternalID: "ext-1"},
		{Beneficiary: addrV0, Amount: 250000000, ExternalID: "ext-2"},
		{Beneficiary: addrV5, Amount: 100, ExternalID: "ext-3"},
		{Beneficiary: "not-an-address", Amount: 100, ExternalID: "ext-4"},
	}}
	eng := newTestEngine(repo, &fakeWallet{}, rem, Options{})

	res, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if res.New != 2 || res.Duplicate != 0 || res.Invalid != 2 {
		t.Fatalf("unexpected counts: %+v", res)
	}

	// Pulling the same obligations again must not create new rows.
	res, err = eng.Pull(context.Background())
	if err != nil {
		t.Fatalf("second pull failed: %v", err)
	}
	if res.New != 0 || res.Duplicate != 2 || res.Invalid != 2 {
		t.Fatalf("unexpected second pull counts: %+v", res)
	}

	ready, _ := repo.UnpaidUnlocked(context.Background())
	if len(ready) != 2 {
		t.Fatalf("expected exactly 2 local records, got %d", len(ready))
	}
}

func TestPullAbortsOnFetchFailure(t *testing.T) {
	repo := payout.NewMemoryRepository()
	rem := &fakeRemote{fetchErr: errors.New("connection refused")}
	eng := newTestEngine(repo, &fakeWallet{}, rem, Options{})

	if _, err := eng.Pull(context.Background()); err == nil {
		t.Fatal("expected pull to fail")
	}
	ready, _ := repo.UnpaidUnlocked(context.Background())
	if len(ready) != 0 {
		t.Fatalf("expected zero side effects, found %d records", len(ready))
	}
}

func seedRecords(t *testing.T, repo payout.Repository, obligations ...remote.Obligation) {
	t.Helper()
	for _, ob := range obligations {
		if _, err := repo.UpsertNew(context.Background(), ob.ExternalID, ob.Beneficiary, ob.Amount); err != nil {
			t.Fatalf("seed %s: %v", ob.ExternalID, err)
		}
	}
}

func TestDisburseAggregatesPerBeneficiary(t *testing.T) {
	repo := payout.NewMemoryRepository()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 500000000, ExternalID: "ext-1"},
		remote.Obligation{Beneficiary: addrV0, Amount: 250000000, ExternalID: "ext-2"},
		remote.Obligation{Beneficiary: addrV0b, Amount: 100000000, ExternalID: "ext-3"},
	)
	w := &fakeWallet{balance: 2_000_000_000, balanceAfter: 2_000_000_000, sendTxID: "txid-abc"}
	eng := newTestEngine(repo, w, &fakeRemote{}, Options{})

	res, err := eng.Disburse(context.Background())
	if err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if res.TxID != "txid-abc" || res.Records != 3 || res.Beneficiaries != 2 || res.Total != 850000000 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if w.sent[addrV0] != 750000000 || w.sent[addrV0b] != 100000000 {
		t.Fatalf("unexpected send amounts: %v", w.sent)
	}

	paid, _ := repo.PaidUnassociated(context.Background())
	if len(paid) != 3 {
		t.Fatalf("expected 3 paid records, got %d", len(paid))
	}
	for _, rec := range paid {
		if rec.TxID != "txid-abc" || rec.Locked {
			t.Fatalf("record %s not finalized: %+v", rec.ExternalID, rec)
		}
	}
}

func TestDisburseEmptySnapshotSucceeds(t *testing.T) {
	repo := payout.NewMemoryRepository()
	w := &fakeWallet{balance: 1}
	eng := newTestEngine(repo, w, &fakeRemote{}, Options{})

	res, err := eng.Disburse(context.Background())
	if err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if res.TxID != "" || w.sendCalls != 0 {
		t.Fatalf("expected trivial success, got %+v with %d sends", res, w.sendCalls)
	}
}

func TestDisburseInsufficientBalance(t *testing.T) {
	repo := payout.NewMemoryRepository()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 1_000_000_000, ExternalID: "ext-1"},
		remote.Obligation{Beneficiary: addrV0b, Amount: 500_000_000, ExternalID: "ext-2"},
	)
	w := &fakeWallet{balance: 1_000_000_000, balanceAfter: 1_000_000_000}
	eng := newTestEngine(repo, w, &fakeRemote{}, Options{})

	_, err := eng.Disburse(context.Background())
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if w.sendCalls != 0 {
		t.Fatalf("expected zero wallet send calls, got %d", w.sendCalls)
	}

	locked, _ := repo.UnpaidLocked(context.Background())
	if len(locked) != 0 {
		t.Fatalf("expected all records unlocked, %d still locked", len(locked))
	}
	ready, _ := repo.UnpaidUnlocked(context.Background())
	if len(ready) != 2 {
		t.Fatalf("expected 2 retryable records, got %d", len(ready))
	}
}

func TestDisburseSendFailsBalanceUnchanged(t *testing.T) {
	repo := payout.NewMemoryRepository()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 500_000_000, ExternalID: "ext-1"},
	)
	w := &fakeWallet{balance: 2_000_000_000, balanceAfter: 2_000_000_000, sendErr: errors.New("rpc timeout")}
	eng := newTestEngine(repo, w, &fakeRemote{}, Options{})

	_, err := eng.Disburse(context.Background())
	if err == nil {
		t.Fatal("expected disburse to fail")
	}
	if errors.Is(err, ErrAmbiguousEffect) {
		t.Fatalf("clean failure misclassified as ambiguous: %v", err)
	}

	ready, _ := repo.UnpaidUnlocked(context.Background())
	if len(ready) != 1 {
		t.Fatalf("expected batch unlocked for retry, got %d ready", len(ready))
	}
}

func TestDisburseSendFailsBalanceChanged(t *testing.T) {
	repo := payout.NewMemoryRepository()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 500_000_000, ExternalID: "ext-1"},
		remote.Obligation{Beneficiary: addrV0b, Amount: 100_000_000, ExternalID: "ext-2"},
	)
	w := &fakeWallet{balance: 2_000_000_000, balanceAfter: 1_500_000_000, sendErr: errors.New("connection reset")}
	eng := newTestEngine(repo, w, &fakeRemote{}, Options{})

	_, err := eng.Disburse(context.Background())
	if !errors.Is(err, ErrAmbiguousEffect) {
		t.Fatalf("expected ErrAmbiguousEffect, got %v", err)
	}

	locked, _ := repo.UnpaidLocked(context.Background())
	if len(locked) != 2 {
		t.Fatalf("expected batch to stay locked, got %d locked", len(locked))
	}

	// A later run must not pick the locked batch up again.
	res, err := eng.Disburse(context.Background())
	if err != nil || res.Records != 0 {
		t.Fatalf("locked records were re-selected: res=%+v err=%v", res, err)
	}

	// Only the post-audit reset releases them.
	reset, err := eng.ResetAllLocked(context.Background(), func(int) bool { return true })
	if err != nil || reset != 2 {
		t.Fatalf("reset failed: reset=%d err=%v", reset, err)
	}
	ready, _ := repo.UnpaidUnlocked(context.Background())
	if len(ready) != 2 {
		t.Fatalf("expected 2 records ready after reset, got %d", len(ready))
	}
}

func TestDisburseDefersBeneficiariesBelowMinimum(t *testing.T) {
	repo := payout.NewMemoryRepository()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 500_000_000, ExternalID: "ext-1"},
		remote.Obligation{Beneficiary: addrV0b, Amount: 1_000, ExternalID: "ext-2"},
	)
	w := &fakeWallet{balance: 2_000_000_000, balanceAfter: 2_000_000_000}
	eng := newTestEngine(repo, w, &fakeRemote{}, Options{MinTxOutput: 10_000})

	res, err := eng.Disburse(context.Background())
	if err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if res.Records != 1 || res.Deferred != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := w.sent[addrV0b]; ok {
		t.Fatal("sub-minimum beneficiary must not be paid")
	}

	// The deferred record is still unlocked and unpaid.
	ready, _ := repo.UnpaidUnlocked(context.Background())
	if len(ready) != 1 || ready[0].ExternalID != "ext-2" {
		t.Fatalf("expected ext-2 deferred, got %+v", ready)
	}
}

func TestDisburseWalletDown(t *testing.T) {
	repo := payout.NewMemoryRepository()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 500_000_000, ExternalID: "ext-1"},
	)
	w := &fakeWallet{pingErr: errors.New("connection refused")}
	eng := newTestEngine(repo, w, &fakeRemote{}, Options{})

	if _, err := eng.Disburse(context.Background()); err == nil {
		t.Fatal("expected disburse to fail when wallet is down")
	}
	locked, _ := repo.UnpaidLocked(context.Background())
	if len(locked) != 0 {
		t.Fatalf("no records may be locked when the probe fails, got %d", len(locked))
	}
}

func TestDisburseSendPreamble(t *testing.T) {
	repo := payout.NewMemoryRepository()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 500_000_000, ExternalID: "ext-1"},
	)
	w := &fakeWallet{balance: 2_000_000_000, balanceAfter: 2_000_000_000}
	eng := newTestEngine(repo, w, &fakeRemote{}, Options{TxFee: 100_000, WalletPassphrase: "hunter2"})

	if _, err := eng.Disburse(context.Background()); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if !w.unlocked || w.feeSet != 100_000 {
		t.Fatalf("expected unlock and fee preamble, got unlocked=%t fee=%d", w.unlocked, w.feeSet)
	}
}

func TestConfirmDepthThresholdAndFeeCapture(t *testing.T) {
	repo := payout.NewMemoryRepository()
	w := &fakeWallet{
		balance: 1,
		txs: map[string]wallet.TxInfo{
			"tx-deep":    {TxID: "tx-deep", Confirmations: 10, Fee: 5000, HasFee: true},
			"tx-shallow": {TxID: "tx-shallow", Confirmations: 2, Fee: 7000, HasFee: true},
			"tx-hasfee":  {TxID: "tx-hasfee", Confirmations: 12, Fee: 9000, HasFee: true},
		},
		txErrs: map[string]error{"tx-gone": errors.New("no such tx")},
	}
	rem := &fakeRemote{unconfirmed: []remote.UnconfirmedTx{
		{TxID: "tx-deep"},
		{TxID: "tx-shallow"},
		{TxID: "tx-hasfee", Fee: 9000, HasFee: true},
		{TxID: "tx-gone"},
	}}
	eng := newTestEngine(repo, w, rem, Options{MinConfirms: 6})

	res, err := eng.Confirm(context.Background())
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if res.Confirmed != 2 || res.Fees != 2 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if len(rem.confirms) != 1 {
		t.Fatalf("expected one batch push, got %d", len(rem.confirms))
	}
	push := rem.confirms[0]
	if len(push.tids) != 2 {
		t.Fatalf("unexpected confirmed set: %v", push.tids)
	}
	// tx-hasfee already had a fee on the server; only the others are pushed.
	if _, ok := push.fees["tx-hasfee"]; ok {
		t.Fatal("fee for tx-hasfee must not be re-pushed")
	}
	if push.fees["tx-deep"] != 5000 || push.fees["tx-shallow"] != 7000 {
		t.Fatalf("unexpected fees: %v", push.fees)
	}
}

func TestConfirmNothingToPush(t *testing.T) {
	repo := payout.NewMemoryRepository()
	rem := &fakeRemote{}
	eng := newTestEngine(repo, &fakeWallet{}, rem, Options{})

	if _, err := eng.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if len(rem.confirms) != 0 {
		t.Fatal("no push expected for an empty unconfirmed set")
	}
}

func TestAssociateGroupsIndependently(t *testing.T) {
	repo := payout.NewMemoryRepository()
	ctx := context.Background()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 100, ExternalID: "ext-1"},
		remote.Obligation{Beneficiary: addrV0, Amount: 200, ExternalID: "ext-2"},
		remote.Obligation{Beneficiary: addrV0b, Amount: 300, ExternalID: "ext-3"},
	)
	if err := repo.RecordSuccess(ctx, []int64{1, 2}, "tx-a"); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordSuccess(ctx, []int64{3}, "tx-b"); err != nil {
		t.Fatal(err)
	}

	w := &fakeWallet{txs: map[string]wallet.TxInfo{
		"tx-a": {TxID: "tx-a", Confirmations: 9, Fee: 1234, HasFee: true},
	}}
	rem := &fakeRemote{rejectTxids: map[string]bool{"tx-b": true}}
	eng := newTestEngine(repo, w, rem, Options{})

	res, err := eng.Associate(ctx)
	if err == nil {
		t.Fatal("expected an error for the rejected group")
	}
	if res.Groups != 2 || res.Associated != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if len(rem.associates) != 1 {
		t.Fatalf("expected one accepted push, got %d", len(rem.associates))
	}
	push := rem.associates[0]
	if push.txid != "tx-a" || !push.hasFee || push.fee != 1234 || len(push.externalIDs) != 2 {
		t.Fatalf("unexpected push: %+v", push)
	}

	// The rejected group stays pending; the accepted one is closed.
	pending, _ := repo.PaidUnassociated(ctx)
	if len(pending) != 1 || pending[0].TxID != "tx-b" {
		t.Fatalf("expected only tx-b pending, got %+v", pending)
	}
}

func TestAssociateSkipsUnpaidRecords(t *testing.T) {
	repo := payout.NewMemoryRepository()
	ctx := context.Background()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 100, ExternalID: "ext-1"},
	)
	rem := &fakeRemote{}
	eng := newTestEngine(repo, &fakeWallet{}, rem, Options{})

	res, err := eng.Associate(ctx)
	if err != nil {
		t.Fatalf("associate failed: %v", err)
	}
	if res.Groups != 0 || len(rem.associates) != 0 {
		t.Fatalf("unpaid records must never be associated: %+v", res)
	}
}

func TestLocalAssociateStampsUnpaidLocked(t *testing.T) {
	repo := payout.NewMemoryRepository()
	ctx := context.Background()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 100, ExternalID: "ext-1"},
		remote.Obligation{Beneficiary: addrV0, Amount: 200, ExternalID: "ext-2"},
	)
	if err := repo.LockBatch(ctx, []int64{1, 2}); err != nil {
		t.Fatal(err)
	}

	eng := newTestEngine(repo, &fakeWallet{}, &fakeRemote{}, Options{})
	n, err := eng.LocalAssociate(ctx, "tx-manual")
	if err != nil || n != 2 {
		t.Fatalf("local associate: n=%d err=%v", n, err)
	}

	pending, _ := repo.PaidUnassociated(ctx)
	if len(pending) != 2 {
		t.Fatalf("expected 2 records awaiting remote association, got %d", len(pending))
	}
	for _, rec := range pending {
		if rec.TxID != "tx-manual" {
			t.Fatalf("record %s missing manual txid: %+v", rec.ExternalID, rec)
		}
	}
}

func TestResetAllLockedRequiresConfirmation(t *testing.T) {
	repo := payout.NewMemoryRepository()
	ctx := context.Background()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 100, ExternalID: "ext-1"},
	)
	if err := repo.LockBatch(ctx, []int64{1}); err != nil {
		t.Fatal(err)
	}

	eng := newTestEngine(repo, &fakeWallet{}, &fakeRemote{}, Options{})
	if _, err := eng.ResetAllLocked(ctx, func(int) bool { return false }); !errors.Is(err, payout.ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	locked, _ := repo.UnpaidLocked(ctx)
	if len(locked) != 1 {
		t.Fatal("declined reset must not unlock anything")
	}
}

func TestParseCommand(t *testing.T) {
	if _, err := ParseCommand("disburse"); err != nil {
		t.Fatalf("disburse should parse: %v", err)
	}
	if _, err := ParseCommand("drop_tables"); err == nil {
		t.Fatal("unknown command should fail")
	}
}

func TestRunDispatchesAndRecoversPanics(t *testing.T) {
	repo := payout.NewMemoryRepository()
	seedRecords(t, repo,
		remote.Obligation{Beneficiary: addrV0, Amount: 100, ExternalID: "ext-1"},
	)
	// A nil wallet makes the disburse handler panic; Run must convert that
	// into a failure return instead of crashing the process.
	eng := New(repo, nil, &fakeRemote{}, nil, Options{Currency: "LTC"}, logging.Discard())
	err := eng.Run(context.Background(), CommandDisburse)
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if fmt.Sprint(err) == "" {
		t.Fatal("error must describe the failure")
	}
}

func TestRunLocalAssociateArgs(t *testing.T) {
	eng := newTestEngine(payout.NewMemoryRepository(), &fakeWallet{}, &fakeRemote{}, Options{})
	if err := eng.Run(context.Background(), CommandLocalAssociate); err == nil {
		t.Fatal("local_associate without a txid must fail")
	}
}
