package storage_test

import (
	"errors"
	"testing"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/internal/testutil"
	"github.com/tradepost-labs/tradepost/storage"
	"github.com/tradepost-labs/tradepost/token"
)

const (
	addrA = "aa02030405060708090a0b0c0d0e0f1011121314"
	addrB = "bb02030405060708090a0b0c0d0e0f1011121314"
)

func TestBalanceZeroDeletes(t *testing.T) {
	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	sys := token.SystemFT(0)

	if got, err := state.Balance(addrA, sys); err != nil || got != 0 {
		t.Fatalf("fresh balance: got %d, %v", got, err)
	}
	if err := state.SetBalance(addrA, sys, 42); err != nil {
		t.Fatal(err)
	}
	if got, _ := state.Balance(addrA, sys); got != 42 {
		t.Errorf("balance: got %d want 42", got)
	}

	if err := state.SetBalance(addrA, sys, 0); err != nil {
		t.Fatal(err)
	}
	if got, _ := state.Balance(addrA, sys); got != 0 {
		t.Errorf("zeroed balance: got %d", got)
	}
	// An emptied position and a never-written one hash identically.
	if err := state.Commit(); err != nil {
		t.Fatal(err)
	}
	fresh := storage.NewStateDB(testutil.NewMemDB())
	if state.ComputeRoot() != fresh.ComputeRoot() {
		t.Error("zeroed balance left a trace in the state root")
	}
}

func TestDealLifecycleStorage(t *testing.T) {
	state := testutil.NewStateDB()

	if _, err := state.GetDeal(1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("fresh deal: got %v want ErrNotFound", err)
	}
	if seq, _ := state.DealSequence(); seq != 0 {
		t.Errorf("fresh sequence: got %d want 0", seq)
	}

	deal := &core.Deal{
		ID:            1,
		Emitter:       addrA,
		Receiver:      addrB,
		EmitterAssets: core.Bundle{{Token: token.SystemFT(1), Amount: 5}},
		State:         core.DealCreated,
	}
	if err := state.SetDeal(deal); err != nil {
		t.Fatal(err)
	}
	if err := state.SetDealSequence(1); err != nil {
		t.Fatal(err)
	}

	got, err := state.GetDeal(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Emitter != addrA || got.State != core.DealCreated || len(got.EmitterAssets) != 1 {
		t.Errorf("round trip: %+v", got)
	}

	if err := state.DeleteDeal(1); err != nil {
		t.Fatal(err)
	}
	if _, err := state.GetDeal(1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("deleted deal: got %v want ErrNotFound", err)
	}
	// The sequence survives deletion; ids are never reused.
	if seq, _ := state.DealSequence(); seq != 1 {
		t.Errorf("sequence after delete: got %d want 1", seq)
	}
}

func TestSnapshotRevert(t *testing.T) {
	state := testutil.NewStateDB()
	sys := token.SystemFT(0)
	_ = state.SetBalance(addrA, sys, 100)

	snap, err := state.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	_ = state.SetBalance(addrA, sys, 10)
	_ = state.SetBalance(addrB, sys, 90)
	_ = state.SetDeal(&core.Deal{ID: 1, Emitter: addrA, Receiver: addrB, State: core.DealCreated})

	if err := state.RevertToSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	if got, _ := state.Balance(addrA, sys); got != 100 {
		t.Errorf("reverted balance: got %d want 100", got)
	}
	if got, _ := state.Balance(addrB, sys); got != 0 {
		t.Errorf("reverted balance: got %d want 0", got)
	}
	if _, err := state.GetDeal(1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("reverted deal write: got %v want ErrNotFound", err)
	}
}

// TestNestedSnapshots mirrors the engine-inside-ledger pattern: reverting an
// inner snapshot must leave the outer one usable.
func TestNestedSnapshots(t *testing.T) {
	state := testutil.NewStateDB()
	sys := token.SystemFT(0)
	_ = state.SetBalance(addrA, sys, 100)

	outer, _ := state.Snapshot()
	_ = state.SetBalance(addrA, sys, 80)
	inner, _ := state.Snapshot()
	_ = state.SetBalance(addrA, sys, 60)

	if err := state.RevertToSnapshot(inner); err != nil {
		t.Fatal(err)
	}
	if got, _ := state.Balance(addrA, sys); got != 80 {
		t.Errorf("after inner revert: got %d want 80", got)
	}
	if err := state.RevertToSnapshot(outer); err != nil {
		t.Fatal(err)
	}
	if got, _ := state.Balance(addrA, sys); got != 100 {
		t.Errorf("after outer revert: got %d want 100", got)
	}
}

// TestRevertRestoresDeletes: a key deleted after the snapshot comes back.
func TestRevertRestoresDeletes(t *testing.T) {
	state := testutil.NewStateDB()
	_ = state.SetDeal(&core.Deal{ID: 7, Emitter: addrA, Receiver: addrB, State: core.DealAccepted})

	snap, _ := state.Snapshot()
	_ = state.DeleteDeal(7)
	if _, err := state.GetDeal(7); !errors.Is(err, core.ErrNotFound) {
		t.Fatal("delete did not take")
	}
	if err := state.RevertToSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	deal, err := state.GetDeal(7)
	if err != nil {
		t.Fatalf("deal not restored: %v", err)
	}
	if deal.State != core.DealAccepted {
		t.Errorf("restored state: got %s", deal.State)
	}
}

func TestApprovalsBrandsIssuers(t *testing.T) {
	state := testutil.NewStateDB()

	if ok, _ := state.Approval(addrA, addrB); ok {
		t.Error("fresh approval should be false")
	}
	_ = state.SetApproval(addrA, addrB, true)
	if ok, _ := state.Approval(addrA, addrB); !ok {
		t.Error("approval not recorded")
	}
	// Direction matters.
	if ok, _ := state.Approval(addrB, addrA); ok {
		t.Error("approval leaked into the reverse direction")
	}
	_ = state.SetApproval(addrA, addrB, false)
	if ok, _ := state.Approval(addrA, addrB); ok {
		t.Error("approval not revoked")
	}

	if ok, _ := state.HasBrand(addrA); ok {
		t.Error("fresh brand flag should be false")
	}
	_ = state.SetBrand(addrA)
	if ok, _ := state.HasBrand(addrA); !ok {
		t.Error("brand flag not recorded")
	}

	if ok, _ := state.IsIssuer(addrA); ok {
		t.Error("fresh issuer flag should be false")
	}
	_ = state.SetIssuer(addrA)
	if ok, _ := state.IsIssuer(addrA); !ok {
		t.Error("issuer flag not recorded")
	}
}

// TestCommitPersists: committed writes survive a new StateDB over the same DB
// and produce the same root.
func TestCommitPersists(t *testing.T) {
	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	sys := token.SystemFT(0)
	_ = state.SetBalance(addrA, sys, 55)
	_ = state.SetAccount(&core.Account{Address: addrA, Nonce: 3})

	root := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		t.Fatal(err)
	}

	reopened := storage.NewStateDB(db)
	if got, _ := reopened.Balance(addrA, sys); got != 55 {
		t.Errorf("persisted balance: got %d want 55", got)
	}
	acc, _ := reopened.GetAccount(addrA)
	if acc.Nonce != 3 {
		t.Errorf("persisted nonce: got %d want 3", acc.Nonce)
	}
	if reopened.ComputeRoot() != root {
		t.Error("root differs after reopen")
	}
}
