package exchange_test

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/crypto"
	"github.com/tradepost-labs/tradepost/events"
	"github.com/tradepost-labs/tradepost/exchange"
	"github.com/tradepost-labs/tradepost/hook"
	"github.com/tradepost-labs/tradepost/indexer"
	"github.com/tradepost-labs/tradepost/internal/testutil"
	"github.com/tradepost-labs/tradepost/ledger"
	"github.com/tradepost-labs/tradepost/token"
)

// economy adapts a concrete ledger to the engine capability the way the deal
// transaction handlers do: settlement transfers run as the holder itself.
type economy struct {
	lgr *ledger.Ledger
}

func (c economy) BatchTransfer(from, to string, ids []token.ID, amounts []uint64, memo string) error {
	return c.lgr.BatchTransfer(from, from, to, ids, amounts, memo)
}

func (c economy) IsApproved(owner, operator string) (bool, error) {
	return c.lgr.IsApprovedForAll(owner, operator)
}

func newAddr(t *testing.T) string {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return pub.Address()
}

func newEngine(t *testing.T) (*exchange.Engine, core.State, *ledger.Ledger) {
	t.Helper()
	state := testutil.NewStateDB()
	lgr := ledger.New(state, nil, nil)
	eng := exchange.NewEngine(state, economy{lgr: lgr}, nil, nil)
	return eng, state, lgr
}

func mustBundle(t *testing.T, ids []token.ID, amounts []uint64) core.Bundle {
	t.Helper()
	b, err := core.NewBundle(ids, amounts)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// TestDealIDsMonotonic verifies ids start at 1 and increase by one per deal,
// including deals that later die.
func TestDealIDsMonotonic(t *testing.T) {
	eng, state, _ := newEngine(t)
	alice, bob := newAddr(t), newAddr(t)
	sys1 := token.SystemFT(1)
	_ = state.SetBalance(alice, sys1, 100)

	bundle := mustBundle(t, []token.ID{sys1}, []uint64{1})
	for want := uint64(1); want <= 3; want++ {
		id, err := eng.Start(alice, alice, bob, bundle)
		if err != nil {
			t.Fatalf("start %d: %v", want, err)
		}
		if id != want {
			t.Errorf("deal id: got %d want %d", id, want)
		}
	}
	if err := eng.Break(alice, 2); err != nil {
		t.Fatalf("break: %v", err)
	}
	id, err := eng.Start(alice, alice, bob, bundle)
	if err != nil {
		t.Fatal(err)
	}
	if id != 4 {
		t.Errorf("id after break: got %d want 4 (ids are never reused)", id)
	}
	count, err := eng.DealCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Errorf("deal count: got %d want 4", count)
	}
}

// TestFullSwap runs the complete lifecycle: alice offers 5 of system token 1,
// bob answers with 3 of system token 2, alice confirms, both sides settle.
func TestFullSwap(t *testing.T) {
	eng, state, _ := newEngine(t)
	alice, bob := newAddr(t), newAddr(t)
	sys1, sys2 := token.SystemFT(1), token.SystemFT(2)
	_ = state.SetBalance(alice, sys1, 10)
	_ = state.SetBalance(bob, sys2, 10)

	id, err := eng.Start(alice, alice, bob, mustBundle(t, []token.ID{sys1}, []uint64{5}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.Accept(bob, id, mustBundle(t, []token.ID{sys2}, []uint64{3})); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := eng.Confirm(alice, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	checks := []struct {
		who  string
		id   token.ID
		want uint64
	}{
		{alice, sys1, 5},
		{alice, sys2, 3},
		{bob, sys1, 5},
		{bob, sys2, 7},
	}
	for _, c := range checks {
		got, err := state.Balance(c.who, c.id)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("balance(%s, %s): got %d want %d", c.who, c.id, got, c.want)
		}
	}

	// The record is gone: every further operation sees an unknown deal.
	if _, err := eng.Deal(id); !errors.Is(err, core.ErrUnknownDeal) {
		t.Errorf("Deal after confirm: got %v want ErrUnknownDeal", err)
	}
	if err := eng.Confirm(alice, id); !errors.Is(err, core.ErrUnknownDeal) {
		t.Errorf("double confirm: got %v want ErrUnknownDeal", err)
	}
}

// TestBreakLeavesBalancesUnchanged verifies a break from any live state moves
// nothing.
func TestBreakLeavesBalancesUnchanged(t *testing.T) {
	eng, state, _ := newEngine(t)
	alice, bob := newAddr(t), newAddr(t)
	sys1, sys2 := token.SystemFT(1), token.SystemFT(2)
	_ = state.SetBalance(alice, sys1, 10)
	_ = state.SetBalance(bob, sys2, 10)

	// Break from Created, by the receiver.
	id, _ := eng.Start(alice, alice, bob, mustBundle(t, []token.ID{sys1}, []uint64{5}))
	if err := eng.Break(bob, id); err != nil {
		t.Fatalf("break from created: %v", err)
	}

	// Break from Accepted, by the emitter.
	id, _ = eng.Start(alice, alice, bob, mustBundle(t, []token.ID{sys1}, []uint64{5}))
	_ = eng.Accept(bob, id, mustBundle(t, []token.ID{sys2}, []uint64{3}))
	if err := eng.Break(alice, id); err != nil {
		t.Fatalf("break from accepted: %v", err)
	}

	for _, c := range []struct {
		who  string
		id   token.ID
		want uint64
	}{{alice, sys1, 10}, {alice, sys2, 0}, {bob, sys1, 0}, {bob, sys2, 10}} {
		got, _ := state.Balance(c.who, c.id)
		if got != c.want {
			t.Errorf("balance(%s, %s): got %d want %d", c.who, c.id, got, c.want)
		}
	}
	if _, err := eng.Deal(id); !errors.Is(err, core.ErrUnknownDeal) {
		t.Errorf("Deal after break: got %v want ErrUnknownDeal", err)
	}
}

// TestDoubleAccept: accepting an already-accepted deal fails with
// ErrInvalidDealState and leaves the stored counter-bundle intact.
func TestDoubleAccept(t *testing.T) {
	eng, state, _ := newEngine(t)
	alice, bob := newAddr(t), newAddr(t)
	sys1, sys2 := token.SystemFT(1), token.SystemFT(2)
	_ = state.SetBalance(alice, sys1, 10)

	id, _ := eng.Start(alice, alice, bob, mustBundle(t, []token.ID{sys1}, []uint64{5}))
	first := mustBundle(t, []token.ID{sys2}, []uint64{3})
	if err := eng.Accept(bob, id, first); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	err := eng.Accept(bob, id, mustBundle(t, []token.ID{sys2}, []uint64{9}))
	if !errors.Is(err, core.ErrInvalidDealState) {
		t.Errorf("second accept: got %v want ErrInvalidDealState", err)
	}

	deal, err := eng.Deal(id)
	if err != nil {
		t.Fatal(err)
	}
	if deal.ReceiverAssets[0].Amount != 3 {
		t.Errorf("counter bundle overwritten: got %d want 3", deal.ReceiverAssets[0].Amount)
	}
}

// TestBundleShape: mismatched id/amount lengths and empty bundles are
// rejected with ErrInvalidBundle before any state changes.
func TestBundleShape(t *testing.T) {
	eng, state, _ := newEngine(t)
	alice, bob := newAddr(t), newAddr(t)
	sys1 := token.SystemFT(1)
	_ = state.SetBalance(alice, sys1, 10)

	if _, err := core.NewBundle([]token.ID{sys1}, nil); !errors.Is(err, core.ErrInvalidBundle) {
		t.Errorf("length mismatch: got %v want ErrInvalidBundle", err)
	}
	if _, err := core.NewBundle(nil, nil); !errors.Is(err, core.ErrInvalidBundle) {
		t.Errorf("empty: got %v want ErrInvalidBundle", err)
	}
	if _, err := core.NewBundle([]token.ID{sys1}, []uint64{0}); !errors.Is(err, core.ErrInvalidBundle) {
		t.Errorf("zero amount: got %v want ErrInvalidBundle", err)
	}

	if _, err := eng.Start(alice, alice, bob, core.Bundle{}); !errors.Is(err, core.ErrInvalidBundle) {
		t.Errorf("start with empty bundle: got %v want ErrInvalidBundle", err)
	}
	if count, _ := eng.DealCount(); count != 0 {
		t.Errorf("rejected start consumed a deal id: count %d", count)
	}
}

// TestInvalidParties: malformed and zero addresses are rejected, and only the
// right party may drive each transition.
func TestInvalidParties(t *testing.T) {
	eng, state, _ := newEngine(t)
	alice, bob, carol := newAddr(t), newAddr(t), newAddr(t)
	sys1 := token.SystemFT(1)
	_ = state.SetBalance(alice, sys1, 10)
	bundle := mustBundle(t, []token.ID{sys1}, []uint64{5})

	if _, err := eng.Start(alice, alice, "not-an-address", bundle); !errors.Is(err, core.ErrInvalidParty) {
		t.Errorf("bad receiver: got %v want ErrInvalidParty", err)
	}
	if _, err := eng.Start(alice, alice, crypto.ZeroAddress, bundle); !errors.Is(err, core.ErrInvalidParty) {
		t.Errorf("zero receiver: got %v want ErrInvalidParty", err)
	}

	id, err := eng.Start(alice, alice, bob, bundle)
	if err != nil {
		t.Fatal(err)
	}
	// carol is neither party nor an operator.
	if err := eng.Accept(carol, id, bundle); !errors.Is(err, core.ErrInvalidParty) {
		t.Errorf("accept by stranger: got %v want ErrInvalidParty", err)
	}
	if err := eng.Break(carol, id); !errors.Is(err, core.ErrInvalidParty) {
		t.Errorf("break by stranger: got %v want ErrInvalidParty", err)
	}
	// Only the emitter confirms.
	_ = eng.Accept(bob, id, bundle)
	if err := eng.Confirm(bob, id); !errors.Is(err, core.ErrInvalidParty) {
		t.Errorf("confirm by receiver: got %v want ErrInvalidParty", err)
	}
}

// TestOperatorActsForParty: an approved operator may drive a deal on the
// party's behalf.
func TestOperatorActsForParty(t *testing.T) {
	eng, state, lgr := newEngine(t)
	alice, bob, op := newAddr(t), newAddr(t), newAddr(t)
	sys1, sys2 := token.SystemFT(1), token.SystemFT(2)
	_ = state.SetBalance(alice, sys1, 10)
	_ = state.SetBalance(bob, sys2, 10)
	if err := lgr.SetApprovalForAll(alice, op, true); err != nil {
		t.Fatal(err)
	}

	id, err := eng.Start(op, alice, bob, mustBundle(t, []token.ID{sys1}, []uint64{5}))
	if err != nil {
		t.Fatalf("start via operator: %v", err)
	}
	if err := eng.Accept(bob, id, mustBundle(t, []token.ID{sys2}, []uint64{3})); err != nil {
		t.Fatal(err)
	}
	if err := eng.Confirm(op, id); err != nil {
		t.Fatalf("confirm via operator: %v", err)
	}
	if got, _ := state.Balance(bob, sys1); got != 5 {
		t.Errorf("settlement via operator failed: bob has %d of sys1", got)
	}
}

// TestConfirmInsufficientBalance: when either side cannot cover its bundle the
// confirm fails with ErrTransferRejected and the deal record plus every
// balance survive untouched.
func TestConfirmInsufficientBalance(t *testing.T) {
	eng, state, _ := newEngine(t)
	alice, bob := newAddr(t), newAddr(t)
	sys1, sys2 := token.SystemFT(1), token.SystemFT(2)
	_ = state.SetBalance(alice, sys1, 10)
	// bob promises 3 of sys2 but holds nothing.

	id, _ := eng.Start(alice, alice, bob, mustBundle(t, []token.ID{sys1}, []uint64{5}))
	_ = eng.Accept(bob, id, mustBundle(t, []token.ID{sys2}, []uint64{3}))

	err := eng.Confirm(alice, id)
	if !errors.Is(err, core.ErrTransferRejected) {
		t.Fatalf("confirm: got %v want ErrTransferRejected", err)
	}

	if got, _ := state.Balance(alice, sys1); got != 10 {
		t.Errorf("alice sys1 after failed confirm: got %d want 10", got)
	}
	if got, _ := state.Balance(bob, sys1); got != 0 {
		t.Errorf("bob sys1 after failed confirm: got %d want 0", got)
	}
	deal, err := eng.Deal(id)
	if err != nil {
		t.Fatalf("deal must stay live after failed confirm: %v", err)
	}
	if deal.State != core.DealAccepted {
		t.Errorf("deal state: got %s want %s", deal.State, core.DealAccepted)
	}

	// The deal is still settleable once bob is funded.
	_ = state.SetBalance(bob, sys2, 3)
	if err := eng.Confirm(alice, id); err != nil {
		t.Fatalf("confirm after funding: %v", err)
	}
}

// TestConfirmRejectedKeepsOwnerIndex: a rejected settlement must not leave a
// trace in the ownership index either. The first transfer leg moves an NFT
// and notifies the sink before the second leg fails; the snapshot revert has
// to take the recorded ownership back together with the balances.
func TestConfirmRejectedKeepsOwnerIndex(t *testing.T) {
	state := testutil.NewStateDB()
	emitter := events.NewEmitter()
	idx := indexer.New(state, emitter)
	lgr := ledger.New(state, hook.New(idx), emitter)
	eng := exchange.NewEngine(state, economy{lgr: lgr}, nil, emitter)

	alice, bob, carol := newAddr(t), newAddr(t), newAddr(t)
	nft, _ := token.NFT(big.NewInt(12345))
	sys2 := token.SystemFT(2)

	// Mint to carol, transfer to alice, so the index records alice.
	if err := lgr.Mint(carol, []token.ID{nft}, []uint64{1}, ""); err != nil {
		t.Fatal(err)
	}
	if err := lgr.BatchTransfer(carol, carol, alice, []token.ID{nft}, []uint64{1}, ""); err != nil {
		t.Fatal(err)
	}
	if owner, _ := idx.NFTOwner(nft); owner != alice {
		t.Fatalf("owner before deal: got %q want %q", owner, alice)
	}

	// bob promises 3 of sys2 but holds nothing, so the second leg fails.
	id, err := eng.Start(alice, alice, bob, mustBundle(t, []token.ID{nft}, []uint64{1}))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Accept(bob, id, mustBundle(t, []token.ID{sys2}, []uint64{3})); err != nil {
		t.Fatal(err)
	}
	if err := eng.Confirm(alice, id); !errors.Is(err, core.ErrTransferRejected) {
		t.Fatalf("confirm: got %v want ErrTransferRejected", err)
	}

	if got, _ := state.Balance(alice, nft); got != 1 {
		t.Errorf("alice nft balance after rejected confirm: got %d want 1", got)
	}
	if owner, _ := idx.NFTOwner(nft); owner != alice {
		t.Errorf("index owner after rejected confirm: got %q want %q", owner, alice)
	}
	if idsBob, _ := idx.NFTsByOwner(bob); len(idsBob) != 0 {
		t.Errorf("bob's indexed holdings after rejected confirm: %v", idsBob)
	}

	// Once bob is funded the same deal settles and the index follows.
	_ = state.SetBalance(bob, sys2, 3)
	if err := eng.Confirm(alice, id); err != nil {
		t.Fatalf("confirm after funding: %v", err)
	}
	if owner, _ := idx.NFTOwner(nft); owner != bob {
		t.Errorf("index owner after settlement: got %q want %q", owner, bob)
	}
}

// TestBreakByStranger: the rejection names neither side's authorization
// check; a stranger is simply no party to the deal.
func TestBreakByStranger(t *testing.T) {
	eng, state, _ := newEngine(t)
	alice, bob, carol := newAddr(t), newAddr(t), newAddr(t)
	sys1 := token.SystemFT(1)
	_ = state.SetBalance(alice, sys1, 10)

	id, err := eng.Start(alice, alice, bob, mustBundle(t, []token.ID{sys1}, []uint64{5}))
	if err != nil {
		t.Fatal(err)
	}
	breakErr := eng.Break(carol, id)
	if !errors.Is(breakErr, core.ErrInvalidParty) {
		t.Fatalf("break by stranger: got %v want ErrInvalidParty", breakErr)
	}
	if !strings.Contains(breakErr.Error(), "no party") {
		t.Errorf("break error should report no-party, got %q", breakErr)
	}
	if _, err := eng.Deal(id); err != nil {
		t.Errorf("deal must survive a rejected break: %v", err)
	}
}

// reentrantEconomy calls back into the engine from inside a settlement
// transfer, imitating a transfer hook that tries to confirm or break the deal
// a second time.
type reentrantEconomy struct {
	economy
	eng    *exchange.Engine
	caller string
	dealID uint64
	inner  []error
}

func (r *reentrantEconomy) BatchTransfer(from, to string, ids []token.ID, amounts []uint64, memo string) error {
	r.inner = append(r.inner,
		r.eng.Confirm(r.caller, r.dealID),
		r.eng.Break(r.caller, r.dealID),
	)
	return r.economy.BatchTransfer(from, to, ids, amounts, memo)
}

// TestConfirmReentrancy: a re-entrant confirm or break issued from inside the
// settlement transfer observes a consumed deal and fails with ErrUnknownDeal,
// while the outer confirm settles exactly once.
func TestConfirmReentrancy(t *testing.T) {
	state := testutil.NewStateDB()
	lgr := ledger.New(state, nil, nil)
	mal := &reentrantEconomy{economy: economy{lgr: lgr}}
	eng := exchange.NewEngine(state, mal, nil, nil)
	mal.eng = eng

	alice, bob := newAddr(t), newAddr(t)
	sys1, sys2 := token.SystemFT(1), token.SystemFT(2)
	_ = state.SetBalance(alice, sys1, 10)
	_ = state.SetBalance(bob, sys2, 10)

	id, err := eng.Start(alice, alice, bob, mustBundle(t, []token.ID{sys1}, []uint64{5}))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Accept(bob, id, mustBundle(t, []token.ID{sys2}, []uint64{3})); err != nil {
		t.Fatal(err)
	}
	mal.caller, mal.dealID = alice, id

	if err := eng.Confirm(alice, id); err != nil {
		t.Fatalf("outer confirm: %v", err)
	}
	if len(mal.inner) != 4 {
		t.Fatalf("expected 4 re-entrant attempts, got %d", len(mal.inner))
	}
	for i, innerErr := range mal.inner {
		if !errors.Is(innerErr, core.ErrUnknownDeal) {
			t.Errorf("re-entrant call %d: got %v want ErrUnknownDeal", i, innerErr)
		}
	}

	// Settlement happened exactly once.
	if got, _ := state.Balance(bob, sys1); got != 5 {
		t.Errorf("bob sys1: got %d want 5", got)
	}
	if got, _ := state.Balance(alice, sys2); got != 3 {
		t.Errorf("alice sys2: got %d want 3", got)
	}
}

// TestUnknownDeals: id 0 and never-issued ids fail with ErrUnknownDeal on
// every operation.
func TestUnknownDeals(t *testing.T) {
	eng, _, _ := newEngine(t)
	alice := newAddr(t)
	bundle := core.Bundle{{Token: token.SystemFT(1), Amount: 1}}

	for _, id := range []uint64{0, 1, 42} {
		if err := eng.Accept(alice, id, bundle); !errors.Is(err, core.ErrUnknownDeal) {
			t.Errorf("accept(%d): got %v want ErrUnknownDeal", id, err)
		}
		if err := eng.Confirm(alice, id); !errors.Is(err, core.ErrUnknownDeal) {
			t.Errorf("confirm(%d): got %v want ErrUnknownDeal", id, err)
		}
		if err := eng.Break(alice, id); !errors.Is(err, core.ErrUnknownDeal) {
			t.Errorf("break(%d): got %v want ErrUnknownDeal", id, err)
		}
	}
}
