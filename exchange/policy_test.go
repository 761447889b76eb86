package exchange_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/exchange"
	"github.com/tradepost-labs/tradepost/internal/testutil"
	"github.com/tradepost-labs/tradepost/ledger"
	"github.com/tradepost-labs/tradepost/token"
)

// TestFungibleOnlyPolicy verifies a policy rejection surfaces as
// ErrPolicyRejected on both start and accept, without allocating a deal id.
func TestFungibleOnlyPolicy(t *testing.T) {
	state := testutil.NewStateDB()
	lgr := ledger.New(state, nil, nil)
	eng := exchange.NewEngine(state, economy{lgr: lgr}, exchange.FungibleOnly{}, nil)

	alice, bob := newAddr(t), newAddr(t)
	sys1 := token.SystemFT(1)
	nft, err := token.NFT(big.NewInt(7))
	if err != nil {
		t.Fatal(err)
	}
	_ = state.SetBalance(alice, sys1, 10)
	_ = state.SetBalance(alice, nft, 1)

	if _, err := eng.Start(alice, alice, bob, mustBundle(t, []token.ID{nft}, []uint64{1})); !errors.Is(err, core.ErrPolicyRejected) {
		t.Errorf("start with nft: got %v want ErrPolicyRejected", err)
	}
	if count, _ := eng.DealCount(); count != 0 {
		t.Errorf("rejected start allocated id: count %d", count)
	}

	id, err := eng.Start(alice, alice, bob, mustBundle(t, []token.ID{sys1}, []uint64{5}))
	if err != nil {
		t.Fatalf("fungible start: %v", err)
	}
	if err := eng.Accept(bob, id, mustBundle(t, []token.ID{nft}, []uint64{1})); !errors.Is(err, core.ErrPolicyRejected) {
		t.Errorf("accept with nft: got %v want ErrPolicyRejected", err)
	}

	// The deal stays in Created and can still be accepted properly.
	deal, err := eng.Deal(id)
	if err != nil {
		t.Fatal(err)
	}
	if deal.State != core.DealCreated {
		t.Errorf("state after rejected accept: got %s want %s", deal.State, core.DealCreated)
	}
	if err := eng.Accept(bob, id, mustBundle(t, []token.ID{sys1}, []uint64{1})); err != nil {
		t.Errorf("fungible accept: %v", err)
	}
}
