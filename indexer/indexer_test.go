package indexer_test

import (
	"math/big"
	"testing"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/events"
	"github.com/tradepost-labs/tradepost/indexer"
	"github.com/tradepost-labs/tradepost/internal/testutil"
	"github.com/tradepost-labs/tradepost/token"
)

const (
	acctA = "0102030405060708090a0b0c0d0e0f1011121314"
	acctB = "14131211100f0e0d0c0b0a090807060504030201"
)

func newIndexer(t *testing.T, emitter *events.Emitter) (*indexer.Indexer, core.State) {
	t.Helper()
	state := testutil.NewStateDB()
	return indexer.New(state, emitter), state
}

func TestNFTOwnerIndex(t *testing.T) {
	idx, _ := newIndexer(t, events.NewEmitter())
	nft1, _ := token.NFT(big.NewInt(1))
	nft2, _ := token.NFT(big.NewInt(2))

	if owner, err := idx.NFTOwner(nft1); err != nil || owner != "" {
		t.Fatalf("fresh owner: %q, %v", owner, err)
	}

	idx.NFTOwnerChanged(nft1, acctA)
	idx.NFTOwnerChanged(nft2, acctA)
	if owner, _ := idx.NFTOwner(nft1); owner != acctA {
		t.Errorf("owner: got %q want %q", owner, acctA)
	}
	ids, err := idx.NFTsByOwner(acctA)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("owner list: got %v", ids)
	}

	// Transfer moves the id between the owner lists.
	idx.NFTOwnerChanged(nft1, acctB)
	if owner, _ := idx.NFTOwner(nft1); owner != acctB {
		t.Errorf("owner after transfer: got %q", owner)
	}
	idsA, _ := idx.NFTsByOwner(acctA)
	idsB, _ := idx.NFTsByOwner(acctB)
	if len(idsA) != 1 || len(idsB) != 1 {
		t.Errorf("owner lists after transfer: A=%v B=%v", idsA, idsB)
	}

	// Burn clears everything.
	idx.NFTOwnerChanged(nft1, "")
	if owner, _ := idx.NFTOwner(nft1); owner != "" {
		t.Errorf("owner after burn: got %q", owner)
	}
	if idsB, _ = idx.NFTsByOwner(acctB); len(idsB) != 0 {
		t.Errorf("owner list after burn: %v", idsB)
	}
}

func TestBrandOwnerIndex(t *testing.T) {
	idx, _ := newIndexer(t, events.NewEmitter())
	brand, _ := token.Brand(acctA)

	if owner, _ := idx.BrandOwner(acctA); owner != "" {
		t.Errorf("fresh brand owner: got %q", owner)
	}
	idx.BrandOwnerChanged(brand, acctB)
	if owner, _ := idx.BrandOwner(acctA); owner != acctB {
		t.Errorf("brand owner: got %q want %q", owner, acctB)
	}
	idx.BrandOwnerChanged(brand, "")
	if owner, _ := idx.BrandOwner(acctA); owner != "" {
		t.Errorf("brand owner after burn: got %q", owner)
	}
}

// TestIndexRevertsWithState: index entries live in the state write buffer, so
// a snapshot revert takes recorded ownership back along with the balances it
// was derived from.
func TestIndexRevertsWithState(t *testing.T) {
	idx, state := newIndexer(t, events.NewEmitter())
	nft, _ := token.NFT(big.NewInt(9))
	brand, _ := token.Brand(acctA)

	idx.NFTOwnerChanged(nft, acctA)
	idx.BrandOwnerChanged(brand, acctA)

	snap, err := state.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	idx.NFTOwnerChanged(nft, acctB)
	idx.BrandOwnerChanged(brand, acctB)
	if owner, _ := idx.NFTOwner(nft); owner != acctB {
		t.Fatalf("owner before revert: got %q", owner)
	}

	if err := state.RevertToSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	if owner, _ := idx.NFTOwner(nft); owner != acctA {
		t.Errorf("nft owner after revert: got %q want %q", owner, acctA)
	}
	if owner, _ := idx.BrandOwner(acctA); owner != acctA {
		t.Errorf("brand owner after revert: got %q want %q", owner, acctA)
	}
	idsA, _ := idx.NFTsByOwner(acctA)
	idsB, _ := idx.NFTsByOwner(acctB)
	if len(idsA) != 1 || len(idsB) != 0 {
		t.Errorf("owner lists after revert: A=%v B=%v", idsA, idsB)
	}
}

// TestDealPartyIndex: deal events maintain the per-party live-deal lists.
func TestDealPartyIndex(t *testing.T) {
	emitter := events.NewEmitter()
	idx, _ := newIndexer(t, emitter)

	start := func(id uint64) {
		emitter.Emit(events.Event{Type: events.EventDealStarted, Data: map[string]any{
			"deal_id": id, "emitter": acctA, "receiver": acctB,
		}})
	}
	start(1)
	start(2)

	dealsA, err := idx.DealsByParty(acctA)
	if err != nil {
		t.Fatal(err)
	}
	dealsB, _ := idx.DealsByParty(acctB)
	if len(dealsA) != 2 || len(dealsB) != 2 {
		t.Fatalf("deal lists: A=%v B=%v", dealsA, dealsB)
	}

	emitter.Emit(events.Event{Type: events.EventDealConfirmed, Data: map[string]any{
		"deal_id": uint64(1), "emitter": acctA, "receiver": acctB,
	}})
	emitter.Emit(events.Event{Type: events.EventDealBroken, Data: map[string]any{
		"deal_id": uint64(2), "breaker": acctB, "emitter": acctA, "receiver": acctB,
	}})

	if dealsA, _ = idx.DealsByParty(acctA); len(dealsA) != 0 {
		t.Errorf("deals left for emitter: %v", dealsA)
	}
	if dealsB, _ = idx.DealsByParty(acctB); len(dealsB) != 0 {
		t.Errorf("deals left for receiver: %v", dealsB)
	}
}
