package config_test

import (
	"testing"

	"github.com/tradepost-labs/tradepost/config"
	"github.com/tradepost-labs/tradepost/internal/testutil"
	"github.com/tradepost-labs/tradepost/token"
	"github.com/tradepost-labs/tradepost/wallet"
)

func TestCreateGenesisBlock(t *testing.T) {
	alice := "0102030405060708090a0b0c0d0e0f1011121314"
	issuer := "14131211100f0e0d0c0b0a090807060504030201"

	cfg := config.DefaultConfig()
	cfg.Genesis.Alloc = map[string]uint64{alice: 1000}
	cfg.Genesis.Issuers = []string{issuer}
	cfg.Genesis.Brands = []string{alice}

	state := testutil.NewStateDB()
	sealer, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	block, err := config.CreateGenesisBlock(cfg, state, sealer.PrivKey())
	if err != nil {
		t.Fatal(err)
	}
	if block.Header.Height != 0 || !config.IsGenesisHash(block.Header.PrevHash) {
		t.Errorf("header: %+v", block.Header)
	}
	if err := block.Verify(sealer.PrivKey().Public()); err != nil {
		t.Errorf("genesis signature: %v", err)
	}

	if got, _ := state.Balance(alice, token.SystemFT(0)); got != 1000 {
		t.Errorf("alloc balance: got %d want 1000", got)
	}
	if ok, _ := state.IsIssuer(issuer); !ok {
		t.Error("issuer not recorded")
	}
	if ok, _ := state.HasBrand(alice); !ok {
		t.Error("genesis brand not recorded")
	}
	brand, _ := token.Brand(alice)
	if got, _ := state.Balance(alice, brand); got != 1 {
		t.Errorf("brand balance: got %d want 1", got)
	}
	if ok, _ := state.Approval(alice, alice); !ok {
		t.Error("genesis brand holder not approved for itself")
	}
}
