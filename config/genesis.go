package config

import (
	"strings"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/crypto"
	"github.com/tradepost-labs/tradepost/token"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0 from the genesis config.
// Alloc accounts are credited with the base system token, Issuers gain
// system-mint authority, and each Brands entry receives its own minted brand
// token. State is committed before the block is signed.
func CreateGenesisBlock(cfg *Config, state core.State, sealerPriv crypto.PrivateKey) (*core.Block, error) {
	sealerPub := sealerPriv.Public()
	base := token.SystemFT(0)

	for addr, balance := range cfg.Genesis.Alloc {
		if err := state.SetAccount(&core.Account{Address: addr}); err != nil {
			return nil, err
		}
		if err := state.SetBalance(addr, base, balance); err != nil {
			return nil, err
		}
	}
	for _, addr := range cfg.Genesis.Issuers {
		if err := state.SetIssuer(addr); err != nil {
			return nil, err
		}
	}
	for _, addr := range cfg.Genesis.Brands {
		brand, err := token.Brand(addr)
		if err != nil {
			return nil, err
		}
		if err := state.SetBrand(addr); err != nil {
			return nil, err
		}
		if err := state.SetBalance(addr, brand, 1); err != nil {
			return nil, err
		}
		// The brand account starts as its own operator so its fungibles can
		// be minted immediately.
		if err := state.SetApproval(addr, addr, true); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, sealerPub.Hex(), nil)
	block.Header.StateRoot = stateRoot
	// Embed the chain ID via TxRoot so nodes can identify the network.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(sealerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
