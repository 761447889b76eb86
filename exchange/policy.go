package exchange

import (
	"fmt"

	"github.com/tradepost-labs/tradepost/core"
)

// FungibleOnly is a bundle-validation policy restricting deals to fungible
// assets (system and brand-scoped tokens). Plug it into NewEngine to run an
// exchange that never custodies NFTs or brands.
type FungibleOnly struct{}

// ValidateStart rejects emitter bundles containing non-fungible ids.
func (FungibleOnly) ValidateStart(emitter, receiver string, bundle core.Bundle) error {
	return requireFungible(bundle)
}

// ValidateAccept rejects receiver bundles containing non-fungible ids.
func (FungibleOnly) ValidateAccept(dealID uint64, bundle core.Bundle) error {
	return requireFungible(bundle)
}

func requireFungible(bundle core.Bundle) error {
	for _, item := range bundle {
		if !item.Token.IsFungible() {
			return fmt.Errorf("token %s is not fungible", item.Token)
		}
	}
	return nil
}
