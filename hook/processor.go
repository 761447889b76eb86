// Package hook implements the transfer-hook processor: the logic run once per
// balance-changing ledger operation that re-derives brand-ownership approvals
// and forwards non-fungible ownership changes to the owner-notification sink.
package hook

import (
	"fmt"

	"github.com/tradepost-labs/tradepost/token"
)

// Notifier is the owner-notification sink. Implementations must not call back
// into the exchange engine; they observe ownership changes, nothing more.
type Notifier interface {
	// BrandOwnerChanged fires when a brand token moves between accounts (or is
	// burned, with newOwner empty). It does not fire on mint: the registry
	// that minted the brand is already aware.
	BrandOwnerChanged(brand token.ID, newOwner string)
	// NFTOwnerChanged fires when a generic non-fungible token is transferred
	// or burned (newOwner empty on burn). It does not fire on mint.
	NFTOwnerChanged(id token.ID, newOwner string)
}

// Approvals is the slice of the asset ledger the processor mutates: the
// approval-for-all relation that brand ownership is derived into.
type Approvals interface {
	SetApprovalForAll(owner, operator string, approved bool) error
}

// Processor derives approval and ownership-notification side effects from
// observed balance changes. It is stateless; all state lives in the ledger.
type Processor struct {
	notifier Notifier
}

// New creates a Processor forwarding to notifier. A nil notifier is legal and
// silently drops notifications (approval derivation still runs).
func New(notifier Notifier) *Processor {
	return &Processor{notifier: notifier}
}

// Process handles one ledger mutation: from is the previous holder (empty on
// mint), to the new holder (empty on burn), ids/amounts the parallel affected
// entries in operation order. Each entry is handled exactly once, in order:
//
//   - brand id, nonzero amount: revoke the previous holder's approval for the
//     brand account, grant it to the new holder; on a transfer or burn, notify
//     the sink of the brand-ownership change.
//   - generic NFT id with a previous holder: notify the sink of the ownership
//     change (empty new owner on burn).
//   - fungible ids: balances only, no side effects here.
func (p *Processor) Process(approvals Approvals, from, to string, ids []token.ID, amounts []uint64) error {
	if len(ids) != len(amounts) {
		return fmt.Errorf("hook: %d ids vs %d amounts", len(ids), len(amounts))
	}
	for i, id := range ids {
		switch {
		case id.IsBrand():
			if amounts[i] == 0 {
				continue
			}
			brandAccount, _ := id.BrandAccount()
			if from != "" {
				if err := approvals.SetApprovalForAll(brandAccount, from, false); err != nil {
					return fmt.Errorf("revoke brand approval: %w", err)
				}
			}
			if to != "" {
				if err := approvals.SetApprovalForAll(brandAccount, to, true); err != nil {
					return fmt.Errorf("grant brand approval: %w", err)
				}
			}
			// Mint is silent; the sink hears about transfers and burns only.
			if from != "" && p.notifier != nil {
				p.notifier.BrandOwnerChanged(id, to)
			}
		case id.IsNFT():
			if from != "" && p.notifier != nil {
				p.notifier.NFTOwnerChanged(id, to)
			}
		}
	}
	return nil
}
