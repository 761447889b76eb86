package core

import (
	"fmt"

	"github.com/tradepost-labs/tradepost/token"
)

// DealState is the persisted phase of a deal. Confirm and break delete the
// record instead of storing a terminal tag.
type DealState string

const (
	DealCreated  DealState = "created"
	DealAccepted DealState = "accepted"
)

// BundleItem is one (token, amount) entry of a swap offer.
type BundleItem struct {
	Token  token.ID `json:"token"`
	Amount uint64   `json:"amount"`
}

// Bundle is an ordered list of bundle items representing one side of a swap.
type Bundle []BundleItem

// NewBundle pairs up parallel id/amount slices. It fails with ErrInvalidBundle
// on length mismatch, empty input, or any zero amount.
func NewBundle(ids []token.ID, amounts []uint64) (Bundle, error) {
	if len(ids) != len(amounts) {
		return nil, fmt.Errorf("%w: %d tokens vs %d amounts", ErrInvalidBundle, len(ids), len(amounts))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBundle)
	}
	bundle := make(Bundle, len(ids))
	for i, id := range ids {
		if amounts[i] == 0 {
			return nil, fmt.Errorf("%w: zero amount for token %s", ErrInvalidBundle, id)
		}
		bundle[i] = BundleItem{Token: id, Amount: amounts[i]}
	}
	return bundle, nil
}

// Validate re-checks the bundle invariants on an already-built bundle.
func (b Bundle) Validate() error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidBundle)
	}
	for _, item := range b {
		if item.Amount == 0 {
			return fmt.Errorf("%w: zero amount for token %s", ErrInvalidBundle, item.Token)
		}
	}
	return nil
}

// Tokens returns the ids of the bundle in order.
func (b Bundle) Tokens() []token.ID {
	ids := make([]token.ID, len(b))
	for i, item := range b {
		ids[i] = item.Token
	}
	return ids
}

// Amounts returns the amounts of the bundle in order.
func (b Bundle) Amounts() []uint64 {
	amounts := make([]uint64, len(b))
	for i, item := range b {
		amounts[i] = item.Amount
	}
	return amounts
}

// Deal is one proposed or in-progress two-party swap. A stored record with a
// non-empty Emitter is the sole liveness signal for its id; ReceiverAssets is
// empty while the deal is still in DealCreated.
type Deal struct {
	ID             uint64    `json:"id"`
	Emitter        string    `json:"emitter"`
	Receiver       string    `json:"receiver"`
	EmitterAssets  Bundle    `json:"emitter_assets"`
	ReceiverAssets Bundle    `json:"receiver_assets,omitempty"`
	State          DealState `json:"state"`
	CreatedAt      int64     `json:"created_at"`
}
