// Package indexer maintains secondary lookup tables over registry activity so
// clients can query owners and open deals without scanning full state. It is
// also the node's owner-notification sink: the transfer-hook processor reports
// brand and NFT ownership changes straight into it.
//
// The tables live in the state write buffer, not in a separate store. The
// hook fires in the middle of ledger mutations, so index writes must be
// covered by the same snapshot that guards the balances: when a settlement is
// reverted, the ownership it briefly recorded is reverted with it.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/events"
	"github.com/tradepost-labs/tradepost/token"
)

const (
	prefixNFTOwner   = "nftowner:"
	prefixOwnerNFTs  = "owner:nft:"
	prefixBrandOwner = "brandowner:"
	prefixPartyDeals = "party:deal:"
)

// Indexer subscribes to registry events and receives ownership notifications.
type Indexer struct {
	state   core.State
	emitter *events.Emitter
}

// New creates an Indexer writing into state's index key space and subscribes
// to deal events. Pass the returned Indexer to hook.New so ownership
// notifications arrive.
func New(state core.State, emitter *events.Emitter) *Indexer {
	idx := &Indexer{state: state, emitter: emitter}
	emitter.Subscribe(events.EventDealStarted, idx.onDealStarted)
	emitter.Subscribe(events.EventDealConfirmed, idx.onDealClosed)
	emitter.Subscribe(events.EventDealBroken, idx.onDealClosed)
	return idx
}

// ---- owner-notification sink (hook.Notifier) ----

// BrandOwnerChanged records the new controlling account of a brand.
// An empty newOwner (brand burned) clears the entry.
func (idx *Indexer) BrandOwnerChanged(brand token.ID, newOwner string) {
	account, ok := brand.BrandAccount()
	if !ok {
		return
	}
	key := prefixBrandOwner + account
	if newOwner == "" {
		if err := idx.state.IndexDelete(key); err != nil {
			log.Printf("[indexer] clear brand owner %s: %v", account, err)
		}
		return
	}
	if err := idx.state.IndexSet(key, []byte(newOwner)); err != nil {
		log.Printf("[indexer] set brand owner %s: %v", account, err)
	}
}

// NFTOwnerChanged records the new holder of a generic NFT; empty newOwner
// means the token was burned.
func (idx *Indexer) NFTOwnerChanged(id token.ID, newOwner string) {
	key := prefixNFTOwner + id.Hex()
	prev, err := idx.state.IndexGet(key)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		log.Printf("[indexer] read nft owner %s: %v", id, err)
		return
	}
	if len(prev) > 0 {
		_ = idx.removeFromList(prefixOwnerNFTs+string(prev), id.Hex())
	}
	if newOwner == "" {
		_ = idx.state.IndexDelete(key)
		return
	}
	if err := idx.state.IndexSet(key, []byte(newOwner)); err != nil {
		log.Printf("[indexer] set nft owner %s: %v", id, err)
		return
	}
	_ = idx.addToList(prefixOwnerNFTs+newOwner, id.Hex())
}

// ---- queries ----

// NFTOwner returns the indexed holder of a generic NFT ("" if unknown).
func (idx *Indexer) NFTOwner(id token.ID) (string, error) {
	data, err := idx.state.IndexGet(prefixNFTOwner + id.Hex())
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BrandOwner returns the indexed controlling account of a brand ("" if the
// brand was never transferred; the minting account still owns it then).
func (idx *Indexer) BrandOwner(account string) (string, error) {
	data, err := idx.state.IndexGet(prefixBrandOwner + account)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NFTsByOwner returns all indexed NFT ids held by owner.
func (idx *Indexer) NFTsByOwner(owner string) ([]string, error) {
	return idx.getList(prefixOwnerNFTs + owner)
}

// DealsByParty returns the live deal ids owner participates in.
func (idx *Indexer) DealsByParty(party string) ([]string, error) {
	return idx.getList(prefixPartyDeals + party)
}

// ---- event handlers ----

func (idx *Indexer) onDealStarted(ev events.Event) {
	id, ok := ev.Data["deal_id"].(uint64)
	if !ok {
		return
	}
	dealID := fmt.Sprintf("%d", id)
	for _, role := range []string{"emitter", "receiver"} {
		if party, _ := ev.Data[role].(string); party != "" {
			_ = idx.addToList(prefixPartyDeals+party, dealID)
		}
	}
}

func (idx *Indexer) onDealClosed(ev events.Event) {
	id, ok := ev.Data["deal_id"].(uint64)
	if !ok {
		return
	}
	dealID := fmt.Sprintf("%d", id)
	for _, role := range []string{"emitter", "receiver"} {
		if party, _ := ev.Data[role].(string); party != "" {
			_ = idx.removeFromList(prefixPartyDeals+party, dealID)
		}
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.state.IndexGet(key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, _ := idx.getList(key)
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.state.IndexSet(key, data)
}

func (idx *Indexer) removeFromList(key, value string) error {
	ids, _ := idx.getList(key)
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return idx.state.IndexSet(key, data)
}
