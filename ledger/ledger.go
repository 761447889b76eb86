// Package ledger implements the concrete asset ledger: balances keyed by
// (account, token id) with mint, burn, batch-transfer, and approval-for-all
// primitives. Every balance mutation invokes the transfer-hook processor
// exactly once with the affected entries in call order.
package ledger

import (
	"fmt"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/crypto"
	"github.com/tradepost-labs/tradepost/events"
	"github.com/tradepost-labs/tradepost/hook"
	"github.com/tradepost-labs/tradepost/token"
)

// Ledger is the balance registry. All operations are all-or-nothing: a failed
// call reverts every balance it touched via a state snapshot.
type Ledger struct {
	state   core.State
	hooks   *hook.Processor
	emitter *events.Emitter // nil → no events
}

// New creates a Ledger over state. hooks may be nil to disable transfer-hook
// processing (tests only); emitter may be nil.
func New(state core.State, hooks *hook.Processor, emitter *events.Emitter) *Ledger {
	return &Ledger{state: state, hooks: hooks, emitter: emitter}
}

// BalanceOf returns the holding of address in token id (0 when absent).
func (l *Ledger) BalanceOf(address string, id token.ID) (uint64, error) {
	return l.state.Balance(address, id)
}

// Mint credits amounts of ids to the to account. Callers enforce mint
// authority; the ledger only checks shape.
func (l *Ledger) Mint(to string, ids []token.ID, amounts []uint64, memo string) error {
	if err := requireAccount(to); err != nil {
		return err
	}
	if err := requirePairs(ids, amounts); err != nil {
		return err
	}
	return l.mutate("", to, ids, amounts, func() error {
		for i, id := range ids {
			if err := l.credit(to, id, amounts[i]); err != nil {
				return err
			}
		}
		return nil
	}, events.EventTokenMint, map[string]any{"to": to, "memo": memo})
}

// Burn debits amounts of ids from the from account.
func (l *Ledger) Burn(from string, ids []token.ID, amounts []uint64) error {
	if err := requireAccount(from); err != nil {
		return err
	}
	if err := requirePairs(ids, amounts); err != nil {
		return err
	}
	return l.mutate(from, "", ids, amounts, func() error {
		for i, id := range ids {
			if err := l.debit(from, id, amounts[i]); err != nil {
				return err
			}
		}
		return nil
	}, events.EventTokenBurn, map[string]any{"from": from})
}

// BatchTransfer moves amounts of ids from from to to. operator must be the
// holder itself or an account the holder approved for all.
func (l *Ledger) BatchTransfer(operator, from, to string, ids []token.ID, amounts []uint64, memo string) error {
	if err := requireAccount(from); err != nil {
		return err
	}
	if err := requireAccount(to); err != nil {
		return err
	}
	if err := requirePairs(ids, amounts); err != nil {
		return err
	}
	if operator != from {
		ok, err := l.state.Approval(from, operator)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("operator %s not approved for %s", operator, from)
		}
	}
	return l.mutate(from, to, ids, amounts, func() error {
		for i, id := range ids {
			if err := l.debit(from, id, amounts[i]); err != nil {
				return err
			}
			if err := l.credit(to, id, amounts[i]); err != nil {
				return err
			}
		}
		return nil
	}, events.EventTokenTransfer, map[string]any{"from": from, "to": to, "memo": memo})
}

// SetApprovalForAll grants or revokes operator rights over all of owner's
// holdings. Also the path the transfer hook uses to derive brand approvals.
func (l *Ledger) SetApprovalForAll(owner, operator string, approved bool) error {
	if err := requireAccount(owner); err != nil {
		return err
	}
	if err := requireAccount(operator); err != nil {
		return err
	}
	if err := l.state.SetApproval(owner, operator, approved); err != nil {
		return err
	}
	l.emit(events.EventApprovalSet, map[string]any{
		"owner": owner, "operator": operator, "approved": approved,
	})
	return nil
}

// IsApprovedForAll reports whether owner has approved operator for all.
func (l *Ledger) IsApprovedForAll(owner, operator string) (bool, error) {
	return l.state.Approval(owner, operator)
}

// ---- internals ----

// mutate wraps a balance mutation in a snapshot, runs the transfer hook, and
// emits the operation event. Any failure reverts everything.
func (l *Ledger) mutate(from, to string, ids []token.ID, amounts []uint64, apply func() error, ev events.EventType, data map[string]any) error {
	snap, err := l.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := apply(); err != nil {
		if revertErr := l.state.RevertToSnapshot(snap); revertErr != nil {
			return fmt.Errorf("%w (revert: %v)", err, revertErr)
		}
		return err
	}
	if l.hooks != nil {
		if err := l.hooks.Process(l, from, to, ids, amounts); err != nil {
			if revertErr := l.state.RevertToSnapshot(snap); revertErr != nil {
				return fmt.Errorf("%w (revert: %v)", err, revertErr)
			}
			return err
		}
	}
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tokens[i] = id.Hex()
	}
	data["tokens"] = tokens
	data["amounts"] = amounts
	l.emit(ev, data)
	return nil
}

func (l *Ledger) debit(address string, id token.ID, amount uint64) error {
	bal, err := l.state.Balance(address, id)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("insufficient balance of %s: have %d, need %d", id, bal, amount)
	}
	return l.state.SetBalance(address, id, bal-amount)
}

func (l *Ledger) credit(address string, id token.ID, amount uint64) error {
	bal, err := l.state.Balance(address, id)
	if err != nil {
		return err
	}
	if bal+amount < bal {
		return fmt.Errorf("balance overflow of %s for %s", id, address)
	}
	return l.state.SetBalance(address, id, bal+amount)
}

func (l *Ledger) emit(typ events.EventType, data map[string]any) {
	if l.emitter == nil {
		return
	}
	l.emitter.Emit(events.Event{Type: typ, Data: data})
}

func requireAccount(address string) error {
	if !crypto.ValidAddress(address) {
		return fmt.Errorf("invalid account address %q", address)
	}
	if address == crypto.ZeroAddress {
		return fmt.Errorf("zero account not allowed")
	}
	return nil
}

func requirePairs(ids []token.ID, amounts []uint64) error {
	if len(ids) != len(amounts) {
		return fmt.Errorf("%d tokens vs %d amounts", len(ids), len(amounts))
	}
	if len(ids) == 0 {
		return fmt.Errorf("empty batch")
	}
	for i, amount := range amounts {
		if amount == 0 {
			return fmt.Errorf("zero amount for token %s", ids[i])
		}
	}
	return nil
}
