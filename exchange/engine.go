// Package exchange implements the peer-to-peer deal protocol: a two-phase,
// intermediary-free atomic swap of asset bundles between two parties.
//
// A deal moves Created -> Accepted -> {confirmed, broken}; both terminal
// transitions delete the record, so a live deal is exactly one with a stored
// record. Swap mechanics are decoupled from the concrete ledger through the
// Capability interface, injected at construction.
package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/crypto"
	"github.com/tradepost-labs/tradepost/events"
	"github.com/tradepost-labs/tradepost/token"
)

// Capability is the slice of the asset ledger the engine needs: moving
// bundles and reading the approval relation. A concrete economy supplies it.
type Capability interface {
	BatchTransfer(from, to string, ids []token.ID, amounts []uint64, memo string) error
	IsApproved(owner, operator string) (bool, error)
}

// Validator is the optional bundle-validation hook a concrete policy
// supplies. It may reject an operation but never mutates it.
type Validator interface {
	ValidateStart(emitter, receiver string, bundle core.Bundle) error
	ValidateAccept(dealID uint64, bundle core.Bundle) error
}

// Engine owns the deal ledger and drives deals through their states.
type Engine struct {
	state   core.State
	economy Capability
	policy  Validator       // nil → no extra validation
	emitter *events.Emitter // nil → no events
}

// NewEngine creates an Engine over state with the given transfer capability.
func NewEngine(state core.State, economy Capability, policy Validator, emitter *events.Emitter) *Engine {
	return &Engine{state: state, economy: economy, policy: policy, emitter: emitter}
}

// Start opens a new deal offering bundle from emitter to receiver and returns
// the allocated deal id. caller must be the emitter or approved for it.
func (e *Engine) Start(caller, emitter, receiver string, bundle core.Bundle) (uint64, error) {
	if err := requireParty(emitter); err != nil {
		return 0, err
	}
	if err := requireParty(receiver); err != nil {
		return 0, err
	}
	if err := bundle.Validate(); err != nil {
		return 0, err
	}
	if err := e.requireActsFor(caller, emitter); err != nil {
		return 0, err
	}
	if e.policy != nil {
		if err := e.policy.ValidateStart(emitter, receiver, bundle); err != nil {
			return 0, fmt.Errorf("%w: %v", core.ErrPolicyRejected, err)
		}
	}

	seq, err := e.state.DealSequence()
	if err != nil {
		return 0, err
	}
	id := seq + 1
	if err := e.state.SetDealSequence(id); err != nil {
		return 0, err
	}
	deal := &core.Deal{
		ID:            id,
		Emitter:       emitter,
		Receiver:      receiver,
		EmitterAssets: bundle,
		State:         core.DealCreated,
		CreatedAt:     time.Now().UnixNano(),
	}
	if err := e.state.SetDeal(deal); err != nil {
		return 0, err
	}

	e.emit(events.EventDealStarted, map[string]any{
		"deal_id": id, "emitter": emitter, "receiver": receiver,
	})
	return id, nil
}

// Accept records the receiver's counter-bundle and moves the deal to
// Accepted. caller must be the receiver or approved for it. The counter-bundle
// is never validated against the emitter bundle's asset kinds: the receiver
// may offer an entirely different bundle.
func (e *Engine) Accept(caller string, dealID uint64, bundle core.Bundle) error {
	deal, err := e.liveDeal(dealID)
	if err != nil {
		return err
	}
	if err := e.requireActsFor(caller, deal.Receiver); err != nil {
		return err
	}
	if err := bundle.Validate(); err != nil {
		return err
	}
	if deal.State != core.DealCreated {
		return fmt.Errorf("%w: deal %d is %s, want %s", core.ErrInvalidDealState, dealID, deal.State, core.DealCreated)
	}
	if e.policy != nil {
		if err := e.policy.ValidateAccept(dealID, bundle); err != nil {
			return fmt.Errorf("%w: %v", core.ErrPolicyRejected, err)
		}
	}

	deal.ReceiverAssets = bundle
	deal.State = core.DealAccepted
	if err := e.state.SetDeal(deal); err != nil {
		return err
	}

	e.emit(events.EventDealAccepted, map[string]any{
		"deal_id": dealID, "emitter": deal.Emitter, "receiver": deal.Receiver,
	})
	return nil
}

// Confirm settles an accepted deal: the emitter bundle moves to the receiver
// and the receiver bundle moves to the emitter, atomically. caller must be
// the emitter or approved for it.
//
// The record is deleted before either transfer is issued, so a re-entrant
// confirm or break reached from inside a transfer hook observes a consumed
// deal and fails with ErrUnknownDeal. If the ledger rejects either movement
// the snapshot taken here restores the record and every balance untouched.
func (e *Engine) Confirm(caller string, dealID uint64) error {
	deal, err := e.liveDeal(dealID)
	if err != nil {
		return err
	}
	if deal.State != core.DealAccepted {
		return fmt.Errorf("%w: deal %d is %s, want %s", core.ErrInvalidDealState, dealID, deal.State, core.DealAccepted)
	}
	if err := e.requireActsFor(caller, deal.Emitter); err != nil {
		return err
	}

	snap, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := e.state.DeleteDeal(dealID); err != nil {
		return err
	}

	memo := fmt.Sprintf("deal %d settlement", dealID)
	if err := e.economy.BatchTransfer(deal.Emitter, deal.Receiver, deal.EmitterAssets.Tokens(), deal.EmitterAssets.Amounts(), memo); err != nil {
		return e.rejectTransfer(snap, dealID, err)
	}
	if err := e.economy.BatchTransfer(deal.Receiver, deal.Emitter, deal.ReceiverAssets.Tokens(), deal.ReceiverAssets.Amounts(), memo); err != nil {
		return e.rejectTransfer(snap, dealID, err)
	}

	e.emit(events.EventDealConfirmed, map[string]any{
		"deal_id": dealID, "emitter": deal.Emitter, "receiver": deal.Receiver,
	})
	return nil
}

// Break abandons a deal from Created or Accepted without moving any balance.
// caller must be one of the parties or approved for one of them.
func (e *Engine) Break(caller string, dealID uint64) error {
	deal, err := e.liveDeal(dealID)
	if err != nil {
		return err
	}
	emitterErr := e.requireActsFor(caller, deal.Emitter)
	if emitterErr != nil && !errors.Is(emitterErr, core.ErrInvalidParty) {
		return emitterErr
	}
	if emitterErr != nil {
		receiverErr := e.requireActsFor(caller, deal.Receiver)
		if receiverErr != nil && !errors.Is(receiverErr, core.ErrInvalidParty) {
			return receiverErr
		}
		if receiverErr != nil {
			return fmt.Errorf("%w: %s is no party to deal %d", core.ErrInvalidParty, caller, dealID)
		}
	}

	if err := e.state.DeleteDeal(dealID); err != nil {
		return err
	}
	e.emit(events.EventDealBroken, map[string]any{
		"deal_id": dealID, "breaker": caller,
		"emitter": deal.Emitter, "receiver": deal.Receiver,
	})
	return nil
}

// Deal returns the live record for dealID, or core.ErrNotFound wrapped in
// ErrUnknownDeal when the id is not live.
func (e *Engine) Deal(dealID uint64) (*core.Deal, error) {
	return e.liveDeal(dealID)
}

// DealCount returns the highest deal id ever allocated. Deal ids are never
// reused, so this is also the total number of deals started.
func (e *Engine) DealCount() (uint64, error) {
	return e.state.DealSequence()
}

// ---- internals ----

func (e *Engine) liveDeal(dealID uint64) (*core.Deal, error) {
	if dealID == 0 {
		return nil, fmt.Errorf("%w: id 0 is reserved", core.ErrUnknownDeal)
	}
	deal, err := e.state.GetDeal(dealID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: deal %d", core.ErrUnknownDeal, dealID)
	}
	if err != nil {
		return nil, err
	}
	return deal, nil
}

// requireActsFor checks caller == account or an approval-for-all grant from
// account to caller.
func (e *Engine) requireActsFor(caller, account string) error {
	if caller == account {
		return nil
	}
	ok, err := e.economy.IsApproved(account, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not act for %s", core.ErrInvalidParty, caller, account)
	}
	return nil
}

func (e *Engine) rejectTransfer(snap int, dealID uint64, cause error) error {
	if revertErr := e.state.RevertToSnapshot(snap); revertErr != nil {
		return fmt.Errorf("%w: deal %d: %v (revert: %v)", core.ErrTransferRejected, dealID, cause, revertErr)
	}
	return fmt.Errorf("%w: deal %d: %v", core.ErrTransferRejected, dealID, cause)
}

func (e *Engine) emit(typ events.EventType, data map[string]any) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(events.Event{Type: typ, Data: data})
}

func requireParty(address string) error {
	if !crypto.ValidAddress(address) {
		return fmt.Errorf("%w: invalid address %q", core.ErrInvalidParty, address)
	}
	if address == crypto.ZeroAddress {
		return fmt.Errorf("%w: zero account", core.ErrInvalidParty)
	}
	return nil
}
