// Package deals registers the transaction handlers driving the deal
// life-cycle: start, accept, confirm, break.
package deals

import (
	"encoding/json"
	"fmt"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/exchange"
	"github.com/tradepost-labs/tradepost/ledger"
	"github.com/tradepost-labs/tradepost/token"
	"github.com/tradepost-labs/tradepost/vm"
)

func init() {
	vm.Register(core.TxDealStart, handleDealStart)
	vm.Register(core.TxDealAccept, handleDealAccept)
	vm.Register(core.TxDealConfirm, handleDealConfirm)
	vm.Register(core.TxDealBreak, handleDealBreak)
}

// economy adapts the concrete ledger to the engine's Capability. Deal
// settlement transfers are issued on behalf of the parties themselves: the
// deal protocol has already authorized them, so no extra operator grant is
// required.
type economy struct {
	lgr *ledger.Ledger
}

func (c economy) BatchTransfer(from, to string, ids []token.ID, amounts []uint64, memo string) error {
	return c.lgr.BatchTransfer(from, from, to, ids, amounts, memo)
}

func (c economy) IsApproved(owner, operator string) (bool, error) {
	return c.lgr.IsApprovedForAll(owner, operator)
}

func newEngine(ctx *vm.Context) *exchange.Engine {
	lgr := ledger.New(ctx.State, ctx.Hooks, ctx.Emitter)
	return exchange.NewEngine(ctx.State, economy{lgr: lgr}, nil, ctx.Emitter)
}

func handleDealStart(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DealStartPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode deal_start payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}
	emitter := p.Emitter
	if emitter == "" {
		emitter = sender
	}
	bundle, err := core.NewBundle(p.Tokens, p.Amounts)
	if err != nil {
		return err
	}
	_, err = newEngine(ctx).Start(sender, emitter, p.Receiver, bundle)
	return err
}

func handleDealAccept(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DealAcceptPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode deal_accept payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}
	bundle, err := core.NewBundle(p.Tokens, p.Amounts)
	if err != nil {
		return err
	}
	return newEngine(ctx).Accept(sender, p.DealID, bundle)
}

func handleDealConfirm(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DealConfirmPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode deal_confirm payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}
	return newEngine(ctx).Confirm(sender, p.DealID)
}

func handleDealBreak(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DealBreakPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode deal_break payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}
	return newEngine(ctx).Break(sender, p.DealID)
}
