package vm

import (
	"fmt"
	"math"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/events"
	"github.com/tradepost-labs/tradepost/hook"
	"github.com/tradepost-labs/tradepost/token"
)

// Context is passed to every Handler and provides access to the registry
// state, the current block, the triggering transaction, the event emitter,
// and the transfer-hook processor the handlers wire into the ledger.
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Emitter *events.Emitter
	Hooks   *hook.Processor
}

// Executor applies transactions to the state using the global Handler
// registry. Execution is strictly serialized: each transaction runs to
// completion, snapshot-guarded, before the next one starts.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	hooks   *hook.Processor
}

// NewExecutor creates an Executor with the given state, event emitter, and
// transfer-hook processor.
func NewExecutor(state core.State, emitter *events.Emitter, hooks *hook.Processor) *Executor {
	return &Executor{state: state, emitter: emitter, hooks: hooks}
}

// ExecuteBlock applies all transactions in block sequentially.
// A failing transaction causes the whole block to be rejected.
// EventBlockCommit is emitted by the sealer after signing so the event
// carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(block, tx); err != nil {
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
	}
	return nil
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	var mark int
	if e.emitter != nil {
		mark = e.emitter.Mark()
	}

	if err := e.applyTx(block, tx); err != nil {
		if e.emitter != nil {
			e.emitter.Rollback(mark)
		}
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
	}
	return nil
}

// applyTx checks the nonce, charges the flat fee in system token 0, then
// dispatches to the handler.
func (e *Executor) applyTx(block *core.Block, tx *core.Transaction) error {
	sender, err := tx.Sender()
	if err != nil {
		return err
	}
	acc, err := e.state.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", sender)
	}
	if tx.Fee > 0 {
		feeToken := token.SystemFT(0)
		bal, err := e.state.Balance(sender, feeToken)
		if err != nil {
			return err
		}
		if bal < tx.Fee {
			return fmt.Errorf("insufficient balance for fee: have %d need %d", bal, tx.Fee)
		}
		// The fee is burned; no sealer reward exists.
		if err := e.state.SetBalance(sender, feeToken, bal-tx.Fee); err != nil {
			return err
		}
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Emitter: e.emitter,
		Hooks:   e.hooks,
	}
	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}
