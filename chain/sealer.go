// Package chain implements single-node block sealing: pending transactions
// are drained from the mempool, executed serially, and committed to the local
// journal in signed blocks. There is no validator set and no peer agreement;
// the journal only gives registry history a durable, ordered form.
package chain

import (
	"fmt"
	"log"
	"time"

	"github.com/tradepost-labs/tradepost/config"
	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/crypto"
	"github.com/tradepost-labs/tradepost/events"
	"github.com/tradepost-labs/tradepost/vm"
)

// Sealer drives the execute -> root -> seal -> store -> commit cycle.
type Sealer struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
}

// New creates a Sealer signing with privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *Sealer {
	return &Sealer{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
	}
}

// SealBlock builds, executes, signs and commits the next block. It returns
// (nil, nil) when the mempool is empty; empty blocks are never sealed.
func (s *Sealer) SealBlock() (*core.Block, error) {
	limit := s.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	txs := s.mempool.Pending(limit)
	if len(txs) == 0 {
		return nil, nil
	}

	tip := s.bc.Tip()
	var prevHash string
	var nextHeight int64
	if tip == nil {
		prevHash = config.GenesisHash
		nextHeight = 1
	} else {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}

	block := core.NewBlock(nextHeight, prevHash, s.pubKey.Hex(), txs)

	snap, err := s.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	mark := s.emitter.Mark()
	if err := s.exec.ExecuteBlock(block); err != nil {
		// Discard the partial writes of the rejected block, and the stream
		// events of its earlier transactions, so the next attempt starts
		// from a clean buffer.
		s.emitter.Rollback(mark)
		if revertErr := s.state.RevertToSnapshot(snap); revertErr != nil {
			return nil, fmt.Errorf("execute block: %w (revert: %v)", err, revertErr)
		}
		return nil, fmt.Errorf("execute block: %w", err)
	}

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = s.state.ComputeRoot()
	block.Sign(s.privKey)

	if err := s.bc.AddBlock(block); err != nil {
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := s.state.Commit(); err != nil {
		log.Fatalf("[chain] FATAL: block %d stored but state commit failed: %v",
			block.Header.Height, err)
	}

	// Emit after Sign() so block.Hash is set correctly, then release the
	// block's staged events to the stream: subscribers only ever see
	// committed history.
	s.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
	})
	s.emitter.Flush()

	txIDs := make([]string, len(txs))
	for i, tx := range txs {
		txIDs[i] = tx.ID
	}
	s.mempool.Remove(txIDs)

	return block, nil
}

// Run starts the sealing loop with the given interval. It blocks until done
// is closed. A failed block drops nothing from the mempool; the offending
// transaction keeps failing until it expires out.
func (s *Sealer) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, err := s.SealBlock(); err != nil {
				log.Printf("[chain] seal block error: %v", err)
			}
		}
	}
}
