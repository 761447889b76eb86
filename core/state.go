package core

import "github.com/tradepost-labs/tradepost/token"

// State is the full registry state interface. Implementations must be
// snapshot-able so the executor and the exchange engine can roll back failed
// operations.
type State interface {
	// Accounts (nonce only; balances live in the balance table)
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Balances, keyed by (token id, account)
	Balance(address string, id token.ID) (uint64, error)
	SetBalance(address string, id token.ID, amount uint64) error

	// Deals. GetDeal returns ErrNotFound for an id that is not live; a
	// confirmed or broken deal is indistinguishable from one never issued.
	GetDeal(id uint64) (*Deal, error)
	SetDeal(deal *Deal) error
	DeleteDeal(id uint64) error

	// DealSequence is the ever-incrementing deal id counter, 0 on a fresh
	// registry. Ids are allocated by incrementing before insert; 0 is never a
	// valid deal id.
	DealSequence() (uint64, error)
	SetDealSequence(seq uint64) error

	// Approval-for-all relation (owner -> operator)
	Approval(owner, operator string) (bool, error)
	SetApproval(owner, operator string, approved bool) error

	// Brand registry: records which accounts have minted their brand token.
	HasBrand(account string) (bool, error)
	SetBrand(account string) error

	// System-token issuer allowlist, populated at genesis.
	IsIssuer(account string) (bool, error)
	SetIssuer(account string) error

	// Secondary-index key space. Entries written here revert and commit
	// together with the rest of the state, so derived tables (ownership
	// indexes, per-party deal lists) can never outlive a rolled-back
	// mutation. IndexGet returns ErrNotFound for an absent key.
	IndexGet(key string) ([]byte, error)
	IndexSet(key string, value []byte) error
	IndexDelete(key string) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before sealing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
