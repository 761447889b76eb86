package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/crypto"
	"github.com/tradepost-labs/tradepost/token"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount  = registerPrefix("acct:")
	prefixBalance  = registerPrefix("bal:")
	prefixDeal     = registerPrefix("deal:")
	prefixApproval = registerPrefix("appr:")
	prefixBrand    = registerPrefix("brand:")
	prefixIssuer   = registerPrefix("issr:")
	prefixMeta     = registerPrefix("meta:")
	prefixIndex    = registerPrefix("idx:")
)

const keyDealSeq = "meta:dealseq"

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

// has reports key presence regardless of value.
func (s *StateDB) has(key string) (bool, error) {
	_, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ---- Accounts ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	data, err := s.get(prefixAccount + address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	s.set(prefixAccount+acc.Address, data)
	return nil
}

// ---- Balances ----

func balanceKey(address string, id token.ID) string {
	return prefixBalance + id.Hex() + ":" + address
}

// Balance returns the holding of address in token id; absent means zero.
func (s *StateDB) Balance(address string, id token.ID) (uint64, error) {
	data, err := s.get(balanceKey(address, id))
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// SetBalance writes the holding; a zero amount removes the entry so that
// emptied positions leave no trace in the state root.
func (s *StateDB) SetBalance(address string, id token.ID, amount uint64) error {
	key := balanceKey(address, id)
	if amount == 0 {
		s.del(key)
		return nil
	}
	s.set(key, []byte(strconv.FormatUint(amount, 10)))
	return nil
}

// ---- Deals ----

func dealKey(id uint64) string {
	return prefixDeal + strconv.FormatUint(id, 10)
}

func (s *StateDB) GetDeal(id uint64) (*core.Deal, error) {
	data, err := s.get(dealKey(id))
	if err != nil {
		return nil, err
	}
	var deal core.Deal
	if err := json.Unmarshal(data, &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}

func (s *StateDB) SetDeal(deal *core.Deal) error {
	data, err := json.Marshal(deal)
	if err != nil {
		return err
	}
	s.set(dealKey(deal.ID), data)
	return nil
}

func (s *StateDB) DeleteDeal(id uint64) error {
	s.del(dealKey(id))
	return nil
}

func (s *StateDB) DealSequence() (uint64, error) {
	data, err := s.get(keyDealSeq)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

func (s *StateDB) SetDealSequence(seq uint64) error {
	s.set(keyDealSeq, []byte(strconv.FormatUint(seq, 10)))
	return nil
}

// ---- Approvals ----

func approvalKey(owner, operator string) string {
	return prefixApproval + owner + ":" + operator
}

func (s *StateDB) Approval(owner, operator string) (bool, error) {
	return s.has(approvalKey(owner, operator))
}

func (s *StateDB) SetApproval(owner, operator string, approved bool) error {
	key := approvalKey(owner, operator)
	if approved {
		s.set(key, []byte("1"))
	} else {
		s.del(key)
	}
	return nil
}

// ---- Brands / issuers ----

func (s *StateDB) HasBrand(account string) (bool, error) {
	return s.has(prefixBrand + account)
}

func (s *StateDB) SetBrand(account string) error {
	s.set(prefixBrand+account, []byte("1"))
	return nil
}

func (s *StateDB) IsIssuer(account string) (bool, error) {
	return s.has(prefixIssuer + account)
}

func (s *StateDB) SetIssuer(account string) error {
	s.set(prefixIssuer+account, []byte("1"))
	return nil
}

// ---- Secondary indexes ----
//
// Index entries go through the same write buffer as everything else, so a
// snapshot revert takes derived tables back along with the balances they
// were derived from.

func (s *StateDB) IndexGet(key string) ([]byte, error) {
	return s.get(prefixIndex + key)
}

func (s *StateDB) IndexSet(key string, value []byte) error {
	s.set(prefixIndex+key, value)
	return nil
}

func (s *StateDB) IndexDelete(key string) error {
	s.del(prefixIndex + key)
	return nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before sealing a block.
func (s *StateDB) ComputeRoot() string {
	// Step 1: collect all persisted state entries from DB.
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	// Step 2: apply in-memory write buffer (uncommitted changes this block).
	for k, v := range s.dirty {
		merged[k] = v
	}

	// Step 3: exclude deleted keys.
	for k := range s.deleted {
		delete(merged, k)
	}

	// Step 4: sort keys for determinism.
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Step 5: length-prefix encode each key-value pair and hash.
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it. Call ComputeRoot() before sealing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
