package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tradepost-labs/tradepost/crypto"
	"github.com/tradepost-labs/tradepost/token"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxMintToken     TxType = "mint_token"
	TxMintBrand     TxType = "mint_brand"
	TxMintNFT       TxType = "mint_nft"
	TxBurn          TxType = "burn"
	TxBatchTransfer TxType = "batch_transfer"
	TxSetApproval   TxType = "set_approval"
	TxDealStart     TxType = "deal_start"
	TxDealAccept    TxType = "deal_accept"
	TxDealConfirm   TxType = "deal_confirm"
	TxDealBreak     TxType = "deal_break"
)

// Transaction is the atomic unit of work on the registry.
// From holds the sender's full hex-encoded ed25519 public key (64 chars);
// the acting account address is derived from it. Signature covers all fields
// except Signature itself.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"` // flat fee in system token 0
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// Sender derives the 20-byte account address acting in this transaction.
func (tx *Transaction) Sender() (string, error) {
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return "", fmt.Errorf("invalid from pubkey: %w", err)
	}
	return pub.Address(), nil
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// MintTokenPayload mints fungible tokens (system or brand-scoped).
// System tokens require the sender to be a genesis issuer; brand tokens
// require the sender to act for the scoping brand account.
type MintTokenPayload struct {
	Token  token.ID `json:"token"`
	To     string   `json:"to"` // recipient address; empty → sender
	Amount uint64   `json:"amount"`
	Memo   string   `json:"memo,omitempty"`
}

// MintBrandPayload mints the brand token for Owner. The brand id numerically
// equals Owner's address; each account can mint its brand at most once.
type MintBrandPayload struct {
	Owner string `json:"owner"` // empty → sender
}

// MintNFTPayload mints a generic non-fungible token. The serial is derived
// from the minting transaction hash, so every mint lands on a fresh id.
type MintNFTPayload struct {
	Owner string `json:"owner"` // empty → sender
}

// BurnPayload destroys holdings of the From account (sender by default; an
// operator may burn for an account that approved it).
type BurnPayload struct {
	From    string     `json:"from,omitempty"`
	Tokens  []token.ID `json:"tokens"`
	Amounts []uint64   `json:"amounts"`
}

// BatchTransferPayload moves several token positions in one atomic call.
type BatchTransferPayload struct {
	From    string     `json:"from,omitempty"` // empty → sender
	To      string     `json:"to"`
	Tokens  []token.ID `json:"tokens"`
	Amounts []uint64   `json:"amounts"`
	Memo    string     `json:"memo,omitempty"`
}

// SetApprovalPayload grants or revokes operator rights over the sender's
// holdings.
type SetApprovalPayload struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

// DealStartPayload opens a deal offering the emitter bundle to Receiver.
type DealStartPayload struct {
	Emitter  string     `json:"emitter,omitempty"` // empty → sender
	Receiver string     `json:"receiver"`
	Tokens   []token.ID `json:"tokens"`
	Amounts  []uint64   `json:"amounts"`
}

// DealAcceptPayload records the receiver's counter-bundle on a created deal.
type DealAcceptPayload struct {
	DealID  uint64     `json:"deal_id"`
	Tokens  []token.ID `json:"tokens"`
	Amounts []uint64   `json:"amounts"`
}

// DealConfirmPayload executes the two-sided swap of an accepted deal.
type DealConfirmPayload struct {
	DealID uint64 `json:"deal_id"`
}

// DealBreakPayload abandons a deal from either side, in any live state.
type DealBreakPayload struct {
	DealID uint64 `json:"deal_id"`
}
