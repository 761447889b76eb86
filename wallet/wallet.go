package wallet

import (
	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/crypto"
	"github.com/tradepost-labs/tradepost/token"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the account address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. chainID must match the target network.
// nonce should match the account's current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// MintToken mints amount units of id to the given account.
func (w *Wallet) MintToken(chainID string, id token.ID, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMintToken, nonce, fee, core.MintTokenPayload{
		Token:  id,
		To:     to,
		Amount: amount,
	})
}

// MintBrand mints the wallet account's brand token. Each account can do this
// at most once.
func (w *Wallet) MintBrand(chainID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMintBrand, nonce, fee, core.MintBrandPayload{
		Owner: w.Address(),
	})
}

// MintNFT mints a fresh generic NFT to owner. The serial is derived from the
// transaction id by the node, so the resulting token id is only known after
// execution.
func (w *Wallet) MintNFT(chainID, owner string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMintNFT, nonce, fee, core.MintNFTPayload{
		Owner: owner,
	})
}

// Burn destroys the given token amounts held by from.
func (w *Wallet) Burn(chainID, from string, ids []token.ID, amounts []uint64, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxBurn, nonce, fee, core.BurnPayload{
		From:    from,
		Tokens:  ids,
		Amounts: amounts,
	})
}

// BatchTransfer moves a bundle of tokens from one account to another.
func (w *Wallet) BatchTransfer(chainID, from, to string, ids []token.ID, amounts []uint64, memo string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxBatchTransfer, nonce, fee, core.BatchTransferPayload{
		From:    from,
		To:      to,
		Tokens:  ids,
		Amounts: amounts,
		Memo:    memo,
	})
}

// SetApproval grants or revokes operator's right to act for the wallet account.
func (w *Wallet) SetApproval(chainID, operator string, approved bool, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxSetApproval, nonce, fee, core.SetApprovalPayload{
		Operator: operator,
		Approved: approved,
	})
}

// DealStart opens a deal offering the bundle to receiver. An empty emitter
// defaults to the wallet account.
func (w *Wallet) DealStart(chainID, emitter, receiver string, ids []token.ID, amounts []uint64, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxDealStart, nonce, fee, core.DealStartPayload{
		Emitter:  emitter,
		Receiver: receiver,
		Tokens:   ids,
		Amounts:  amounts,
	})
}

// DealAccept answers a deal with the receiver's counter-bundle.
func (w *Wallet) DealAccept(chainID string, dealID uint64, ids []token.ID, amounts []uint64, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxDealAccept, nonce, fee, core.DealAcceptPayload{
		DealID:  dealID,
		Tokens:  ids,
		Amounts: amounts,
	})
}

// DealConfirm settles an accepted deal.
func (w *Wallet) DealConfirm(chainID string, dealID uint64, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxDealConfirm, nonce, fee, core.DealConfirmPayload{DealID: dealID})
}

// DealBreak abandons a deal from either side.
func (w *Wallet) DealBreak(chainID string, dealID uint64, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxDealBreak, nonce, fee, core.DealBreakPayload{DealID: dealID})
}
