// Package assets registers the transaction handlers for the asset registry:
// minting, burning, batch transfer, and operator approval.
package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/crypto"
	"github.com/tradepost-labs/tradepost/ledger"
	"github.com/tradepost-labs/tradepost/token"
	"github.com/tradepost-labs/tradepost/vm"
)

func init() {
	vm.Register(core.TxMintToken, handleMintToken)
	vm.Register(core.TxMintBrand, handleMintBrand)
	vm.Register(core.TxMintNFT, handleMintNFT)
	vm.Register(core.TxBurn, handleBurn)
	vm.Register(core.TxBatchTransfer, handleBatchTransfer)
	vm.Register(core.TxSetApproval, handleSetApproval)
}

func handleMintToken(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintTokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint_token payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}
	if p.Amount == 0 {
		return errors.New("mint amount must be > 0")
	}

	decoded, err := p.Token.Decode()
	if err != nil {
		return err
	}
	switch decoded.Kind {
	case token.KindSystemFT:
		ok, err := ctx.State.IsIssuer(sender)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("account %s is not a system-token issuer", sender)
		}
	case token.KindBrandFT:
		// Mint authority follows the brand token, not the numeric account: the
		// transfer hook keeps the current brand holder (and only it) in the
		// approval relation of the brand account.
		ok, err := ctx.State.Approval(decoded.Account, sender)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("account %s does not hold brand %s", sender, decoded.Account)
		}
	default:
		return fmt.Errorf("mint_token only mints fungible tokens, got %s id", decoded.Kind)
	}

	to := p.To
	if to == "" {
		to = sender
	}
	lgr := ledger.New(ctx.State, ctx.Hooks, ctx.Emitter)
	return lgr.Mint(to, []token.ID{p.Token}, []uint64{p.Amount}, p.Memo)
}

func handleMintBrand(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintBrandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint_brand payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}
	owner := p.Owner
	if owner == "" {
		owner = sender
	}
	if err := requireActsFor(ctx, sender, owner); err != nil {
		return fmt.Errorf("brand mint: %w", err)
	}

	// The brand id IS the owning account, so each account gets one brand.
	brandID, err := token.Brand(owner)
	if err != nil {
		return err
	}
	exists, err := ctx.State.HasBrand(owner)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("brand %s already minted", owner)
	}
	if err := ctx.State.SetBrand(owner); err != nil {
		return err
	}

	lgr := ledger.New(ctx.State, ctx.Hooks, ctx.Emitter)
	return lgr.Mint(owner, []token.ID{brandID}, []uint64{1}, "brand mint")
}

func handleMintNFT(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintNFTPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint_nft payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}
	owner := p.Owner
	if owner == "" {
		owner = sender
	}

	// Deterministic serial from the minting tx so every mint lands on a
	// fresh id within the NFT region.
	serial := crypto.TokenSerial(ctx.Tx.ID + ":nft")
	serial.And(serial, nftSerialMask)
	id, err := token.NFT(serial)
	if err != nil {
		return err
	}

	lgr := ledger.New(ctx.State, ctx.Hooks, ctx.Emitter)
	return lgr.Mint(owner, []token.ID{id}, []uint64{1}, "nft mint")
}

func handleBurn(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BurnPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode burn payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}
	from := p.From
	if from == "" {
		from = sender
	}
	if err := requireActsFor(ctx, sender, from); err != nil {
		return fmt.Errorf("burn: %w", err)
	}

	lgr := ledger.New(ctx.State, ctx.Hooks, ctx.Emitter)
	return lgr.Burn(from, p.Tokens, p.Amounts)
}

func handleBatchTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BatchTransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode batch_transfer payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}
	from := p.From
	if from == "" {
		from = sender
	}

	// The ledger enforces the operator check against the approval relation.
	lgr := ledger.New(ctx.State, ctx.Hooks, ctx.Emitter)
	return lgr.BatchTransfer(sender, from, p.To, p.Tokens, p.Amounts, p.Memo)
}

func handleSetApproval(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetApprovalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_approval payload: %w", err)
	}
	sender, err := ctx.Tx.Sender()
	if err != nil {
		return err
	}

	lgr := ledger.New(ctx.State, ctx.Hooks, ctx.Emitter)
	return lgr.SetApprovalForAll(sender, p.Operator, p.Approved)
}

// nftSerialMask keeps serials inside [0, 2^254).
var nftSerialMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 254), big.NewInt(1))

// requireActsFor checks caller == account or an approval-for-all grant.
func requireActsFor(ctx *vm.Context, caller, account string) error {
	if caller == account {
		return nil
	}
	ok, err := ctx.State.Approval(account, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s may not act for %s", caller, account)
	}
	return nil
}
