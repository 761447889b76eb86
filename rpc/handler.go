package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/indexer"
	"github.com/tradepost-labs/tradepost/token"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getAccount":
		return h.getAccount(req)

	case "getBalance":
		return h.getBalance(req)

	case "getDeal":
		return h.getDeal(req)

	case "getDealCount":
		return h.getDealCount(req)

	case "getApproval":
		return h.getApproval(req)

	case "getNFTOwner":
		return h.getNFTOwner(req)

	case "getBrandOwner":
		return h.getBrandOwner(req)

	case "getNFTsByOwner":
		return h.getNFTsByOwner(req)

	case "getDealsByParty":
		return h.getDealsByParty(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeInternalError, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getAccount(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": acc.Address, "nonce": acc.Nonce})
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" || params.Token == "" {
		return errResponse(req.ID, CodeInvalidParams, "address and token are required")
	}
	id, err := token.Parse(params.Token)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "token: "+err.Error())
	}
	bal, err := h.state.Balance(params.Address, id)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"address": params.Address, "token": id.Hex(), "balance": bal,
	})
}

func (h *Handler) getDeal(req Request) Response {
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	deal, err := h.state.GetDeal(params.ID)
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("deal %d is not live", params.ID))
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, deal)
}

func (h *Handler) getDealCount(req Request) Response {
	seq, err := h.state.DealSequence()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, seq)
}

func (h *Handler) getApproval(req Request) Response {
	var params struct {
		Owner    string `json:"owner"`
		Operator string `json:"operator"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Owner == "" || params.Operator == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner and operator are required")
	}
	ok, err := h.state.Approval(params.Owner, params.Operator)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"owner": params.Owner, "operator": params.Operator, "approved": ok,
	})
}

func (h *Handler) getNFTOwner(req Request) Response {
	var params struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	id, err := token.Parse(params.Token)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "token: "+err.Error())
	}
	owner, err := h.indexer.NFTOwner(id)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"token": id.Hex(), "owner": owner})
}

func (h *Handler) getBrandOwner(req Request) Response {
	var params struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Account == "" {
		return errResponse(req.ID, CodeInvalidParams, "account is required")
	}
	owner, err := h.indexer.BrandOwner(params.Account)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if owner == "" {
		// Never transferred; the brand account holds its own token unless it
		// was never minted at all.
		owner = params.Account
	}
	return okResponse(req.ID, map[string]any{"account": params.Account, "owner": owner})
}

func (h *Handler) getNFTsByOwner(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	ids, err := h.indexer.NFTsByOwner(params.Owner)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getDealsByParty(req Request) Response {
	var params struct {
		Party string `json:"party"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Party == "" {
		return errResponse(req.ID, CodeInvalidParams, "party is required")
	}
	ids, err := h.indexer.DealsByParty(params.Party)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
