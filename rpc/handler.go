package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/engine"
	"github.com/tolelom/htlcescrow/indexer"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	eng     *engine.Engine
	indexer *indexer.Indexer
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, eng *engine.Engine, idx *indexer.Indexer) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, eng: eng, indexer: idx}
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

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	// ---- escrow query operations ----

	case "getEscrow":
		return h.getEscrow(req)

	case "getEscrowBySecret":
		return h.getEscrowBySecret(req)

	case "isEscrowActive":
		return h.isEscrowActive(req)

	case "escrowTimeRemaining":
		return h.escrowTimeRemaining(req)

	case "escrowsByMaker":
		return h.escrowsByMaker(req)

	case "escrowsByTaker":
		return h.escrowsByTaker(req)

	case "isPaused":
		return h.isPaused(req)

	case "sovereignAccount":
		return okResponse(req.ID, h.eng.SovereignAccount())

	case "totalValueLocked":
		return h.totalValueLocked(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string  `json:"hash"`
		Height *uint64 `json:"height"`
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
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func escrowIDParam(req Request) (core.EscrowID, error) {
	var params struct {
		ID uint32 `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return 0, err
	}
	return core.EscrowID(params.ID), nil
}

func engineErrResponse(id any, err error) Response {
	return errResponse(id, CodeInternalError, err.Error())
}

func (h *Handler) getEscrow(req Request) Response {
	id, err := escrowIDParam(req)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	e, err := h.eng.GetEscrow(id)
	if err != nil {
		return engineErrResponse(req.ID, err)
	}
	return okResponse(req.ID, e)
}

func (h *Handler) getEscrowBySecret(req Request) Response {
	var params struct {
		SecretHash string `json:"secret_hash"` // hex
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	raw, err := hex.DecodeString(params.SecretHash)
	if err != nil || len(raw) != 32 {
		return errResponse(req.ID, CodeInvalidParams, "secret_hash must be 64 hex chars")
	}
	var hash [32]byte
	copy(hash[:], raw)
	id, err := h.eng.GetBySecret(hash)
	if err != nil {
		return engineErrResponse(req.ID, err)
	}
	return okResponse(req.ID, uint32(id))
}

func (h *Handler) isEscrowActive(req Request) Response {
	id, err := escrowIDParam(req)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	active, err := h.eng.IsActive(id)
	if err != nil {
		return engineErrResponse(req.ID, err)
	}
	return okResponse(req.ID, active)
}

func (h *Handler) escrowTimeRemaining(req Request) Response {
	id, err := escrowIDParam(req)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	remaining, err := h.eng.TimeRemaining(id)
	if err != nil {
		return engineErrResponse(req.ID, err)
	}
	return okResponse(req.ID, remaining)
}

func accountParam(req Request) (string, error) {
	var params struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return "", err
	}
	if params.Account == "" {
		return "", fmt.Errorf("account is required")
	}
	return params.Account, nil
}

func (h *Handler) escrowsByMaker(req Request) Response {
	acc, err := accountParam(req)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	ids, err := h.eng.EscrowsByMaker(acc)
	if err != nil {
		return engineErrResponse(req.ID, err)
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) escrowsByTaker(req Request) Response {
	acc, err := accountParam(req)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	ids, err := h.eng.EscrowsByTaker(acc)
	if err != nil {
		return engineErrResponse(req.ID, err)
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) isPaused(req Request) Response {
	paused, err := h.eng.IsPaused()
	if err != nil {
		return engineErrResponse(req.ID, err)
	}
	return okResponse(req.ID, paused)
}

func (h *Handler) totalValueLocked(req Request) Response {
	var params struct {
		Asset string `json:"asset"` // asset key, e.g. "native"
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	tvl, ok := h.indexer.TotalValueLocked(params.Asset)
	if !ok {
		return okResponse(req.ID, "0")
	}
	return okResponse(req.ID, tvl.String())
}
