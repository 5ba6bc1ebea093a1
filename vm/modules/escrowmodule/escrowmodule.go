// Package escrowmodule self-registers the six escrow dispatch handlers
// into the vm package's global Handler registry. Each
// handler decodes its TxType-specific payload and calls straight through
// to the engine; the engine itself performs every precondition check,
// custodial move, and event emission.
package escrowmodule

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/engine"
	"github.com/tolelom/htlcescrow/vm"
)

func init() {
	vm.Register(core.TxCreateEscrow, handleCreate)
	vm.Register(core.TxFundEscrow, handleFund)
	vm.Register(core.TxCompleteEscrow, handleComplete)
	vm.Register(core.TxCancelAfterTimelock, handleCancelAfterTimelock)
	vm.Register(core.TxCancelBeforeFunding, handleCancelBeforeFunding)
	vm.Register(core.TxTogglePause, handleTogglePause)
}

func handleCreate(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateEscrowPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_escrow payload: %w", err)
	}
	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok {
		return fmt.Errorf("malformed amount %q", p.Amount)
	}
	_, err := ctx.Engine.CreateEscrow(engine.Signed(ctx.Tx.From), engine.CreateEscrowParams{
		SecretHash:     p.SecretHash,
		Timelock:       p.Timelock,
		Taker:          p.Taker,
		Asset:          p.Asset,
		Amount:         amount,
		XcmDestination: p.XcmDestination,
		Metadata:       p.Metadata,
	})
	return err
}

func handleFund(ctx *vm.Context, payload json.RawMessage) error {
	var p core.FundEscrowPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode fund_escrow payload: %w", err)
	}
	return ctx.Engine.FundEscrow(engine.Signed(ctx.Tx.From), p.ID)
}

func handleComplete(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CompleteEscrowPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode complete_escrow payload: %w", err)
	}
	return ctx.Engine.CompleteEscrow(engine.Signed(ctx.Tx.From), p.ID, p.Preimage)
}

func handleCancelAfterTimelock(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CancelAfterTimelockPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode cancel_after_timelock payload: %w", err)
	}
	return ctx.Engine.CancelAfterTimelock(engine.Signed(ctx.Tx.From), p.ID)
}

func handleCancelBeforeFunding(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CancelBeforeFundingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode cancel_before_funding payload: %w", err)
	}
	return ctx.Engine.CancelBeforeFunding(engine.Signed(ctx.Tx.From), p.ID)
}

func handleTogglePause(ctx *vm.Context, payload json.RawMessage) error {
	return ctx.Engine.TogglePause(ctx.Engine.OriginForCaller(ctx.Tx.From))
}
