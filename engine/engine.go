package engine

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/crypto"
	"github.com/tolelom/htlcescrow/events"
	"github.com/tolelom/htlcescrow/ledger"
	"github.com/tolelom/htlcescrow/storage"
)

// Clock is the block-height oracle component of C1. The hosting chain's
// core.Blockchain satisfies this via CurrentBlock().
type Clock interface {
	CurrentBlock() uint64
}

// Engine is the Dispatch Layer (C5): it owns no state of its own besides
// its collaborators, and every exported method is one of the six entry
// points or a read-only query.
//
// mu serialises every dispatch. A per-escrow lock is insufficient (by_secret
// uniqueness and the maker/taker quotas cross records), so the engine
// holds one mutex across the primary map,
// every index, the counter, and the paused flag together with the
// custody ledger move — a single coarse critical section per operation,
// matching the "serialised by the host runtime" scheduling model.
type Engine struct {
	mu     sync.Mutex
	store  core.Store
	ledger *ledger.Adapter
	clock  Clock
	params Params
	events *events.Emitter
}

// New constructs an Engine. params is validated; a malformed Params
// panics at construction rather than surfacing as a runtime dispatch
// error, since it is host misconfiguration, not caller input.
func New(store core.Store, backend ledger.Backend, clock Clock, params Params, emitter *events.Emitter) *Engine {
	if err := params.Validate(); err != nil {
		panic(err)
	}
	return &Engine{
		store:  store,
		ledger: ledger.NewAdapter(backend),
		clock:  clock,
		params: params,
		events: emitter,
	}
}

// sovereign returns the deterministically-derived custodian account.
func (en *Engine) sovereign() string {
	return ledger.SovereignAccount(en.params.PalletID)
}

// OriginForCaller promotes account to Root if it is a member of
// params.Authorities, and otherwise wraps it as a plain Signed origin.
// Dispatch-layer callers (the vm handler for toggle_pause) use this at
// the edge, where a raw signed-transaction sender is all that's known;
// every other entry point always uses Signed(account) directly, since
// only toggle_pause accepts Root.
func (en *Engine) OriginForCaller(account string) Origin {
	for _, a := range en.params.Authorities {
		if a == account {
			return Root()
		}
	}
	return Signed(account)
}

func (en *Engine) emit(txID string, typ events.EventType, data map[string]any) {
	if en.events == nil {
		return
	}
	en.events.Emit(events.Event{
		Type:        typ,
		TxID:        txID,
		BlockHeight: en.clock.CurrentBlock(),
		Data:        data,
	})
}

// requireNotPaused aborts if paused = true, per the common preamble of
// every entry point except toggle_pause.
func (en *Engine) requireNotPaused() error {
	paused, err := en.store.IsPaused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPalletPaused
	}
	return nil
}

// commitOrRevert takes a store snapshot, runs fn, and reverts the
// snapshot on any error fn returns — an all-or-nothing rule applied
// uniformly by every dispatch method below. It never calls store.Commit:
// flushing the write buffer to the underlying DB is the caller's call to
// make, once, after a whole block has been accepted — not after each
// individual dispatch. Committing here would durably persist escrow/ledger
// mutations from a dispatch whose enclosing transaction or block is later
// rejected, and would also clear the outer snapshot stack out from under
// any caller-level snapshot/rollback (e.g. vm.Executor.ExecuteTx's).
func (en *Engine) commitOrRevert(fn func() error) error {
	snap, err := en.store.Snapshot()
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = en.store.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// CreateEscrowParams bundles create_escrow's arguments.
type CreateEscrowParams struct {
	SecretHash     [32]byte
	Timelock       uint64
	Taker          string
	Asset          core.AssetKind
	Amount         *big.Int
	XcmDestination []byte
	Metadata       []byte
}

// CreateEscrow implements create_escrow. No assets move.
func (en *Engine) CreateEscrow(origin Origin, p CreateEscrowParams) (core.EscrowID, error) {
	en.mu.Lock()
	defer en.mu.Unlock()

	maker, err := RequireSigned(origin)
	if err != nil {
		return 0, err
	}
	if err := en.requireNotPaused(); err != nil {
		return 0, err
	}

	// Preconditions, evaluated in order; first failure wins.
	if maker == p.Taker {
		return 0, ErrInvalidTaker
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return 0, ErrInvalidAsset
	}
	now := en.clock.CurrentBlock()
	if p.Timelock < now+en.params.MinTimelock || p.Timelock > now+en.params.MaxTimelock {
		return 0, ErrInvalidTimelock
	}
	if _, err := en.store.GetBySecret(p.SecretHash); err == nil {
		return 0, ErrDuplicateSecretHash
	} else if err != core.ErrNotFound {
		return 0, err
	}
	makerList, err := en.store.MakerEscrows(maker)
	if err != nil {
		return 0, err
	}
	if uint32(len(makerList)) >= en.params.MaxEscrowsPerAccount {
		return 0, ErrTooManyEscrows
	}
	takerList, err := en.store.TakerEscrows(p.Taker)
	if err != nil {
		return 0, err
	}
	if uint32(len(takerList)) >= en.params.MaxEscrowsPerAccount {
		return 0, ErrTooManyEscrows
	}
	if len(p.Metadata) > core.MetadataMaxLen {
		return 0, ErrInvalidMetadata
	}

	amt, err := core.AmountFromBig(p.Amount)
	if err != nil {
		return 0, ErrOverflow
	}

	var id core.EscrowID
	err = en.commitOrRevert(func() error {
		allocated, err := en.store.AllocateID()
		if err != nil {
			if errors.Is(err, storage.ErrCounterOverflow) {
				return ErrOverflow
			}
			return err
		}
		id = allocated

		e := &core.Escrow{
			ID:             id,
			SecretHash:     p.SecretHash,
			Maker:          maker,
			Taker:          p.Taker,
			Asset:          p.Asset,
			Amount:         amt,
			Timelock:       p.Timelock,
			State:          core.StateCreated,
			XcmDestination: p.XcmDestination,
			CreatedBlock:   now,
			Metadata:       p.Metadata,
		}
		if err := en.store.SetEscrow(e); err != nil {
			return err
		}
		if err := en.store.SetBySecret(p.SecretHash, id); err != nil {
			return err
		}
		if err := en.store.AppendMakerEscrow(maker, id); err != nil {
			return err
		}
		if err := en.store.AppendTakerEscrow(p.Taker, id); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	en.emit("", events.EventEscrowCreated, map[string]any{
		"id":              uint32(id),
		"maker":           maker,
		"taker":           p.Taker,
		"secret_hash":     fmt.Sprintf("%x", p.SecretHash),
		"timelock":        p.Timelock,
		"asset":           p.Asset.Key(),
		"amount":          p.Amount.String(),
		"xcm_destination": p.XcmDestination,
	})
	return id, nil
}

// FundEscrow implements fund_escrow.
func (en *Engine) FundEscrow(origin Origin, id core.EscrowID) error {
	en.mu.Lock()
	defer en.mu.Unlock()

	caller, err := RequireSigned(origin)
	if err != nil {
		return err
	}
	if err := en.requireNotPaused(); err != nil {
		return err
	}

	e, err := en.store.GetEscrow(id)
	if err != nil {
		if err == core.ErrNotFound {
			return ErrEscrowNotFound
		}
		return err
	}
	if caller != e.Maker {
		return ErrNotAuthorized
	}
	now := en.clock.CurrentBlock()
	if err := GuardFund(e, now); err != nil {
		return err
	}
	if e.Asset.Tag == core.AssetNft {
		return ErrUnsupportedAsset
	}

	err = en.commitOrRevert(func() error {
		if err := en.ledger.Move(e.Asset, e.Maker, en.sovereign(), e.Amount.ToBig(), ledger.Preserve); err != nil {
			return mapLedgerErr(err)
		}
		CommitFund(e)
		return en.store.SetEscrow(e)
	})
	if err != nil {
		return err
	}

	en.emit("", events.EventEscrowFunded, map[string]any{
		"id":     uint32(id),
		"asset":  e.Asset.Key(),
		"amount": e.Amount.ToBig().String(),
	})
	return nil
}

// CompleteEscrow implements complete_escrow. Any caller who knows the
// preimage may trigger it; funds always flow to the stored taker —
// this is the load-bearing HTLC property.
func (en *Engine) CompleteEscrow(origin Origin, id core.EscrowID, preimage []byte) error {
	en.mu.Lock()
	defer en.mu.Unlock()

	if _, err := RequireSigned(origin); err != nil {
		return err
	}
	if err := en.requireNotPaused(); err != nil {
		return err
	}

	e, err := en.store.GetEscrow(id)
	if err != nil {
		if err == core.ErrNotFound {
			return ErrEscrowNotFound
		}
		return err
	}
	now := en.clock.CurrentBlock()
	if err := GuardComplete(e, now); err != nil {
		return err
	}
	if crypto.Hashlock(preimage) != e.SecretHash {
		return ErrInvalidSecret
	}

	err = en.commitOrRevert(func() error {
		if err := en.ledger.Move(e.Asset, en.sovereign(), e.Taker, e.Amount.ToBig(), ledger.Expendable); err != nil {
			return mapLedgerErr(err)
		}
		CommitComplete(e)
		return en.store.SetEscrow(e)
	})
	if err != nil {
		return err
	}

	en.emit("", events.EventEscrowCompleted, map[string]any{
		"id":       uint32(id),
		"taker":    e.Taker,
		"preimage": fmt.Sprintf("%x", preimage),
		"asset":    e.Asset.Key(),
		"amount":   e.Amount.ToBig().String(),
	})
	return nil
}

// CancelAfterTimelock implements cancel_escrow, the post-timelock refund.
func (en *Engine) CancelAfterTimelock(origin Origin, id core.EscrowID) error {
	en.mu.Lock()
	defer en.mu.Unlock()

	caller, err := RequireSigned(origin)
	if err != nil {
		return err
	}
	if err := en.requireNotPaused(); err != nil {
		return err
	}

	e, err := en.store.GetEscrow(id)
	if err != nil {
		if err == core.ErrNotFound {
			return ErrEscrowNotFound
		}
		return err
	}
	if caller != e.Maker {
		return ErrNotAuthorized
	}
	now := en.clock.CurrentBlock()
	if err := GuardCancelAfterTimelock(e, now); err != nil {
		return err
	}

	err = en.commitOrRevert(func() error {
		if err := en.ledger.Move(e.Asset, en.sovereign(), e.Maker, e.Amount.ToBig(), ledger.Expendable); err != nil {
			return mapLedgerErr(err)
		}
		CommitCancelAfterTimelock(e)
		return en.store.SetEscrow(e)
	})
	if err != nil {
		return err
	}

	en.emit("", events.EventEscrowCancelled, map[string]any{
		"id":     uint32(id),
		"maker":  e.Maker,
		"reason": "timelock expired",
		"asset":  e.Asset.Key(),
		"amount": e.Amount.ToBig().String(),
	})
	return nil
}

// CancelBeforeFunding implements cancel_before_funding — the only
// terminating operation that frees the secret hash for reuse.
func (en *Engine) CancelBeforeFunding(origin Origin, id core.EscrowID) error {
	en.mu.Lock()
	defer en.mu.Unlock()

	caller, err := RequireSigned(origin)
	if err != nil {
		return err
	}
	if err := en.requireNotPaused(); err != nil {
		return err
	}

	e, err := en.store.GetEscrow(id)
	if err != nil {
		if err == core.ErrNotFound {
			return ErrEscrowNotFound
		}
		return err
	}
	if caller != e.Maker {
		return ErrNotAuthorized
	}
	if err := GuardCancelBeforeFunding(e); err != nil {
		return err
	}

	err = en.commitOrRevert(func() error {
		CommitCancelBeforeFunding(e)
		if err := en.store.SetEscrow(e); err != nil {
			return err
		}
		return en.store.DeleteBySecret(e.SecretHash)
	})
	if err != nil {
		return err
	}

	en.emit("", events.EventEscrowCancelled, map[string]any{
		"id":     uint32(id),
		"maker":  e.Maker,
		"reason": "cancelled before funding",
	})
	return nil
}

// TogglePause implements toggle_pause. Requires Root; does not alter any
// existing record and — unlike every other entry point — is the only
// operation permitted while already paused.
func (en *Engine) TogglePause(origin Origin) error {
	en.mu.Lock()
	defer en.mu.Unlock()

	if err := RequireRoot(origin); err != nil {
		return err
	}

	paused, err := en.store.IsPaused()
	if err != nil {
		return err
	}
	next := !paused
	if err := en.commitOrRevert(func() error {
		return en.store.SetPaused(next)
	}); err != nil {
		return err
	}

	en.emit("", events.EventEmergencyPauseToggled, map[string]any{"paused": next})
	return nil
}

// mapLedgerErr maps a ledger.Adapter/Backend failure onto the engine's
// own error taxonomy: unsupported-asset maps distinctly, everything
// else collapses to InsufficientBalance — the
// backend's own asset-specific errors are not otherwise distinguished at
// this revision.
func mapLedgerErr(err error) error {
	if err == ledger.ErrUnsupportedAsset {
		return ErrUnsupportedAsset
	}
	return ErrInsufficientBalance
}

// ---- Query operations (read-only, never gated by paused) ----

func (en *Engine) GetEscrow(id core.EscrowID) (*core.Escrow, error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	e, err := en.store.GetEscrow(id)
	if err == core.ErrNotFound {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (en *Engine) GetBySecret(hash [32]byte) (core.EscrowID, error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	id, err := en.store.GetBySecret(hash)
	if err == core.ErrNotFound {
		return 0, ErrEscrowNotFound
	}
	return id, err
}

func (en *Engine) IsActive(id core.EscrowID) (bool, error) {
	e, err := en.GetEscrow(id)
	if err != nil {
		return false, err
	}
	return e.State == core.StateActive, nil
}

// TimeRemaining returns timelock - current_block, saturating at zero.
func (en *Engine) TimeRemaining(id core.EscrowID) (uint64, error) {
	e, err := en.GetEscrow(id)
	if err != nil {
		return 0, err
	}
	now := en.clock.CurrentBlock()
	if now >= e.Timelock {
		return 0, nil
	}
	return e.Timelock - now, nil
}

func (en *Engine) EscrowsByMaker(addr string) ([]core.EscrowID, error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.store.MakerEscrows(addr)
}

func (en *Engine) EscrowsByTaker(addr string) ([]core.EscrowID, error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.store.TakerEscrows(addr)
}

func (en *Engine) IsPaused() (bool, error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.store.IsPaused()
}

// SovereignAccount exposes the derived custodian account for inspection
// tooling (rpc, indexer) without re-deriving it from Params elsewhere.
func (en *Engine) SovereignAccount() string {
	return en.sovereign()
}
