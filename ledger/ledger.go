// Package ledger is the thin, typed bridge to the external asset custody
// backend. The engine never talks to a balance backend
// directly; it always goes through Adapter.Move, which routes Native vs
// Asset(id) transfers and rejects Nft.
package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/tolelom/htlcescrow/core"
)

// Preservation controls whether a transfer may drain an account to zero.
type Preservation uint8

const (
	// Preserve refuses to cross the backend's existential-deposit floor.
	// Used when draining a user account (fund_escrow).
	Preserve Preservation = iota
	// Expendable allows the source account to go to zero.
	// Used when draining the sovereign account (complete/cancel).
	Expendable
)

// Sentinel errors surfaced by a Backend; the engine maps these to its own
// taxonomy rather than leaking backend-specific errors.
var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrBelowExistentialDeposit = errors.New("ledger: transfer would take account below existential deposit")
)

// Backend is the external fungible balance ledger: native and indexed
// assets. NFT custody is unsupported at this revision and is never
// routed here — Adapter.Move intercepts AssetNft before calling Backend.
type Backend interface {
	Transfer(asset core.AssetKind, from, to string, amount *big.Int, preservation Preservation) error
	Balance(asset core.AssetKind, account string) (*big.Int, error)
}

// Crediter is an out-of-band genesis allocation hook a Backend may
// additionally implement; it is not part of Backend because crediting an
// account out of nothing is never a legal dispatch-time operation.
type Crediter interface {
	Credit(asset core.AssetKind, account string, amount *big.Int) error
}

// Adapter is the Custody Adapter (C2): a single operation, Move, in front
// of whichever Backend the host wires in.
type Adapter struct {
	backend Backend
}

// NewAdapter wraps backend.
func NewAdapter(backend Backend) *Adapter {
	return &Adapter{backend: backend}
}

// ErrUnsupportedAsset is returned for any attempt to move an Nft-tagged
// asset; NFT custody is out of scope at this revision.
var ErrUnsupportedAsset = errors.New("ledger: unsupported asset (nft custody not implemented)")

// Move transfers amount of asset from "from" to "to" under preservation.
// Backend failures are propagated unchanged; callers (the engine) map them
// to InsufficientBalance or a more specific error.
func (a *Adapter) Move(asset core.AssetKind, from, to string, amount *big.Int, preservation Preservation) error {
	if asset.Tag == core.AssetNft {
		return ErrUnsupportedAsset
	}
	if err := a.backend.Transfer(asset, from, to, amount, preservation); err != nil {
		return fmt.Errorf("move %s %s->%s: %w", asset.Key(), from, to, err)
	}
	return nil
}

// Balance returns the backend's current balance of asset for account.
func (a *Adapter) Balance(asset core.AssetKind, account string) (*big.Int, error) {
	if asset.Tag == core.AssetNft {
		return nil, ErrUnsupportedAsset
	}
	return a.backend.Balance(asset, account)
}
