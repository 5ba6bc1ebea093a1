// Package core holds the HTLC escrow domain model and the minimal chain
// shell (blocks, transactions, mempool) that hosts it.
package core

import (
	"encoding/binary"
	"errors"
	"math/big"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// EscrowID uniquely and monotonically identifies an escrow record.
type EscrowID uint32

// AssetTag discriminates the closed AssetKind sum type.
type AssetTag uint8

const (
	AssetNative AssetTag = iota
	AssetIndexed
	AssetNft
)

// AssetKind tags what is being escrowed. Nft is storable but, per this
// revision's Non-goals, non-transferable: any state-changing operation
// that would move it fails with ErrUnsupportedAsset.
type AssetKind struct {
	Tag     AssetTag
	AssetID uint32 // valid when Tag == AssetIndexed
	NftColl uint32 // valid when Tag == AssetNft
	NftItem uint32 // valid when Tag == AssetNft
}

// Native constructs the native-currency asset kind.
func Native() AssetKind { return AssetKind{Tag: AssetNative} }

// Asset constructs an indexed-asset kind.
func Asset(id uint32) AssetKind { return AssetKind{Tag: AssetIndexed, AssetID: id} }

// Nft constructs an NFT asset kind (storable, non-transferable).
func Nft(collection, item uint32) AssetKind {
	return AssetKind{Tag: AssetNft, NftColl: collection, NftItem: item}
}

// Key returns a deterministic string key identifying the asset, used to
// key per-asset ledger balances.
func (a AssetKind) Key() string {
	switch a.Tag {
	case AssetNative:
		return "native"
	case AssetIndexed:
		var b [5]byte
		b[0] = 'a'
		binary.BigEndian.PutUint32(b[1:], a.AssetID)
		return string(b[:])
	case AssetNft:
		var b [9]byte
		b[0] = 'n'
		binary.BigEndian.PutUint32(b[1:5], a.NftColl)
		binary.BigEndian.PutUint32(b[5:9], a.NftItem)
		return string(b[:])
	default:
		return "unknown"
	}
}

// EscrowState is the closed set of lifecycle states. Created, Active are
// non-terminal; Completed, Cancelled are terminal (no further mutation).
type EscrowState uint8

const (
	StateCreated EscrowState = iota
	StateActive
	StateCompleted
	StateCancelled
)

func (s EscrowState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateActive:
		return "Active"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Amount128 is a fixed 16-byte big-endian encoding of a 128-bit unsigned
// amount, used for deterministic storage and hashing. Callers work with
// *big.Int at the API boundary (see engine package) and convert at the edges.
type Amount128 [16]byte

// ErrAmountOutOfRange is returned when a *big.Int does not fit in 128 bits
// or is negative.
var ErrAmountOutOfRange = errors.New("core: amount out of range for 128-bit field")

// max128 is 2^128 - 1, the largest value Amount128 can represent.
var max128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// AmountFromBig converts a non-negative *big.Int no larger than 2^128-1
// into its fixed big-endian encoding.
func AmountFromBig(v *big.Int) (Amount128, error) {
	var a Amount128
	if v.Sign() < 0 || v.Cmp(max128) > 0 {
		return a, ErrAmountOutOfRange
	}
	v.FillBytes(a[:])
	return a, nil
}

// ToBig converts a back to an unsigned *big.Int.
func (a Amount128) ToBig() *big.Int {
	return new(big.Int).SetBytes(a[:])
}

// Escrow is the persistent record for a single HTLC escrow.
type Escrow struct {
	ID              EscrowID
	SecretHash      [32]byte
	Maker           string
	Taker           string
	Asset           AssetKind
	Amount          Amount128
	Timelock        uint64
	State           EscrowState
	XcmDestination  []byte // opaque, never interpreted (Non-goal: no transport)
	CreatedBlock    uint64
	Metadata        []byte // caller-provided opaque, <= MetadataMaxLen
}

// MetadataMaxLen is the fixed bound on Escrow.Metadata.
const MetadataMaxLen = 256
