package engine

import "fmt"

// Params are the Clock & Config (C1) bounds: timelock window, per-account
// escrow quota, and the pallet id the sovereign custodian account is
// derived from. Fixed bounds (metadata 256 bytes, hashlock
// 32 bytes) live as the constants core.MetadataMaxLen and
// crypto.HashlockSize (the width of core.Escrow.SecretHash) and are not
// configurable.
type Params struct {
	// MinTimelock is the minimum number of blocks between current_block
	// and timelock at creation time.
	MinTimelock uint64
	// MaxTimelock is the maximum number of blocks between current_block
	// and timelock at creation time.
	MaxTimelock uint64
	// MaxEscrowsPerAccount caps both the maker and taker index lists.
	MaxEscrowsPerAccount uint32
	// PalletID derives the sovereign custodian account (ledger.SovereignAccount).
	PalletID [32]byte
	// Authorities is the root-equivalent account set permitted to toggle
	// the pause flag (the host's validator set, reused here rather than
	// inventing a second privileged-account concept — Root origin has no
	// native representation in a signed-transaction-only chain, so
	// membership in Authorities is what promotes a Signed
	// caller to Root for this one dispatch).
	Authorities []string
}

// DefaultParams returns conservative defaults suitable for a fresh
// devnet genesis.
func DefaultParams() Params {
	var id [32]byte
	copy(id[:], []byte("htlcescrow/default-pallet-id!!!!"))
	return Params{
		MinTimelock:          10,
		MaxTimelock:          100_000,
		MaxEscrowsPerAccount: 64,
		PalletID:             id,
		Authorities:          []string{"root"},
	}
}

// Validate rejects a degenerate configuration before it reaches the engine.
func (p Params) Validate() error {
	if p.MinTimelock == 0 {
		return fmt.Errorf("engine: MinTimelock must be > 0")
	}
	if p.MaxTimelock < p.MinTimelock {
		return fmt.Errorf("engine: MaxTimelock must be >= MinTimelock")
	}
	if p.MaxEscrowsPerAccount == 0 {
		return fmt.Errorf("engine: MaxEscrowsPerAccount must be > 0")
	}
	if len(p.Authorities) == 0 {
		return fmt.Errorf("engine: at least one Authority is required to ever toggle pause")
	}
	return nil
}
