package ledger

import (
	"encoding/hex"

	"github.com/tolelom/htlcescrow/crypto"
)

// PalletIDLen matches the 32-byte PalletId the sovereign custodian
// account is derived from.
const PalletIDLen = 32

// SovereignAccount deterministically derives the escrow engine's custodian
// account from its pallet id. It is a pure function of palletID and is
// computed identically (and produces the same account) for the lifetime of
// the system, mirroring PublicKey.Address()'s derivation
// (first bytes of a hash, hex-encoded) rather than an ed25519 keypair,
// since the sovereign account is never meant to sign anything itself.
func SovereignAccount(palletID [PalletIDLen]byte) string {
	h := crypto.HashBytes(append([]byte("htlcescrow/sovereign/"), palletID[:]...))
	return hex.EncodeToString(h[:20])
}
