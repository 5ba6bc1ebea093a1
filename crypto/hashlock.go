package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// HashlockSize is the fixed width of a secret hash / preimage, in bytes.
const HashlockSize = 32

// Hashlock commits a preimage to its Blake2b-256 digest. Escrow completion
// requires a preimage whose Hashlock equals the committed secret_hash.
//
// Blake2b-256 is used here, never SHA-256 (crypto.Hash), to keep the
// hashlock commitment isolated from transaction/block hashing: the two
// concerns must not share a primitive or a preimage valid for one could be
// mistaken for a commitment in the other.
func Hashlock(preimage []byte) [HashlockSize]byte {
	return blake2b.Sum256(preimage)
}
