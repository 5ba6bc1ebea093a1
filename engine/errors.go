// Package engine implements the HTLC escrow state machine and dispatch
// layer (C4 + C5): the six entry points, their preconditions, and the
// pure state-transition function they drive.
package engine

import "errors"

// Error taxonomy: flat and exhaustive — every dispatch
// failure maps to exactly one of these sentinels. Callers use
// errors.Is against this set; none of these wrap another.
var (
	// Authorisation
	ErrBadOrigin     = errors.New("engine: bad origin")
	ErrNotAuthorized = errors.New("engine: not authorized")

	// Lookup
	ErrEscrowNotFound = errors.New("engine: escrow not found")

	// State
	ErrInvalidEscrowState = errors.New("engine: invalid escrow state for requested transition")
	ErrPalletPaused       = errors.New("engine: paused")

	// Timelock
	ErrInvalidTimelock    = errors.New("engine: timelock out of bounds")
	ErrTimelockExpired    = errors.New("engine: timelock expired")
	ErrTimelockNotExpired = errors.New("engine: timelock not yet expired")

	// Cryptographic
	ErrInvalidSecret = errors.New("engine: preimage does not hash to commitment")

	// Economic
	ErrInsufficientBalance = errors.New("engine: insufficient balance")
	ErrInvalidAsset        = errors.New("engine: invalid asset")
	ErrDuplicateSecretHash = errors.New("engine: duplicate secret hash")
	ErrUnsupportedAsset    = errors.New("engine: unsupported asset")

	// Resource
	ErrTooManyEscrows = errors.New("engine: too many escrows")
	ErrInvalidMetadata = errors.New("engine: invalid metadata")
	ErrOverflow        = errors.New("engine: overflow")

	// ErrInvalidTaker is raised when maker == taker at creation. Kept
	// distinct from ErrInvalidAsset for diagnostic clarity; create_escrow
	// checks it first, before the zero-amount check that raises
	// ErrInvalidAsset.
	ErrInvalidTaker = errors.New("engine: maker and taker must differ")
)
