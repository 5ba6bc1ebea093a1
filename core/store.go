package core

// Store is the persistent key-value façade for the escrow engine: the
// primary escrow-by-id map, the secret-hash index, the
// maker/taker indices, the id counter, and the pause flag. Implementations
// must be snapshot-able so a dispatch can roll back a partially-applied
// operation atomically (§4.6: all-or-nothing).
//
// Iteration over an account's index list (MakerEscrows/TakerEscrows) must
// preserve insertion order for deterministic replay.
type Store interface {
	// GetEscrow returns ErrNotFound if id is unknown.
	GetEscrow(id EscrowID) (*Escrow, error)
	SetEscrow(e *Escrow) error

	// GetBySecret returns ErrNotFound if no live commitment exists for hash.
	GetBySecret(hash [32]byte) (EscrowID, error)
	SetBySecret(hash [32]byte, id EscrowID) error
	DeleteBySecret(hash [32]byte) error

	MakerEscrows(addr string) ([]EscrowID, error)
	AppendMakerEscrow(addr string, id EscrowID) error
	TakerEscrows(addr string) ([]EscrowID, error)
	AppendTakerEscrow(addr string, id EscrowID) error

	// AllocateID returns the next unused EscrowID and advances the
	// counter. It is the only way next_id changes.
	AllocateID() (EscrowID, error)

	IsPaused() (bool, error)
	SetPaused(paused bool) error

	// Snapshot/RevertToSnapshot give dispatch-level atomicity: a dispatch
	// takes a snapshot, performs its writes (and any custodial ledger move
	// sharing the same underlying buffer), and reverts to the snapshot on
	// any failure. Commit is a separate, coarser-grained operation: it
	// flushes the accumulated write buffer to the underlying DB and clears
	// every outstanding snapshot in one step. It is called exactly once
	// per accepted block (by the executor/consensus/sync layer, never by
	// the engine itself), after the whole block — every dispatch in it —
	// has been accepted onto the chain. A dispatch that merely succeeds
	// leaves its writes in the buffer, uncommitted, so a later failure
	// elsewhere in the same block can still roll the whole block back.
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	Commit() error
}
