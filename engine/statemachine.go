package engine

import "github.com/tolelom/htlcescrow/core"

// The state machine (C4) is a pure function of an escrow record and the
// current block height: the only legal edges are —
//
//	Created --fund_escrow--------> Active
//	Created --cancel_before_funding--> Cancelled (terminal)
//	Active  --complete_escrow-----> Completed (terminal)
//	Active  --cancel_escrow(after timelock)--> Cancelled (terminal)
//
// Each Guard* below checks exactly the preconditions attached to
// that edge and returns the single most-specific error on failure,
// mutating nothing. The dispatch layer (engine.go) calls a Guard, then —
// only for fund/complete/cancel_after_timelock — drives the custodial
// move, and only after that succeeds does it call the matching
// Commit* to flip e.State. This ordering is what makes a custody-backend
// failure leave the record's state untouched.

// GuardFund validates fund_escrow's transition-specific preconditions
// (record state and timelock window). Caller-identity and pause checks
// happen in the dispatch layer.
func GuardFund(e *core.Escrow, now uint64) error {
	if e.State != core.StateCreated {
		return ErrInvalidEscrowState
	}
	if now >= e.Timelock {
		return ErrTimelockExpired
	}
	return nil
}

// CommitFund flips e to Active. Call only after GuardFund passed and the
// custodial move (maker -> sovereign) succeeded.
func CommitFund(e *core.Escrow) { e.State = core.StateActive }

// GuardComplete validates complete_escrow's transition-specific
// preconditions. Preimage verification happens in the dispatch layer
// (it needs the hashlock primitive, not state-machine concerns).
func GuardComplete(e *core.Escrow, now uint64) error {
	if e.State != core.StateActive {
		return ErrInvalidEscrowState
	}
	if now >= e.Timelock {
		return ErrTimelockExpired
	}
	return nil
}

// CommitComplete flips e to Completed. Call only after GuardComplete
// passed, the preimage checked out, and the custodial move (sovereign ->
// taker) succeeded.
func CommitComplete(e *core.Escrow) { e.State = core.StateCompleted }

// GuardCancelAfterTimelock validates the post-timelock refund path.
func GuardCancelAfterTimelock(e *core.Escrow, now uint64) error {
	if e.State != core.StateActive {
		return ErrInvalidEscrowState
	}
	if now < e.Timelock {
		return ErrTimelockNotExpired
	}
	return nil
}

// CommitCancelAfterTimelock flips e to Cancelled. Call only after
// GuardCancelAfterTimelock passed and the custodial move (sovereign ->
// maker) succeeded.
func CommitCancelAfterTimelock(e *core.Escrow) { e.State = core.StateCancelled }

// GuardCancelBeforeFunding validates the never-funded cancel path: the
// only edge with no custodial move attached to it.
func GuardCancelBeforeFunding(e *core.Escrow) error {
	if e.State != core.StateCreated {
		return ErrInvalidEscrowState
	}
	return nil
}

// CommitCancelBeforeFunding flips e to Cancelled.
func CommitCancelBeforeFunding(e *core.Escrow) { e.State = core.StateCancelled }
