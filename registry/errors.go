package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected marks a ledger guard failure: wrong caller, expired
	// deadline, already-terminal bounty, insufficient escrow. Surfaced
	// verbatim to the caller and never retried automatically.
	ErrRejected = errors.New("registry: rejected by ledger")

	// ErrUnavailable marks a transport failure. Reads may be retried with
	// backoff; writes must not be, since the outcome is unknown.
	ErrUnavailable = errors.New("registry: ledger unavailable")
)

// WriteOutcome tells the caller of a failed write whether the ledger is
// known to have left state untouched.
type WriteOutcome int

const (
	// OutcomeNotApplied means the ledger evaluated and refused the write;
	// nothing happened.
	OutcomeNotApplied WriteOutcome = iota
	// OutcomeUnknown means the write may or may not have been applied.
	// Retrying risks duplication.
	OutcomeUnknown
)

func (o WriteOutcome) String() string {
	if o == OutcomeUnknown {
		return "unknown"
	}
	return "not-applied"
}

// WriteError wraps a failed state-changing ledger call with enough context
// to distinguish "nothing happened" from "outcome unknown".
type WriteError struct {
	Op      string
	Outcome WriteOutcome
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("registry: %s failed (outcome %s): %v", e.Op, e.Outcome, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
