package escrow

import "errors"

// Error taxonomy for lifecycle operations. Callers match with errors.Is; every
// failure leaves the task record exactly as it was before the call.
var (
	// ErrIllegalTransition: the current status or the caller's role does not
	// permit the requested transition. Recoverable; the caller may retry with
	// a corrected request.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrNotFound: the referenced task, bid, submission or principal does not
	// exist. Not retried.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount: a caller-supplied amount is out of range or would
	// double-pay funds already disbursed.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvariantViolation: the operation's arithmetic would break
	// 0 <= paid_amount <= total_amount. Fatal to the operation, never clamped.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrLedgerUnavailable: the external ledger call failed after bounded
	// idempotent retries. No partial state change was committed.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrAlreadyTerminal: the task is completed or cancelled and accepts no
	// further transitions.
	ErrAlreadyTerminal = errors.New("task already terminal")
)
