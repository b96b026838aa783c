// Package ledger defines the token ledger capability the escrow core consumes.
// The real system of record is an external deployed ledger; the core only ever
// talks to it through the Ledger interface, so tests and local mode substitute
// the in-memory implementation while preserving the atomicity contract.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Ledger errors. Unavailable is the only retryable one.
var (
	// ErrUnavailable: the ledger backend could not be reached or timed out.
	// Safe to retry with the same ref.
	ErrUnavailable = errors.New("ledger backend unavailable")

	// ErrInsufficientFunds: the principal's free balance cannot cover a lock.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientEscrow: a release or refund would draw more than the
	// escrow bucket still holds.
	ErrInsufficientEscrow = errors.New("insufficient escrowed funds")

	// ErrUnknownRef: the ref does not name an existing escrow bucket.
	ErrUnknownRef = errors.New("unknown escrow ref")
)

// Ledger is the account store capability. Every mutating call carries a Ref
// that uniquely identifies the operation instance; implementations must apply
// each ref at most once, so a retried call after a timeout is a no-op.
type Ledger interface {
	// Lock moves amount from principal's free balance into the escrow bucket
	// named by ref's task.
	Lock(ctx context.Context, principal string, amount decimal.Decimal, ref Ref) error

	// ReleaseLocked moves amount from the escrow bucket to the principal `to`.
	ReleaseLocked(ctx context.Context, ref Ref, to string, amount decimal.Decimal) error

	// RefundLocked returns amount from the escrow bucket to the principal `to`.
	RefundLocked(ctx context.Context, ref Ref, to string, amount decimal.Decimal) error

	// BalanceOf reports the principal's free balance.
	BalanceOf(ctx context.Context, principal string) (decimal.Decimal, error)

	// LockedBalance reports what the escrow bucket for taskID still holds.
	// Used for reconciliation against the task record's total - paid.
	LockedBalance(ctx context.Context, taskID string) (decimal.Decimal, error)
}

// Ref is an idempotency key for one ledger operation instance, keyed by
// (task, transition, milestone). String form: task/<id>/<op>[/<milestone>].
type Ref struct {
	TaskID    string
	Op        string
	Milestone string
}

// Operation names used in refs.
const (
	OpLock    = "lock"
	OpRelease = "release"
	OpRefund  = "refund"
	OpComp    = "comp"
)

func (r Ref) String() string {
	if r.Milestone == "" {
		return "task/" + r.TaskID + "/" + r.Op
	}
	return "task/" + r.TaskID + "/" + r.Op + "/" + r.Milestone
}

// LockRef keys the single escrow lock performed at publish.
func LockRef(taskID string) Ref {
	return Ref{TaskID: taskID, Op: OpLock}
}

// ReleaseRef keys the release for one approved milestone.
func ReleaseRef(taskID, milestone string) Ref {
	return Ref{TaskID: taskID, Op: OpRelease, Milestone: milestone}
}

// RefundRef keys the single refund performed at cancellation.
func RefundRef(taskID string) Ref {
	return Ref{TaskID: taskID, Op: OpRefund}
}

// CompRef keys the extra executor compensation released at cancellation.
func CompRef(taskID string) Ref {
	return Ref{TaskID: taskID, Op: OpComp}
}

// ParseRef parses the string form of a Ref.
func ParseRef(s string) (Ref, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != "task" || parts[1] == "" || parts[2] == "" {
		return Ref{}, fmt.Errorf("malformed ledger ref %q", s)
	}
	r := Ref{TaskID: parts[1], Op: parts[2]}
	if len(parts) == 4 {
		r.Milestone = parts[3]
	}
	return r, nil
}
