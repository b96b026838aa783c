package escrow

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Reputation adjustments. Quit penalties key off the status at quit time: no
// penalty before any milestone payment, a fixed penalty once the design share
// has been paid, a larger one once the implementation share has been paid.
const (
	CompletionReward          = 100
	QuitPenaltyAfterDesign    = 100
	QuitPenaltyAfterImplement = 200
)

// QuitPenalty returns the reputation penalty (a non-negative number to
// subtract) for an executor abandoning a task in status s.
func QuitPenalty(s Status) int {
	switch s {
	case StatusDesignApproved, StatusImplementationSubmitted:
		return QuitPenaltyAfterDesign
	case StatusImplementationApproved, StatusFinalSubmitted:
		return QuitPenaltyAfterImplement
	}
	return 0
}

// ReleaseAmount computes the amount released to the executor by approving
// milestone m. The final milestone releases the remaining balance so the task
// closes at paid_amount == total_amount exactly. It fails closed with
// ErrInvariantViolation if the configured shares would over-pay rather than
// ever releasing more than the locked remainder.
func ReleaseAmount(t *Task, m Milestone) (decimal.Decimal, error) {
	remaining := t.Remaining()
	if remaining.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: task %s paid %s exceeds total %s",
			ErrInvariantViolation, t.TaskID, t.PaidAmount, t.TotalAmount)
	}
	var amount decimal.Decimal
	if m == MilestoneFinal {
		amount = remaining
	} else {
		amount = t.Shares.For(m)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: release for %s milestone of task %s is %s",
			ErrInvariantViolation, m, t.TaskID, amount)
	}
	if amount.GreaterThan(remaining) {
		return decimal.Zero, fmt.Errorf("%w: %s share %s exceeds remaining escrow %s for task %s",
			ErrInvariantViolation, m, amount, remaining, t.TaskID)
	}
	return amount, nil
}

// Settlement is the fund movement computed for a cancellation.
type Settlement struct {
	// ExecutorExtra is released to the executor on top of what milestone
	// approvals already paid. Zero for a pure cancellation.
	ExecutorExtra decimal.Decimal
	// CreatorRefund is returned to the creator: total - paid - extra.
	CreatorRefund decimal.Decimal
	// Penalty is the reputation decrement applied to a quitting executor.
	Penalty int
}

// CancelSettlement computes the settlement for cancelling task t.
//
// extra is ADDITIONAL compensation on top of paid_amount, never a restatement
// of it: passing the already-paid amount again double-counts disbursed funds,
// so a non-zero extra equal to a non-zero paid_amount is rejected. Only the
// creator may grant extra compensation; an executor quitting always settles
// with extra zero, and takes the penalty for its current status.
func CancelSettlement(t *Task, actor string, extra decimal.Decimal) (Settlement, error) {
	if extra.IsNegative() {
		return Settlement{}, fmt.Errorf("%w: extra executor amount %s is negative", ErrInvalidAmount, extra)
	}
	executorQuit := t.Executor != "" && actor == t.Executor
	if !extra.IsZero() {
		if executorQuit {
			return Settlement{}, fmt.Errorf("%w: executor may not grant itself compensation on quit", ErrInvalidAmount)
		}
		if t.Executor == "" {
			return Settlement{}, fmt.Errorf("%w: no executor to compensate on task %s", ErrInvalidAmount, t.TaskID)
		}
		if !t.PaidAmount.IsZero() && extra.Equal(t.PaidAmount) {
			// The observed defect class: callers restating paid_amount as the
			// compensation figure, double-paying funds already received.
			return Settlement{}, fmt.Errorf("%w: extra amount %s restates paid amount; pass only the additional compensation (0 for none)",
				ErrInvalidAmount, extra)
		}
		if t.PaidAmount.Add(extra).GreaterThan(t.TotalAmount) {
			return Settlement{}, fmt.Errorf("%w: paid %s + extra %s exceeds total %s",
				ErrInvalidAmount, t.PaidAmount, extra, t.TotalAmount)
		}
	}
	refund := t.TotalAmount.Sub(t.PaidAmount).Sub(extra)
	if refund.IsNegative() {
		return Settlement{}, fmt.Errorf("%w: refund %s is negative for task %s", ErrInvariantViolation, refund, t.TaskID)
	}
	s := Settlement{ExecutorExtra: extra, CreatorRefund: refund}
	if executorQuit {
		s.Penalty = QuitPenalty(t.Status)
	}
	return s, nil
}
