package ledger

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

// Retrying wraps a Ledger and retries calls that fail with ErrUnavailable,
// using exponential backoff with bounded jitter. Because every mutating call
// is keyed by its ref, a retry after a timeout cannot double-apply. Any other
// error is surfaced immediately.
type Retrying struct {
	inner       Ledger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	// OnRetry, when set, is called once per attempt that is about to be
	// retried after an ErrUnavailable. Used for metrics.
	OnRetry func(ctx context.Context)
}

// NewRetrying wraps inner. maxAttempts <= 0 defaults to 3; delays default to
// 100ms base / 2s cap.
func NewRetrying(inner Ledger, maxAttempts int, baseDelay, maxDelay time.Duration) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Retrying{inner: inner, maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

func (r *Retrying) retry(ctx context.Context, f func() error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err = f()
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
		if attempt == r.maxAttempts-1 {
			break
		}
		if r.OnRetry != nil {
			r.OnRetry(ctx)
		}
		delay := r.baseDelay << uint(attempt)
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
		// Jitter: ±25% of delay.
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (r *Retrying) Lock(ctx context.Context, principal string, amount decimal.Decimal, ref Ref) error {
	return r.retry(ctx, func() error { return r.inner.Lock(ctx, principal, amount, ref) })
}

func (r *Retrying) ReleaseLocked(ctx context.Context, ref Ref, to string, amount decimal.Decimal) error {
	return r.retry(ctx, func() error { return r.inner.ReleaseLocked(ctx, ref, to, amount) })
}

func (r *Retrying) RefundLocked(ctx context.Context, ref Ref, to string, amount decimal.Decimal) error {
	return r.retry(ctx, func() error { return r.inner.RefundLocked(ctx, ref, to, amount) })
}

func (r *Retrying) BalanceOf(ctx context.Context, principal string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := r.retry(ctx, func() error {
		var err error
		out, err = r.inner.BalanceOf(ctx, principal)
		return err
	})
	return out, err
}

func (r *Retrying) LockedBalance(ctx context.Context, taskID string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := r.retry(ctx, func() error {
		var err error
		out, err = r.inner.LockedBalance(ctx, taskID)
		return err
	})
	return out, err
}

var _ Ledger = (*Retrying)(nil)
