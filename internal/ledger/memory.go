package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// InMemory is the reference Ledger implementation: serializable, at-most-once
// per ref. All operations take one mutex so transfers are atomic; applied refs
// are remembered so a retried call with the same ref is a no-op.
type InMemory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	escrow   map[string]decimal.Decimal // taskID -> locked remainder
	applied  map[string]struct{}        // ref string -> done
}

// NewInMemory creates an empty in-memory ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[string]decimal.Decimal),
		escrow:   make(map[string]decimal.Decimal),
		applied:  make(map[string]struct{}),
	}
}

// Credit mints amount into a principal's free balance. Test/bootstrap helper;
// the deployed ledger funds accounts out of band.
func (l *InMemory) Credit(principal string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[principal] = l.balances[principal].Add(amount)
}

func (l *InMemory) Lock(_ context.Context, principal string, amount decimal.Decimal, ref Ref) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lock amount %s must be positive", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.applied[ref.String()]; done {
		return nil
	}
	have := l.balances[principal]
	if have.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, principal, have, amount)
	}
	l.balances[principal] = have.Sub(amount)
	l.escrow[ref.TaskID] = l.escrow[ref.TaskID].Add(amount)
	l.applied[ref.String()] = struct{}{}
	return nil
}

func (l *InMemory) ReleaseLocked(_ context.Context, ref Ref, to string, amount decimal.Decimal) error {
	return l.drain(ref, to, amount)
}

func (l *InMemory) RefundLocked(_ context.Context, ref Ref, to string, amount decimal.Decimal) error {
	return l.drain(ref, to, amount)
}

// drain moves amount out of the ref's escrow bucket into to's free balance,
// at most once per ref.
func (l *InMemory) drain(ref Ref, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("transfer amount %s must be positive", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.applied[ref.String()]; done {
		return nil
	}
	held, ok := l.escrow[ref.TaskID]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrUnknownRef, ref.TaskID)
	}
	if held.LessThan(amount) {
		return fmt.Errorf("%w: task %s holds %s, requested %s", ErrInsufficientEscrow, ref.TaskID, held, amount)
	}
	l.escrow[ref.TaskID] = held.Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	l.applied[ref.String()] = struct{}{}
	return nil
}

func (l *InMemory) BalanceOf(_ context.Context, principal string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[principal], nil
}

func (l *InMemory) LockedBalance(_ context.Context, taskID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrow[taskID], nil
}

var _ Ledger = (*InMemory)(nil)
