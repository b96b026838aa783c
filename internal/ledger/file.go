package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"
)

// File is an InMemory ledger that snapshots its state to a JSON file after
// every mutation, so balances survive across process runs. It is the local
// development backend; a deployed wallet talks to a real ledger service.
type File struct {
	mem  *InMemory
	path string
	save sync.Mutex
}

type fileState struct {
	Balances map[string]string `json:"balances"`
	Escrow   map[string]string `json:"escrow"`
	Applied  []string          `json:"applied"`
}

// OpenFile loads the ledger snapshot at path, creating an empty ledger if the
// file does not exist yet.
func OpenFile(path string) (*File, error) {
	f := &File{mem: NewInMemory(), path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("read ledger snapshot: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse ledger snapshot %s: %w", path, err)
	}
	for principal, raw := range state.Balances {
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("ledger snapshot balance for %s: %w", principal, err)
		}
		f.mem.balances[principal] = amt
	}
	for taskID, raw := range state.Escrow {
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("ledger snapshot escrow for %s: %w", taskID, err)
		}
		f.mem.escrow[taskID] = amt
	}
	for _, ref := range state.Applied {
		f.mem.applied[ref] = struct{}{}
	}
	return f, nil
}

// flush writes the current state atomically (temp file plus rename).
func (f *File) flush() error {
	f.save.Lock()
	defer f.save.Unlock()

	f.mem.mu.Lock()
	state := fileState{
		Balances: make(map[string]string, len(f.mem.balances)),
		Escrow:   make(map[string]string, len(f.mem.escrow)),
		Applied:  make([]string, 0, len(f.mem.applied)),
	}
	for principal, amt := range f.mem.balances {
		state.Balances[principal] = amt.String()
	}
	for taskID, amt := range f.mem.escrow {
		state.Escrow[taskID] = amt.String()
	}
	for ref := range f.mem.applied {
		state.Applied = append(state.Applied, ref)
	}
	f.mem.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger snapshot: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace ledger snapshot: %w", err)
	}
	return nil
}

// Credit mints amount into a principal's free balance and persists the state.
func (f *File) Credit(principal string, amount decimal.Decimal) error {
	f.mem.Credit(principal, amount)
	return f.flush()
}

func (f *File) Lock(ctx context.Context, principal string, amount decimal.Decimal, ref Ref) error {
	if err := f.mem.Lock(ctx, principal, amount, ref); err != nil {
		return err
	}
	return f.flushOrUnavailable()
}

func (f *File) ReleaseLocked(ctx context.Context, ref Ref, to string, amount decimal.Decimal) error {
	if err := f.mem.ReleaseLocked(ctx, ref, to, amount); err != nil {
		return err
	}
	return f.flushOrUnavailable()
}

func (f *File) RefundLocked(ctx context.Context, ref Ref, to string, amount decimal.Decimal) error {
	if err := f.mem.RefundLocked(ctx, ref, to, amount); err != nil {
		return err
	}
	return f.flushOrUnavailable()
}

func (f *File) BalanceOf(ctx context.Context, principal string) (decimal.Decimal, error) {
	return f.mem.BalanceOf(ctx, principal)
}

func (f *File) LockedBalance(ctx context.Context, taskID string) (decimal.Decimal, error) {
	return f.mem.LockedBalance(ctx, taskID)
}

// flushOrUnavailable maps snapshot write failures to ErrUnavailable so the
// retry wrapper treats a full disk like a flaky ledger backend. The applied
// ref set makes the retried operation a no-op, so the retry only repeats the
// flush.
func (f *File) flushOrUnavailable() error {
	if err := f.flush(); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

var _ Ledger = (*File)(nil)
