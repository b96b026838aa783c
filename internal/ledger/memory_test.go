package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/x-zero2026/xz-wallet-contract/internal/ledger"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLockMovesFundsIntoEscrow(t *testing.T) {
	l := ledger.NewInMemory()
	l.Credit("alice", d("100"))
	ctx := context.Background()

	if err := l.Lock(ctx, "alice", d("100"), ledger.LockRef("t1")); err != nil {
		t.Fatal(err)
	}

	bal, _ := l.BalanceOf(ctx, "alice")
	if !bal.IsZero() {
		t.Fatalf("alice balance %s, want 0", bal)
	}
	held, _ := l.LockedBalance(ctx, "t1")
	if !held.Equal(d("100")) {
		t.Fatalf("escrow %s, want 100", held)
	}
}

func TestLockInsufficientFunds(t *testing.T) {
	l := ledger.NewInMemory()
	l.Credit("alice", d("50"))

	err := l.Lock(context.Background(), "alice", d("100"), ledger.LockRef("t1"))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestReleaseAndRefund(t *testing.T) {
	l := ledger.NewInMemory()
	l.Credit("alice", d("100"))
	ctx := context.Background()

	if err := l.Lock(ctx, "alice", d("100"), ledger.LockRef("t1")); err != nil {
		t.Fatal(err)
	}
	if err := l.ReleaseLocked(ctx, ledger.ReleaseRef("t1", "design"), "bob", d("34")); err != nil {
		t.Fatal(err)
	}
	if err := l.RefundLocked(ctx, ledger.RefundRef("t1"), "alice", d("66")); err != nil {
		t.Fatal(err)
	}

	aliceBal, _ := l.BalanceOf(ctx, "alice")
	bobBal, _ := l.BalanceOf(ctx, "bob")
	held, _ := l.LockedBalance(ctx, "t1")
	if !aliceBal.Equal(d("66")) || !bobBal.Equal(d("34")) || !held.IsZero() {
		t.Fatalf("balances alice=%s bob=%s held=%s", aliceBal, bobBal, held)
	}
}

func TestReleaseOverdraw(t *testing.T) {
	l := ledger.NewInMemory()
	l.Credit("alice", d("100"))
	ctx := context.Background()
	_ = l.Lock(ctx, "alice", d("100"), ledger.LockRef("t1"))

	err := l.ReleaseLocked(ctx, ledger.ReleaseRef("t1", "design"), "bob", d("101"))
	if !errors.Is(err, ledger.ErrInsufficientEscrow) {
		t.Fatalf("expected ErrInsufficientEscrow, got %v", err)
	}

	err = l.ReleaseLocked(ctx, ledger.ReleaseRef("t2", "design"), "bob", d("1"))
	if !errors.Is(err, ledger.ErrUnknownRef) {
		t.Fatalf("expected ErrUnknownRef, got %v", err)
	}
}

func TestIdempotentReplaySameRef(t *testing.T) {
	l := ledger.NewInMemory()
	l.Credit("alice", d("100"))
	ctx := context.Background()

	ref := ledger.ReleaseRef("t1", "design")
	_ = l.Lock(ctx, "alice", d("100"), ledger.LockRef("t1"))
	if err := l.ReleaseLocked(ctx, ref, "bob", d("34")); err != nil {
		t.Fatal(err)
	}
	// Replaying the same ref is a no-op, never a second transfer.
	if err := l.ReleaseLocked(ctx, ref, "bob", d("34")); err != nil {
		t.Fatal(err)
	}

	bobBal, _ := l.BalanceOf(ctx, "bob")
	if !bobBal.Equal(d("34")) {
		t.Fatalf("bob balance %s after replay, want 34", bobBal)
	}

	// A replayed lock does not double-lock either.
	l.Credit("alice", d("100"))
	if err := l.Lock(ctx, "alice", d("100"), ledger.LockRef("t1")); err != nil {
		t.Fatal(err)
	}
	aliceBal, _ := l.BalanceOf(ctx, "alice")
	if !aliceBal.Equal(d("100")) {
		t.Fatalf("alice balance %s after lock replay, want 100", aliceBal)
	}
}

func TestRefRoundTrip(t *testing.T) {
	cases := []ledger.Ref{
		ledger.LockRef("t1"),
		ledger.ReleaseRef("t1", "implementation"),
		ledger.RefundRef("t1"),
		ledger.CompRef("t1"),
	}
	for _, ref := range cases {
		parsed, err := ledger.ParseRef(ref.String())
		if err != nil {
			t.Fatalf("ParseRef(%q): %v", ref.String(), err)
		}
		if parsed != ref {
			t.Errorf("round trip %q -> %+v, want %+v", ref.String(), parsed, ref)
		}
	}
	if _, err := ledger.ParseRef("bogus"); err == nil {
		t.Fatal("expected error for malformed ref")
	}
	if _, err := ledger.ParseRef("task//lock"); err == nil {
		t.Fatal("expected error for empty task id")
	}
}
