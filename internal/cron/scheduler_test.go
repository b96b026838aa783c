package cron_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/x-zero2026/xz-wallet-contract/internal/cron"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses. This avoids fixed time.Sleep calls that cause flaky tests.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

type fakeSweeper struct {
	calls   atomic.Int64
	lastTTL atomic.Int64
	err     error
}

func (f *fakeSweeper) ExpireStaleBids(ctx context.Context, ttl time.Duration) (int, error) {
	f.calls.Add(1)
	f.lastTTL.Store(int64(ttl))
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

func TestSchedulerSweepsOnStartup(t *testing.T) {
	sweeper := &fakeSweeper{}
	sched, err := cron.NewScheduler(cron.Config{
		Sweeper:  sweeper,
		Logger:   slog.Default(),
		Schedule: "0 * * * *",
		BidTTL:   time.Hour,
		Interval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	sched.Start(context.Background())
	defer sched.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return sweeper.calls.Load() >= 1
	})
	if got := time.Duration(sweeper.lastTTL.Load()); got != time.Hour {
		t.Errorf("sweep ttl = %v, want 1h", got)
	}
}

func TestSchedulerDisabledWithZeroTTL(t *testing.T) {
	sweeper := &fakeSweeper{}
	sched, err := cron.NewScheduler(cron.Config{
		Sweeper:  sweeper,
		Logger:   slog.Default(),
		Interval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	sched.Start(context.Background())

	time.Sleep(200 * time.Millisecond)
	sched.Stop()

	if n := sweeper.calls.Load(); n != 0 {
		t.Fatalf("expected no sweeps with zero ttl, got %d", n)
	}
}

func TestSchedulerSurvivesSweepErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("store closed")}
	sched, err := cron.NewScheduler(cron.Config{
		Sweeper:  sweeper,
		Logger:   slog.Default(),
		Schedule: "* * * * *",
		BidTTL:   time.Hour,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	sched.Start(context.Background())

	waitFor(t, 3*time.Second, func() bool {
		return sweeper.calls.Load() >= 1
	})
	// Stop must return cleanly even after a failing sweep.
	sched.Stop()
}

func TestSchedulerRejectsBadExpression(t *testing.T) {
	_, err := cron.NewScheduler(cron.Config{
		Sweeper:  &fakeSweeper{},
		Schedule: "not a cron expr",
		BidTTL:   time.Hour,
	})
	if err == nil {
		t.Fatal("expected parse error for invalid schedule")
	}
}

func TestNextRunTime(t *testing.T) {
	after := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := cron.NextRunTime("0 * * * *", after)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	if _, err := cron.NextRunTime("bogus", after); err == nil {
		t.Error("expected error for bad expression")
	}
}
