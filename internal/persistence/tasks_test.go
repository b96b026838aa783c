package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
)

func TestCreateAndGetTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := newTestTask(t, s, "alice", "100")
	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Creator != "alice" || got.Status != escrow.StatusPending {
		t.Fatalf("unexpected task: %+v", got)
	}
	if !got.TotalAmount.Equal(task.TotalAmount) || !got.PaidAmount.IsZero() {
		t.Fatalf("amounts total=%s paid=%s", got.TotalAmount, got.PaidAmount)
	}
	if !got.Shares.Design.Equal(task.Shares.Design) {
		t.Fatalf("design share %s, want %s", got.Shares.Design, task.Shares.Design)
	}

	if _, err := s.GetTask(ctx, "missing"); !errors.Is(err, escrow.ErrNotFound) {
		t.Fatalf("missing task error = %v, want ErrNotFound", err)
	}
}

func TestTransitionTaskCAS(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := newTestTask(t, s, "alice", "100")

	if err := s.TransitionTask(ctx, task.TaskID, escrow.StatusPending, escrow.StatusBidding, "task.published", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != escrow.StatusBidding {
		t.Fatalf("status %s, want bidding", got.Status)
	}

	// Replaying the same edge fails: the task is no longer pending.
	err = s.TransitionTask(ctx, task.TaskID, escrow.StatusPending, escrow.StatusBidding, "task.published", "")
	if !errors.Is(err, escrow.ErrIllegalTransition) {
		t.Fatalf("replay error = %v, want ErrIllegalTransition", err)
	}

	// Skipping states is rejected by the transition table.
	err = s.TransitionTask(ctx, task.TaskID, escrow.StatusBidding, escrow.StatusDesignApproved, "bad", "")
	if !errors.Is(err, escrow.ErrIllegalTransition) {
		t.Fatalf("skip error = %v, want ErrIllegalTransition", err)
	}
}

func TestTransitionAppendsEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := newTestTask(t, s, "alice", "100")

	if err := s.TransitionTask(ctx, task.TaskID, escrow.StatusPending, escrow.StatusBidding, "task.published", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}
	events, err := s.ListTaskEvents(ctx, task.TaskID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events (created, published), got %d", len(events))
	}
	if events[0].EventType != "task.created" || events[1].EventType != "task.published" {
		t.Fatalf("event order: %s, %s", events[0].EventType, events[1].EventType)
	}
	if events[1].StateFrom != string(escrow.StatusPending) || events[1].StateTo != string(escrow.StatusBidding) {
		t.Fatalf("published edge %s -> %s", events[1].StateFrom, events[1].StateTo)
	}
}

func TestCancelTaskAppliesPenalty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := newTestTask(t, s, "alice", "100")

	if err := s.TransitionTask(ctx, task.TaskID, escrow.StatusPending, escrow.StatusBidding, "task.published", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := s.UpsertBid(ctx, &escrow.Bid{TaskID: task.TaskID, Bidder: "bob"}); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := s.SelectBidder(ctx, task.TaskID, "bob"); err != nil {
		t.Fatalf("select bidder: %v", err)
	}

	if err := s.CancelTask(ctx, task.TaskID, escrow.StatusAccepted, "bob", 100); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != escrow.StatusCancelled || !got.Cancelled || got.CancelledAt == nil {
		t.Fatalf("cancel bookkeeping: %+v", got)
	}

	bob, err := s.GetPrincipal(ctx, "bob")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}
	if bob.CreditScore != -100 {
		t.Fatalf("bob score %d, want -100", bob.CreditScore)
	}
	if bob.TasksCancelled != 1 {
		t.Fatalf("bob tasks_cancelled %d, want 1", bob.TasksCancelled)
	}

	history, err := s.ListCreditHistory(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("credit history: %v", err)
	}
	if len(history) != 1 || history[0].Change != -100 || history[0].Reason != "quit_penalty" {
		t.Fatalf("credit history: %+v", history)
	}

	// A terminal task accepts nothing further.
	err = s.CancelTask(ctx, task.TaskID, escrow.StatusCancelled, "bob", 0)
	if !errors.Is(err, escrow.ErrAlreadyTerminal) {
		t.Fatalf("double cancel error = %v, want ErrAlreadyTerminal", err)
	}
}

func TestListTasksFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t1 := newTestTask(t, s, "alice", "100")
	t2 := newTestTask(t, s, "carol", "50")
	if err := s.TransitionTask(ctx, t1.TaskID, escrow.StatusPending, escrow.StatusBidding, "task.published", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := s.UpsertBid(ctx, &escrow.Bid{TaskID: t1.TaskID, Bidder: "bob"}); err != nil {
		t.Fatalf("bid: %v", err)
	}

	byCreator, err := s.ListTasks(ctx, TaskFilter{Creator: "carol"})
	if err != nil {
		t.Fatalf("list by creator: %v", err)
	}
	if len(byCreator) != 1 || byCreator[0].TaskID != t2.TaskID {
		t.Fatalf("creator filter: %+v", byCreator)
	}

	byStatus, err := s.ListTasks(ctx, TaskFilter{Status: escrow.StatusBidding})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].PendingBids != 1 {
		t.Fatalf("status filter: %+v", byStatus)
	}

	byBidder, err := s.ListTasks(ctx, TaskFilter{Bidder: "bob"})
	if err != nil {
		t.Fatalf("list by bidder: %v", err)
	}
	if len(byBidder) != 1 || byBidder[0].TaskID != t1.TaskID {
		t.Fatalf("bidder filter: %+v", byBidder)
	}
}
