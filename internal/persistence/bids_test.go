package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
)

func biddingTask(t *testing.T, s *Store, creator string) *escrow.Task {
	t.Helper()
	task := newTestTask(t, s, creator, "100")
	if err := s.TransitionTask(context.Background(), task.TaskID, escrow.StatusPending, escrow.StatusBidding, "task.published", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return task
}

func TestUpsertBidIsOnePerBidder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := biddingTask(t, s, "alice")

	if err := s.UpsertBid(ctx, &escrow.Bid{TaskID: task.TaskID, Bidder: "bob", Message: "first"}); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if err := s.UpsertBid(ctx, &escrow.Bid{TaskID: task.TaskID, Bidder: "bob", Message: "revised", CreditSnapshot: 5}); err != nil {
		t.Fatalf("re-bid: %v", err)
	}

	bids, err := s.ListBids(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != 1 {
		t.Fatalf("expected one bid row, got %d", len(bids))
	}
	if bids[0].Message != "revised" || bids[0].CreditSnapshot != 5 {
		t.Fatalf("re-bid did not update: %+v", bids[0])
	}
}

func TestUpsertBidRequiresBiddingStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := newTestTask(t, s, "alice", "100") // still pending

	err := s.UpsertBid(ctx, &escrow.Bid{TaskID: task.TaskID, Bidder: "bob"})
	if !errors.Is(err, escrow.ErrIllegalTransition) {
		t.Fatalf("bid on pending task error = %v, want ErrIllegalTransition", err)
	}
}

func TestSelectBidderAcceptsOneRejectsRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := biddingTask(t, s, "alice")

	for _, bidder := range []string{"bob", "carol", "dave"} {
		if err := s.UpsertBid(ctx, &escrow.Bid{TaskID: task.TaskID, Bidder: bidder}); err != nil {
			t.Fatalf("bid %s: %v", bidder, err)
		}
	}
	if err := s.SelectBidder(ctx, task.TaskID, "carol"); err != nil {
		t.Fatalf("select bidder: %v", err)
	}

	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != escrow.StatusAccepted || got.Executor != "carol" {
		t.Fatalf("after select: status=%s executor=%s", got.Status, got.Executor)
	}

	bids, err := s.ListBids(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	statuses := map[string]escrow.BidStatus{}
	for _, b := range bids {
		statuses[b.Bidder] = b.Status
	}
	if statuses["carol"] != escrow.BidStatusAccepted {
		t.Fatalf("carol bid status %s", statuses["carol"])
	}
	if statuses["bob"] != escrow.BidStatusRejected || statuses["dave"] != escrow.BidStatusRejected {
		t.Fatalf("losing bids: bob=%s dave=%s", statuses["bob"], statuses["dave"])
	}

	// Selection is one-shot: the task already left bidding.
	err = s.SelectBidder(ctx, task.TaskID, "bob")
	if !errors.Is(err, escrow.ErrIllegalTransition) {
		t.Fatalf("second select error = %v, want ErrIllegalTransition", err)
	}
}

func TestSelectBidderUnknownBid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := biddingTask(t, s, "alice")

	err := s.SelectBidder(ctx, task.TaskID, "nobody")
	if !errors.Is(err, escrow.ErrNotFound) {
		t.Fatalf("select unknown bidder error = %v, want ErrNotFound", err)
	}
	// Task must be untouched.
	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != escrow.StatusBidding || got.Executor != "" {
		t.Fatalf("task mutated by failed select: %+v", got)
	}
}

func TestExpireBidsOnlyTouchesStalePendingBids(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := biddingTask(t, s, "alice")

	if err := s.UpsertBid(ctx, &escrow.Bid{TaskID: task.TaskID, Bidder: "bob"}); err != nil {
		t.Fatalf("bid: %v", err)
	}

	// Cutoff in the past: nothing is stale yet.
	expired, err := s.ExpireBids(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("expire (past cutoff): %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expired %d bids with past cutoff", len(expired))
	}

	// Cutoff in the future catches the bid.
	expired, err = s.ExpireBids(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].Bidder != "bob" {
		t.Fatalf("expired: %+v", expired)
	}

	bids, err := s.ListBids(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if bids[0].Status != escrow.BidStatusExpired {
		t.Fatalf("bid status %s, want expired", bids[0].Status)
	}

	// Second sweep finds nothing pending.
	expired, err = s.ExpireBids(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("second sweep expired %d bids", len(expired))
	}
}
