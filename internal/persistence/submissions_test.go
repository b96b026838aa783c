package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
)

func acceptedTask(t *testing.T, s *Store, creator, executor string) *escrow.Task {
	t.Helper()
	task := biddingTask(t, s, creator)
	ctx := context.Background()
	if err := s.UpsertBid(ctx, &escrow.Bid{TaskID: task.TaskID, Bidder: executor}); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := s.SelectBidder(ctx, task.TaskID, executor); err != nil {
		t.Fatalf("select bidder: %v", err)
	}
	return task
}

func TestCreateSubmissionAdvancesStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := acceptedTask(t, s, "alice", "bob")

	sub := &escrow.Submission{TaskID: task.TaskID, Milestone: escrow.MilestoneDesign, Content: "design doc"}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("submit design: %v", err)
	}
	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != escrow.StatusDesignSubmitted {
		t.Fatalf("status %s, want design_submitted", got.Status)
	}

	// Submitting out of order is rejected.
	err = s.CreateSubmission(ctx, &escrow.Submission{TaskID: task.TaskID, Milestone: escrow.MilestoneFinal})
	if !errors.Is(err, escrow.ErrIllegalTransition) {
		t.Fatalf("out of order submit error = %v, want ErrIllegalTransition", err)
	}
}

func TestApproveSubmissionUpdatesPaidAmount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := acceptedTask(t, s, "alice", "bob")

	sub := &escrow.Submission{TaskID: task.TaskID, Milestone: escrow.MilestoneDesign, Content: "design doc"}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("submit design: %v", err)
	}
	newPaid := task.Shares.Design
	if err := s.ApproveSubmission(ctx, task.TaskID, sub.SubmissionID, escrow.MilestoneDesign, newPaid); err != nil {
		t.Fatalf("approve design: %v", err)
	}

	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != escrow.StatusDesignApproved {
		t.Fatalf("status %s, want design_approved", got.Status)
	}
	if !got.PaidAmount.Equal(newPaid) {
		t.Fatalf("paid %s, want %s", got.PaidAmount, newPaid)
	}

	subs, err := s.ListSubmissions(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	if len(subs) != 1 || subs[0].Status != escrow.SubmissionApproved || subs[0].ReviewedAt == nil {
		t.Fatalf("submission: %+v", subs)
	}
}

func TestApproveFinalCompletesAndRewards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := acceptedTask(t, s, "alice", "bob")

	paid := decimal.Zero
	for _, m := range escrow.Milestones {
		sub := &escrow.Submission{TaskID: task.TaskID, Milestone: m, Content: string(m)}
		if err := s.CreateSubmission(ctx, sub); err != nil {
			t.Fatalf("submit %s: %v", m, err)
		}
		paid = paid.Add(task.Shares.For(m))
		if err := s.ApproveSubmission(ctx, task.TaskID, sub.SubmissionID, m, paid); err != nil {
			t.Fatalf("approve %s: %v", m, err)
		}
	}

	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != escrow.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("completion: %+v", got)
	}
	if !got.PaidAmount.Equal(got.TotalAmount) {
		t.Fatalf("paid %s != total %s after completion", got.PaidAmount, got.TotalAmount)
	}

	bob, err := s.GetPrincipal(ctx, "bob")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}
	if bob.CreditScore != escrow.CompletionReward {
		t.Fatalf("bob score %d, want %d", bob.CreditScore, escrow.CompletionReward)
	}
	if bob.TasksCompleted != 1 {
		t.Fatalf("bob tasks_completed %d, want 1", bob.TasksCompleted)
	}
}

func TestRejectSubmissionStepsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := acceptedTask(t, s, "alice", "bob")

	sub := &escrow.Submission{TaskID: task.TaskID, Milestone: escrow.MilestoneDesign, Content: "v1"}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.RejectSubmission(ctx, task.TaskID, sub.SubmissionID, escrow.MilestoneDesign, "needs detail"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != escrow.StatusAccepted {
		t.Fatalf("status %s, want accepted after reject", got.Status)
	}
	if !got.PaidAmount.IsZero() {
		t.Fatalf("paid %s after reject, want 0", got.PaidAmount)
	}

	// The log is append-only: the rejected row stays, a fresh one is filed.
	second := &escrow.Submission{TaskID: task.TaskID, Milestone: escrow.MilestoneDesign, Content: "v2"}
	if err := s.CreateSubmission(ctx, second); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	subs, err := s.ListSubmissions(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}
	if subs[0].Status != escrow.SubmissionRejected || subs[0].RejectionReason != "needs detail" {
		t.Fatalf("first submission: %+v", subs[0])
	}
	if subs[1].Status != escrow.SubmissionPending {
		t.Fatalf("second submission: %+v", subs[1])
	}
}

func TestApproveRejectsInvariantBreakingPaid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := acceptedTask(t, s, "alice", "bob")

	sub := &escrow.Submission{TaskID: task.TaskID, Milestone: escrow.MilestoneDesign}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	over := task.TotalAmount.Add(decimal.NewFromInt(1))
	err := s.ApproveSubmission(ctx, task.TaskID, sub.SubmissionID, escrow.MilestoneDesign, over)
	if !errors.Is(err, escrow.ErrInvariantViolation) {
		t.Fatalf("overpay error = %v, want ErrInvariantViolation", err)
	}
	// Nothing committed.
	got, err := s.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != escrow.StatusDesignSubmitted || !got.PaidAmount.IsZero() {
		t.Fatalf("state leaked after failed approve: %+v", got)
	}
}
