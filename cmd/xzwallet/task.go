package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/x-zero2026/xz-wallet-contract/internal/config"
	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
	"github.com/x-zero2026/xz-wallet-contract/internal/lifecycle"
	"github.com/x-zero2026/xz-wallet-contract/internal/taskdef"
)

// applyShareDefaults fills unset milestone shares from the configured split,
// so an escrow section in config.yaml governs tasks whose definition file
// carries no shares block. Explicit shares in the definition win.
func applyShareDefaults(req *lifecycle.CreateTaskRequest, e config.EscrowConfig) {
	if req.DesignBps != 0 || req.ImplementationBps != 0 || req.FinalBps != 0 {
		return
	}
	req.DesignBps = e.DesignBps
	req.ImplementationBps = e.ImplementationBps
	req.FinalBps = e.FinalBps
}

// commandFlags builds a flag set carrying the common --as actor flag.
func commandFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	actor := fs.String("as", "", "principal performing the action")
	return fs, actor
}

func requireActor(actor string, usage string) bool {
	if actor == "" {
		fmt.Fprintln(os.Stderr, "missing --as <principal>")
		fmt.Fprintln(os.Stderr, "usage:", usage)
		return false
	}
	return true
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}

func (a *app) runCreate(ctx context.Context, args []string) int {
	fs, actor := commandFlags("create")
	file := fs.String("f", "", "task definition JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" || !requireActor(*actor, "xzwallet create -f task.json --as alice") {
		fmt.Fprintln(os.Stderr, "usage: xzwallet create -f task.json --as alice")
		return 2
	}

	def, err := taskdef.Load(*file)
	if err != nil {
		return fail(err)
	}
	req, err := def.ToRequest(*actor)
	if err != nil {
		return fail(err)
	}
	applyShareDefaults(&req, a.cfg.Escrow)

	task, err := a.service.CreateTask(ctx, req)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("task %s created, %s locked in escrow\n", task.TaskID, task.TotalAmount)
	return 0
}

func (a *app) runPublish(ctx context.Context, args []string) int {
	fs, actor := commandFlags("publish")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || !requireActor(*actor, "xzwallet publish <task-id> --as alice") {
		fmt.Fprintln(os.Stderr, "usage: xzwallet publish <task-id> --as alice")
		return 2
	}
	if err := a.service.Publish(ctx, fs.Arg(0), *actor); err != nil {
		return fail(err)
	}
	fmt.Printf("task %s is open for bidding\n", fs.Arg(0))
	return 0
}

func (a *app) runBid(ctx context.Context, args []string) int {
	fs, actor := commandFlags("bid")
	message := fs.String("m", "", "bid message")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || !requireActor(*actor, "xzwallet bid <task-id> --as bob") {
		fmt.Fprintln(os.Stderr, "usage: xzwallet bid <task-id> --as bob [-m message]")
		return 2
	}
	bid, err := a.service.PlaceBid(ctx, fs.Arg(0), *actor, *message)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("bid %s placed on task %s\n", bid.BidID, bid.TaskID)
	return 0
}

func (a *app) runSelect(ctx context.Context, args []string) int {
	fs, actor := commandFlags("select")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 || !requireActor(*actor, "xzwallet select <task-id> <bidder> --as alice") {
		fmt.Fprintln(os.Stderr, "usage: xzwallet select <task-id> <bidder> --as alice")
		return 2
	}
	taskID, bidder := fs.Arg(0), fs.Arg(1)
	if err := a.service.SelectBidder(ctx, taskID, *actor, bidder); err != nil {
		return fail(err)
	}
	fmt.Printf("%s is now the executor of task %s\n", bidder, taskID)
	return 0
}

func parseMilestone(raw string) (escrow.Milestone, error) {
	m := escrow.Milestone(raw)
	if !escrow.ValidMilestone(m) {
		return "", fmt.Errorf("unknown milestone %q (want design, implementation, or final)", raw)
	}
	return m, nil
}

func (a *app) runSubmit(ctx context.Context, args []string) int {
	fs, actor := commandFlags("submit")
	content := fs.String("m", "", "submission content or link")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 || !requireActor(*actor, "xzwallet submit <task-id> <milestone> --as bob") {
		fmt.Fprintln(os.Stderr, "usage: xzwallet submit <task-id> <milestone> --as bob [-m content]")
		return 2
	}
	m, err := parseMilestone(fs.Arg(1))
	if err != nil {
		return fail(err)
	}
	sub, err := a.service.SubmitMilestone(ctx, fs.Arg(0), *actor, m, *content)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("%s submission %s awaiting review\n", m, sub.SubmissionID)
	return 0
}

func (a *app) runApprove(ctx context.Context, args []string) int {
	fs, actor := commandFlags("approve")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 || !requireActor(*actor, "xzwallet approve <task-id> <milestone> --as alice") {
		fmt.Fprintln(os.Stderr, "usage: xzwallet approve <task-id> <milestone> --as alice")
		return 2
	}
	m, err := parseMilestone(fs.Arg(1))
	if err != nil {
		return fail(err)
	}
	taskID := fs.Arg(0)
	if err := a.service.ApproveMilestone(ctx, taskID, *actor, m); err != nil {
		return fail(err)
	}
	task, err := a.service.GetTask(ctx, taskID)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("%s approved, %s of %s paid out\n", m, task.PaidAmount, task.TotalAmount)
	if task.Status == escrow.StatusCompleted {
		fmt.Printf("task %s completed\n", taskID)
	}
	return 0
}

func (a *app) runReject(ctx context.Context, args []string) int {
	fs, actor := commandFlags("reject")
	reason := fs.String("m", "", "rejection reason")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 || !requireActor(*actor, "xzwallet reject <task-id> <milestone> --as alice") {
		fmt.Fprintln(os.Stderr, "usage: xzwallet reject <task-id> <milestone> --as alice [-m reason]")
		return 2
	}
	m, err := parseMilestone(fs.Arg(1))
	if err != nil {
		return fail(err)
	}
	if err := a.service.RejectMilestone(ctx, fs.Arg(0), *actor, m, *reason); err != nil {
		return fail(err)
	}
	fmt.Printf("%s submission rejected, executor may resubmit\n", m)
	return 0
}

func (a *app) runCancel(ctx context.Context, args []string) int {
	fs, actor := commandFlags("cancel")
	extraRaw := fs.String("extra", "", "additional compensation for the executor beyond approved milestones")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || !requireActor(*actor, "xzwallet cancel <task-id> --as alice") {
		fmt.Fprintln(os.Stderr, "usage: xzwallet cancel <task-id> --as alice [--extra amount]")
		return 2
	}

	extra := decimal.Zero
	if *extraRaw != "" {
		var err error
		extra, err = decimal.NewFromString(*extraRaw)
		if err != nil {
			return fail(fmt.Errorf("--extra %q is not a decimal", *extraRaw))
		}
	}

	taskID := fs.Arg(0)
	if err := a.service.Cancel(ctx, taskID, *actor, extra); err != nil {
		return fail(err)
	}
	task, err := a.service.GetTask(ctx, taskID)
	if err != nil {
		return fail(err)
	}
	refund := task.TotalAmount.Sub(task.PaidAmount).Sub(extra)
	fmt.Printf("task %s cancelled, %s refunded to %s\n", taskID, refund, task.Creator)
	return 0
}
