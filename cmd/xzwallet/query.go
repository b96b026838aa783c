package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
	"github.com/x-zero2026/xz-wallet-contract/internal/persistence"
)

func (a *app) runGet(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: xzwallet get <task-id>")
		return 2
	}
	taskID := args[0]

	task, err := a.service.GetTask(ctx, taskID)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("task      %s\n", task.TaskID)
	fmt.Printf("name      %s\n", task.Name)
	fmt.Printf("status    %s\n", task.Status)
	fmt.Printf("creator   %s\n", task.Creator)
	if task.Executor != "" {
		fmt.Printf("executor  %s\n", task.Executor)
	}
	fmt.Printf("amount    %s (paid %s)\n", task.TotalAmount, task.PaidAmount)
	fmt.Printf("shares    %s\n", formatShares(task.Shares))
	fmt.Printf("scope     %s", task.Visibility)
	if task.ProjectID != "" {
		fmt.Printf(" (project %s)", task.ProjectID)
	}
	fmt.Println()
	if len(task.Tags) > 0 {
		fmt.Printf("tags      %s\n", strings.Join(task.Tags, ", "))
	}
	if task.Description != "" {
		fmt.Printf("\n%s\n", task.Description)
	}

	bids, err := a.service.ListBids(ctx, taskID)
	if err != nil {
		return fail(err)
	}
	if len(bids) > 0 {
		fmt.Println("\nbids:")
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  BIDDER\tSTATUS\tSCORE\tMESSAGE")
		for _, b := range bids {
			fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n", b.Bidder, b.Status, b.CreditSnapshot, b.Message)
		}
		w.Flush()
	}

	subs, err := a.service.ListSubmissions(ctx, taskID)
	if err != nil {
		return fail(err)
	}
	if len(subs) > 0 {
		fmt.Println("\nsubmissions:")
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  MILESTONE\tSTATUS\tSUBMITTED\tNOTE")
		for _, s := range subs {
			note := s.Content
			if s.Status == escrow.SubmissionRejected && s.RejectionReason != "" {
				note = "rejected: " + s.RejectionReason
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
				s.Milestone, s.Status, s.SubmittedAt.Format("2006-01-02 15:04"), note)
		}
		w.Flush()
	}
	return 0
}

func (a *app) runList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status")
	creator := fs.String("creator", "", "filter by creator")
	executor := fs.String("executor", "", "filter by executor")
	bidder := fs.String("bidder", "", "filter by a principal with a bid on the task")
	project := fs.String("project", "", "filter by project id")
	visibility := fs.String("visibility", "", "filter by visibility (project or global)")
	limit := fs.Int("limit", 50, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	filter := persistence.TaskFilter{
		Creator:    *creator,
		Executor:   *executor,
		Bidder:     *bidder,
		ProjectID:  *project,
		Visibility: *visibility,
		Status:     escrow.Status(*status),
		Limit:      *limit,
	}
	tasks, err := a.service.ListTasks(ctx, filter)
	if err != nil {
		return fail(err)
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tAMOUNT\tPAID\tBIDS\tCREATOR\tEXECUTOR\tNAME")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			shortID(t.TaskID), t.Status, t.TotalAmount, t.PaidAmount,
			t.PendingBids, t.Creator, t.Executor, t.Name)
	}
	w.Flush()
	return 0
}

func (a *app) runEvents(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: xzwallet events <task-id>")
		return 2
	}
	events, err := a.service.ListTaskEvents(ctx, args[0], 100)
	if err != nil {
		return fail(err)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tFROM\tTO\tACTOR")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.EventType, e.StateFrom, e.StateTo, e.Actor)
	}
	w.Flush()
	return 0
}

func (a *app) runBalance(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: xzwallet balance <principal>")
		return 2
	}
	principal := args[0]

	balance, err := a.service.BalanceOf(ctx, principal)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("balance   %s\n", balance)

	p, err := a.service.GetPrincipal(ctx, principal)
	if err != nil {
		// Principal may hold funds without ever touching a task.
		return 0
	}
	fmt.Printf("credit    %d\n", p.CreditScore)
	fmt.Printf("completed %d tasks, cancelled %d\n", p.TasksCompleted, p.TasksCancelled)
	return 0
}

func (a *app) runHistory(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: xzwallet history <principal>")
		return 2
	}
	entries, err := a.service.CreditHistory(ctx, args[0], 100)
	if err != nil {
		return fail(err)
	}
	if len(entries) == 0 {
		fmt.Println("no credit history")
		return 0
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCHANGE\tSCORE\tREASON\tTASK")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%+d\t%d\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04"), e.Change, e.AfterScore, e.Reason, shortID(e.TaskID))
	}
	w.Flush()
	return 0
}

// formatShares renders the absolute milestone amounts of a task.
func formatShares(s escrow.Shares) string {
	return fmt.Sprintf("design %s / implementation %s / final %s",
		s.Design, s.Implementation, s.Final)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
