// Package lifecycle orchestrates escrow operations end to end: role checks,
// settlement arithmetic, the external ledger call, then the transactional
// commit. The ledger moves funds before the database records the transition,
// and every ledger call carries an idempotent ref, so a crash between the two
// is healed by replaying the operation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/x-zero2026/xz-wallet-contract/internal/audit"
	"github.com/x-zero2026/xz-wallet-contract/internal/bus"
	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
	"github.com/x-zero2026/xz-wallet-contract/internal/ledger"
	"github.com/x-zero2026/xz-wallet-contract/internal/otel"
	"github.com/x-zero2026/xz-wallet-contract/internal/persistence"
	"github.com/x-zero2026/xz-wallet-contract/internal/shared"
)

// Service wires the store and the ledger into the public escrow operations.
type Service struct {
	store   *persistence.Store
	ledger  ledger.Ledger
	logger  *slog.Logger
	metrics *otel.Metrics
	events  *bus.Bus
	locks   *taskLocks
}

func New(store *persistence.Store, l ledger.Ledger, logger *slog.Logger, metrics *otel.Metrics, events *bus.Bus) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		ledger:  l,
		logger:  logger,
		metrics: metrics,
		events:  events,
		locks:   newTaskLocks(),
	}
}

// publishEscrow announces a fund movement after the ledger accepted it.
func (s *Service) publishEscrow(topic string, ref ledger.Ref, principal string, amount decimal.Decimal) {
	if s.events == nil {
		return
	}
	s.events.Publish(topic, bus.EscrowEvent{
		TaskID:    ref.TaskID,
		Ref:       ref.String(),
		Principal: principal,
		Amount:    amount.String(),
		Milestone: ref.Milestone,
	})
}

// CreateTaskRequest carries the caller-supplied task parameters. Zero bps
// fields fall back to the default 30/50/20 schedule.
type CreateTaskRequest struct {
	Creator            string
	ProjectID          string
	Name               string
	Description        string
	AcceptanceCriteria string
	Visibility         string
	Tags               []string
	TotalAmount        decimal.Decimal
	DesignBps          int
	ImplementationBps  int
	FinalBps           int
}

// CreateTask locks the full amount in escrow and records the task in pending
// status. The lock happens first; if the record cannot be written the lock is
// compensated with a refund before the error surfaces.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*escrow.Task, error) {
	if req.Creator == "" || req.Name == "" {
		return nil, fmt.Errorf("%w: creator and name are required", escrow.ErrInvalidAmount)
	}
	if !req.TotalAmount.IsPositive() {
		return nil, s.reject(ctx, fmt.Errorf("%w: total amount %s must be positive", escrow.ErrInvalidAmount, req.TotalAmount))
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = escrow.VisibilityProject
	}
	if !escrow.ValidVisibility(visibility) {
		return nil, s.reject(ctx, fmt.Errorf("%w: unknown visibility %q", escrow.ErrInvalidAmount, visibility))
	}

	var shares escrow.Shares
	var err error
	if req.DesignBps == 0 && req.ImplementationBps == 0 && req.FinalBps == 0 {
		shares, err = escrow.DefaultShares(req.TotalAmount)
	} else {
		shares, err = escrow.SplitByBps(req.TotalAmount, req.DesignBps, req.ImplementationBps, req.FinalBps)
	}
	if err != nil {
		return nil, s.reject(ctx, err)
	}

	task := &escrow.Task{
		ProjectID:          req.ProjectID,
		Creator:            req.Creator,
		Name:               req.Name,
		Description:        req.Description,
		AcceptanceCriteria: req.AcceptanceCriteria,
		Visibility:         visibility,
		Tags:               req.Tags,
		TotalAmount:        req.TotalAmount,
		PaidAmount:         decimal.Zero,
		Shares:             shares,
	}

	ctx = shared.EnsureTraceID(shared.WithActor(ctx, req.Creator))
	if err := s.ledger.Lock(ctx, req.Creator, req.TotalAmount, ledger.LockRef(taskIDFor(task))); err != nil {
		return nil, s.mapLedgerErr(ctx, "lock", err)
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		// Compensate the lock; the refund ref makes the compensation itself
		// replay-safe.
		if rerr := s.ledger.RefundLocked(ctx, ledger.RefundRef(task.TaskID), req.Creator, req.TotalAmount); rerr != nil {
			s.logger.Error("compensating refund failed", "task_id", task.TaskID, "error", rerr)
		} else {
			s.publishEscrow(bus.TopicEscrowRefunded, ledger.RefundRef(task.TaskID), req.Creator, req.TotalAmount)
		}
		return nil, err
	}

	s.publishEscrow(bus.TopicEscrowLocked, ledger.LockRef(task.TaskID), req.Creator, req.TotalAmount)
	s.count(s.metricsOrNil().EscrowLocked, ctx, req.TotalAmount)
	s.add(s.metricsOrNil().ActiveTasks, ctx, 1)
	audit.Record(ctx, "task.create", task.TaskID, req.Creator, fmt.Sprintf("locked %s", req.TotalAmount))
	s.logger.Info("task created",
		"task_id", task.TaskID, "creator", req.Creator,
		"total_amount", req.TotalAmount.String(), "trace_id", shared.TraceID(ctx))
	return task, nil
}

// taskIDFor assigns the task id early so the escrow lock ref and the database
// row share it.
func taskIDFor(t *escrow.Task) string {
	if t.TaskID == "" {
		t.TaskID = newTaskID()
	}
	return t.TaskID
}

// Publish opens the task for bidding. Creator only.
func (s *Service) Publish(ctx context.Context, taskID, actor string) error {
	ctx = shared.EnsureTraceID(shared.WithActor(ctx, actor))
	unlock := s.locks.lock(taskID)
	defer unlock()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := escrow.RequireCreator(t, actor); err != nil {
		return s.reject(ctx, err)
	}
	if err := s.store.TransitionTask(ctx, taskID, escrow.StatusPending, escrow.StatusBidding, "task.published", ""); err != nil {
		return s.reject(ctx, err)
	}
	s.count1(s.metricsOrNil().Transitions, ctx)
	audit.Record(ctx, "task.publish", taskID, actor, "")
	s.logger.Info("task published", "task_id", taskID, "trace_id", shared.TraceID(ctx))
	return nil
}

// PlaceBid files or refreshes a bid. The creator cannot bid on their own
// task, and a principal with a negative credit score is barred from bidding.
func (s *Service) PlaceBid(ctx context.Context, taskID, bidder, message string) (*escrow.Bid, error) {
	ctx = shared.EnsureTraceID(shared.WithActor(ctx, bidder))
	unlock := s.locks.lock(taskID)
	defer unlock()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if bidder == t.Creator {
		return nil, s.reject(ctx, fmt.Errorf("%w: creator cannot bid on own task %s", escrow.ErrIllegalTransition, taskID))
	}
	if err := s.store.EnsurePrincipal(ctx, bidder, ""); err != nil {
		return nil, err
	}
	p, err := s.store.GetPrincipal(ctx, bidder)
	if err != nil {
		return nil, err
	}
	if p.CreditScore < 0 {
		return nil, s.reject(ctx, fmt.Errorf("%w: bidder %s has credit score %d, bidding requires a non-negative score",
			escrow.ErrIllegalTransition, bidder, p.CreditScore))
	}

	bid := &escrow.Bid{
		TaskID:         taskID,
		Bidder:         bidder,
		Message:        message,
		CreditSnapshot: p.CreditScore,
	}
	if err := s.store.UpsertBid(ctx, bid); err != nil {
		return nil, s.reject(ctx, err)
	}
	s.count1(s.metricsOrNil().BidsPlaced, ctx)
	audit.Record(ctx, "bid.place", taskID, bidder, "")
	s.logger.Info("bid placed", "task_id", taskID, "bidder", bidder, "trace_id", shared.TraceID(ctx))
	return bid, nil
}

// SelectBidder accepts one bid and moves the task to accepted. Creator only.
func (s *Service) SelectBidder(ctx context.Context, taskID, actor, bidder string) error {
	ctx = shared.EnsureTraceID(shared.WithActor(ctx, actor))
	unlock := s.locks.lock(taskID)
	defer unlock()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := escrow.RequireCreator(t, actor); err != nil {
		return s.reject(ctx, err)
	}
	if err := s.store.SelectBidder(ctx, taskID, bidder); err != nil {
		return s.reject(ctx, err)
	}
	s.count1(s.metricsOrNil().Transitions, ctx)
	audit.Record(ctx, "bid.select", taskID, actor, fmt.Sprintf("executor %s", bidder))
	s.logger.Info("bidder selected", "task_id", taskID, "executor", bidder, "trace_id", shared.TraceID(ctx))
	return nil
}

// SubmitMilestone files a deliverable for the milestone. Executor only.
func (s *Service) SubmitMilestone(ctx context.Context, taskID, actor string, m escrow.Milestone, content string) (*escrow.Submission, error) {
	ctx = shared.EnsureTraceID(shared.WithActor(ctx, actor))
	unlock := s.locks.lock(taskID)
	defer unlock()

	if !escrow.ValidMilestone(m) {
		return nil, s.reject(ctx, fmt.Errorf("%w: unknown milestone %q", escrow.ErrIllegalTransition, m))
	}
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := escrow.RequireExecutor(t, actor); err != nil {
		return nil, s.reject(ctx, err)
	}
	sub := &escrow.Submission{TaskID: taskID, Milestone: m, Content: content}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, s.reject(ctx, err)
	}
	s.count1(s.metricsOrNil().Transitions, ctx)
	audit.Record(ctx, "milestone.submit", taskID, actor, string(m))
	s.logger.Info("milestone submitted", "task_id", taskID, "milestone", m, "trace_id", shared.TraceID(ctx))
	return sub, nil
}

// ApproveMilestone releases the milestone's share to the executor and
// advances the task. Approving final releases whatever remains in escrow and
// completes the task. Creator only.
func (s *Service) ApproveMilestone(ctx context.Context, taskID, actor string, m escrow.Milestone) error {
	ctx = shared.EnsureTraceID(shared.WithActor(ctx, actor))
	unlock := s.locks.lock(taskID)
	defer unlock()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := escrow.RequireCreator(t, actor); err != nil {
		return s.reject(ctx, err)
	}
	submitted, approved, _, err := escrow.ReviewStates(m)
	if err != nil {
		return s.reject(ctx, err)
	}
	if err := escrow.CheckTransition(t, submitted, approved); err != nil {
		return s.reject(ctx, err)
	}
	sub, err := s.store.LatestPendingSubmission(ctx, taskID, m)
	if err != nil {
		return s.reject(ctx, err)
	}
	amount, err := escrow.ReleaseAmount(t, m)
	if err != nil {
		return s.reject(ctx, err)
	}
	newPaid := t.PaidAmount.Add(amount)

	if err := s.ledger.ReleaseLocked(ctx, ledger.ReleaseRef(taskID, string(m)), t.Executor, amount); err != nil {
		return s.mapLedgerErr(ctx, "release", err)
	}
	if err := s.store.ApproveSubmission(ctx, taskID, sub.SubmissionID, m, newPaid); err != nil {
		return s.reject(ctx, err)
	}

	s.publishEscrow(bus.TopicEscrowReleased, ledger.ReleaseRef(taskID, string(m)), t.Executor, amount)
	s.count1(s.metricsOrNil().Transitions, ctx)
	s.count(s.metricsOrNil().EscrowReleased, ctx, amount)
	if m == escrow.MilestoneFinal {
		s.add(s.metricsOrNil().ActiveTasks, ctx, -1)
	}
	audit.Record(ctx, "milestone.approve", taskID, actor, fmt.Sprintf("%s released %s", m, amount))
	s.logger.Info("milestone approved",
		"task_id", taskID, "milestone", m, "released", amount.String(),
		"paid_amount", newPaid.String(), "trace_id", shared.TraceID(ctx))
	return nil
}

// RejectMilestone steps the task back for rework. Creator only; no funds move.
func (s *Service) RejectMilestone(ctx context.Context, taskID, actor string, m escrow.Milestone, reason string) error {
	ctx = shared.EnsureTraceID(shared.WithActor(ctx, actor))
	unlock := s.locks.lock(taskID)
	defer unlock()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := escrow.RequireCreator(t, actor); err != nil {
		return s.reject(ctx, err)
	}
	sub, err := s.store.LatestPendingSubmission(ctx, taskID, m)
	if err != nil {
		return s.reject(ctx, err)
	}
	if err := s.store.RejectSubmission(ctx, taskID, sub.SubmissionID, m, reason); err != nil {
		return s.reject(ctx, err)
	}
	s.count1(s.metricsOrNil().Transitions, ctx)
	audit.Record(ctx, "milestone.reject", taskID, actor, string(m))
	s.logger.Info("milestone rejected", "task_id", taskID, "milestone", m, "trace_id", shared.TraceID(ctx))
	return nil
}

// Cancel terminates the task from any non-terminal status. extra is
// additional compensation for the executor, granted by the creator on top of
// milestones already paid; the remainder of the escrow returns to the
// creator. An executor cancelling quits, settles with zero extra and takes
// the reputation penalty for the current status.
func (s *Service) Cancel(ctx context.Context, taskID, actor string, extra decimal.Decimal) error {
	ctx = shared.EnsureTraceID(shared.WithActor(ctx, actor))
	unlock := s.locks.lock(taskID)
	defer unlock()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := escrow.RequireParty(t, actor); err != nil {
		return s.reject(ctx, err)
	}
	if t.Cancelled || escrow.IsTerminal(t.Status) {
		return s.reject(ctx, fmt.Errorf("%w: task %s is %s", escrow.ErrAlreadyTerminal, taskID, t.Status))
	}
	settlement, err := escrow.CancelSettlement(t, actor, extra)
	if err != nil {
		return s.reject(ctx, err)
	}

	if settlement.ExecutorExtra.IsPositive() {
		if err := s.ledger.ReleaseLocked(ctx, ledger.CompRef(taskID), t.Executor, settlement.ExecutorExtra); err != nil {
			return s.mapLedgerErr(ctx, "release extra", err)
		}
	}
	if settlement.CreatorRefund.IsPositive() {
		if err := s.ledger.RefundLocked(ctx, ledger.RefundRef(taskID), t.Creator, settlement.CreatorRefund); err != nil {
			return s.mapLedgerErr(ctx, "refund", err)
		}
	}
	if err := s.store.CancelTask(ctx, taskID, t.Status, actor, settlement.Penalty); err != nil {
		return s.reject(ctx, err)
	}

	if settlement.ExecutorExtra.IsPositive() {
		s.publishEscrow(bus.TopicEscrowReleased, ledger.CompRef(taskID), t.Executor, settlement.ExecutorExtra)
	}
	if settlement.CreatorRefund.IsPositive() {
		s.publishEscrow(bus.TopicEscrowRefunded, ledger.RefundRef(taskID), t.Creator, settlement.CreatorRefund)
	}
	s.count1(s.metricsOrNil().Transitions, ctx)
	s.count(s.metricsOrNil().EscrowRefunded, ctx, settlement.CreatorRefund)
	s.add(s.metricsOrNil().ActiveTasks, ctx, -1)
	audit.Record(ctx, "task.cancel", taskID, actor,
		fmt.Sprintf("refund %s extra %s penalty %d", settlement.CreatorRefund, settlement.ExecutorExtra, settlement.Penalty))
	s.logger.Info("task cancelled",
		"task_id", taskID, "actor", actor,
		"refund", settlement.CreatorRefund.String(),
		"executor_extra", settlement.ExecutorExtra.String(),
		"penalty", settlement.Penalty, "trace_id", shared.TraceID(ctx))
	return nil
}

// ExpireStaleBids sweeps pending bids older than ttl on still-bidding tasks.
func (s *Service) ExpireStaleBids(ctx context.Context, ttl time.Duration) (int, error) {
	ctx = shared.EnsureTraceID(ctx)
	expired, err := s.store.ExpireBids(ctx, time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	for _, b := range expired {
		audit.Record(ctx, "bid.expire", b.TaskID, b.Bidder, "")
	}
	if len(expired) > 0 {
		s.addN(s.metricsOrNil().BidsExpired, ctx, int64(len(expired)))
		s.logger.Info("stale bids expired", "count", len(expired), "trace_id", shared.TraceID(ctx))
	}
	return len(expired), nil
}

// GetTask returns the task by id.
func (s *Service) GetTask(ctx context.Context, taskID string) (*escrow.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

// ListTasks returns tasks matching the filter with pending bid counts.
func (s *Service) ListTasks(ctx context.Context, f persistence.TaskFilter) ([]persistence.TaskWithBids, error) {
	return s.store.ListTasks(ctx, f)
}

// ListBids returns the bid pool for a task.
func (s *Service) ListBids(ctx context.Context, taskID string) ([]escrow.Bid, error) {
	return s.store.ListBids(ctx, taskID)
}

// ListSubmissions returns the task's submission log.
func (s *Service) ListSubmissions(ctx context.Context, taskID string) ([]escrow.Submission, error) {
	return s.store.ListSubmissions(ctx, taskID)
}

// ListTaskEvents returns the task's event log.
func (s *Service) ListTaskEvents(ctx context.Context, taskID string, limit int) ([]persistence.TaskEvent, error) {
	return s.store.ListTaskEvents(ctx, taskID, limit)
}

// GetPrincipal returns a principal's profile and counters.
func (s *Service) GetPrincipal(ctx context.Context, id string) (*escrow.Principal, error) {
	return s.store.GetPrincipal(ctx, id)
}

// CreditHistory returns a principal's reputation adjustments.
func (s *Service) CreditHistory(ctx context.Context, principal string, limit int) ([]escrow.CreditEntry, error) {
	return s.store.ListCreditHistory(ctx, principal, limit)
}

// BalanceOf returns a principal's free ledger balance.
func (s *Service) BalanceOf(ctx context.Context, principal string) (decimal.Decimal, error) {
	return s.ledger.BalanceOf(ctx, principal)
}

// EscrowBalance returns the amount still held for a task.
func (s *Service) EscrowBalance(ctx context.Context, taskID string) (decimal.Decimal, error) {
	return s.ledger.LockedBalance(ctx, taskID)
}

// mapLedgerErr translates ledger failures into the lifecycle error taxonomy.
// Nothing was committed to the store when these surface.
func (s *Service) mapLedgerErr(ctx context.Context, op string, err error) error {
	s.count1(s.metricsOrNil().OperationErrors, ctx)
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		return fmt.Errorf("%w: %s: %v", escrow.ErrLedgerUnavailable, op, err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fmt.Errorf("%w: %s: %v", escrow.ErrInvalidAmount, op, err)
	case errors.Is(err, ledger.ErrInsufficientEscrow), errors.Is(err, ledger.ErrUnknownRef):
		return fmt.Errorf("%w: %s: %v", escrow.ErrInvariantViolation, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Service) reject(ctx context.Context, err error) error {
	s.count1(s.metricsOrNil().OperationErrors, ctx)
	return err
}
