// Package escrow defines the task escrow data model: tasks, bids, milestone
// submissions, the lifecycle status enumeration with its transition table, and
// the pure settlement arithmetic that decides how escrowed funds move on each
// transition. It holds no I/O; persistence and ledger access live elsewhere.
package escrow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is a task lifecycle state. Statuses form a single forward chain from
// pending to completed, with reject edges stepping each *_submitted state back
// to its predecessor and cancelled reachable from every non-terminal state.
type Status string

const (
	StatusPending                 Status = "pending"
	StatusBidding                 Status = "bidding"
	StatusAccepted                Status = "accepted"
	StatusDesignSubmitted         Status = "design_submitted"
	StatusDesignApproved          Status = "design_approved"
	StatusImplementationSubmitted Status = "implementation_submitted"
	StatusImplementationApproved  Status = "implementation_approved"
	StatusFinalSubmitted          Status = "final_submitted"
	StatusCompleted               Status = "completed"
	StatusCancelled               Status = "cancelled"
)

// Milestone is one of the three paid work stages.
type Milestone string

const (
	MilestoneDesign         Milestone = "design"
	MilestoneImplementation Milestone = "implementation"
	MilestoneFinal          Milestone = "final"
)

// Milestones lists the milestones in schedule order.
var Milestones = []Milestone{MilestoneDesign, MilestoneImplementation, MilestoneFinal}

// BidStatus tracks a bid through the pool.
type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusAccepted BidStatus = "accepted"
	BidStatusRejected BidStatus = "rejected"
	BidStatusExpired  BidStatus = "expired"
)

// SubmissionStatus tracks a milestone deliverable through review.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Task visibility scopes.
const (
	VisibilityProject = "project"
	VisibilityGlobal  = "global"
)

// Task is the aggregate root of one escrow agreement. TotalAmount and Shares
// are fixed at creation; PaidAmount is monotonically non-decreasing while the
// task is active and 0 <= PaidAmount <= TotalAmount at all times.
type Task struct {
	TaskID             string          `json:"task_id"`
	ProjectID          string          `json:"project_id,omitempty"`
	Creator            string          `json:"creator"`
	Executor           string          `json:"executor,omitempty"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	AcceptanceCriteria string          `json:"acceptance_criteria,omitempty"`
	Visibility         string          `json:"visibility"`
	Tags               []string        `json:"tags,omitempty"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
	Shares             Shares          `json:"shares"`
	Status             Status          `json:"status"`
	Cancelled          bool            `json:"cancelled"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
}

// Remaining returns the amount still locked in escrow for the task.
func (t *Task) Remaining() decimal.Decimal {
	return t.TotalAmount.Sub(t.PaidAmount)
}

// Bid is one principal's pending application against a task. A bidder holds at
// most one active bid per task; re-bidding updates the existing row. Bids
// survive selection for audit but become inert.
type Bid struct {
	BidID          string    `json:"bid_id"`
	TaskID         string    `json:"task_id"`
	Bidder         string    `json:"bidder"`
	Message        string    `json:"message,omitempty"`
	CreditSnapshot int       `json:"credit_snapshot"`
	Status         BidStatus `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Submission is one milestone deliverable. The submission log is append-only:
// a rejected submission never mutates back to pending, the executor files a
// new one for the same milestone instead.
type Submission struct {
	SubmissionID    string           `json:"submission_id"`
	TaskID          string           `json:"task_id"`
	Milestone       Milestone        `json:"milestone"`
	Content         string           `json:"content"`
	Status          SubmissionStatus `json:"status"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`
}

// Principal is any party able to hold a ledger balance and a reputation score.
type Principal struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name,omitempty"`
	CreditScore    int       `json:"credit_score"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksCancelled int       `json:"tasks_cancelled"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreditEntry is one append-only reputation adjustment.
type CreditEntry struct {
	EntryID     string    `json:"entry_id"`
	Principal   string    `json:"principal"`
	TaskID      string    `json:"task_id,omitempty"`
	Change      int       `json:"change"`
	Reason      string    `json:"reason"`
	BeforeScore int       `json:"before_score"`
	AfterScore  int       `json:"after_score"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidMilestone reports whether m names a known milestone.
func ValidMilestone(m Milestone) bool {
	switch m {
	case MilestoneDesign, MilestoneImplementation, MilestoneFinal:
		return true
	}
	return false
}

// ValidVisibility reports whether v is a known visibility scope.
func ValidVisibility(v string) bool {
	return v == VisibilityProject || v == VisibilityGlobal
}
