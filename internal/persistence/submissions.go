package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/x-zero2026/xz-wallet-contract/internal/bus"
	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
)

// CreateSubmission files a milestone deliverable and advances the task to the
// milestone's submitted status in the same transaction.
func (s *Store) CreateSubmission(ctx context.Context, sub *escrow.Submission) error {
	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.NewString()
	}
	sub.Status = escrow.SubmissionPending
	from, to, err := escrow.SubmitStates(sub.Milestone)
	if err != nil {
		return err
	}
	err = retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin submission tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		t, err := getTaskTx(ctx, tx, sub.TaskID)
		if err != nil {
			return err
		}
		if err := escrow.CheckTransition(t, from, to); err != nil {
			return err
		}
		if _, err := s.casStatusTx(ctx, tx, sub.TaskID, from, to); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_submissions (id, task_id, milestone, content, status, submitted_at)
			VALUES (?, ?, ?, ?, 'pending', CURRENT_TIMESTAMP);
		`, sub.SubmissionID, sub.TaskID, sub.Milestone, sub.Content); err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		if err := s.appendTaskEventTx(ctx, tx, sub.TaskID, "milestone.submitted", string(from), string(to),
			fmt.Sprintf(`{"milestone":%q}`, sub.Milestone)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit submission tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:    sub.TaskID,
		OldStatus: string(from),
		NewStatus: string(to),
	})
	return nil
}

// LatestPendingSubmission returns the newest pending submission for the
// milestone, the one a review decision applies to.
func (s *Store) LatestPendingSubmission(ctx context.Context, taskID string, m escrow.Milestone) (*escrow.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, milestone, content, status, rejection_reason, submitted_at, reviewed_at
		FROM task_submissions
		WHERE task_id = ? AND milestone = ? AND status = 'pending'
		ORDER BY submitted_at DESC, id DESC
		LIMIT 1;
	`, taskID, m)
	return scanSubmission(row.Scan)
}

func scanSubmission(scan func(dest ...any) error) (*escrow.Submission, error) {
	var sub escrow.Submission
	var reviewedAt sql.NullTime
	if err := scan(&sub.SubmissionID, &sub.TaskID, &sub.Milestone, &sub.Content,
		&sub.Status, &sub.RejectionReason, &sub.SubmittedAt, &reviewedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: pending submission", escrow.ErrNotFound)
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	if reviewedAt.Valid {
		ts := reviewedAt.Time
		sub.ReviewedAt = &ts
	}
	return &sub, nil
}

// ListSubmissions returns the task's full submission log, oldest first.
func (s *Store) ListSubmissions(ctx context.Context, taskID string) ([]escrow.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, milestone, content, status, rejection_reason, submitted_at, reviewed_at
		FROM task_submissions
		WHERE task_id = ?
		ORDER BY submitted_at ASC, id ASC;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []escrow.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("submission rows: %w", err)
	}
	return out, nil
}

// ApproveSubmission records an approved milestone: the task advances to the
// approved status, paid_amount is raised to newPaid, and the submission row is
// stamped. Approving the final milestone completes the task and rewards the
// executor. The escrowed funds moved before this commit.
func (s *Store) ApproveSubmission(ctx context.Context, taskID, submissionID string, m escrow.Milestone, newPaid decimal.Decimal) error {
	submitted, approved, _, err := escrow.ReviewStates(m)
	if err != nil {
		return err
	}
	var executor string
	completed := m == escrow.MilestoneFinal
	err = retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin approve tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		t, err := getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := escrow.CheckTransition(t, submitted, approved); err != nil {
			return err
		}
		if newPaid.LessThan(t.PaidAmount) || newPaid.GreaterThan(t.TotalAmount) {
			return fmt.Errorf("%w: paid %s -> %s outside [%s, %s]",
				escrow.ErrInvariantViolation, t.PaidAmount, newPaid, t.PaidAmount, t.TotalAmount)
		}
		executor = t.Executor

		if _, err := s.casStatusTx(ctx, tx, taskID, submitted, approved); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET paid_amount = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, newPaid.String(), taskID); err != nil {
			return fmt.Errorf("update paid amount: %w", err)
		}
		if err := markSubmissionTx(ctx, tx, submissionID, escrow.SubmissionApproved, ""); err != nil {
			return err
		}
		if completed {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
			`, taskID); err != nil {
				return fmt.Errorf("stamp completion: %w", err)
			}
			if err := s.adjustCreditTx(ctx, tx, executor, taskID, escrow.CompletionReward, "task_completed"); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE principals SET tasks_completed = tasks_completed + 1 WHERE id = ?;
			`, executor); err != nil {
				return fmt.Errorf("count completion: %w", err)
			}
		}
		if err := s.appendTaskEventTx(ctx, tx, taskID, "milestone.approved", string(submitted), string(approved),
			fmt.Sprintf(`{"milestone":%q,"paid_amount":%q}`, m, newPaid.String())); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit approve tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:    taskID,
		OldStatus: string(submitted),
		NewStatus: string(approved),
	})
	if completed {
		s.publish(bus.TopicTaskCompleted, bus.TaskStateChangedEvent{
			TaskID:    taskID,
			NewStatus: string(escrow.StatusCompleted),
		})
		s.publish(bus.TopicReputationAdjusted, bus.ReputationEvent{
			Principal: executor,
			TaskID:    taskID,
			Change:    escrow.CompletionReward,
			Reason:    "task_completed",
		})
	}
	return nil
}

// RejectSubmission steps the task back to the milestone's predecessor status
// and closes the submission with the reviewer's reason. No funds move; the
// executor may submit again.
func (s *Store) RejectSubmission(ctx context.Context, taskID, submissionID string, m escrow.Milestone, reason string) error {
	submitted, _, rejected, err := escrow.ReviewStates(m)
	if err != nil {
		return err
	}
	err = retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin reject tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		t, err := getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := escrow.CheckTransition(t, submitted, rejected); err != nil {
			return err
		}
		if _, err := s.casStatusTx(ctx, tx, taskID, submitted, rejected); err != nil {
			return err
		}
		if err := markSubmissionTx(ctx, tx, submissionID, escrow.SubmissionRejected, reason); err != nil {
			return err
		}
		if err := s.appendTaskEventTx(ctx, tx, taskID, "milestone.rejected", string(submitted), string(rejected),
			fmt.Sprintf(`{"milestone":%q}`, m)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit reject tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:    taskID,
		OldStatus: string(submitted),
		NewStatus: string(rejected),
	})
	return nil
}

func markSubmissionTx(ctx context.Context, tx *sql.Tx, submissionID string, status escrow.SubmissionStatus, reason string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE task_submissions
		SET status = ?, rejection_reason = ?, reviewed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending';
	`, status, reason, submissionID)
	if err != nil {
		return fmt.Errorf("mark submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark submission rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: pending submission %s", escrow.ErrNotFound, submissionID)
	}
	return nil
}
