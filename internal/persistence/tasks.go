package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/x-zero2026/xz-wallet-contract/internal/bus"
	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
	"github.com/x-zero2026/xz-wallet-contract/internal/shared"
)

// TaskEvent is one row of the append-only per-task event log.
type TaskEvent struct {
	EventID   int64     `json:"event_id"`
	TaskID    string    `json:"task_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	EventType string    `json:"event_type"`
	StateFrom string    `json:"state_from,omitempty"`
	StateTo   string    `json:"state_to"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	Creator    string
	Executor   string
	Bidder     string
	Status     escrow.Status
	Visibility string
	ProjectID  string
	Limit      int
}

// TaskWithBids is a task joined with its pending bid count, for listings.
type TaskWithBids struct {
	escrow.Task
	PendingBids int `json:"pending_bids"`
}

// CreateTask inserts a new task in pending status. The caller has already
// validated amounts and shares; the task's creator principal is created on
// demand so first-time creators do not need a separate registration step.
func (s *Store) CreateTask(ctx context.Context, t *escrow.Task) error {
	if t.TaskID == "" {
		t.TaskID = uuid.NewString()
	}
	t.Status = escrow.StatusPending
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create task tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := ensurePrincipalTx(ctx, tx, t.Creator, ""); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (
				id, project_id, creator, name, description, acceptance_criteria,
				visibility, tags, total_amount, paid_amount,
				share_design, share_implementation, share_final,
				status, created_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '0', ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, t.TaskID, t.ProjectID, t.Creator, t.Name, t.Description, t.AcceptanceCriteria,
			t.Visibility, strings.Join(t.Tags, ","), t.TotalAmount.String(),
			t.Shares.Design.String(), t.Shares.Implementation.String(), t.Shares.Final.String(),
			escrow.StatusPending); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		if err := s.appendTaskEventTx(ctx, tx, t.TaskID, "task.created", "", string(escrow.StatusPending),
			fmt.Sprintf(`{"total_amount":%q}`, t.TotalAmount.String())); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit create task tx: %w", err)
		}
		s.publish(bus.TopicTaskCreated, bus.TaskStateChangedEvent{
			TaskID:    t.TaskID,
			Actor:     t.Creator,
			NewStatus: string(escrow.StatusPending),
		})
		return nil
	})
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*escrow.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?;`, taskID)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", escrow.ErrNotFound, taskID)
	}
	return t, err
}

func getTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (*escrow.Task, error) {
	row := tx.QueryRowContext(ctx, taskSelect+` WHERE id = ?;`, taskID)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", escrow.ErrNotFound, taskID)
	}
	return t, err
}

const taskSelect = `
	SELECT id, project_id, creator, COALESCE(executor, ''), name, description,
		acceptance_criteria, visibility, tags, total_amount, paid_amount,
		share_design, share_implementation, share_final,
		status, cancelled, created_at, updated_at, completed_at, cancelled_at
	FROM tasks`

func scanTask(scan func(dest ...any) error) (*escrow.Task, error) {
	var t escrow.Task
	var tags, total, paid, shareD, shareI, shareF string
	var cancelled int
	var completedAt, cancelledAt sql.NullTime
	if err := scan(
		&t.TaskID, &t.ProjectID, &t.Creator, &t.Executor, &t.Name, &t.Description,
		&t.AcceptanceCriteria, &t.Visibility, &tags, &total, &paid,
		&shareD, &shareI, &shareF,
		&t.Status, &cancelled, &t.CreatedAt, &t.UpdatedAt, &completedAt, &cancelledAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	var err error
	if t.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total_amount %q: %w", total, err)
	}
	if t.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return nil, fmt.Errorf("parse paid_amount %q: %w", paid, err)
	}
	if t.Shares.Design, err = decimal.NewFromString(shareD); err != nil {
		return nil, fmt.Errorf("parse share_design %q: %w", shareD, err)
	}
	if t.Shares.Implementation, err = decimal.NewFromString(shareI); err != nil {
		return nil, fmt.Errorf("parse share_implementation %q: %w", shareI, err)
	}
	if t.Shares.Final, err = decimal.NewFromString(shareF); err != nil {
		return nil, fmt.Errorf("parse share_final %q: %w", shareF, err)
	}
	if tags != "" {
		t.Tags = strings.Split(tags, ",")
	}
	t.Cancelled = cancelled != 0
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	if cancelledAt.Valid {
		ts := cancelledAt.Time
		t.CancelledAt = &ts
	}
	return &t, nil
}

// ListTasks returns tasks matching the filter, newest first, each with its
// pending bid count.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]TaskWithBids, error) {
	var where []string
	var args []any
	if f.Creator != "" {
		where = append(where, "t.creator = ?")
		args = append(args, f.Creator)
	}
	if f.Executor != "" {
		where = append(where, "t.executor = ?")
		args = append(args, f.Executor)
	}
	if f.Bidder != "" {
		where = append(where, "t.id IN (SELECT task_id FROM task_bids WHERE bidder = ?)")
		args = append(args, f.Bidder)
	}
	if f.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, f.Status)
	}
	if f.Visibility != "" {
		where = append(where, "t.visibility = ?")
		args = append(args, f.Visibility)
	}
	if f.ProjectID != "" {
		where = append(where, "t.project_id = ?")
		args = append(args, f.ProjectID)
	}
	query := `
		SELECT t.id, t.project_id, t.creator, COALESCE(t.executor, ''), t.name, t.description,
			t.acceptance_criteria, t.visibility, t.tags, t.total_amount, t.paid_amount,
			t.share_design, t.share_implementation, t.share_final,
			t.status, t.cancelled, t.created_at, t.updated_at, t.completed_at, t.cancelled_at,
			(SELECT COUNT(*) FROM task_bids b WHERE b.task_id = t.id AND b.status = 'pending')
		FROM tasks t`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.created_at DESC, t.id DESC"
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskWithBids
	for rows.Next() {
		var item TaskWithBids
		t, err := scanTask(func(dest ...any) error {
			dest = append(dest, &item.PendingBids)
			return rows.Scan(dest...)
		})
		if err != nil {
			return nil, err
		}
		item.Task = *t
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task rows: %w", err)
	}
	return out, nil
}

// TransitionTask applies one status edge with a compare-and-set on the current
// status. The edge is validated against the transition table inside the same
// transaction, so two racing callers cannot both win.
func (s *Store) TransitionTask(ctx context.Context, taskID string, from, to escrow.Status, eventType, payload string) error {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		t, err := getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := escrow.CheckTransition(t, from, to); err != nil {
			return err
		}
		if _, err := s.casStatusTx(ctx, tx, taskID, from, to); err != nil {
			return err
		}
		if err := s.appendTaskEventTx(ctx, tx, taskID, eventType, string(from), string(to), payload); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transition tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:    taskID,
		Actor:     shared.Actor(ctx),
		OldStatus: string(from),
		NewStatus: string(to),
	})
	return nil
}

// casStatusTx updates the status only when the row still carries from. A zero
// row count means a concurrent writer got there first.
func (s *Store) casStatusTx(ctx context.Context, tx *sql.Tx, taskID string, from, to escrow.Status) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?;
	`, to, taskID, from)
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	if n != 1 {
		return false, fmt.Errorf("%w: task %s left state %s concurrently", escrow.ErrIllegalTransition, taskID, from)
	}
	return true, nil
}

// CancelTask terminates the task: CAS to cancelled, settle bookkeeping
// columns, apply the quit penalty and count the cancellation against the
// actor. Fund movements happened before this commit; paid stays as disbursed.
func (s *Store) CancelTask(ctx context.Context, taskID string, from escrow.Status, actor string, penalty int) error {
	var executor string
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cancel tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		t, err := getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := escrow.CheckTransition(t, from, escrow.StatusCancelled); err != nil {
			return err
		}
		executor = t.Executor
		if _, err := s.casStatusTx(ctx, tx, taskID, from, escrow.StatusCancelled); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET cancelled = 1, cancelled_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, taskID); err != nil {
			return fmt.Errorf("mark task cancelled: %w", err)
		}
		if penalty > 0 && executor != "" {
			if err := s.adjustCreditTx(ctx, tx, executor, taskID, -penalty, "quit_penalty"); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE principals SET tasks_cancelled = tasks_cancelled + 1 WHERE id = ?;
		`, actor); err != nil {
			return fmt.Errorf("count cancellation: %w", err)
		}
		if err := s.appendTaskEventTx(ctx, tx, taskID, "task.cancelled", string(from), string(escrow.StatusCancelled),
			fmt.Sprintf(`{"actor":%q,"penalty":%d}`, actor, penalty)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit cancel tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicTaskCancelled, bus.TaskStateChangedEvent{
		TaskID:    taskID,
		Actor:     actor,
		OldStatus: string(from),
		NewStatus: string(escrow.StatusCancelled),
	})
	if penalty > 0 && executor != "" {
		s.publish(bus.TopicReputationAdjusted, bus.ReputationEvent{
			Principal: executor,
			TaskID:    taskID,
			Change:    -penalty,
			Reason:    "quit_penalty",
		})
	}
	return nil
}

// ListTaskEvents returns the task's event log in append order.
func (s *Store) ListTaskEvents(ctx context.Context, taskID string, limit int) ([]TaskEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, task_id, COALESCE(trace_id, ''), COALESCE(actor, ''),
			event_type, COALESCE(state_from, ''), state_to, payload_json, created_at
		FROM task_events
		WHERE task_id = ?
		ORDER BY event_id ASC
		LIMIT ?;
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	var out []TaskEvent
	for rows.Next() {
		var ev TaskEvent
		if err := rows.Scan(&ev.EventID, &ev.TaskID, &ev.TraceID, &ev.Actor,
			&ev.EventType, &ev.StateFrom, &ev.StateTo, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task event rows: %w", err)
	}
	return out, nil
}
