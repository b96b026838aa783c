package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/x-zero2026/xz-wallet-contract/internal/bus"
	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
)

// EnsurePrincipal creates the principal if it does not exist yet. Existing
// rows keep their score and counters; only an empty display name is filled in.
func (s *Store) EnsurePrincipal(ctx context.Context, id, displayName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ensure principal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := ensurePrincipalTx(ctx, tx, id, displayName); err != nil {
		return err
	}
	return tx.Commit()
}

func ensurePrincipalTx(ctx context.Context, tx *sql.Tx, id, displayName string) error {
	if id == "" {
		return fmt.Errorf("%w: empty principal id", escrow.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO principals (id, display_name, created_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN principals.display_name = '' THEN excluded.display_name ELSE principals.display_name END;
	`, id, displayName); err != nil {
		return fmt.Errorf("ensure principal %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*escrow.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, credit_score, tasks_completed, tasks_cancelled, created_at
		FROM principals
		WHERE id = ?;
	`, id)
	var p escrow.Principal
	if err := row.Scan(&p.ID, &p.DisplayName, &p.CreditScore, &p.TasksCompleted, &p.TasksCancelled, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: principal %s", escrow.ErrNotFound, id)
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}
	return &p, nil
}

// AdjustCredit applies a reputation change outside a lifecycle transaction,
// appending the history row atomically with the score update.
func (s *Store) AdjustCredit(ctx context.Context, principal, taskID string, change int, reason string) error {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin credit tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := s.adjustCreditTx(ctx, tx, principal, taskID, change, reason); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicReputationAdjusted, bus.ReputationEvent{
		Principal: principal,
		TaskID:    taskID,
		Change:    change,
		Reason:    reason,
	})
	return nil
}

// adjustCreditTx moves the score and appends the credit_history row inside an
// open transaction. Scores may go negative; a negative score only gates bidding.
func (s *Store) adjustCreditTx(ctx context.Context, tx *sql.Tx, principal, taskID string, change int, reason string) error {
	var before int
	if err := tx.QueryRowContext(ctx, `SELECT credit_score FROM principals WHERE id = ?;`, principal).Scan(&before); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: principal %s", escrow.ErrNotFound, principal)
		}
		return fmt.Errorf("read credit score: %w", err)
	}
	after := before + change
	if _, err := tx.ExecContext(ctx, `
		UPDATE principals SET credit_score = ? WHERE id = ?;
	`, after, principal); err != nil {
		return fmt.Errorf("update credit score: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_history (id, principal, task_id, change, reason, before_score, after_score, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, uuid.NewString(), principal, taskID, change, reason, before, after); err != nil {
		return fmt.Errorf("insert credit history: %w", err)
	}
	return nil
}

// ListCreditHistory returns the principal's reputation adjustments, newest
// first.
func (s *Store) ListCreditHistory(ctx context.Context, principal string, limit int) ([]escrow.CreditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, principal, COALESCE(task_id, ''), change, reason, before_score, after_score, created_at
		FROM credit_history
		WHERE principal = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?;
	`, principal, limit)
	if err != nil {
		return nil, fmt.Errorf("query credit history: %w", err)
	}
	defer rows.Close()

	var out []escrow.CreditEntry
	for rows.Next() {
		var e escrow.CreditEntry
		if err := rows.Scan(&e.EntryID, &e.Principal, &e.TaskID, &e.Change, &e.Reason, &e.BeforeScore, &e.AfterScore, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credit history rows: %w", err)
	}
	return out, nil
}
