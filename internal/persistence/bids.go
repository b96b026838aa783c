package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/x-zero2026/xz-wallet-contract/internal/bus"
	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
)

// UpsertBid places or refreshes a bid. A bidder holds one row per task;
// re-bidding while pending updates the message, refreshes the credit snapshot
// and resets the staleness clock.
func (s *Store) UpsertBid(ctx context.Context, b *escrow.Bid) error {
	if b.BidID == "" {
		b.BidID = uuid.NewString()
	}
	b.Status = escrow.BidStatusPending
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin bid tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		t, err := getTaskTx(ctx, tx, b.TaskID)
		if err != nil {
			return err
		}
		if t.Status != escrow.StatusBidding {
			return fmt.Errorf("%w: task %s is %s, bids are only accepted while bidding", escrow.ErrIllegalTransition, t.TaskID, t.Status)
		}
		if err := ensurePrincipalTx(ctx, tx, b.Bidder, ""); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_bids (id, task_id, bidder, message, credit_snapshot, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 'pending', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(task_id, bidder) DO UPDATE SET
				message = excluded.message,
				credit_snapshot = excluded.credit_snapshot,
				status = 'pending',
				updated_at = CURRENT_TIMESTAMP;
		`, b.BidID, b.TaskID, b.Bidder, b.Message, b.CreditSnapshot); err != nil {
			return fmt.Errorf("upsert bid: %w", err)
		}
		if err := s.appendTaskEventTx(ctx, tx, b.TaskID, "bid.placed", "", string(t.Status),
			fmt.Sprintf(`{"bidder":%q}`, b.Bidder)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit bid tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicBidPlaced, bus.BidEvent{TaskID: b.TaskID, BidID: b.BidID, Bidder: b.Bidder})
	return nil
}

func (s *Store) GetBid(ctx context.Context, taskID, bidder string) (*escrow.Bid, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, bidder, message, credit_snapshot, status, created_at, updated_at
		FROM task_bids
		WHERE task_id = ? AND bidder = ?;
	`, taskID, bidder)
	var b escrow.Bid
	if err := row.Scan(&b.BidID, &b.TaskID, &b.Bidder, &b.Message, &b.CreditSnapshot, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: bid by %s on task %s", escrow.ErrNotFound, bidder, taskID)
		}
		return nil, fmt.Errorf("scan bid: %w", err)
	}
	return &b, nil
}

// ListBids returns all bids on the task, pending first, then by age.
func (s *Store) ListBids(ctx context.Context, taskID string) ([]escrow.Bid, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, bidder, message, credit_snapshot, status, created_at, updated_at
		FROM task_bids
		WHERE task_id = ?
		ORDER BY CASE status WHEN 'pending' THEN 0 WHEN 'accepted' THEN 1 ELSE 2 END, created_at ASC;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query bids: %w", err)
	}
	defer rows.Close()

	var out []escrow.Bid
	for rows.Next() {
		var b escrow.Bid
		if err := rows.Scan(&b.BidID, &b.TaskID, &b.Bidder, &b.Message, &b.CreditSnapshot, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid rows: %w", err)
	}
	return out, nil
}

// SelectBidder accepts one pending bid and rejects the rest, transitioning the
// task from bidding to accepted with the bidder installed as executor. The
// three writes commit together or not at all.
func (s *Store) SelectBidder(ctx context.Context, taskID, bidder string) error {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin select bidder tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		t, err := getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := escrow.CheckTransition(t, escrow.StatusBidding, escrow.StatusAccepted); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE task_bids
			SET status = 'accepted', updated_at = CURRENT_TIMESTAMP
			WHERE task_id = ? AND bidder = ? AND status = 'pending';
		`, taskID, bidder)
		if err != nil {
			return fmt.Errorf("accept bid: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("accept bid rows affected: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("%w: no pending bid by %s on task %s", escrow.ErrNotFound, bidder, taskID)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE task_bids
			SET status = 'rejected', updated_at = CURRENT_TIMESTAMP
			WHERE task_id = ? AND bidder != ? AND status = 'pending';
		`, taskID, bidder); err != nil {
			return fmt.Errorf("reject losing bids: %w", err)
		}

		if _, err := s.casStatusTx(ctx, tx, taskID, escrow.StatusBidding, escrow.StatusAccepted); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET executor = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, bidder, taskID); err != nil {
			return fmt.Errorf("install executor: %w", err)
		}
		if err := s.appendTaskEventTx(ctx, tx, taskID, "bid.accepted",
			string(escrow.StatusBidding), string(escrow.StatusAccepted),
			fmt.Sprintf(`{"executor":%q}`, bidder)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit select bidder tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicBidAccepted, bus.BidEvent{TaskID: taskID, Bidder: bidder})
	s.publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:    taskID,
		OldStatus: string(escrow.StatusBidding),
		NewStatus: string(escrow.StatusAccepted),
	})
	return nil
}

// ExpireBids marks pending bids on still-bidding tasks as expired once their
// last update is older than the cutoff. Returns the expired bids so callers
// can notify.
func (s *Store) ExpireBids(ctx context.Context, cutoff time.Time) ([]escrow.Bid, error) {
	var expired []escrow.Bid
	err := retryOnBusy(ctx, 5, func() error {
		expired = expired[:0]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin expire bids tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT b.id, b.task_id, b.bidder
			FROM task_bids b
			JOIN tasks t ON t.id = b.task_id
			WHERE b.status = 'pending' AND t.status = ? AND b.updated_at <= ?;
		`, escrow.StatusBidding, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("query stale bids: %w", err)
		}
		for rows.Next() {
			var b escrow.Bid
			if err := rows.Scan(&b.BidID, &b.TaskID, &b.Bidder); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale bid: %w", err)
			}
			expired = append(expired, b)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("stale bid rows: %w", err)
		}
		rows.Close()

		for _, b := range expired {
			if _, err := tx.ExecContext(ctx, `
				UPDATE task_bids SET status = 'expired', updated_at = CURRENT_TIMESTAMP WHERE id = ?;
			`, b.BidID); err != nil {
				return fmt.Errorf("expire bid %s: %w", b.BidID, err)
			}
			if err := s.appendTaskEventTx(ctx, tx, b.TaskID, "bid.expired", "", string(escrow.StatusBidding),
				fmt.Sprintf(`{"bidder":%q}`, b.Bidder)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	for _, b := range expired {
		s.publish(bus.TopicBidExpired, bus.BidEvent{TaskID: b.TaskID, BidID: b.BidID, Bidder: b.Bidder})
	}
	return expired, nil
}
