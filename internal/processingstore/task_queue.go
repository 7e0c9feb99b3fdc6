package processingstore

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"
)

// EnqueueTask inserts a new task in pending status, available immediately.
func (s *Store) EnqueueTask(ctx context.Context, t TaskQueueEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_queue_entries
			(task_id, queue, session_id, token_id, stage, payload, attempt, max_attempts,
			 status, available_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $10)`,
		t.TaskID, t.Queue, t.SessionID, t.TokenID, t.Stage, t.Payload, t.Attempt, t.MaxAttempts,
		t.AvailableAt, t.Deadline)
	if err != nil {
		return fmt.Errorf("enqueuing task: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest available task on queue using
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent workers never contend for
// the same row. leaseExpiresAt is the visibility-lease deadline; the worker
// must heartbeat before it elapses or the task becomes reclaimable.
func (s *Store) ClaimNext(ctx context.Context, queue string, leaseExpiresAt time.Time) (*TaskQueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT task_id, queue, session_id, token_id, stage, payload, attempt, max_attempts,
		       status, available_at, lease_expires_at, deadline, created_at
		FROM task_queue_entries
		WHERE queue = $1 AND status = 'pending' AND available_at <= now()
		ORDER BY available_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, queue)

	t, err := scanTask(row)
	if err == stdsql.ErrNoRows {
		return nil, ErrNoTaskAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("querying claimable task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE task_queue_entries
		SET status = 'leased', attempt = attempt + 1, lease_expires_at = $2
		WHERE task_id = $1`, t.TaskID, leaseExpiresAt); err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	t.Status = TaskLeased
	t.Attempt++
	t.LeaseExpiresAt = &leaseExpiresAt
	return t, nil
}

// Heartbeat extends a leased task's visibility lease.
func (s *Store) Heartbeat(ctx context.Context, taskID string, leaseExpiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_queue_entries SET lease_expires_at = $2
		WHERE task_id = $1 AND status = 'leased'`, taskID, leaseExpiresAt)
	if err != nil {
		return fmt.Errorf("heartbeating task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkDone transitions a task to its terminal success state.
func (s *Store) MarkDone(ctx context.Context, taskID string) error {
	return s.setStatus(ctx, taskID, TaskDone)
}

// MarkCanceled transitions a task to canceled: terminal, not an escalation.
func (s *Store) MarkCanceled(ctx context.Context, taskID string) error {
	return s.setStatus(ctx, taskID, TaskCanceled)
}

// MarkEscalated transitions a task to escalated, after max_attempts is
// exhausted or a non-retryable error is classified.
func (s *Store) MarkEscalated(ctx context.Context, taskID string) error {
	return s.setStatus(ctx, taskID, TaskEscalated)
}

func (s *Store) setStatus(ctx context.Context, taskID string, status TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_queue_entries SET status = $2, lease_expires_at = NULL WHERE task_id = $1`,
		taskID, status)
	if err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// RescheduleWithBackoff returns a failed, retryable task to pending, not
// available again until availableAt (now + retry_delay_base * 2^(attempt-1),
// jittered, computed by the caller).
func (s *Store) RescheduleWithBackoff(ctx context.Context, taskID string, availableAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_queue_entries
		SET status = 'pending', available_at = $2, lease_expires_at = NULL
		WHERE task_id = $1`, taskID, availableAt)
	if err != nil {
		return fmt.Errorf("rescheduling task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ReclaimExpiredLeases returns leased tasks whose visibility timeout has
// elapsed to pending, for workers that crashed mid-task. attempt is not
// changed here; ClaimNext increments it when the task is claimed again.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_queue_entries
		SET status = 'pending', lease_expires_at = NULL
		WHERE status = 'leased' AND lease_expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("reclaiming expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// CountInFlight returns the number of leased tasks on queue, as reported by
// the task runner's Stats.
func (s *Store) CountInFlight(ctx context.Context, queue string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM task_queue_entries WHERE queue = $1 AND status = 'leased'`, queue)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting in-flight tasks: %w", err)
	}
	return n, nil
}

func scanTask(row *stdsql.Row) (*TaskQueueEntry, error) {
	var t TaskQueueEntry
	err := row.Scan(&t.TaskID, &t.Queue, &t.SessionID, &t.TokenID, &t.Stage, &t.Payload,
		&t.Attempt, &t.MaxAttempts, &t.Status, &t.AvailableAt, &t.LeaseExpiresAt, &t.Deadline, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
