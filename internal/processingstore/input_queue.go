package processingstore

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"
)

// EnqueueInput durably appends an encrypted InputPackage record. Enqueue is
// at-least-once: ON CONFLICT DO NOTHING makes a duplicate enqueue of the
// same processing_id harmless; the Dispatcher still deduplicates at
// consumption time.
func (s *Store) EnqueueInput(ctx context.Context, e InputQueueEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO input_queue_entries (processing_id, session_id, enqueued_at, deadline, key_version, ciphertext, nonce)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (processing_id) DO NOTHING`,
		e.ProcessingID, e.SessionID, e.EnqueuedAt, e.Deadline, e.KeyVersion, e.Ciphertext, e.Nonce)
	if err != nil {
		return fmt.Errorf("enqueuing input: %w", err)
	}
	return nil
}

// NextInputForSession returns the oldest unacked, unexpired entry for
// sessionID, enforcing FIFO-per-session consumption.
func (s *Store) NextInputForSession(ctx context.Context, sessionID string) (*InputQueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT processing_id, session_id, enqueued_at, deadline, key_version, ciphertext, nonce, acked_at
		FROM input_queue_entries
		WHERE session_id = $1 AND acked_at IS NULL AND deadline > now()
		ORDER BY enqueued_at ASC
		LIMIT 1`, sessionID)

	e, err := scanInputQueueEntry(row)
	if err == stdsql.ErrNoRows {
		return nil, ErrInputQueueEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying next input: %w", err)
	}
	return e, nil
}

// AckInput tombstones an entry after successful dispatch.
func (s *Store) AckInput(ctx context.Context, processingID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE input_queue_entries SET acked_at = now() WHERE processing_id = $1`, processingID)
	if err != nil {
		return fmt.Errorf("acking input: %w", err)
	}
	return nil
}

// SweepExpiredInputs tombstones entries past their deadline and returns the
// tombstoned entries, so the caller can emit one input_expired audit entry
// per purged entry.
func (s *Store) SweepExpiredInputs(ctx context.Context, now time.Time) ([]InputQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE input_queue_entries
		SET acked_at = now()
		WHERE acked_at IS NULL AND deadline < $1
		RETURNING processing_id, session_id, enqueued_at, deadline, key_version, ciphertext, nonce, acked_at`, now)
	if err != nil {
		return nil, fmt.Errorf("sweeping expired inputs: %w", err)
	}
	defer rows.Close()

	var out []InputQueueEntry
	for rows.Next() {
		var e InputQueueEntry
		if err := rows.Scan(&e.ProcessingID, &e.SessionID, &e.EnqueuedAt, &e.Deadline, &e.KeyVersion,
			&e.Ciphertext, &e.Nonce, &e.AckedAt); err != nil {
			return nil, fmt.Errorf("scanning swept input: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanInputQueueEntry(row *stdsql.Row) (*InputQueueEntry, error) {
	var e InputQueueEntry
	err := row.Scan(&e.ProcessingID, &e.SessionID, &e.EnqueuedAt, &e.Deadline, &e.KeyVersion,
		&e.Ciphertext, &e.Nonce, &e.AckedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
