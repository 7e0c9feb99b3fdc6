package processingstore

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"
)

// UpsertSession durably mirrors the in-memory session map. The Session
// Manager calls this on create, touch, and close; the authoritative state
// for concurrency purposes is always the in-memory shard, not this table.
func (s *Store) UpsertSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, token_id, created_at, last_touched_at, state, input_type, audit_trail_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			last_touched_at = EXCLUDED.last_touched_at,
			state = EXCLUDED.state,
			input_type = EXCLUDED.input_type,
			audit_trail_id = EXCLUDED.audit_trail_id`,
		sess.SessionID, sess.TokenID, sess.CreatedAt, sess.LastTouchedAt, sess.State,
		sess.InputType, sess.AuditTrailID)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// GetSession returns the durable mirror of a session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, token_id, created_at, last_touched_at, state, input_type, audit_trail_id
		FROM sessions WHERE session_id = $1`, sessionID)

	var sess Session
	err := row.Scan(&sess.SessionID, &sess.TokenID, &sess.CreatedAt, &sess.LastTouchedAt,
		&sess.State, &sess.InputType, &sess.AuditTrailID)
	switch {
	case err == stdsql.ErrNoRows:
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &sess, nil
}

// ListExpirableSessions returns active sessions whose last_touched_at has
// aged past cutoff, for the Session Manager's sweeper.
func (s *Store) ListExpirableSessions(ctx context.Context, cutoff time.Time) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, token_id, created_at, last_touched_at, state, input_type, audit_trail_id
		FROM sessions
		WHERE state = 'active' AND last_touched_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying expirable sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.SessionID, &sess.TokenID, &sess.CreatedAt, &sess.LastTouchedAt,
			&sess.State, &sess.InputType, &sess.AuditTrailID); err != nil {
			return nil, fmt.Errorf("scanning expirable session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
