package processingstore

import (
	"context"
	"fmt"
	"time"
)

// AppendAuditEntry writes one immutable audit record. The log is
// append-only: there is no update or delete method for audit_entries.
func (s *Store) AppendAuditEntry(ctx context.Context, e AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (entry_id, "timestamp", actor_id, token_id, action, component, outcome, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.EntryID, e.Timestamp, e.ActorID, e.TokenID, e.Action, e.Component, e.Outcome, e.CorrelationID)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// ListAuditEntriesByTokenID returns every entry referencing tokenID, oldest
// first. Restricted at the caller layer to authorized roles.
func (s *Store) ListAuditEntriesByTokenID(ctx context.Context, tokenID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, "timestamp", actor_id, token_id, action, component, outcome, correlation_id
		FROM audit_entries
		WHERE token_id = $1
		ORDER BY "timestamp" ASC`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries by token_id: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

// ListAuditEntriesByTimeRange returns every entry in [from, to), oldest
// first. Reserved for administrative reads.
func (s *Store) ListAuditEntriesByTimeRange(ctx context.Context, from, to time.Time) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, "timestamp", actor_id, token_id, action, component, outcome, correlation_id
		FROM audit_entries
		WHERE "timestamp" >= $1 AND "timestamp" < $2
		ORDER BY "timestamp" ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries by time range: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

// DeleteAuditEntriesOlderThan removes entries past the retention window.
// Retention deletion is the one exception to immutability: it is a bulk
// lifecycle operation, not a mutation of any individual entry's content.
func (s *Store) DeleteAuditEntriesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE "timestamp" < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAuditEntries(rows rowScanner) ([]AuditEntry, error) {
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.ActorID, &e.TokenID, &e.Action,
			&e.Component, &e.Outcome, &e.CorrelationID); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
