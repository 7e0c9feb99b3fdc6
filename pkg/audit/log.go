// Package audit implements the orchestrator's append-only Audit Log: every
// state transition in the Tokenization Service, Session Manager,
// Dispatcher, Task Runner, and Decision Engine emits exactly one entry
// here, keyed by token_id, never patient_id.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
)

// ErrForbidden is returned by the read methods when the caller lacks the
// required role.
var ErrForbidden = errors.New("audit: caller role forbidden")

// Store is the subset of processingstore.Store this package uses.
type Store interface {
	AppendAuditEntry(ctx context.Context, e processingstore.AuditEntry) error
	ListAuditEntriesByTokenID(ctx context.Context, tokenID string) ([]processingstore.AuditEntry, error)
	ListAuditEntriesByTimeRange(ctx context.Context, from, to time.Time) ([]processingstore.AuditEntry, error)
	DeleteAuditEntriesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Role gates which of the log's two permitted read shapes a caller may use.
type Role string

// Roles recognized by the Audit Log.
const (
	// RoleTokenReader may read entries by token_id.
	RoleTokenReader Role = "token_reader"
	// RoleAdmin may read entries by time range.
	RoleAdmin Role = "admin"
)

// Caller identifies the authenticated principal invoking a read.
type Caller struct {
	ActorID string
	Roles   []Role
}

func (c Caller) has(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type ctxKey int

const (
	actorIDKey ctxKey = iota
	correlationIDKey
)

// WithActorID attaches the acting principal's ID to ctx, for Emit to pick
// up. Components that call Emit without an actor in context are attributed
// to "system".
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// WithCorrelationID attaches a correlation ID to ctx, so every entry
// emitted while handling one logical request shares it. Without one, Emit
// mints a fresh correlation ID per entry.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// Log is the Audit Log.
type Log struct {
	store Store
}

// New constructs a Log.
func New(store Store) *Log {
	return &Log{store: store}
}

// Emit implements the AuditSink interface depended on by pkg/session,
// internal/inputqueue, and pkg/tokenization. An audit write must never
// block or fail the caller's own operation, so failures are logged here
// rather than returned.
func (l *Log) Emit(ctx context.Context, tokenID, action, outcome, component string) {
	entry := processingstore.AuditEntry{
		EntryID:       uuid.New().String(),
		Timestamp:     time.Now(),
		ActorID:       actorIDFrom(ctx),
		TokenID:       tokenID,
		Action:        action,
		Component:     component,
		Outcome:       outcome,
		CorrelationID: correlationIDFrom(ctx),
	}
	if err := l.store.AppendAuditEntry(ctx, entry); err != nil {
		slog.Error("audit entry write failed", "token_id", tokenID, "action", action, "component", component, "error", err)
	}
}

func actorIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey).(string); ok && v != "" {
		return v
	}
	return "system"
}

func correlationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		return v
	}
	return uuid.New().String()
}

// ByTokenID returns every entry referencing tokenID, oldest first.
// Restricted to RoleTokenReader.
func (l *Log) ByTokenID(ctx context.Context, caller Caller, tokenID string) ([]processingstore.AuditEntry, error) {
	if !caller.has(RoleTokenReader) {
		return nil, ErrForbidden
	}
	return l.store.ListAuditEntriesByTokenID(ctx, tokenID)
}

// ByTimeRange returns every entry in [from, to), oldest first. Restricted
// to RoleAdmin.
func (l *Log) ByTimeRange(ctx context.Context, caller Caller, from, to time.Time) ([]processingstore.AuditEntry, error) {
	if !caller.has(RoleAdmin) {
		return nil, ErrForbidden
	}
	return l.store.ListAuditEntriesByTimeRange(ctx, from, to)
}
