// Package session implements the Session Manager: a sharded in-memory map
// of active sessions, durably mirrored to the Processing Store, with a
// background sweeper enforcing SESSION_TTL.
package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
)

// ErrNotFound is returned when a session_id has no in-memory entry. Expired
// sessions are removed from memory by the sweeper; callers must create a
// new session rather than look for a revived one.
var ErrNotFound = errors.New("session: not found")

// ErrAlreadyClosed is returned by Touch when the session is no longer
// active — close wins over touch on a race between the two.
var ErrAlreadyClosed = errors.New("session: already closed or expired")

// Store is the subset of processingstore.Store the Session Manager durably
// mirrors state to. Defined locally so this package depends only on the
// method set it actually calls.
type Store interface {
	UpsertSession(ctx context.Context, sess processingstore.Session) error
	ListExpirableSessions(ctx context.Context, cutoff time.Time) ([]processingstore.Session, error)
}

// AuditSink receives one entry per state transition. Defined locally to
// avoid a dependency on the audit package's concrete type.
type AuditSink interface {
	Emit(ctx context.Context, tokenID, action, outcome, component string)
}

// Config controls TTL, sweep cadence, and shard count.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	ShardCount    int
}

// Manager is the Session Manager. Sessions are sharded by session_id hash;
// each shard is guarded by its own mutex so unrelated sessions never
// contend.
type Manager struct {
	cfg    Config
	store  Store
	audit  AuditSink
	shards []*shard

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewManager constructs a Manager. Call Start to begin the sweeper.
func NewManager(cfg Config, store Store, audit AuditSink) *Manager {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 32
	}
	shards := make([]*shard, cfg.ShardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		audit:  audit,
		shards: shards,
		stopCh: make(chan struct{}),
	}
}

func (m *Manager) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Create starts a new active session for tokenID. A session references
// only a token_id, never a patient_id.
func (m *Manager) Create(ctx context.Context, tokenID, inputType string) (string, error) {
	sessionID := uuid.New().String()
	now := time.Now()

	e := &entry{
		sessionID:     sessionID,
		tokenID:       tokenID,
		createdAt:     now,
		lastTouchedAt: now,
		state:         StateActive,
		inputType:     inputType,
	}

	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	sh.entries[sessionID] = e
	sh.mu.Unlock()

	if err := m.mirror(ctx, e); err != nil {
		slog.Warn("session durable mirror failed on create", "session_id", sessionID, "error", err)
	}
	m.audit.Emit(ctx, tokenID, "session_create", "ok", "session_manager")

	return sessionID, nil
}

// Touch resets last_touched_at. Returns ErrAlreadyClosed if the session has
// already transitioned to expired or closed — close always wins over a
// concurrent touch.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	sh := m.shardFor(sessionID)
	sh.mu.RLock()
	e, ok := sh.entries[sessionID]
	sh.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return ErrAlreadyClosed
	}
	e.lastTouchedAt = time.Now()
	e.mu.Unlock()

	if err := m.mirror(ctx, e); err != nil {
		slog.Warn("session durable mirror failed on touch", "session_id", sessionID, "error", err)
	}
	return nil
}

// Snapshot returns a read-only view of the session.
func (m *Manager) Snapshot(sessionID string) (Snapshot, error) {
	sh := m.shardFor(sessionID)
	sh.mu.RLock()
	e, ok := sh.entries[sessionID]
	sh.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return e.snapshot(), nil
}

// Close finalizes a session with outcome. Close always wins over a racing
// Touch: both take the same per-entry lock, and once state is no longer
// active, Touch refuses to act.
func (m *Manager) Close(ctx context.Context, sessionID string, outcome Outcome) error {
	sh := m.shardFor(sessionID)
	sh.mu.RLock()
	e, ok := sh.entries[sessionID]
	sh.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return ErrAlreadyClosed
	}
	e.state = StateClosed
	e.outcome = outcome
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := m.mirror(ctx, e); err != nil {
		slog.Warn("session durable mirror failed on close", "session_id", sessionID, "error", err)
	}
	m.audit.Emit(ctx, e.tokenID, "session_close", string(outcome), "session_manager")

	return nil
}

// RegisterCancel attaches a cancel function that the sweeper and Close
// invoke to propagate cancellation to any task currently processing this
// session. Cancellation derives from session expiry or explicit close,
// never the other direction.
func (m *Manager) RegisterCancel(sessionID string, cancel context.CancelFunc) error {
	sh := m.shardFor(sessionID)
	sh.mu.RLock()
	e, ok := sh.entries[sessionID]
	sh.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	return nil
}

func (m *Manager) mirror(ctx context.Context, e *entry) error {
	s := e.snapshot()
	err := m.store.UpsertSession(ctx, processingstore.Session{
		SessionID:     s.SessionID,
		TokenID:       s.TokenID,
		CreatedAt:     s.CreatedAt,
		LastTouchedAt: s.LastTouchedAt,
		State:         processingstore.SessionState(s.State),
		InputType:     s.InputType,
		AuditTrailID:  s.AuditTrailID,
	})
	if err != nil {
		return fmt.Errorf("mirroring session: %w", err)
	}
	return nil
}
