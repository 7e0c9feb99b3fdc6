// Package inputqueue implements the durable, encrypted Input Queue: a
// FIFO-per-session buffer backed by the Processing Store, with entries
// encrypted at rest under keys held by internal/cryptkeyring.
package inputqueue

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AutonomosCdM/vigia-sub003/internal/cryptkeyring"
	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
)

// Store is the subset of processingstore.Store this package uses.
type Store interface {
	EnqueueInput(ctx context.Context, e processingstore.InputQueueEntry) error
	NextInputForSession(ctx context.Context, sessionID string) (*processingstore.InputQueueEntry, error)
	AckInput(ctx context.Context, processingID string) error
	SweepExpiredInputs(ctx context.Context, now time.Time) ([]processingstore.InputQueueEntry, error)
}

// AuditSink receives one entry per sweep-purged package.
type AuditSink interface {
	Emit(ctx context.Context, tokenID, action, outcome, component string)
}

// SessionResolver resolves a session_id to its token_id, so the sweeper can
// emit audit entries keyed by token_id — never by session_id or
// patient_id.
type SessionResolver interface {
	TokenIDForSession(ctx context.Context, sessionID string) (string, error)
}

// Config controls the per-entry deadline and sweep cadence.
type Config struct {
	Deadline      time.Duration
	SweepInterval time.Duration
}

// Queue is the Input Queue.
type Queue struct {
	cfg      Config
	store    Store
	keyring  *cryptkeyring.Keyring
	audit    AuditSink
	sessions SessionResolver

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Queue.
func New(cfg Config, store Store, keyring *cryptkeyring.Keyring, audit AuditSink, sessions SessionResolver) *Queue {
	return &Queue{cfg: cfg, store: store, keyring: keyring, audit: audit, sessions: sessions, stopCh: make(chan struct{})}
}

// Enqueue encrypts plaintext and durably appends it for sessionID. Returns
// the generated processing_id. Every call generates a new processing_id,
// so a caller that retries after a timeout may append the same plaintext
// twice under two ids; the repository layer's ON CONFLICT DO NOTHING only
// absorbs a repeated insert of one processing_id. The Dispatcher skips an
// entry whose processing_id it has already consumed.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, plaintext []byte) (string, error) {
	nonce := make([]byte, q.keyring.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext, version := q.keyring.Seal(nonce, plaintext, []byte(sessionID))

	processingID := uuid.New().String()
	now := time.Now()

	err := q.store.EnqueueInput(ctx, processingstore.InputQueueEntry{
		ProcessingID: processingID,
		SessionID:    sessionID,
		EnqueuedAt:   now,
		Deadline:     now.Add(q.deadline()),
		KeyVersion:   version,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
	})
	if err != nil {
		return "", fmt.Errorf("enqueuing: %w", err)
	}
	return processingID, nil
}

// Next returns the decrypted payload of the oldest unacked entry for
// sessionID, and its processing_id for later Ack. Returns
// processingstore.ErrInputQueueEntryNotFound if the session's queue is
// empty.
func (q *Queue) Next(ctx context.Context, sessionID string) (processingID string, plaintext []byte, err error) {
	e, err := q.store.NextInputForSession(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}

	plaintext, err = q.keyring.Open(e.KeyVersion, e.Nonce, e.Ciphertext, []byte(sessionID))
	if err != nil {
		return "", nil, fmt.Errorf("decrypting entry %s: %w", e.ProcessingID, err)
	}
	return e.ProcessingID, plaintext, nil
}

// Ack tombstones an entry after the Dispatcher has successfully processed
// it.
func (q *Queue) Ack(ctx context.Context, processingID string) error {
	return q.store.AckInput(ctx, processingID)
}

func (q *Queue) deadline() time.Duration {
	if q.cfg.Deadline <= 0 {
		return 15 * time.Minute
	}
	return q.cfg.Deadline
}
