package inputqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutonomosCdM/vigia-sub003/internal/cryptkeyring"
	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]processingstore.InputQueueEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]processingstore.InputQueueEntry)}
}

func (f *fakeStore) EnqueueInput(_ context.Context, e processingstore.InputQueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.entries[e.ProcessingID]; exists {
		return nil
	}
	f.entries[e.ProcessingID] = e
	return nil
}

func (f *fakeStore) NextInputForSession(_ context.Context, sessionID string) (*processingstore.InputQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *processingstore.InputQueueEntry
	for _, e := range f.entries {
		if e.SessionID != sessionID || e.AckedAt != nil {
			continue
		}
		if best == nil || e.EnqueuedAt.Before(best.EnqueuedAt) {
			cp := e
			best = &cp
		}
	}
	if best == nil {
		return nil, processingstore.ErrInputQueueEntryNotFound
	}
	return best, nil
}

func (f *fakeStore) AckInput(_ context.Context, processingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[processingID]
	if !ok {
		return processingstore.ErrInputQueueEntryNotFound
	}
	now := time.Now()
	e.AckedAt = &now
	f.entries[processingID] = e
	return nil
}

func (f *fakeStore) SweepExpiredInputs(_ context.Context, now time.Time) ([]processingstore.InputQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []processingstore.InputQueueEntry
	for id, e := range f.entries {
		if e.AckedAt == nil && e.Deadline.Before(now) {
			ackedAt := now
			e.AckedAt = &ackedAt
			f.entries[id] = e
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeAudit) Emit(_ context.Context, tokenID, action, outcome, component string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, tokenID+":"+action)
}

type fakeResolver struct{ tokenID string }

func (f *fakeResolver) TokenIDForSession(context.Context, string) (string, error) {
	return f.tokenID, nil
}

func TestQueue_EnqueueNextAckRoundTrip(t *testing.T) {
	keyring, err := cryptkeyring.New()
	require.NoError(t, err)

	store := newFakeStore()
	q := New(Config{Deadline: time.Minute, SweepInterval: time.Hour}, store, keyring, &fakeAudit{}, &fakeResolver{})

	processingID, err := q.Enqueue(context.Background(), "sess-1", []byte("payload"))
	require.NoError(t, err)

	gotID, plaintext, err := q.Next(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, processingID, gotID)
	assert.Equal(t, "payload", string(plaintext))

	require.NoError(t, q.Ack(context.Background(), gotID))

	_, _, err = q.Next(context.Background(), "sess-1")
	assert.ErrorIs(t, err, processingstore.ErrInputQueueEntryNotFound)
}

func TestQueue_FIFOPerSession(t *testing.T) {
	keyring, err := cryptkeyring.New()
	require.NoError(t, err)
	store := newFakeStore()
	q := New(Config{Deadline: time.Minute}, store, keyring, &fakeAudit{}, &fakeResolver{})

	_, err = q.Enqueue(context.Background(), "sess-1", []byte("first"))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = q.Enqueue(context.Background(), "sess-1", []byte("second"))
	require.NoError(t, err)

	_, plaintext, err := q.Next(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "first", string(plaintext))
}

func TestQueue_SweepEmitsAuditByTokenID(t *testing.T) {
	keyring, err := cryptkeyring.New()
	require.NoError(t, err)
	store := newFakeStore()
	audit := &fakeAudit{}
	q := New(Config{Deadline: time.Millisecond}, store, keyring, audit, &fakeResolver{tokenID: "tok-9"})

	_, err = q.Enqueue(context.Background(), "sess-1", []byte("stale"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, q.sweepOnce(context.Background()))

	audit.mu.Lock()
	assert.Contains(t, audit.entries, "tok-9:input_expired")
	audit.mu.Unlock()
}
