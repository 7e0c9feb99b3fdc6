package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []processingstore.AuditEntry
}

func (f *fakeStore) AppendAuditEntry(_ context.Context, e processingstore.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeStore) ListAuditEntriesByTokenID(_ context.Context, tokenID string) ([]processingstore.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []processingstore.AuditEntry
	for _, e := range f.entries {
		if e.TokenID == tokenID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAuditEntriesByTimeRange(_ context.Context, from, to time.Time) ([]processingstore.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []processingstore.AuditEntry
	for _, e := range f.entries {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteAuditEntriesOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []processingstore.AuditEntry
	var removed int64
	for _, e := range f.entries {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return removed, nil
}

func TestLog_EmitThenReadByTokenID(t *testing.T) {
	store := &fakeStore{}
	log := New(store)

	log.Emit(context.Background(), "tok-1", "session_create", "ok", "session")
	log.Emit(context.Background(), "tok-2", "session_create", "ok", "session")

	entries, err := log.ByTokenID(context.Background(), Caller{Roles: []Role{RoleTokenReader}}, "tok-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "session_create", entries[0].Action)
	assert.Equal(t, "system", entries[0].ActorID)
	assert.NotEmpty(t, entries[0].CorrelationID)
}

func TestLog_ByTokenIDForbiddenWithoutRole(t *testing.T) {
	log := New(&fakeStore{})
	_, err := log.ByTokenID(context.Background(), Caller{}, "tok-1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestLog_ByTimeRangeRequiresAdmin(t *testing.T) {
	store := &fakeStore{}
	log := New(store)
	log.Emit(context.Background(), "tok-1", "session_create", "ok", "session")

	_, err := log.ByTimeRange(context.Background(), Caller{Roles: []Role{RoleTokenReader}}, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrForbidden)

	entries, err := log.ByTimeRange(context.Background(), Caller{Roles: []Role{RoleAdmin}}, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLog_EmitUsesActorAndCorrelationFromContext(t *testing.T) {
	store := &fakeStore{}
	log := New(store)

	ctx := WithActorID(context.Background(), "admin-1")
	ctx = WithCorrelationID(ctx, "corr-42")
	log.Emit(ctx, "tok-1", "bridge_lookup", "ok", "tokenization")

	entries, err := log.ByTokenID(context.Background(), Caller{Roles: []Role{RoleTokenReader}}, "tok-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "admin-1", entries[0].ActorID)
	assert.Equal(t, "corr-42", entries[0].CorrelationID)
}

func TestRetention_SweepRemovesOldEntries(t *testing.T) {
	store := &fakeStore{entries: []processingstore.AuditEntry{
		{EntryID: "e1", TokenID: "tok-1", Timestamp: time.Now().AddDate(-8, 0, 0)},
		{EntryID: "e2", TokenID: "tok-1", Timestamp: time.Now()},
	}}
	log := New(store)
	r := NewRetention(RetentionConfig{RetentionDays: 2555}, log)

	r.sweepOnce(context.Background())

	require.Len(t, store.entries, 1)
	assert.Equal(t, "e2", store.entries[0].EntryID)
}
