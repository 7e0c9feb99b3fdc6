package chain

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
	"github.com/AutonomosCdM/vigia-sub003/internal/taskrunner"
	"github.com/AutonomosCdM/vigia-sub003/pkg/adapters"
	"github.com/AutonomosCdM/vigia-sub003/pkg/decision"
	"github.com/AutonomosCdM/vigia-sub003/pkg/notification"
	"github.com/AutonomosCdM/vigia-sub003/pkg/packager"
	"github.com/AutonomosCdM/vigia-sub003/pkg/session"
	"github.com/AutonomosCdM/vigia-sub003/pkg/tokenization"
)

type fakeStore struct {
	images     []processingstore.MedicalImage
	detections []processingstore.LPPDetection
	decisions  []processingstore.MedicalDecision
}

func (f *fakeStore) CreateMedicalImage(_ context.Context, img processingstore.MedicalImage) error {
	f.images = append(f.images, img)
	return nil
}

func (f *fakeStore) CreateLPPDetection(_ context.Context, d processingstore.LPPDetection) error {
	f.detections = append(f.detections, d)
	return nil
}

func (f *fakeStore) CreateMedicalDecision(_ context.Context, d processingstore.MedicalDecision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

type fakeTokens struct {
	proj *tokenization.Projection
}

func (f *fakeTokens) ResolveToken(context.Context, tokenization.Caller, string) (*tokenization.Projection, error) {
	return f.proj, nil
}

type fakeDetector struct {
	result *adapters.DetectionResult
}

func (f *fakeDetector) Detect(context.Context, adapters.DetectionRequest) (*adapters.DetectionResult, error) {
	return f.result, nil
}

type fakeFacade struct {
	decision *decision.MedicalDecision
}

func (f *fakeFacade) Decide(context.Context, decision.Input) (*decision.MedicalDecision, error) {
	return f.decision, nil
}

type fakeNotifier struct {
	sent []notification.Request
}

func (f *fakeNotifier) Send(_ context.Context, req notification.Request) error {
	f.sent = append(f.sent, req)
	return nil
}

type fakeSessionCloser struct {
	closedSessionID string
	closedOutcome   session.Outcome
	markedHighGrade map[string]bool
	clearedHighGrade map[string]bool
}

func (f *fakeSessionCloser) CloseSession(_ context.Context, sessionID string, outcome session.Outcome) error {
	f.closedSessionID = sessionID
	f.closedOutcome = outcome
	return nil
}

func (f *fakeSessionCloser) MarkHighGradeCase(tokenID string) {
	if f.markedHighGrade == nil {
		f.markedHighGrade = map[string]bool{}
	}
	f.markedHighGrade[tokenID] = true
}

func (f *fakeSessionCloser) ClearHighGradeCase(tokenID string) {
	if f.clearedHighGrade == nil {
		f.clearedHighGrade = map[string]bool{}
	}
	f.clearedHighGrade[tokenID] = true
}

type fakeChainAudit struct {
	entries []string
}

func (f *fakeChainAudit) Emit(_ context.Context, tokenID, action, outcome, _ string) {
	f.entries = append(f.entries, tokenID+":"+action+":"+outcome)
}

func newTestChain() (*Chain, *fakeStore, *fakeDetector, *fakeFacade, *fakeNotifier, *fakeSessionCloser, *fakeChainAudit) {
	store := &fakeStore{}
	detector := &fakeDetector{result: &adapters.DetectionResult{Grade: 3, Confidence: 0.9, AnatomicalLocation: "sacrum"}}
	facade := &fakeFacade{decision: &decision.MedicalDecision{
		UrgencyLevel:     decision.UrgencyUrgent,
		EvidenceLevel:    decision.EvidenceA,
		Recommendations:  []string{"elevate"},
		FollowUpInterval: 24 * time.Hour,
	}}
	notifier := &fakeNotifier{}
	sessions := &fakeSessionCloser{}
	audit := &fakeChainAudit{}
	tokens := &fakeTokens{proj: &tokenization.Projection{AgeRange: "65-74"}}

	c := New(Config{}, store, tokens, detector, facade, notifier, sessions, audit)
	return c, store, detector, facade, notifier, sessions, audit
}

func TestChain_ImagePrepWithMediaRoutesToDetection(t *testing.T) {
	c, store, _, _, _, _, _ := newTestChain()

	env := inboundEnvelope{Package: packager.InputPackage{
		SessionID: "sess-1",
		Media:     []packager.MediaRef{{URL: "https://example.test/img.jpg", ByteSize: 100, CorrelationHash: "abc"}},
	}}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	next, err := c.imagePrep(context.Background(), processingstore.TaskQueueEntry{TokenID: "tok-1", SessionID: "sess-1", Payload: payload})
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "detection", next.Stage)
	assert.Len(t, store.images, 1)
}

func TestChain_ImagePrepWithoutMediaSkipsToDecision(t *testing.T) {
	c, store, _, _, _, _, _ := newTestChain()

	env := inboundEnvelope{Package: packager.InputPackage{SessionID: "sess-1", Text: "hello"}}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	next, err := c.imagePrep(context.Background(), processingstore.TaskQueueEntry{TokenID: "tok-1", SessionID: "sess-1", Payload: payload})
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "decision", next.Stage)
	assert.Empty(t, store.images)
}

func TestChain_DetectionMarksHighGradeCase(t *testing.T) {
	c, store, _, _, _, sessions, _ := newTestChain()

	payload, err := json.Marshal(detectionPayload{ImageID: "img-1", ImageURL: "https://example.test/img.jpg"})
	require.NoError(t, err)

	next, err := c.detection(context.Background(), processingstore.TaskQueueEntry{TokenID: "tok-1", Payload: payload})
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "decision", next.Stage)
	assert.Len(t, store.detections, 1)
	assert.True(t, sessions.markedHighGrade["tok-1"])
}

func TestChain_DecideRecordsDecisionAndForwardsToNotification(t *testing.T) {
	c, store, _, _, _, _, _ := newTestChain()

	payload, err := json.Marshal(decisionPayload{Grade: 3, Confidence: 0.9})
	require.NoError(t, err)

	next, err := c.decide(context.Background(), processingstore.TaskQueueEntry{TokenID: "tok-1", Payload: payload})
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "notification", next.Stage)
	assert.Len(t, store.decisions, 1)
	assert.Equal(t, "urgent", store.decisions[0].UrgencyLevel)
}

func TestChain_NotifySendsAndForwardsToAuditFinalize(t *testing.T) {
	c, _, _, _, notifier, _, _ := newTestChain()

	payload, err := json.Marshal(notifyPayload{Urgency: "emergency"})
	require.NoError(t, err)

	next, err := c.notify(context.Background(), processingstore.TaskQueueEntry{TokenID: "tok-1", SessionID: "sess-1", Payload: payload})
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "audit_finalize", next.Stage)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "emergency_case", notifier.sent[0].MessageTemplateID)
}

func TestChain_AuditFinalizeClosesSessionAndClearsHighGrade(t *testing.T) {
	c, _, _, _, _, sessions, audit := newTestChain()

	next, err := c.auditFinalize(context.Background(), processingstore.TaskQueueEntry{TokenID: "tok-1", SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, "sess-1", sessions.closedSessionID)
	assert.Equal(t, session.OutcomeCompleted, sessions.closedOutcome)
	assert.True(t, sessions.clearedHighGrade["tok-1"])
	assert.Contains(t, audit.entries, "tok-1:workflow_completed:ok")
}

func TestChain_HumanReviewParksTaskWithoutNextStage(t *testing.T) {
	c, _, _, _, _, sessions, audit := newTestChain()

	next, err := c.humanReview(context.Background(), processingstore.TaskQueueEntry{TokenID: "tok-1", SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, "sess-1", sessions.closedSessionID)
	assert.Equal(t, session.OutcomeHumanReview, sessions.closedOutcome)
	assert.False(t, sessions.clearedHighGrade["tok-1"])
	assert.Contains(t, audit.entries, "tok-1:human_review_parked:pending_review")
}

// TestChain_RegisterBindsHumanReviewHandler runs a task through a real
// taskrunner.Runner end-to-end to confirm human_review resolves to a
// registered handler and is marked done rather than endlessly
// re-escalating, the failure mode this test guards against.
func TestChain_RegisterBindsHumanReviewHandler(t *testing.T) {
	c, _, _, _, _, _, _ := newTestChain()
	store := newRecordingTaskStore()
	runner := taskrunner.New(taskrunner.Config{
		PoolSize:      1,
		PriorityOrder: []string{"medical_priority"},
		PollInterval:  time.Millisecond,
		ReviewQueue:   "medical_priority",
	}, store, &fakeChainAudit{}, nil)
	c.Register(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Stop()

	_, err := runner.Submit(context.Background(), "medical_priority", "human_review", "sess-1", "tok-1", nil)
	require.NoError(t, err)

	waitUntilDone(t, time.Second, store, "sess-1")
	assert.Empty(t, store.escalated, "human_review must not re-escalate onto itself")
}

func waitUntilDone(t *testing.T, timeout time.Duration, store *recordingTaskStore, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if store.hasDone() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task for session %s was never marked done", sessionID)
}

// recordingTaskStore is a minimal single-queue taskrunner.Store good enough
// to drive one task through a real Runner.
type recordingTaskStore struct {
	mu        sync.Mutex
	pending   []processingstore.TaskQueueEntry
	done      []string
	escalated []string
}

func newRecordingTaskStore() *recordingTaskStore {
	return &recordingTaskStore{}
}

func (s *recordingTaskStore) EnqueueTask(_ context.Context, t processingstore.TaskQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, t)
	return nil
}

func (s *recordingTaskStore) ClaimNext(_ context.Context, _ string, leaseExpiresAt time.Time) (*processingstore.TaskQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, processingstore.ErrNoTaskAvailable
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	t.Attempt++
	t.LeaseExpiresAt = &leaseExpiresAt
	return &t, nil
}

func (s *recordingTaskStore) Heartbeat(context.Context, string, time.Time) error { return nil }

func (s *recordingTaskStore) MarkDone(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, taskID)
	return nil
}

func (s *recordingTaskStore) MarkCanceled(context.Context, string) error { return nil }

func (s *recordingTaskStore) MarkEscalated(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalated = append(s.escalated, taskID)
	return nil
}

func (s *recordingTaskStore) RescheduleWithBackoff(context.Context, string, time.Time) error {
	return nil
}

func (s *recordingTaskStore) ReclaimExpiredLeases(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *recordingTaskStore) CountInFlight(_ context.Context, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), nil
}

func (s *recordingTaskStore) hasDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done) > 0
}
