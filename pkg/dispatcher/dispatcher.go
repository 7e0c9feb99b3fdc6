package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
	"github.com/AutonomosCdM/vigia-sub003/internal/taxonomy"
	"github.com/AutonomosCdM/vigia-sub003/pkg/packager"
	"github.com/AutonomosCdM/vigia-sub003/pkg/session"
	"github.com/AutonomosCdM/vigia-sub003/pkg/triage"
)

// queueEnvelope is the Input Queue's plaintext payload shape and the
// analysis chain's task payload shape. It carries prior_submission_at
// alongside the package itself because the Triage Engine's
// repeat-submission rule must measure against the session's last touch
// *before* this submission, and the session is already touched for the
// current submission by the time the consume loop reaches it.
type queueEnvelope struct {
	Package           packager.InputPackage `json:"package"`
	PriorSubmissionAt time.Time             `json:"prior_submission_at"`
}

// Dispatcher is the Medical Dispatcher. It owns the tokenID→sessionID
// index the Session Manager itself does not provide (the Manager looks up
// only by session_id), and a per-token "open high-grade case" flag the
// Triage Engine's repeat-submission rule reads — neither is tracked
// anywhere else, so this package is their sole source of truth.
type Dispatcher struct {
	cfg      Config
	resolver TokenResolver
	sessions SessionManager
	packager Packager
	queue    InputQueue
	triage   TriageEngine
	tasks    TaskSubmitter
	audit    AuditSink

	mu            sync.Mutex
	tokenSessions map[string]string
	highGrade     map[string]bool
	seenEvents    map[string]time.Time
	consuming     map[string]bool

	wg sync.WaitGroup
}

// New constructs a Dispatcher.
func New(cfg Config, resolver TokenResolver, sessions SessionManager, pkgr Packager, queue InputQueue, te TriageEngine, tasks TaskSubmitter, audit AuditSink) *Dispatcher {
	if cfg.ReviewQueue == "" {
		cfg.ReviewQueue = "medical_priority"
	}
	if cfg.AnalysisQueue == "" {
		cfg.AnalysisQueue = "image_processing"
	}
	if cfg.DedupRetention <= 0 {
		cfg.DedupRetention = time.Hour
	}
	return &Dispatcher{
		cfg:           cfg,
		resolver:      resolver,
		sessions:      sessions,
		packager:      pkgr,
		queue:         queue,
		triage:        te,
		tasks:         tasks,
		audit:         audit,
		tokenSessions: make(map[string]string),
		highGrade:     make(map[string]bool),
		seenEvents:    make(map[string]time.Time),
		consuming:     make(map[string]bool),
	}
}

// Ingest resolves sourceID to a token_id, looks up or creates its session,
// packages raw, and durably enqueues it. transportEventID, when non-empty,
// is the transport's own delivery id — used to deduplicate at-least-once
// redelivery before any work is done. Ingest returns once
// the package is durably queued; the consuming goroutine it wakes drives
// triage and task submission asynchronously.
func (d *Dispatcher) Ingest(ctx context.Context, sourceID, transportEventID string, raw packager.RawEvent) error {
	if transportEventID != "" && d.markSeen(transportEventID) {
		return ErrDuplicateEvent
	}

	tokenID, err := d.resolver.ResolveSourceToken(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("resolving source token: %w", err)
	}
	d.audit.Emit(ctx, tokenID, "input_received", "ok", "dispatcher")

	sessionID, err := d.sessionFor(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("resolving session for token: %w", err)
	}

	// Read last_touched_at before touching for this submission: it becomes
	// this package's prior_submission_at, what the Triage Engine's
	// repeat-submission rule measures against. Touch overwrites it to now
	// immediately after, so it must be captured first.
	var priorSubmissionAt time.Time
	if snap, err := d.sessions.Snapshot(sessionID); err == nil {
		priorSubmissionAt = snap.LastTouchedAt
	}
	if err := d.sessions.Touch(ctx, sessionID); err != nil && !errors.Is(err, session.ErrAlreadyClosed) {
		slog.Warn("touching session failed", "session_id", sessionID, "error", err)
	}

	pkg, err := d.packager.Package(ctx, sessionID, raw)
	if err != nil {
		d.audit.Emit(ctx, tokenID, "input_rejected", taxonomy.Classify(err).String(), "dispatcher")
		return err
	}

	body, err := json.Marshal(queueEnvelope{Package: *pkg, PriorSubmissionAt: priorSubmissionAt})
	if err != nil {
		return fmt.Errorf("serializing package: %w", err)
	}
	if _, err := d.queue.Enqueue(ctx, sessionID, body); err != nil {
		return fmt.Errorf("enqueuing package: %w", err)
	}

	d.ensureConsumer(sessionID, tokenID)
	return nil
}

// MarkHighGradeCase records that tokenID has an open high-grade pressure
// injury case, for the Triage Engine's repeat-submission rule. Called by
// the detection stage handler once a detection yields a high-severity
// grade.
func (d *Dispatcher) MarkHighGradeCase(tokenID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.highGrade[tokenID] = true
}

// ClearHighGradeCase clears the flag set by MarkHighGradeCase, once the
// case is resolved (session closed with a completed outcome).
func (d *Dispatcher) ClearHighGradeCase(tokenID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.highGrade, tokenID)
}

// CloseSession finalizes sessionID with outcome. Exposed for the
// audit_finalize stage handler to call once a workflow chain completes.
func (d *Dispatcher) CloseSession(ctx context.Context, sessionID string, outcome session.Outcome) error {
	return d.sessions.Close(ctx, sessionID, outcome)
}

// sessionFor returns the active session for tokenID, creating one if none
// exists or the previously indexed session is no longer active. The
// Session Manager only looks sessions up by session_id, so this index is
// the Dispatcher's own.
func (d *Dispatcher) sessionFor(ctx context.Context, tokenID string) (string, error) {
	d.mu.Lock()
	sessionID, ok := d.tokenSessions[tokenID]
	d.mu.Unlock()

	if ok {
		snap, err := d.sessions.Snapshot(sessionID)
		if err == nil && snap.State == session.StateActive {
			return sessionID, nil
		}
	}

	newID, err := d.sessions.Create(ctx, tokenID, "unknown")
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.tokenSessions[tokenID] = newID
	d.mu.Unlock()
	return newID, nil
}

// markSeen records transportEventID if unseen and reports whether it was
// already present. consume also records each processing_id here, under a
// "processing_id:" prefix. Entries older than DedupRetention are opportunistically
// swept on each call rather than on a separate timer, since the set stays
// small in practice.
func (d *Dispatcher) markSeen(transportEventID string) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, at := range d.seenEvents {
		if now.Sub(at) > d.cfg.DedupRetention {
			delete(d.seenEvents, id)
		}
	}

	if _, ok := d.seenEvents[transportEventID]; ok {
		return true
	}
	d.seenEvents[transportEventID] = now
	return false
}

// ensureConsumer spawns the per-session consume goroutine if one is not
// already running. The Dispatcher is single-threaded per session (one
// consumer goroutine per active session_id) and parallel across sessions.
func (d *Dispatcher) ensureConsumer(sessionID, tokenID string) {
	d.mu.Lock()
	if d.consuming[sessionID] {
		d.mu.Unlock()
		return
	}
	d.consuming[sessionID] = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.consume(context.Background(), sessionID, tokenID)
		d.mu.Lock()
		delete(d.consuming, sessionID)
		d.mu.Unlock()
	}()
}

// consume drains sessionID's Input Queue until empty, triaging and
// dispatching each entry in order.
func (d *Dispatcher) consume(ctx context.Context, sessionID, tokenID string) {
	for {
		processingID, plaintext, err := d.queue.Next(ctx, sessionID)
		if err != nil {
			if errors.Is(err, processingstore.ErrInputQueueEntryNotFound) {
				return
			}
			slog.Error("draining input queue failed, will resume on next ingest", "session_id", sessionID, "error", err)
			return
		}

		if d.markSeen("processing_id:" + processingID) {
			slog.Warn("skipping already-consumed input queue entry", "session_id", sessionID, "processing_id", processingID)
		} else if err := d.processEntry(ctx, sessionID, tokenID, plaintext); err != nil {
			slog.Error("processing input package failed", "session_id", sessionID, "processing_id", processingID, "error", err)
		}
		if err := d.queue.Ack(ctx, processingID); err != nil {
			slog.Error("acking input queue entry failed", "session_id", sessionID, "processing_id", processingID, "error", err)
		}
	}
}

// processEntry runs one packaged input through the Triage Engine and
// routes it to the queue its triage decision selects.
func (d *Dispatcher) processEntry(ctx context.Context, sessionID, tokenID string, plaintext []byte) error {
	var env queueEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return fmt.Errorf("decoding package: %w", err)
	}
	pkg := env.Package

	totalBytes := int64(len(pkg.Text))
	for _, m := range pkg.Media {
		totalBytes += m.ByteSize
	}

	decision := d.triage.Evaluate(triage.InputPackage{
		SessionID:    sessionID,
		Timestamp:    pkg.Timestamp,
		InputType:    triage.InputType(pkg.InputType),
		ByteSize:     totalBytes,
		MediaCount:   len(pkg.Media),
		MentionsPain: mentionsPain(pkg.Text),
	}, triage.SessionSnapshot{
		TokenID:              tokenID,
		PriorSubmissionAt:    env.PriorSubmissionAt,
		HasOpenHighGradeCase: d.hasOpenHighGradeCase(tokenID),
	})

	action := "triage_" + string(decision.Urgency)
	d.audit.Emit(ctx, tokenID, action, string(decision.Route), "dispatcher")

	switch decision.Route {
	case triage.RouteReject:
		return nil

	case triage.RouteHumanReview:
		_, err := d.tasks.Submit(ctx, d.cfg.ReviewQueue, "human_review", sessionID, tokenID, plaintext)
		return err

	case triage.RouteClinicalProcessing:
		_, err := d.tasks.Submit(ctx, d.cfg.AnalysisQueue, "image_prep", sessionID, tokenID, plaintext)
		return err

	default:
		return fmt.Errorf("unrecognized triage route: %s", decision.Route)
	}
}

func (d *Dispatcher) hasOpenHighGradeCase(tokenID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.highGrade[tokenID]
}

// mentionsPain is a narrow, content-agnostic keyword check — the Triage
// Engine itself never inspects content, reads no patient identity, and
// makes no network calls, so this precomputation is done here instead.
func mentionsPain(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "pain") || strings.Contains(lower, "hurts") || strings.Contains(lower, "hurting")
}

// Stop waits for all in-flight consume goroutines to drain their queues.
// Intended for graceful shutdown; new Ingest calls after Stop is invoked
// will spawn fresh consumers, so callers should stop accepting inbound
// traffic first.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
}
