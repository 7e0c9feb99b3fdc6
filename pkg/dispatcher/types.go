// Package dispatcher implements the Medical Dispatcher: the component that
// resolves an inbound event to a session, packages and enqueues it, then
// drives that session's Input Queue through the Triage Engine into the
// Async Task Runner. It is the only component that ties the Tokenization
// Service, Session Manager, Input Packager, Input Queue, Triage Engine, and
// Task Runner together into one pipeline.
package dispatcher

import (
	"context"
	"time"

	"github.com/AutonomosCdM/vigia-sub003/pkg/packager"
	"github.com/AutonomosCdM/vigia-sub003/pkg/session"
	"github.com/AutonomosCdM/vigia-sub003/pkg/triage"
)

// TokenResolver maps a transport sender handle (e.g. a phone number) to the
// token_id already bound to it by the Tokenization Service. The Dispatcher
// never resolves identity itself — that binding is made once, at token
// request time, by the requesting system in front of the transport.
type TokenResolver interface {
	ResolveSourceToken(ctx context.Context, sourceID string) (tokenID string, err error)
}

// SessionManager is the subset of pkg/session.Manager the Dispatcher uses.
type SessionManager interface {
	Create(ctx context.Context, tokenID, inputType string) (string, error)
	Touch(ctx context.Context, sessionID string) error
	Snapshot(sessionID string) (session.Snapshot, error)
	Close(ctx context.Context, sessionID string, outcome session.Outcome) error
}

// Packager packages a raw transport event into an InputPackage, given an
// already-resolved session_id.
type Packager interface {
	Package(ctx context.Context, sessionID string, raw packager.RawEvent) (*packager.InputPackage, error)
}

// InputQueue is the subset of the Input Queue the Dispatcher drives.
type InputQueue interface {
	Enqueue(ctx context.Context, sessionID string, plaintext []byte) (string, error)
	Next(ctx context.Context, sessionID string) (processingID string, plaintext []byte, err error)
	Ack(ctx context.Context, processingID string) error
}

// TriageEngine evaluates a packaged input against session state.
type TriageEngine interface {
	Evaluate(pkg triage.InputPackage, snap triage.SessionSnapshot) triage.Decision
}

// TaskSubmitter is the subset of internal/taskrunner.Runner the Dispatcher
// enqueues work onto.
type TaskSubmitter interface {
	Submit(ctx context.Context, queue, stage, sessionID, tokenID string, payload []byte) (string, error)
}

// AuditSink receives one entry per Dispatcher-owned state transition.
type AuditSink interface {
	Emit(ctx context.Context, tokenID, action, outcome, component string)
}

// Config controls queue routing and dedup retention.
type Config struct {
	// ReviewQueue is the highest-priority queue human_review tasks land on.
	ReviewQueue string
	// AnalysisQueue is the queue the first stage of a clinical_processing
	// workflow (image_prep) is submitted to.
	AnalysisQueue string
	// DedupRetention bounds how long a transport event id is remembered for
	// at-least-once redelivery detection.
	DedupRetention time.Duration
}
