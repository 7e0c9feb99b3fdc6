// Package chain wires the five stages of the clinical analysis workflow
// (image_prep → detection → decision → notification → audit_finalize) as
// internal/taskrunner.Handler funcs, each stage's NextStage chaining to the
// one after it until audit_finalize closes the session.
package chain

import (
	"context"
	"time"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
	"github.com/AutonomosCdM/vigia-sub003/pkg/adapters"
	"github.com/AutonomosCdM/vigia-sub003/pkg/decision"
	"github.com/AutonomosCdM/vigia-sub003/pkg/notification"
	"github.com/AutonomosCdM/vigia-sub003/pkg/packager"
	"github.com/AutonomosCdM/vigia-sub003/pkg/session"
	"github.com/AutonomosCdM/vigia-sub003/pkg/tokenization"
)

// inboundEnvelope mirrors pkg/dispatcher's unexported queueEnvelope wire
// shape exactly: {"package": packager.InputPackage, "prior_submission_at":
// time.Time}. The two packages share no Go type, only this JSON contract,
// since the envelope is the Dispatcher's implementation detail and the
// chain only needs what crosses the wire.
type inboundEnvelope struct {
	Package           packager.InputPackage `json:"package"`
	PriorSubmissionAt time.Time             `json:"prior_submission_at"`
}

// Detector is the subset of pkg/adapters.DetectorClient the detection
// stage depends on.
type Detector interface {
	Detect(ctx context.Context, req adapters.DetectionRequest) (*adapters.DetectionResult, error)
}

// ClinicalAI is the subset of pkg/adapters.ClinicalAIClient a
// decision.DecisionModule built on it depends on.
type ClinicalAI interface {
	Evaluate(ctx context.Context, req adapters.ClinicalAIRequest) (*adapters.ClinicalAIResult, error)
}

// MedicalStore is the subset of internal/processingstore.Store the chain
// persists intermediate results to.
type MedicalStore interface {
	CreateMedicalImage(ctx context.Context, img processingstore.MedicalImage) error
	CreateLPPDetection(ctx context.Context, d processingstore.LPPDetection) error
	CreateMedicalDecision(ctx context.Context, d processingstore.MedicalDecision) error
}

// Tokens is the subset of pkg/tokenization.Service the decision stage uses
// to fetch the patient's de-identified projection.
type Tokens interface {
	ResolveToken(ctx context.Context, caller tokenization.Caller, tokenID string) (*tokenization.Projection, error)
}

// Facade is the subset of pkg/decision.Facade the decision stage depends
// on.
type Facade interface {
	Decide(ctx context.Context, input decision.Input) (*decision.MedicalDecision, error)
}

// Notifier is the subset of pkg/notification.Notifier the notification
// stage depends on.
type Notifier interface {
	Send(ctx context.Context, req notification.Request) error
}

// SessionCloser is the subset of pkg/dispatcher.Dispatcher the
// audit_finalize stage uses to resolve the case's session lifecycle and
// high-grade-case flag.
type SessionCloser interface {
	CloseSession(ctx context.Context, sessionID string, outcome session.Outcome) error
	MarkHighGradeCase(tokenID string)
	ClearHighGradeCase(tokenID string)
}

// AuditSink is the append-only audit trail every stage reports to.
type AuditSink interface {
	Emit(ctx context.Context, tokenID, action, outcome, component string)
}

// Config controls clinical thresholds the chain itself applies (as
// opposed to thresholds owned by pkg/decision or pkg/triage).
type Config struct {
	// HighGradeThreshold is the minimum detection grade considered a high-
	// severity pressure injury case for the Triage Engine's repeat-
	// submission rule. NPIAP staging reserves grades 3-4 (plus
	// unstageable/deep-tissue, graded above 4 by the external detector's
	// convention) for full-thickness injury; default 3 follows that
	// convention.
	HighGradeThreshold int
	// The four queue fields name the priority queues stage tasks are
	// submitted to. Stages map to queues per internal/config's documented priority
	// order: image_prep/detection → image_processing, decision →
	// medical_priority, notification → notifications, audit_finalize →
	// audit_logging.
	ImageProcessingQueue string
	MedicalPriorityQueue string
	NotificationsQueue   string
	AuditLoggingQueue    string
}
