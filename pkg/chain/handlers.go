package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
	"github.com/AutonomosCdM/vigia-sub003/internal/taskrunner"
	"github.com/AutonomosCdM/vigia-sub003/pkg/adapters"
	"github.com/AutonomosCdM/vigia-sub003/pkg/decision"
	"github.com/AutonomosCdM/vigia-sub003/pkg/notification"
	"github.com/AutonomosCdM/vigia-sub003/pkg/session"
	"github.com/AutonomosCdM/vigia-sub003/pkg/tokenization"
)

// systemCaller is the internal principal the chain's stages present to
// pkg/tokenization when resolving a patient's projection mid-workflow —
// not an end-user request, so it is granted only the one role it needs.
var systemCaller = tokenization.Caller{ActorID: "task-runner", Roles: []tokenization.Role{tokenization.RoleRequester}}

// Chain holds the dependencies every stage handler needs and registers
// them on an internal/taskrunner.Runner.
type Chain struct {
	cfg      Config
	store    MedicalStore
	tokens   Tokens
	detector Detector
	facade   Facade
	notifier Notifier
	sessions SessionCloser
	audit    AuditSink
}

// New constructs a Chain.
func New(cfg Config, store MedicalStore, tokens Tokens, detector Detector, facade Facade, notifier Notifier, sessions SessionCloser, audit AuditSink) *Chain {
	if cfg.ImageProcessingQueue == "" {
		cfg.ImageProcessingQueue = "image_processing"
	}
	if cfg.MedicalPriorityQueue == "" {
		cfg.MedicalPriorityQueue = "medical_priority"
	}
	if cfg.NotificationsQueue == "" {
		cfg.NotificationsQueue = "notifications"
	}
	if cfg.AuditLoggingQueue == "" {
		cfg.AuditLoggingQueue = "audit_logging"
	}
	if cfg.HighGradeThreshold <= 0 {
		cfg.HighGradeThreshold = 3
	}
	return &Chain{cfg: cfg, store: store, tokens: tokens, detector: detector, facade: facade, notifier: notifier, sessions: sessions, audit: audit}
}

// Register binds every stage in the analysis_workflow to runner, plus the
// human_review terminal sink that the Triage Engine's RouteHumanReview and
// the runner's own escalation path both submit to.
func (c *Chain) Register(runner *taskrunner.Runner) {
	runner.RegisterHandler("image_prep", c.imagePrep)
	runner.RegisterHandler("detection", c.detection)
	runner.RegisterHandler("decision", c.decide)
	runner.RegisterHandler("notification", c.notify)
	runner.RegisterHandler("audit_finalize", c.auditFinalize)
	runner.RegisterHandler("human_review", c.humanReview)
}

// detectionPayload is the wire shape image_prep hands to detection.
type detectionPayload struct {
	ImageID  string `json:"image_id"`
	ImageURL string `json:"image_url"`
}

// decisionPayload is the wire shape detection hands to decision. A
// zero-value payload (zero grade, zero confidence) means image_prep found no media
// to grade — a text-only submission that still reached clinical_processing
// under the Triage Engine's default-by-type rule.
type decisionPayload struct {
	Grade              int     `json:"grade"`
	Confidence         float64 `json:"confidence"`
	AnatomicalLocation string  `json:"anatomical_location"`
	DetectionID        string  `json:"detection_id"`
}

// notifyPayload is the wire shape decision hands to notification and
// notification hands to audit_finalize.
type notifyPayload struct {
	DecisionID         string   `json:"decision_id"`
	Urgency            string   `json:"urgency"`
	Recommendations    []string `json:"recommendations"`
	EscalationRequired bool     `json:"escalation_required"`
}

// imagePrep records the first media reference as a MedicalImage and
// forwards to detection. A package with no media (a text-only submission
// that still reached clinical_processing) skips straight to decision with
// a zero-value detection.
func (c *Chain) imagePrep(ctx context.Context, task processingstore.TaskQueueEntry) (*taskrunner.NextStage, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(task.Payload, &env); err != nil {
		return nil, fmt.Errorf("decoding image_prep payload: %w", err)
	}

	if len(env.Package.Media) == 0 {
		body, err := json.Marshal(decisionPayload{})
		if err != nil {
			return nil, fmt.Errorf("encoding decision payload: %w", err)
		}
		return &taskrunner.NextStage{Queue: c.cfg.MedicalPriorityQueue, Stage: "decision", Payload: body}, nil
	}

	media := env.Package.Media[0]
	imageID := uuid.New().String()
	if err := c.store.CreateMedicalImage(ctx, processingstore.MedicalImage{
		ImageID:     imageID,
		TokenID:     task.TokenID,
		SessionID:   task.SessionID,
		ObjectURL:   media.URL,
		ContentHash: media.CorrelationHash,
		ByteSize:    media.ByteSize,
	}); err != nil {
		return nil, fmt.Errorf("recording medical image: %w", err)
	}

	body, err := json.Marshal(detectionPayload{ImageID: imageID, ImageURL: media.URL})
	if err != nil {
		return nil, fmt.Errorf("encoding detection payload: %w", err)
	}
	c.audit.Emit(ctx, task.TokenID, "image_prep_completed", "ok", "chain")
	return &taskrunner.NextStage{Queue: c.cfg.ImageProcessingQueue, Stage: "detection", Payload: body}, nil
}

// detection calls the external CV detector, persists the grading result,
// and flags the token as an open high-grade case when the grade clears
// cfg.HighGradeThreshold.
func (c *Chain) detection(ctx context.Context, task processingstore.TaskQueueEntry) (*taskrunner.NextStage, error) {
	var in detectionPayload
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return nil, fmt.Errorf("decoding detection payload: %w", err)
	}

	result, err := c.detector.Detect(ctx, adapters.DetectionRequest{TokenID: task.TokenID, ImageURL: in.ImageURL})
	if err != nil {
		return nil, fmt.Errorf("detecting: %w", err)
	}

	detectionID := uuid.New().String()
	if err := c.store.CreateLPPDetection(ctx, processingstore.LPPDetection{
		DetectionID:        detectionID,
		TokenID:            task.TokenID,
		ImageID:            in.ImageID,
		Grade:              result.Grade,
		Confidence:         result.Confidence,
		AnatomicalLocation: result.AnatomicalLocation,
	}); err != nil {
		return nil, fmt.Errorf("recording detection: %w", err)
	}

	if result.Grade >= c.cfg.HighGradeThreshold {
		c.sessions.MarkHighGradeCase(task.TokenID)
	}

	c.audit.Emit(ctx, task.TokenID, "detection_completed", "ok", "chain")
	body, err := json.Marshal(decisionPayload{
		Grade:              result.Grade,
		Confidence:         result.Confidence,
		AnatomicalLocation: result.AnatomicalLocation,
		DetectionID:        detectionID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding decision payload: %w", err)
	}
	return &taskrunner.NextStage{Queue: c.cfg.MedicalPriorityQueue, Stage: "decision", Payload: body}, nil
}

// decide resolves the token's de-identified projection, runs the Decision
// Engine Facade, and persists the merged verdict.
func (c *Chain) decide(ctx context.Context, task processingstore.TaskQueueEntry) (*taskrunner.NextStage, error) {
	var in decisionPayload
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return nil, fmt.Errorf("decoding decision payload: %w", err)
	}

	proj, err := c.tokens.ResolveToken(ctx, systemCaller, task.TokenID)
	if err != nil {
		return nil, fmt.Errorf("resolving patient projection: %w", err)
	}

	verdict, err := c.facade.Decide(ctx, decision.Input{
		TokenID: task.TokenID,
		Detection: decision.Detection{
			Grade:              in.Grade,
			Confidence:         in.Confidence,
			AnatomicalLocation: in.AnatomicalLocation,
		},
		Patient: decision.PatientContext{
			AgeRange:       proj.AgeRange,
			GenderCategory: proj.GenderCategory,
			RiskFactors:    proj.RiskFactors,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("deciding: %w", err)
	}

	decisionID := uuid.New().String()
	if err := c.store.CreateMedicalDecision(ctx, processingstore.MedicalDecision{
		DecisionID:         decisionID,
		TokenID:            task.TokenID,
		DetectionID:        in.DetectionID,
		UrgencyLevel:       string(verdict.UrgencyLevel),
		EvidenceLevel:      string(verdict.EvidenceLevel),
		Recommendations:    verdict.Recommendations,
		References:         verdict.References,
		EscalationRequired: verdict.EscalationRequired,
		FollowUpInterval:   verdict.FollowUpInterval.String(),
		JustificationText:  verdict.JustificationText,
	}); err != nil {
		return nil, fmt.Errorf("recording decision: %w", err)
	}

	c.audit.Emit(ctx, task.TokenID, "decision_completed", string(verdict.UrgencyLevel), "chain")
	body, err := json.Marshal(notifyPayload{
		DecisionID:         decisionID,
		Urgency:            string(verdict.UrgencyLevel),
		Recommendations:    verdict.Recommendations,
		EscalationRequired: verdict.EscalationRequired,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding notification payload: %w", err)
	}
	return &taskrunner.NextStage{Queue: c.cfg.NotificationsQueue, Stage: "notification", Payload: body}, nil
}

// urgencyTemplates maps a decision's urgency level to the message template
// id the notification stage renders.
var urgencyTemplates = map[string]string{
	"routine":   "routine_case",
	"urgent":    "urgent_case",
	"emergency": "emergency_case",
}

// notify renders and delivers the case's outbound notification.
func (c *Chain) notify(ctx context.Context, task processingstore.TaskQueueEntry) (*taskrunner.NextStage, error) {
	var in notifyPayload
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return nil, fmt.Errorf("decoding notification payload: %w", err)
	}

	templateID := urgencyTemplates[in.Urgency]
	if templateID == "" {
		templateID = "routine_case"
	}

	if err := c.notifier.Send(ctx, notification.Request{
		SessionID:         task.SessionID,
		TokenID:           task.TokenID,
		Urgency:           in.Urgency,
		MessageTemplateID: templateID,
		TemplateParams: map[string]string{
			"urgency":             in.Urgency,
			"escalation_required": fmt.Sprintf("%t", in.EscalationRequired),
		},
	}); err != nil {
		return nil, fmt.Errorf("notifying: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding audit_finalize payload: %w", err)
	}
	return &taskrunner.NextStage{Queue: c.cfg.AuditLoggingQueue, Stage: "audit_finalize", Payload: body}, nil
}

// auditFinalize closes the session as completed and clears any open
// high-grade-case flag, ending the workflow.
func (c *Chain) auditFinalize(ctx context.Context, task processingstore.TaskQueueEntry) (*taskrunner.NextStage, error) {
	if err := c.sessions.CloseSession(ctx, task.SessionID, session.OutcomeCompleted); err != nil {
		return nil, fmt.Errorf("closing session: %w", err)
	}
	c.sessions.ClearHighGradeCase(task.TokenID)
	c.audit.Emit(ctx, task.TokenID, "workflow_completed", "ok", "chain")
	return nil, nil
}

// humanReview is the terminal sink for a case routed to a human reviewer,
// whether by the Triage Engine's RouteHumanReview decision or by the task
// runner escalating a failed or exhausted automated stage. It parks the
// task by closing its session with OutcomeHumanReview and returning a nil
// *NextStage so the runner marks it done rather than retrying or
// escalating it again — a task landing here a second time would otherwise
// loop forever onto the same review queue. The high-grade-case flag, if
// set, is left in place: the case is still open until a human clears it.
func (c *Chain) humanReview(ctx context.Context, task processingstore.TaskQueueEntry) (*taskrunner.NextStage, error) {
	if err := c.sessions.CloseSession(ctx, task.SessionID, session.OutcomeHumanReview); err != nil {
		return nil, fmt.Errorf("closing session: %w", err)
	}
	c.audit.Emit(ctx, task.TokenID, "human_review_parked", "pending_review", "chain")
	return nil, nil
}
