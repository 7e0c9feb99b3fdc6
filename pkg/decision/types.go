// Package decision implements the Decision Engine Facade: it composes the
// output of pluggable guideline modules into one MedicalDecision. It never
// evaluates clinical evidence itself — that knowledge base lives entirely
// behind the DecisionModule interface, outside this package's scope.
package decision

import (
	"context"
	"time"
)

// UrgencyLevel is the clinical urgency carried by a decision.
type UrgencyLevel string

// Recognized urgency levels, ordered least to most severe.
const (
	UrgencyRoutine   UrgencyLevel = "routine"
	UrgencyUrgent    UrgencyLevel = "urgent"
	UrgencyEmergency UrgencyLevel = "emergency"
)

var urgencyRank = map[UrgencyLevel]int{
	UrgencyRoutine:   0,
	UrgencyUrgent:    1,
	UrgencyEmergency: 2,
}

// EvidenceLevel is the strength of clinical evidence behind a
// recommendation, A (strongest) through C (weakest).
type EvidenceLevel string

// Recognized evidence levels.
const (
	EvidenceA EvidenceLevel = "A"
	EvidenceB EvidenceLevel = "B"
	EvidenceC EvidenceLevel = "C"
)

var evidenceRank = map[EvidenceLevel]int{
	EvidenceA: 0,
	EvidenceB: 1,
	EvidenceC: 2,
}

// Detection is a computer-vision grading result for one tokenized case.
type Detection struct {
	Grade              int
	Confidence         float64
	AnatomicalLocation string
}

// PatientContext is the minimal tokenized patient projection a module may
// consult. It carries no field derivable to a natural-person identity.
type PatientContext struct {
	AgeRange       string
	GenderCategory string
	RiskFactors    map[string]bool
}

// Input is what every registered module receives.
type Input struct {
	TokenID   string
	Detection Detection
	Patient   PatientContext
}

// PartialDecision is one module's contribution, before merging.
type PartialDecision struct {
	Urgency          UrgencyLevel
	Recommendations  []string
	References       []string
	Confidence       float64
	FollowUpInterval time.Duration
	Reasoning        string
	// EscalationRequired lets a module force escalation directly, for a
	// guideline verdict a confidence threshold alone cannot express — a
	// high-confidence emergency call still needs a human to review it.
	EscalationRequired bool
}

// MedicalDecision is the facade's merged output.
type MedicalDecision struct {
	TokenID            string
	UrgencyLevel       UrgencyLevel
	EvidenceLevel      EvidenceLevel
	Recommendations    []string
	References         []string
	EscalationRequired bool
	FollowUpInterval   time.Duration
	JustificationText  string
}

// DecisionModule is a pluggable guideline source. Each module declares a
// fixed evidence level for everything it contributes and evaluates one
// Input into a PartialDecision.
type DecisionModule interface {
	Name() string
	EvidenceLevel() EvidenceLevel
	Evaluate(ctx context.Context, input Input) (*PartialDecision, error)
}
