package chain

import (
	"context"
	"fmt"

	"github.com/AutonomosCdM/vigia-sub003/pkg/adapters"
	"github.com/AutonomosCdM/vigia-sub003/pkg/decision"
)

// ClinicalAIModule adapts a ClinicalAI client into a decision.DecisionModule,
// the one guideline source backed by the external clinical-AI adapter.
type ClinicalAIModule struct {
	client   ClinicalAI
	evidence decision.EvidenceLevel
}

// NewClinicalAIModule constructs a ClinicalAIModule. evidence is fixed at
// construction since the Decision Engine Facade requires every module to
// declare one evidence level for everything it contributes.
func NewClinicalAIModule(client ClinicalAI, evidence decision.EvidenceLevel) *ClinicalAIModule {
	return &ClinicalAIModule{client: client, evidence: evidence}
}

// Name implements decision.DecisionModule.
func (m *ClinicalAIModule) Name() string { return "clinical_ai" }

// EvidenceLevel implements decision.DecisionModule.
func (m *ClinicalAIModule) EvidenceLevel() decision.EvidenceLevel { return m.evidence }

// Evaluate implements decision.DecisionModule.
func (m *ClinicalAIModule) Evaluate(ctx context.Context, input decision.Input) (*decision.PartialDecision, error) {
	result, err := m.client.Evaluate(ctx, adapters.ClinicalAIRequest{
		TokenID:        input.TokenID,
		Grade:          input.Detection.Grade,
		Confidence:     input.Detection.Confidence,
		AgeRange:       input.Patient.AgeRange,
		GenderCategory: input.Patient.GenderCategory,
		RiskFactors:    input.Patient.RiskFactors,
	})
	if err != nil {
		return nil, fmt.Errorf("clinical-ai evaluate: %w", err)
	}

	return &decision.PartialDecision{
		Urgency:         decision.UrgencyLevel(result.Urgency),
		Recommendations: result.Recommendations,
		References:      result.References,
		Confidence:      result.Confidence,
		Reasoning:       result.Reasoning,
	}, nil
}
