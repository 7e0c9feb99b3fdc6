package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	name      string
	evidence  EvidenceLevel
	partial   *PartialDecision
	err       error
}

func (f *fakeModule) Name() string                 { return f.name }
func (f *fakeModule) EvidenceLevel() EvidenceLevel  { return f.evidence }
func (f *fakeModule) Evaluate(context.Context, Input) (*PartialDecision, error) {
	return f.partial, f.err
}

func TestFacade_DecideRequiresAtLeastOneModule(t *testing.T) {
	f := New(Config{})
	_, err := f.Decide(context.Background(), Input{TokenID: "tok-1"})
	require.Error(t, err)
}

func TestFacade_DecideHighestUrgencyWins(t *testing.T) {
	f := New(Config{ConfidenceThreshold: 0.60})
	f.RegisterModule(&fakeModule{name: "staging", evidence: EvidenceA, partial: &PartialDecision{
		Urgency: UrgencyRoutine, Confidence: 0.9, Recommendations: []string{"reposition_q2h"},
	}})
	f.RegisterModule(&fakeModule{name: "sepsis-risk", evidence: EvidenceB, partial: &PartialDecision{
		Urgency: UrgencyEmergency, Confidence: 0.95, Recommendations: []string{"physician_page"},
	}})

	decision, err := f.Decide(context.Background(), Input{TokenID: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, UrgencyEmergency, decision.UrgencyLevel)
	assert.Equal(t, []string{"reposition_q2h", "physician_page"}, decision.Recommendations)
}

func TestFacade_DecideEvidenceLevelIsWorstAcrossModules(t *testing.T) {
	f := New(Config{ConfidenceThreshold: 0.60})
	f.RegisterModule(&fakeModule{name: "a", evidence: EvidenceA, partial: &PartialDecision{Urgency: UrgencyRoutine, Confidence: 0.9}})
	f.RegisterModule(&fakeModule{name: "c", evidence: EvidenceC, partial: &PartialDecision{Urgency: UrgencyRoutine, Confidence: 0.9}})

	decision, err := f.Decide(context.Background(), Input{TokenID: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, EvidenceC, decision.EvidenceLevel)
}

func TestFacade_DecideLowConfidenceForcesEscalationRegardlessOfUrgency(t *testing.T) {
	f := New(Config{ConfidenceThreshold: 0.60})
	f.RegisterModule(&fakeModule{name: "low-confidence", evidence: EvidenceB, partial: &PartialDecision{
		Urgency: UrgencyRoutine, Confidence: 0.40,
	}})

	decision, err := f.Decide(context.Background(), Input{TokenID: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, UrgencyRoutine, decision.UrgencyLevel)
	assert.True(t, decision.EscalationRequired)
}

func TestFacade_DecideDedupesRecommendationsAndReferences(t *testing.T) {
	f := New(Config{ConfidenceThreshold: 0.60})
	f.RegisterModule(&fakeModule{name: "a", evidence: EvidenceA, partial: &PartialDecision{
		Urgency: UrgencyRoutine, Confidence: 0.9,
		Recommendations: []string{"reposition_q2h"}, References: []string{"npuap-2019"},
	}})
	f.RegisterModule(&fakeModule{name: "b", evidence: EvidenceA, partial: &PartialDecision{
		Urgency: UrgencyRoutine, Confidence: 0.9,
		Recommendations: []string{"reposition_q2h", "nutrition_consult"}, References: []string{"npuap-2019"},
	}})

	decision, err := f.Decide(context.Background(), Input{TokenID: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"reposition_q2h", "nutrition_consult"}, decision.Recommendations)
	assert.Equal(t, []string{"npuap-2019"}, decision.References)
}

func TestFacade_DecideFollowUpIntervalIsMostConservative(t *testing.T) {
	f := New(Config{ConfidenceThreshold: 0.60})
	f.RegisterModule(&fakeModule{name: "a", evidence: EvidenceA, partial: &PartialDecision{
		Urgency: UrgencyRoutine, Confidence: 0.9, FollowUpInterval: 72 * time.Hour,
	}})
	f.RegisterModule(&fakeModule{name: "b", evidence: EvidenceA, partial: &PartialDecision{
		Urgency: UrgencyRoutine, Confidence: 0.9, FollowUpInterval: 24 * time.Hour,
	}})

	decision, err := f.Decide(context.Background(), Input{TokenID: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, decision.FollowUpInterval)
}

func TestFacade_DecideHighConfidenceEmergencyStillForcesEscalation(t *testing.T) {
	f := New(Config{ConfidenceThreshold: 0.60})
	f.RegisterModule(&fakeModule{name: "clinical_ai", evidence: EvidenceB, partial: &PartialDecision{
		Urgency: UrgencyEmergency, Confidence: 0.88,
	}})

	decision, err := f.Decide(context.Background(), Input{TokenID: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, UrgencyEmergency, decision.UrgencyLevel)
	assert.True(t, decision.EscalationRequired)
}

func TestFacade_DecideModuleCanForceEscalationDirectly(t *testing.T) {
	f := New(Config{ConfidenceThreshold: 0.60})
	f.RegisterModule(&fakeModule{name: "staging", evidence: EvidenceA, partial: &PartialDecision{
		Urgency: UrgencyRoutine, Confidence: 0.95, EscalationRequired: true,
	}})

	decision, err := f.Decide(context.Background(), Input{TokenID: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, UrgencyRoutine, decision.UrgencyLevel)
	assert.True(t, decision.EscalationRequired)
}

func TestFacade_DecideModuleFailureFailsWholeDecision(t *testing.T) {
	f := New(Config{ConfidenceThreshold: 0.60})
	f.RegisterModule(&fakeModule{name: "broken", evidence: EvidenceA, err: errors.New("guideline source unavailable")})

	_, err := f.Decide(context.Background(), Input{TokenID: "tok-1"})
	require.Error(t, err)
}
