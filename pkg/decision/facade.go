package decision

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config controls the facade's medical confidence escalation threshold.
type Config struct {
	ConfidenceThreshold float64
}

// Facade is the Decision Engine Facade: it holds the registered guideline
// modules and merges their partial verdicts. Registration is not
// concurrency-safe and is expected to happen once, at startup, before
// Decide is ever called — mirroring how a masking service registers its
// maskers before serving traffic.
type Facade struct {
	cfg     Config
	modules []DecisionModule
}

// New constructs a Facade with no modules registered.
func New(cfg Config) *Facade {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.60
	}
	return &Facade{cfg: cfg}
}

// RegisterModule adds a guideline module to the merge set.
func (f *Facade) RegisterModule(m DecisionModule) {
	f.modules = append(f.modules, m)
}

// Decide evaluates every registered module and merges the results: highest
// urgency wins; recommendations and references are unioned in first-seen
// order; evidence_level is the minimum (worst) across contributing
// modules; escalation_required is forced when any module reports
// confidence below the configured threshold, flags EscalationRequired
// directly, or when the merged urgency reaches emergency — a
// high-confidence emergency call still needs a human to review it, not
// just a low-confidence one. Unlike a masking sweep that can fail open, a
// module that errors fails the whole decision — a missing guideline
// opinion is not safe to silently drop in a clinical context. The caller
// classifies and retries or escalates per the normal task failure policy.
func (f *Facade) Decide(ctx context.Context, input Input) (*MedicalDecision, error) {
	if len(f.modules) == 0 {
		return nil, fmt.Errorf("decision: no guideline modules registered")
	}

	result := &MedicalDecision{
		TokenID:       input.TokenID,
		UrgencyLevel:  UrgencyRoutine,
		EvidenceLevel: EvidenceA,
	}
	seenRecs := make(map[string]bool)
	seenRefs := make(map[string]bool)
	var justifications []string
	var followUp time.Duration

	for _, m := range f.modules {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		partial, err := m.Evaluate(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("decision: module %q evaluation failed: %w", m.Name(), err)
		}

		if urgencyRank[partial.Urgency] > urgencyRank[result.UrgencyLevel] {
			result.UrgencyLevel = partial.Urgency
		}
		for _, rec := range partial.Recommendations {
			if !seenRecs[rec] {
				seenRecs[rec] = true
				result.Recommendations = append(result.Recommendations, rec)
			}
		}
		for _, ref := range partial.References {
			if !seenRefs[ref] {
				seenRefs[ref] = true
				result.References = append(result.References, ref)
			}
		}
		if evidenceRank[m.EvidenceLevel()] > evidenceRank[result.EvidenceLevel] {
			result.EvidenceLevel = m.EvidenceLevel()
		}
		if partial.Confidence < f.cfg.ConfidenceThreshold || partial.EscalationRequired {
			result.EscalationRequired = true
		}
		if partial.FollowUpInterval > 0 && (followUp == 0 || partial.FollowUpInterval < followUp) {
			followUp = partial.FollowUpInterval
		}
		if partial.Reasoning != "" {
			justifications = append(justifications, fmt.Sprintf("%s: %s", m.Name(), partial.Reasoning))
		}
	}

	if result.UrgencyLevel == UrgencyEmergency {
		result.EscalationRequired = true
	}

	result.FollowUpInterval = followUp
	result.JustificationText = strings.Join(justifications, "; ")
	return result, nil
}
