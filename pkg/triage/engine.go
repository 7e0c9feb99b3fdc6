// Package triage implements the Triage Engine: a pure function over
// (InputPackage, SessionSnapshot) producing a Decision. It performs no I/O,
// reads no patient identity, and makes no network calls — evaluating the
// same inputs twice always yields the same decision.
package triage

import "time"

// Config holds the closed rule-set's tunable thresholds. All fields have
// sane defaults via DefaultConfig.
type Config struct {
	// RepeatSubmissionWindow is the lookback window for "repeat submission
	// within 24h of open high-grade case".
	RepeatSubmissionWindow time.Duration
	// MaxRoutineBytes bounds the content-agnostic size signal used for the
	// numeric threshold; payloads above this size are treated as carrying
	// enough signal to warrant at least urgent routing.
	MaxRoutineBytes int64
	// MaxRoutineMediaCount bounds how many media entries a routine
	// submission may carry before the count signal pushes it to urgent.
	MaxRoutineMediaCount int
}

// DefaultConfig returns the closed rule-set's default thresholds.
func DefaultConfig() Config {
	return Config{
		RepeatSubmissionWindow: 24 * time.Hour,
		MaxRoutineBytes:        5 << 20, // 5 MiB
		MaxRoutineMediaCount:   3,
	}
}

// Engine evaluates the closed rule-set against a Config.
type Engine struct {
	cfg Config
}

// NewEngine constructs an Engine bound to cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate is the pure triage function. Given identical pkg and snapshot it
// always returns an identical Decision.
func (e *Engine) Evaluate(pkg InputPackage, snap SessionSnapshot) Decision {
	var reasons []string

	// Rule: image accompanied by an explicit pain report is always at
	// least urgent — never silently downgraded by size/count signals. A
	// pain report travels as text, so media plus text arrives as mixed.
	if (pkg.InputType == InputImage || pkg.InputType == InputMixed) && pkg.MentionsPain {
		reasons = append(reasons, "image_with_pain_report")
		return Decision{Urgency: UrgencyUrgent, Route: RouteClinicalProcessing, ReasonCodes: reasons}
	}

	// Rule: repeat submission within the window of an already-open
	// high-grade case escalates to emergency and forces human review —
	// the engine does not trust clinical re-classification of a
	// deteriorating case to automated processing alone.
	if snap.HasOpenHighGradeCase && !snap.PriorSubmissionAt.IsZero() &&
		pkg.Timestamp.Sub(snap.PriorSubmissionAt) <= e.cfg.RepeatSubmissionWindow {
		reasons = append(reasons, "repeat_submission_open_high_grade_case")
		return Decision{Urgency: UrgencyEmergency, Route: RouteHumanReview, ReasonCodes: reasons}
	}

	// Format rejection: a zero-byte or typeless package is malformed and
	// never reaches clinical processing.
	if pkg.ByteSize <= 0 || pkg.InputType == "" {
		reasons = append(reasons, "malformed_input")
		return Decision{Urgency: UrgencyRoutine, Route: RouteReject, ReasonCodes: reasons}
	}

	// Numeric threshold over content-agnostic signals: size and media
	// count. Either signal alone is enough to push past routine.
	oversized := pkg.ByteSize > e.cfg.MaxRoutineBytes
	tooManyMedia := pkg.MediaCount > e.cfg.MaxRoutineMediaCount
	if oversized || tooManyMedia {
		if oversized {
			reasons = append(reasons, "content_size_threshold")
		}
		if tooManyMedia {
			reasons = append(reasons, "media_count_threshold")
		}
		return Decision{Urgency: UrgencyUrgent, Route: RouteClinicalProcessing, ReasonCodes: reasons}
	}

	switch pkg.InputType {
	case InputImage, InputVideo, InputMixed:
		reasons = append(reasons, "routine_media_submission")
		return Decision{Urgency: UrgencyRoutine, Route: RouteClinicalProcessing, ReasonCodes: reasons}
	case InputText:
		reasons = append(reasons, "routine_text_submission")
		return Decision{Urgency: UrgencyRoutine, Route: RouteClinicalProcessing, ReasonCodes: reasons}
	default:
		// Unrecognized input type: uncertain, so fail toward caution
		// rather than guessing a route.
		reasons = append(reasons, "unrecognized_input_type")
		return Decision{Urgency: UrgencyUrgent, Route: RouteHumanReview, ReasonCodes: reasons}
	}
}
