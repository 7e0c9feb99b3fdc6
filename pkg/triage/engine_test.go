package triage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEngine_ImageWithPainReportIsUrgent(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := e.Evaluate(InputPackage{InputType: InputImage, ByteSize: 100, MentionsPain: true}, SessionSnapshot{})
	assert.Equal(t, UrgencyUrgent, d.Urgency)
	assert.Equal(t, RouteClinicalProcessing, d.Route)
	assert.Contains(t, d.ReasonCodes, "image_with_pain_report")
}

func TestEngine_RepeatSubmissionOpenHighGradeCaseIsEmergency(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	d := e.Evaluate(
		InputPackage{InputType: InputText, ByteSize: 10, Timestamp: now},
		SessionSnapshot{HasOpenHighGradeCase: true, PriorSubmissionAt: now.Add(-time.Hour)},
	)
	assert.Equal(t, UrgencyEmergency, d.Urgency)
	assert.Equal(t, RouteHumanReview, d.Route)
}

func TestEngine_MalformedInputRejected(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := e.Evaluate(InputPackage{InputType: InputText, ByteSize: 0}, SessionSnapshot{})
	assert.Equal(t, RouteReject, d.Route)
}

func TestEngine_OversizedPayloadIsUrgent(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg)
	d := e.Evaluate(InputPackage{InputType: InputImage, ByteSize: cfg.MaxRoutineBytes + 1}, SessionSnapshot{})
	assert.Equal(t, UrgencyUrgent, d.Urgency)
	assert.Contains(t, d.ReasonCodes, "content_size_threshold")
}

func TestEngine_RoutineTextIsRoutine(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := e.Evaluate(InputPackage{InputType: InputText, ByteSize: 50}, SessionSnapshot{})
	assert.Equal(t, UrgencyRoutine, d.Urgency)
	assert.Equal(t, RouteClinicalProcessing, d.Route)
}

func TestEngine_UnrecognizedInputTypeIsUncertain(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := e.Evaluate(InputPackage{InputType: "unknown", ByteSize: 50}, SessionSnapshot{})
	assert.Equal(t, UrgencyUrgent, d.Urgency)
	assert.Equal(t, RouteHumanReview, d.Route)
}

func TestEngine_Deterministic(t *testing.T) {
	e := NewEngine(DefaultConfig())
	pkg := InputPackage{InputType: InputImage, ByteSize: 200, MediaCount: 1}
	snap := SessionSnapshot{}
	first := e.Evaluate(pkg, snap)
	second := e.Evaluate(pkg, snap)
	assert.Equal(t, first, second)
}
