package processingstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// CreateMedicalImage records an image reference for a session.
func (s *Store) CreateMedicalImage(ctx context.Context, img MedicalImage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medical_images (image_id, token_id, session_id, object_url, content_hash, byte_size)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		img.ImageID, img.TokenID, img.SessionID, img.ObjectURL, img.ContentHash, img.ByteSize)
	if err != nil {
		return fmt.Errorf("inserting medical image: %w", err)
	}
	return nil
}

// CreateLPPDetection records one pressure-injury detection result.
func (s *Store) CreateLPPDetection(ctx context.Context, d LPPDetection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lpp_detections (detection_id, token_id, image_id, grade, confidence, anatomical_location)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.DetectionID, d.TokenID, d.ImageID, d.Grade, d.Confidence, d.AnatomicalLocation)
	if err != nil {
		return fmt.Errorf("inserting lpp detection: %w", err)
	}
	return nil
}

// CreateMedicalDecision records the merged output of the Decision Engine
// Facade for one detection.
func (s *Store) CreateMedicalDecision(ctx context.Context, d MedicalDecision) error {
	recommendations, err := json.Marshal(d.Recommendations)
	if err != nil {
		return fmt.Errorf("marshaling recommendations: %w", err)
	}
	references, err := json.Marshal(d.References)
	if err != nil {
		return fmt.Errorf("marshaling references: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO medical_decisions
			(decision_id, token_id, detection_id, urgency_level, evidence_level,
			 recommendations, "references", escalation_required, follow_up_interval, justification_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.DecisionID, d.TokenID, d.DetectionID, d.UrgencyLevel, d.EvidenceLevel,
		recommendations, references, d.EscalationRequired, d.FollowUpInterval, d.JustificationText)
	if err != nil {
		return fmt.Errorf("inserting medical decision: %w", err)
	}
	return nil
}
