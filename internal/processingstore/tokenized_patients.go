package processingstore

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// CreateTokenizedPatient inserts the de-identified projection written in
// step (2) of the tokenization service's two-phase write.
func (s *Store) CreateTokenizedPatient(ctx context.Context, p TokenizedPatient) error {
	riskFactors, err := json.Marshal(p.RiskFactors)
	if err != nil {
		return fmt.Errorf("marshaling risk factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tokenized_patients
			(token_id, patient_alias, age_range, gender_category, risk_factors,
			 medical_conditions, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token_id) DO NOTHING`,
		p.TokenID, p.PatientAlias, p.AgeRange, p.GenderCategory, riskFactors,
		pq.Array(p.MedicalConditions), p.TokenExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting tokenized patient: %w", err)
	}
	return nil
}

// GetTokenizedPatient returns the minimal resolve_token projection.
func (s *Store) GetTokenizedPatient(ctx context.Context, tokenID string) (*TokenizedPatient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, patient_alias, age_range, gender_category, risk_factors,
		       medical_conditions, token_expires_at, created_at
		FROM tokenized_patients
		WHERE token_id = $1`, tokenID)

	var p TokenizedPatient
	var riskFactorsRaw []byte
	err := row.Scan(&p.TokenID, &p.PatientAlias, &p.AgeRange, &p.GenderCategory, &riskFactorsRaw,
		pq.Array(&p.MedicalConditions), &p.TokenExpiresAt, &p.CreatedAt)
	switch {
	case err == stdsql.ErrNoRows:
		return nil, ErrTokenizedPatientNotFound
	case err != nil:
		return nil, fmt.Errorf("querying tokenized patient: %w", err)
	}

	if err := json.Unmarshal(riskFactorsRaw, &p.RiskFactors); err != nil {
		return nil, fmt.Errorf("unmarshaling risk factors: %w", err)
	}
	return &p, nil
}

// DeleteTokenizedPatient removes a projection. Used when a reconciliation
// sweep discovers an orphan pending request whose projection write partially
// succeeded and must be rolled back.
func (s *Store) DeleteTokenizedPatient(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokenized_patients WHERE token_id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("deleting tokenized patient: %w", err)
	}
	return nil
}
