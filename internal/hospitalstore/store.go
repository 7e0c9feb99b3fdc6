// Package hospitalstore is the exclusive owner of HospitalPatient and
// TokenizationRequest records. Only the tokenization service is permitted to
// hold a live reference to this package alongside processingstore; every
// other component in the orchestrator sees only a token_id.
package hospitalstore

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/AutonomosCdM/vigia-sub003/internal/config"
	"github.com/AutonomosCdM/vigia-sub003/internal/storeconn"
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps the Hospital Store's database handle. It never shares its
// *sql.DB with the Processing Store.
type Store struct {
	db *stdsql.DB
}

// Open connects to the Hospital Store and applies pending migrations.
func Open(cfg config.StoreConfig) (*Store, error) {
	db, err := storeconn.Open(cfg, migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("opening hospital store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle, for health checks only.
func (s *Store) DB() *stdsql.DB {
	return s.db
}

// GetPatientByMRN looks up a patient by hospital MRN. Returns
// ErrPatientNotFound if none exists.
func (s *Store) GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT patient_id, hospital_mrn, full_name, date_of_birth, phone_number,
		       chronic_conditions, attending_physician, ward_location, created_at
		FROM hospital_patients
		WHERE hospital_mrn = $1`, mrn)

	var p Patient
	err := row.Scan(&p.PatientID, &p.HospitalMRN, &p.FullName, &p.DateOfBirth, &p.PhoneNumber,
		pq.Array(&p.ChronicConditions), &p.AttendingPhysician, &p.WardLocation, &p.CreatedAt)
	switch {
	case err == stdsql.ErrNoRows:
		return nil, ErrPatientNotFound
	case err != nil:
		return nil, fmt.Errorf("querying patient by mrn: %w", err)
	}
	return &p, nil
}

// GetActiveApprovedRequest returns the currently approved TokenizationRequest
// for (patientID, requestingSystem), if one exists. Returns ErrRequestNotFound
// if there is none — this is not itself an error condition for callers that
// only want to know whether one exists.
func (s *Store) GetActiveApprovedRequest(ctx context.Context, patientID, requestingSystem string) (*TokenizationRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, patient_id, token_id, token_alias, requesting_system,
		       approval_status, expires_at, created_at
		FROM tokenization_requests
		WHERE patient_id = $1 AND requesting_system = $2 AND approval_status = 'approved'`,
		patientID, requestingSystem)

	req, err := scanRequest(row)
	if err == stdsql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active approved request: %w", err)
	}
	return req, nil
}

// CreateTokenizationRequest inserts a new request in pending status. This is
// step (1) of the tokenization service's two-phase write.
func (s *Store) CreateTokenizationRequest(ctx context.Context, req TokenizationRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokenization_requests
			(request_id, patient_id, token_id, token_alias, requesting_system, approval_status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.RequestID, req.PatientID, req.TokenID, req.TokenAlias, req.RequestingSystem,
		ApprovalPending, req.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting tokenization request: %w", err)
	}
	return nil
}

// ApproveTokenizationRequest flips a pending request to approved. This is
// step (3) of the two-phase write, run only after the Processing Store side
// of the write (step 2) has succeeded.
func (s *Store) ApproveTokenizationRequest(ctx context.Context, requestID string) error {
	return s.transitionStatus(ctx, requestID, ApprovalApproved)
}

// ExpireTokenizationRequest marks a request expired. Used when step (2) of
// the two-phase write fails, and by the reconciliation sweep for stale
// pending requests.
func (s *Store) ExpireTokenizationRequest(ctx context.Context, requestID string) error {
	return s.transitionStatus(ctx, requestID, ApprovalExpired)
}

// DenyTokenizationRequest marks a request denied. Used by revoke_token.
func (s *Store) DenyTokenizationRequest(ctx context.Context, requestID string) error {
	return s.transitionStatus(ctx, requestID, ApprovalDenied)
}

func (s *Store) transitionStatus(ctx context.Context, requestID string, status ApprovalStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tokenization_requests SET approval_status = $1 WHERE request_id = $2`,
		status, requestID)
	if err != nil {
		return fmt.Errorf("updating tokenization request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// GetRequestByTokenID looks up a request by its opaque token_id.
func (s *Store) GetRequestByTokenID(ctx context.Context, tokenID string) (*TokenizationRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, patient_id, token_id, token_alias, requesting_system,
		       approval_status, expires_at, created_at
		FROM tokenization_requests
		WHERE token_id = $1`, tokenID)

	req, err := scanRequest(row)
	if err == stdsql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying request by token_id: %w", err)
	}
	return req, nil
}

// GetMRNByTokenID resolves a token_id back to a hospital MRN. Reserved for
// the narrowly-scoped bridge_lookup operation; every call must be audited by
// the caller.
func (s *Store) GetMRNByTokenID(ctx context.Context, tokenID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hp.hospital_mrn
		FROM tokenization_requests tr
		JOIN hospital_patients hp ON hp.patient_id = tr.patient_id
		WHERE tr.token_id = $1`, tokenID)

	var mrn string
	switch err := row.Scan(&mrn); {
	case err == stdsql.ErrNoRows:
		return "", ErrRequestNotFound
	case err != nil:
		return "", fmt.Errorf("resolving mrn by token_id: %w", err)
	}
	return mrn, nil
}

// ListStalePending returns pending requests older than cutoff, for the
// startup reconciliation sweep to expire.
func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time) ([]TokenizationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, patient_id, token_id, token_alias, requesting_system,
		       approval_status, expires_at, created_at
		FROM tokenization_requests
		WHERE approval_status = 'pending' AND created_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying stale pending requests: %w", err)
	}
	defer rows.Close()

	var out []TokenizationRequest
	for rows.Next() {
		var req TokenizationRequest
		if err := rows.Scan(&req.RequestID, &req.PatientID, &req.TokenID, &req.TokenAlias,
			&req.RequestingSystem, &req.ApprovalStatus, &req.ExpiresAt, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning stale pending request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row *stdsql.Row) (*TokenizationRequest, error) {
	var req TokenizationRequest
	err := row.Scan(&req.RequestID, &req.PatientID, &req.TokenID, &req.TokenAlias,
		&req.RequestingSystem, &req.ApprovalStatus, &req.ExpiresAt, &req.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &req, nil
}
