// Package tokenization implements the Tokenization Service: the only
// component in the orchestrator permitted to hold a live reference to both
// the Hospital Store and the Processing Store. Every other package sees
// only an opaque token_id.
package tokenization

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/AutonomosCdM/vigia-sub003/internal/hospitalstore"
	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
)

// HospitalStore is the subset of hospitalstore.Store this service uses.
type HospitalStore interface {
	GetPatientByMRN(ctx context.Context, mrn string) (*hospitalstore.Patient, error)
	GetActiveApprovedRequest(ctx context.Context, patientID, requestingSystem string) (*hospitalstore.TokenizationRequest, error)
	CreateTokenizationRequest(ctx context.Context, req hospitalstore.TokenizationRequest) error
	ApproveTokenizationRequest(ctx context.Context, requestID string) error
	ExpireTokenizationRequest(ctx context.Context, requestID string) error
	DenyTokenizationRequest(ctx context.Context, requestID string) error
	GetRequestByTokenID(ctx context.Context, tokenID string) (*hospitalstore.TokenizationRequest, error)
	GetMRNByTokenID(ctx context.Context, tokenID string) (string, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]hospitalstore.TokenizationRequest, error)
}

// ProcessingStore is the subset of processingstore.Store this service uses.
type ProcessingStore interface {
	CreateTokenizedPatient(ctx context.Context, p processingstore.TokenizedPatient) error
	GetTokenizedPatient(ctx context.Context, tokenID string) (*processingstore.TokenizedPatient, error)
	DeleteTokenizedPatient(ctx context.Context, tokenID string) error
	CreateSourceBinding(ctx context.Context, sourceID, tokenID string) error
	TokenIDForSourceID(ctx context.Context, sourceID string) (string, error)
}

// AuditSink receives one entry per tokenization state transition.
type AuditSink interface {
	Emit(ctx context.Context, tokenID, action, outcome, component string)
}

// Config controls alias assignment and default token lifetime.
type Config struct {
	AliasVocabularySalt string
	DefaultTTL          time.Duration
}

// stripeCount bounds the number of per-patient critical-section mutexes.
// Striped rather than one mutex per patient_id so the set stays fixed-size
// regardless of how many distinct patients pass through the service.
const stripeCount = 64

// Service is the Tokenization Service.
type Service struct {
	cfg     Config
	hosp    HospitalStore
	proc    ProcessingStore
	audit   AuditSink
	stripes [stripeCount]sync.Mutex
}

// New constructs a Service.
func New(cfg Config, hosp HospitalStore, proc ProcessingStore, audit AuditSink) *Service {
	return &Service{cfg: cfg, hosp: hosp, proc: proc, audit: audit}
}

func (s *Service) stripeFor(patientID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(patientID))
	return &s.stripes[h.Sum32()%stripeCount]
}

// RequestToken implements request_token. If an active approved token
// already exists for (mrn, requestingSystem) it is returned unchanged —
// RequestToken is idempotent while a token is live for that pair.
func (s *Service) RequestToken(ctx context.Context, caller Caller, mrn, requestingSystem string, ttl time.Duration) (*TokenResult, error) {
	if !caller.Has(RoleRequester) {
		return nil, ErrForbidden
	}

	patient, err := s.hosp.GetPatientByMRN(ctx, mrn)
	if err != nil {
		if errors.Is(err, hospitalstore.ErrPatientNotFound) {
			return nil, ErrMRNNotFound
		}
		return nil, fmt.Errorf("looking up patient: %w", err)
	}

	mu := s.stripeFor(patient.PatientID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.hosp.GetActiveApprovedRequest(ctx, patient.PatientID, requestingSystem)
	if err == nil {
		return &TokenResult{TokenID: existing.TokenID, TokenAlias: existing.TokenAlias, ExpiresAt: existing.ExpiresAt}, nil
	}
	if !errors.Is(err, hospitalstore.ErrRequestNotFound) {
		return nil, fmt.Errorf("checking active token: %w", err)
	}

	return s.createToken(ctx, patient.PatientID, requestingSystem, ttl)
}

// createToken performs the two-phase write: (1)
// insert the request pending in the Hospital Store; (2) insert the derived
// projection in the Processing Store; (3) flip the request to approved. On
// failure of step (2) the request is marked expired instead of approved,
// leaving a deterministically resolvable trail for the reconciliation
// sweep.
func (s *Service) createToken(ctx context.Context, patientID, requestingSystem string, ttl time.Duration) (*TokenResult, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL()
	}

	tokenID, err := newOpaqueID()
	if err != nil {
		return nil, fmt.Errorf("generating token_id: %w", err)
	}
	requestID, err := newOpaqueID()
	if err != nil {
		return nil, fmt.Errorf("generating request_id: %w", err)
	}
	alias := assignAlias(s.cfg.AliasVocabularySalt, patientID)
	now := time.Now()
	expiresAt := now.Add(ttl)

	req := hospitalstore.TokenizationRequest{
		RequestID:        requestID,
		PatientID:        patientID,
		TokenID:          tokenID,
		TokenAlias:       alias,
		RequestingSystem: requestingSystem,
		ApprovalStatus:   hospitalstore.ApprovalPending,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
	}
	if err := s.hosp.CreateTokenizationRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("creating tokenization request: %w", err)
	}
	s.audit.Emit(ctx, tokenID, "tokenization_requested", "pending", "tokenization")

	proj := processingstore.TokenizedPatient{
		TokenID:        tokenID,
		PatientAlias:   alias,
		RiskFactors:    map[string]bool{},
		TokenExpiresAt: expiresAt,
		CreatedAt:      now,
	}
	if err := s.proc.CreateTokenizedPatient(ctx, proj); err != nil {
		if expireErr := s.hosp.ExpireTokenizationRequest(ctx, requestID); expireErr != nil {
			s.audit.Emit(ctx, tokenID, "tokenization_requested", "fatal", "tokenization")
			return nil, fmt.Errorf("writing tokenized projection: %w (and marking request expired: %v)", err, expireErr)
		}
		s.audit.Emit(ctx, tokenID, "tokenization_requested", "expired", "tokenization")
		return nil, fmt.Errorf("writing tokenized projection: %w", err)
	}

	if err := s.hosp.ApproveTokenizationRequest(ctx, requestID); err != nil {
		return nil, fmt.Errorf("approving tokenization request: %w", err)
	}
	s.audit.Emit(ctx, tokenID, "tokenization_approved", "ok", "tokenization")

	return &TokenResult{TokenID: tokenID, TokenAlias: alias, ExpiresAt: expiresAt}, nil
}

// ResolveToken implements resolve_token.
func (s *Service) ResolveToken(ctx context.Context, caller Caller, tokenID string) (*Projection, error) {
	if !caller.Has(RoleRequester) {
		return nil, ErrForbidden
	}

	tp, err := s.proc.GetTokenizedPatient(ctx, tokenID)
	if err != nil {
		if errors.Is(err, processingstore.ErrTokenizedPatientNotFound) {
			return nil, ErrUnknownToken
		}
		return nil, fmt.Errorf("resolving token: %w", err)
	}
	if time.Now().After(tp.TokenExpiresAt) {
		return nil, ErrExpired
	}
	return &Projection{AgeRange: tp.AgeRange, GenderCategory: tp.GenderCategory, RiskFactors: tp.RiskFactors}, nil
}

// RevokeToken implements revoke_token. Idempotent: revoking an
// already-denied token succeeds silently.
func (s *Service) RevokeToken(ctx context.Context, caller Caller, tokenID, reason string) error {
	if !caller.Has(RoleAdmin) {
		return ErrForbidden
	}

	req, err := s.hosp.GetRequestByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, hospitalstore.ErrRequestNotFound) {
			return ErrUnknownToken
		}
		return fmt.Errorf("looking up request: %w", err)
	}
	if req.ApprovalStatus == hospitalstore.ApprovalDenied {
		return nil
	}

	if err := s.hosp.DenyTokenizationRequest(ctx, req.RequestID); err != nil {
		return fmt.Errorf("denying tokenization request: %w", err)
	}
	s.audit.Emit(ctx, tokenID, "tokenization_revoked", "denied", "tokenization")
	return nil
}

// BridgeLookup implements bridge_lookup. Restricted to RolePHIBridge; every
// call, successful or not, is audited.
func (s *Service) BridgeLookup(ctx context.Context, caller Caller, tokenID string) (string, error) {
	if !caller.Has(RolePHIBridge) {
		s.audit.Emit(ctx, tokenID, "bridge_lookup", "forbidden", "tokenization")
		return "", ErrForbidden
	}

	mrn, err := s.hosp.GetMRNByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, hospitalstore.ErrRequestNotFound) {
			s.audit.Emit(ctx, tokenID, "bridge_lookup", "unknown_token", "tokenization")
			return "", ErrUnknownToken
		}
		s.audit.Emit(ctx, tokenID, "bridge_lookup", "error", "tokenization")
		return "", fmt.Errorf("bridge lookup: %w", err)
	}
	s.audit.Emit(ctx, tokenID, "bridge_lookup", "ok", "tokenization")
	return mrn, nil
}

// BindSource records that inbound transport traffic from sourceID (a
// sender handle, e.g. a phone number) belongs to tokenID. Made once by the
// requesting system at token request time — the Dispatcher itself never
// resolves identity, it only looks this binding up via ResolveSourceToken.
func (s *Service) BindSource(ctx context.Context, caller Caller, sourceID, tokenID string) error {
	if !caller.Has(RoleRequester) {
		return ErrForbidden
	}
	if _, err := s.proc.GetTokenizedPatient(ctx, tokenID); err != nil {
		if errors.Is(err, processingstore.ErrTokenizedPatientNotFound) {
			return ErrUnknownToken
		}
		return fmt.Errorf("checking token before binding source: %w", err)
	}

	if err := s.proc.CreateSourceBinding(ctx, sourceID, tokenID); err != nil {
		return fmt.Errorf("binding source: %w", err)
	}
	s.audit.Emit(ctx, tokenID, "source_bound", "ok", "tokenization")
	return nil
}

// ResolveSourceToken implements pkg/dispatcher.TokenResolver: it maps a
// transport sender handle to the token_id BindSource already associated
// with it. Called on the Dispatcher's hot ingest path, not by an
// end-user-facing request, so it carries no Caller — the binding itself
// was authorized when it was created.
func (s *Service) ResolveSourceToken(ctx context.Context, sourceID string) (string, error) {
	tokenID, err := s.proc.TokenIDForSourceID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, processingstore.ErrSourceBindingNotFound) {
			return "", ErrUnknownToken
		}
		return "", fmt.Errorf("resolving source token: %w", err)
	}
	return tokenID, nil
}

func (s *Service) defaultTTL() time.Duration {
	if s.cfg.DefaultTTL <= 0 {
		return 24 * time.Hour
	}
	return s.cfg.DefaultTTL
}

// newOpaqueID generates a 128-bit CSPRNG identifier, hex-encoded. Used for
// both token_id and request_id.
func newOpaqueID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
