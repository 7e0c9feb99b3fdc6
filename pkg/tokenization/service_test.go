package tokenization

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutonomosCdM/vigia-sub003/internal/hospitalstore"
	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
)

type fakeHospitalStore struct {
	mu       sync.Mutex
	patients map[string]hospitalstore.Patient // by MRN
	requests map[string]hospitalstore.TokenizationRequest
}

func newFakeHospitalStore() *fakeHospitalStore {
	return &fakeHospitalStore{
		patients: make(map[string]hospitalstore.Patient),
		requests: make(map[string]hospitalstore.TokenizationRequest),
	}
}

func (f *fakeHospitalStore) GetPatientByMRN(_ context.Context, mrn string) (*hospitalstore.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[mrn]
	if !ok {
		return nil, hospitalstore.ErrPatientNotFound
	}
	return &p, nil
}

func (f *fakeHospitalStore) GetActiveApprovedRequest(_ context.Context, patientID, requestingSystem string) (*hospitalstore.TokenizationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.PatientID == patientID && r.RequestingSystem == requestingSystem && r.ApprovalStatus == hospitalstore.ApprovalApproved {
			cp := r
			return &cp, nil
		}
	}
	return nil, hospitalstore.ErrRequestNotFound
}

func (f *fakeHospitalStore) CreateTokenizationRequest(_ context.Context, req hospitalstore.TokenizationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[req.RequestID] = req
	return nil
}

func (f *fakeHospitalStore) ApproveTokenizationRequest(_ context.Context, requestID string) error {
	return f.setStatus(requestID, hospitalstore.ApprovalApproved)
}

func (f *fakeHospitalStore) ExpireTokenizationRequest(_ context.Context, requestID string) error {
	return f.setStatus(requestID, hospitalstore.ApprovalExpired)
}

func (f *fakeHospitalStore) DenyTokenizationRequest(_ context.Context, requestID string) error {
	return f.setStatus(requestID, hospitalstore.ApprovalDenied)
}

func (f *fakeHospitalStore) setStatus(requestID string, status hospitalstore.ApprovalStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[requestID]
	if !ok {
		return hospitalstore.ErrRequestNotFound
	}
	r.ApprovalStatus = status
	f.requests[requestID] = r
	return nil
}

func (f *fakeHospitalStore) GetRequestByTokenID(_ context.Context, tokenID string) (*hospitalstore.TokenizationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.TokenID == tokenID {
			cp := r
			return &cp, nil
		}
	}
	return nil, hospitalstore.ErrRequestNotFound
}

func (f *fakeHospitalStore) GetMRNByTokenID(_ context.Context, tokenID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for mrn, p := range f.patients {
		for _, r := range f.requests {
			if r.TokenID == tokenID && r.PatientID == p.PatientID {
				return mrn, nil
			}
		}
	}
	return "", hospitalstore.ErrRequestNotFound
}

func (f *fakeHospitalStore) ListStalePending(_ context.Context, cutoff time.Time) ([]hospitalstore.TokenizationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []hospitalstore.TokenizationRequest
	for _, r := range f.requests {
		if r.ApprovalStatus == hospitalstore.ApprovalPending && r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeProcessingStore struct {
	mu         sync.Mutex
	tokenized  map[string]processingstore.TokenizedPatient
	sources    map[string]string
	failCreate bool
}

func newFakeProcessingStore() *fakeProcessingStore {
	return &fakeProcessingStore{
		tokenized: make(map[string]processingstore.TokenizedPatient),
		sources:   make(map[string]string),
	}
}

func (f *fakeProcessingStore) CreateSourceBinding(_ context.Context, sourceID, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[sourceID] = tokenID
	return nil
}

func (f *fakeProcessingStore) TokenIDForSourceID(_ context.Context, sourceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tokenID, ok := f.sources[sourceID]
	if !ok {
		return "", processingstore.ErrSourceBindingNotFound
	}
	return tokenID, nil
}

func (f *fakeProcessingStore) CreateTokenizedPatient(_ context.Context, p processingstore.TokenizedPatient) error {
	if f.failCreate {
		return assert.AnError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenized[p.TokenID] = p
	return nil
}

func (f *fakeProcessingStore) GetTokenizedPatient(_ context.Context, tokenID string) (*processingstore.TokenizedPatient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.tokenized[tokenID]
	if !ok {
		return nil, processingstore.ErrTokenizedPatientNotFound
	}
	return &p, nil
}

func (f *fakeProcessingStore) DeleteTokenizedPatient(_ context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokenized, tokenID)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeAudit) Emit(_ context.Context, tokenID, action, outcome, component string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, tokenID+":"+action+":"+outcome)
}

func newTestService() (*Service, *fakeHospitalStore, *fakeProcessingStore, *fakeAudit) {
	hosp := newFakeHospitalStore()
	proc := newFakeProcessingStore()
	audit := &fakeAudit{}
	svc := New(Config{AliasVocabularySalt: "test-salt", DefaultTTL: time.Hour}, hosp, proc, audit)
	return svc, hosp, proc, audit
}

func requesterCaller() Caller { return Caller{ActorID: "sys-1", Roles: []Role{RoleRequester}} }

func TestService_RequestTokenCreatesAndIsIdempotent(t *testing.T) {
	svc, hosp, _, _ := newTestService()
	hosp.patients["MRN-1"] = hospitalstore.Patient{PatientID: "pat-1", HospitalMRN: "MRN-1"}

	first, err := svc.RequestToken(context.Background(), requesterCaller(), "MRN-1", "whatsapp-bot", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, first.TokenID)
	assert.Contains(t, aliasVocabulary, first.TokenAlias)

	second, err := svc.RequestToken(context.Background(), requesterCaller(), "MRN-1", "whatsapp-bot", 0)
	require.NoError(t, err)
	assert.Equal(t, first.TokenID, second.TokenID)
}

func TestService_RequestTokenUnknownMRN(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.RequestToken(context.Background(), requesterCaller(), "MRN-missing", "whatsapp-bot", 0)
	assert.ErrorIs(t, err, ErrMRNNotFound)
}

func TestService_RequestTokenForbiddenWithoutRole(t *testing.T) {
	svc, hosp, _, _ := newTestService()
	hosp.patients["MRN-1"] = hospitalstore.Patient{PatientID: "pat-1", HospitalMRN: "MRN-1"}
	_, err := svc.RequestToken(context.Background(), Caller{ActorID: "nobody"}, "MRN-1", "whatsapp-bot", 0)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestService_RequestTokenStepTwoFailureExpiresRequest(t *testing.T) {
	svc, hosp, proc, _ := newTestService()
	hosp.patients["MRN-1"] = hospitalstore.Patient{PatientID: "pat-1", HospitalMRN: "MRN-1"}
	proc.failCreate = true

	_, err := svc.RequestToken(context.Background(), requesterCaller(), "MRN-1", "whatsapp-bot", 0)
	require.Error(t, err)

	require.Len(t, hosp.requests, 1)
	for _, r := range hosp.requests {
		assert.Equal(t, hospitalstore.ApprovalExpired, r.ApprovalStatus)
	}
}

func TestService_ResolveTokenExpired(t *testing.T) {
	svc, _, proc, _ := newTestService()
	proc.tokenized["tok-1"] = processingstore.TokenizedPatient{
		TokenID: "tok-1", TokenExpiresAt: time.Now().Add(-time.Minute),
	}
	_, err := svc.ResolveToken(context.Background(), requesterCaller(), "tok-1")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestService_ResolveTokenUnknown(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.ResolveToken(context.Background(), requesterCaller(), "tok-missing")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestService_RevokeTokenIsIdempotent(t *testing.T) {
	svc, hosp, _, audit := newTestService()
	hosp.requests["req-1"] = hospitalstore.TokenizationRequest{
		RequestID: "req-1", TokenID: "tok-1", ApprovalStatus: hospitalstore.ApprovalApproved,
	}
	admin := Caller{ActorID: "admin-1", Roles: []Role{RoleAdmin}}

	require.NoError(t, svc.RevokeToken(context.Background(), admin, "tok-1", "patient request"))
	require.NoError(t, svc.RevokeToken(context.Background(), admin, "tok-1", "patient request"))

	audit.mu.Lock()
	defer audit.mu.Unlock()
	count := 0
	for _, e := range audit.entries {
		if e == "tok-1:tokenization_revoked:denied" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestService_BridgeLookupRequiresRole(t *testing.T) {
	svc, hosp, _, _ := newTestService()
	hosp.patients["MRN-1"] = hospitalstore.Patient{PatientID: "pat-1", HospitalMRN: "MRN-1"}
	hosp.requests["req-1"] = hospitalstore.TokenizationRequest{
		RequestID: "req-1", PatientID: "pat-1", TokenID: "tok-1", ApprovalStatus: hospitalstore.ApprovalApproved,
	}

	_, err := svc.BridgeLookup(context.Background(), requesterCaller(), "tok-1")
	assert.ErrorIs(t, err, ErrForbidden)

	bridge := Caller{ActorID: "bridge-1", Roles: []Role{RolePHIBridge}}
	mrn, err := svc.BridgeLookup(context.Background(), bridge, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "MRN-1", mrn)
}

func TestService_BindSourceThenResolve(t *testing.T) {
	svc, _, proc, _ := newTestService()
	proc.tokenized["tok-1"] = processingstore.TokenizedPatient{TokenID: "tok-1", TokenExpiresAt: time.Now().Add(time.Hour)}

	require.NoError(t, svc.BindSource(context.Background(), requesterCaller(), "+15551234567", "tok-1"))

	tokenID, err := svc.ResolveSourceToken(context.Background(), "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tokenID)
}

func TestService_BindSourceUnknownToken(t *testing.T) {
	svc, _, _, _ := newTestService()
	err := svc.BindSource(context.Background(), requesterCaller(), "+15551234567", "tok-missing")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestService_ResolveSourceTokenUnbound(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.ResolveSourceToken(context.Background(), "+15550000000")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestService_ReconcileExpiresOrphans(t *testing.T) {
	svc, hosp, proc, _ := newTestService()
	old := time.Now().Add(-10 * time.Minute)
	hosp.requests["req-orphan"] = hospitalstore.TokenizationRequest{
		RequestID: "req-orphan", TokenID: "tok-orphan", ApprovalStatus: hospitalstore.ApprovalPending, CreatedAt: old,
	}
	proc.tokenized["tok-orphan"] = processingstore.TokenizedPatient{TokenID: "tok-orphan"}

	n, err := svc.Reconcile(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, hospitalstore.ApprovalExpired, hosp.requests["req-orphan"].ApprovalStatus)
	_, stillExists := proc.tokenized["tok-orphan"]
	assert.False(t, stillExists)
}
