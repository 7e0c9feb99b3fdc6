package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
)

// ClinicalAIRequest is sent to the external clinical-AI inference engine:
// a detection result plus the tokenized patient's minimal projection. It
// carries no hospital identity field — only token_id and sanitized
// clinical context.
type ClinicalAIRequest struct {
	TokenID        string          `json:"token_id"`
	Grade          int             `json:"grade"`
	Confidence     float64         `json:"confidence"`
	AgeRange       string          `json:"age_range"`
	GenderCategory string          `json:"gender_category"`
	RiskFactors    map[string]bool `json:"risk_factors"`
}

// ClinicalAIResult is one guideline module's worth of evidence, shaped to
// feed directly into a pkg/decision.PartialDecision.
type ClinicalAIResult struct {
	Urgency         string   `json:"urgency"`
	Recommendations []string `json:"recommendations"`
	References      []string `json:"references"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
}

// ClinicalAIClient calls the external clinical-AI inference engine.
type ClinicalAIClient struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
}

// NewClinicalAIClient constructs a ClinicalAIClient.
func NewClinicalAIClient(cfg Config) *ClinicalAIClient {
	return &ClinicalAIClient{
		http:    buildHTTPClient(cfg),
		breaker: buildBreaker(cfg),
		baseURL: cfg.BaseURL,
	}
}

// Evaluate submits a detection plus patient context for clinical
// evaluation.
func (c *ClinicalAIClient) Evaluate(ctx context.Context, req ClinicalAIRequest) (*ClinicalAIResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling clinical-ai request: %w", err)
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doEvaluate(ctx, body)
	})
	if err != nil {
		return nil, classifyAdapterError(err)
	}
	return raw.(*ClinicalAIResult), nil
}

func (c *ClinicalAIClient) doEvaluate(ctx context.Context, body []byte) (*ClinicalAIResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: clinical-ai returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var result ClinicalAIResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return &result, nil
}
