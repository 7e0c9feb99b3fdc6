package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
)

// DetectionRequest is sent to the CV detector. ImageURL is a reference
// into the signed object store; the detector fetches the bytes itself.
type DetectionRequest struct {
	TokenID  string `json:"token_id"`
	ImageURL string `json:"image_url"`
}

// DetectionResult is the detector's grading output.
type DetectionResult struct {
	Grade              int     `json:"grade"`
	Confidence         float64 `json:"confidence"`
	AnatomicalLocation string  `json:"anatomical_location"`
}

// DetectorClient calls the external computer-vision detection model. The
// model itself is out of scope; this is only the HTTP/JSON contract
// boundary the detection stage handler depends on.
type DetectorClient struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
}

// NewDetectorClient constructs a DetectorClient.
func NewDetectorClient(cfg Config) *DetectorClient {
	return &DetectorClient{
		http:    buildHTTPClient(cfg),
		breaker: buildBreaker(cfg),
		baseURL: cfg.BaseURL,
	}
}

// Detect submits one image for grading. Errors are pre-classified into
// the shared error taxonomy.
func (c *DetectorClient) Detect(ctx context.Context, req DetectionRequest) (*DetectionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling detection request: %w", err)
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doDetect(ctx, body)
	})
	if err != nil {
		return nil, classifyAdapterError(err)
	}
	return raw.(*DetectionResult), nil
}

func (c *DetectorClient) doDetect(ctx context.Context, body []byte) (*DetectionResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
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
		return nil, fmt.Errorf("%w: detector returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var result DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return &result, nil
}
