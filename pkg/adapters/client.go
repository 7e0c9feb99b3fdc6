// Package adapters implements the out-of-process collaborators named in
// the external interfaces: the CV detector and clinical-AI inference
// engine. Both are HTTP/JSON clients wrapped in a circuit breaker so a
// failing upstream degrades the affected task queue instead of blocking
// every worker on it.
package adapters

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/AutonomosCdM/vigia-sub003/internal/taxonomy"
)

// Config controls one adapter's endpoint, auth, call timeout, and
// circuit-breaker tuning.
type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
	BreakerName string
	MaxFailures uint32
	OpenTimeout time.Duration
}

// bearerTokenTransport wraps an http.RoundTripper to add the
// Authorization header, mirroring how the internal trust zone's existing
// outbound HTTP clients authenticate.
type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

func buildHTTPClient(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var rt http.RoundTripper = http.DefaultTransport
	if cfg.BearerToken != "" {
		rt = &bearerTokenTransport{base: rt, token: cfg.BearerToken}
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}

func buildBreaker(cfg Config) *gobreaker.CircuitBreaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	name := cfg.BreakerName
	if name == "" {
		name = "adapter"
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
}

// classifyAdapterError maps a round-trip failure to a taxonomy class for
// the task runner's retry/escalate decision. An open breaker or any
// network-level failure is transient and worth retrying once the
// upstream recovers; a malformed response is a contract violation the
// retry loop cannot fix. Everything else defaults to transient, since an
// adapter call that isn't a clear contract violation is usually a
// recoverable network hiccup, not a reason to escalate straight to human
// review.
func classifyAdapterError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBadResponse) {
		return taxonomy.Wrap(taxonomy.NonRetryable, err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return taxonomy.Wrap(taxonomy.Transient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return taxonomy.Wrap(taxonomy.Transient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return taxonomy.Wrap(taxonomy.Transient, err)
	}
	return taxonomy.Wrap(taxonomy.Transient, err)
}
