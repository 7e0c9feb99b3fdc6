// Package api wires the orchestrator's HTTP surface: the Tokenization API,
// the admin/audit query API, and a health endpoint, all on gin. The
// inbound webhook route is mounted by pkg/transport.Handler directly on
// the same router rather than re-implemented here.
package api

import (
	"context"
	"time"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
	"github.com/AutonomosCdM/vigia-sub003/internal/storeconn"
	"github.com/AutonomosCdM/vigia-sub003/pkg/audit"
	"github.com/AutonomosCdM/vigia-sub003/pkg/tokenization"
)

// Caller identifies an authenticated HTTP caller and the roles granted to
// its bearer token. Translated into tokenization.Caller/audit.Caller at the
// point each service call is made, since those packages define their own
// role vocabularies.
type Caller struct {
	ActorID string
	Roles   []string
}

// Has reports whether the caller holds role.
func (c Caller) Has(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator resolves a bearer token to its Caller. StaticAuthenticator
// is the one concrete implementation; a deployment backed by an identity
// provider can supply its own.
type Authenticator interface {
	Authenticate(token string) (Caller, bool)
}

// TokenizationService is the subset of pkg/tokenization.Service the API
// exposes.
type TokenizationService interface {
	RequestToken(ctx context.Context, caller tokenization.Caller, mrn, requestingSystem string, ttl time.Duration) (*tokenization.TokenResult, error)
	ResolveToken(ctx context.Context, caller tokenization.Caller, tokenID string) (*tokenization.Projection, error)
	RevokeToken(ctx context.Context, caller tokenization.Caller, tokenID, reason string) error
	BridgeLookup(ctx context.Context, caller tokenization.Caller, tokenID string) (string, error)
	BindSource(ctx context.Context, caller tokenization.Caller, sourceID, tokenID string) error
}

// AuditService is the subset of pkg/audit.Log the API exposes.
type AuditService interface {
	ByTokenID(ctx context.Context, caller audit.Caller, tokenID string) ([]processingstore.AuditEntry, error)
	ByTimeRange(ctx context.Context, caller audit.Caller, from, to time.Time) ([]processingstore.AuditEntry, error)
}

// HealthCheck reports connectivity for one backing store. The orchestrator
// registers one per store (hospital, processing) so /health reflects both
// independently, since the two stores never share a connection pool.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) (*storeconn.HealthStatus, error)
}

// Config controls the per-request handler timeout.
type Config struct {
	// RequestTimeout bounds how long a single handler may run, including
	// its downstream service call. Defaults to 10s.
	RequestTimeout time.Duration
}
