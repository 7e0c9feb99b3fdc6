package tokenization

import "time"

// Role is an authenticated caller's granted capability.
type Role string

// Roles recognized by the Tokenization Service.
const (
	// RoleRequester may call RequestToken and ResolveToken.
	RoleRequester Role = "requester"
	// RolePHIBridge may call BridgeLookup. Narrowly scoped: every successful
	// call is audited.
	RolePHIBridge Role = "phi_bridge"
	// RoleAdmin may call RevokeToken.
	RoleAdmin Role = "admin"
)

// Caller identifies the authenticated principal invoking an operation, for
// role checks and audit attribution.
type Caller struct {
	ActorID string
	Roles   []Role
}

// Has reports whether the caller holds role.
func (c Caller) Has(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenResult is the response to RequestToken.
type TokenResult struct {
	TokenID    string
	TokenAlias string
	ExpiresAt  time.Time
}

// Projection is the minimal resolve_token response: no field here can be
// combined to re-derive hospital identity.
type Projection struct {
	AgeRange       string
	GenderCategory string
	RiskFactors    map[string]bool
}
