package tokenization

import "errors"

// Sentinel errors returned by Service methods. Callers should compare with
// errors.Is, never by string.
var (
	// ErrMRNNotFound is returned by RequestToken when hospital_mrn is unknown.
	ErrMRNNotFound = errors.New("tokenization: hospital mrn not found")
	// ErrForbidden is returned when the caller's role does not permit the
	// requested operation (see RoleChecker).
	ErrForbidden = errors.New("tokenization: caller role forbidden")
	// ErrExpired is returned by ResolveToken when the token's TTL has elapsed.
	ErrExpired = errors.New("tokenization: token expired")
	// ErrUnknownToken is returned by ResolveToken/RevokeToken/BridgeLookup for
	// a token_id with no matching request.
	ErrUnknownToken = errors.New("tokenization: unknown token_id")
)
