package adapters

import "errors"

// Sentinel errors produced by the HTTP round trip, before taxonomy
// classification.
var (
	ErrUnavailable = errors.New("adapters: upstream unavailable")
	ErrBadResponse = errors.New("adapters: malformed upstream response")
)
