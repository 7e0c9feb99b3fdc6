package hospitalstore

import "errors"

// Sentinel errors returned by Store methods. Callers should compare with
// errors.Is, never by string.
var (
	ErrPatientNotFound = errors.New("hospitalstore: patient not found")
	ErrRequestNotFound = errors.New("hospitalstore: tokenization request not found")
)
