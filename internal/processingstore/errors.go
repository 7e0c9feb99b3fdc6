package processingstore

import "errors"

// Sentinel errors returned by Store methods. Callers should compare with
// errors.Is, never by string.
var (
	ErrTokenizedPatientNotFound = errors.New("processingstore: tokenized patient not found")
	ErrSessionNotFound          = errors.New("processingstore: session not found")
	ErrTaskNotFound             = errors.New("processingstore: task not found")
	ErrInputQueueEntryNotFound  = errors.New("processingstore: input queue entry not found")
	ErrNoTaskAvailable          = errors.New("processingstore: no task available")
	ErrSourceBindingNotFound    = errors.New("processingstore: source binding not found")
)
