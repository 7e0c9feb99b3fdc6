// Package notification implements the outbound notification adapter: it
// renders a message template with caller-supplied parameters and hands it
// to a pluggable Sender (Slack, email, SMS). It never receives or forwards
// a hospital identity field — templates reference the token alias only.
package notification

import "context"

// Request is what the notification stage handler submits.
type Request struct {
	SessionID         string
	TokenID           string
	Urgency           string
	MessageTemplateID string
	TemplateParams    map[string]string
}

// Sender delivers one rendered message. urgency selects the destination
// channel (routine and emergency cases route to distinct channels); a
// Sender backing a single fixed destination may ignore it.
type Sender interface {
	Send(ctx context.Context, urgency, text string) error
}

// AuditSink is the append-only audit trail notifications are reported to.
type AuditSink interface {
	Emit(ctx context.Context, tokenID, action, outcome, component string)
}
