// Package transport implements the inbound webhook adapter: the boundary
// between an external messaging platform and the orchestrator.
// It verifies the platform's request signature, performs only
// format-level decoding, and hands off to the Dispatcher — it never
// interprets message content and never holds patient identity beyond the
// sender handle it forwards.
package transport

import (
	"context"

	"github.com/AutonomosCdM/vigia-sub003/pkg/packager"
)

// Ingester is the subset of pkg/dispatcher.Dispatcher the webhook handler
// calls.
type Ingester interface {
	Ingest(ctx context.Context, sourceID, transportEventID string, raw packager.RawEvent) error
}

// AuditSink receives one entry per rejected-at-the-door request — the only
// audit emission this package is responsible for, since everything past
// signature verification is the Dispatcher's concern.
type AuditSink interface {
	Emit(ctx context.Context, tokenID, action, outcome, component string)
}

// Config controls signature verification.
type Config struct {
	// SigningSecret is the shared secret the platform signs requests with.
	SigningSecret string
	// SignatureHeader is the HTTP header carrying the signature, e.g.
	// "X-Hub-Signature-256". Defaults to that value.
	SignatureHeader string
}

// MediaItem is one media attachment in the platform's wire payload.
type MediaItem struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	ByteSize    int64  `json:"byte_size"`
}

// WebhookPayload is the platform-agnostic wire shape this package decodes.
// A concrete transport (WhatsApp, SMS gateway, ...) is expected to map its
// own payload into this shape ahead of signature verification, or a
// dedicated per-platform decoder can replace json.Unmarshal here — the
// signature and handoff logic do not depend on the platform's exact
// envelope.
type WebhookPayload struct {
	EventID string      `json:"event_id"`
	Sender  string      `json:"sender"`
	Text    string      `json:"text"`
	Media   []MediaItem `json:"media"`
}
