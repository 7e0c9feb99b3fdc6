package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AutonomosCdM/vigia-sub003/internal/taxonomy"
	"github.com/AutonomosCdM/vigia-sub003/pkg/dispatcher"
	"github.com/AutonomosCdM/vigia-sub003/pkg/packager"
)

// unresolvedTokenID is used for the rare audit entries emitted before a
// request's identity can be resolved at all — an invalid or unparseable
// signature means there is no token_id yet to attribute the rejection to.
const unresolvedTokenID = "unresolved"

// Handler is the inbound webhook adapter.
type Handler struct {
	cfg    Config
	ingest Ingester
	audit  AuditSink
}

// New constructs a Handler.
func New(cfg Config, ingest Ingester, audit AuditSink) *Handler {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Hub-Signature-256"
	}
	return &Handler{cfg: cfg, ingest: ingest, audit: audit}
}

// Register mounts the webhook route on router.
func (h *Handler) Register(router gin.IRouter, path string) {
	router.POST(path, h.handle)
}

// handle verifies the signature before any processing, rejecting unsigned
// or malformed payloads with 4xx and an input_rejected audit entry;
// otherwise it hands off to the Dispatcher and returns success
// immediately. Large media is referenced by URL only — this handler never
// downloads it.
func (h *Handler) handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.reject(c, http.StatusBadRequest, "body_read_failed")
		return
	}

	if !h.verifySignature(body, c.GetHeader(h.cfg.SignatureHeader)) {
		h.reject(c, http.StatusUnauthorized, "invalid_signature")
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Sender == "" {
		h.reject(c, http.StatusBadRequest, "malformed_payload")
		return
	}

	raw := packager.RawEvent{Sender: payload.Sender, Text: payload.Text, Media: toMediaEntries(payload.Media)}

	err = h.ingest.Ingest(c.Request.Context(), payload.Sender, payload.EventID, raw)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	case errors.Is(err, dispatcher.ErrDuplicateEvent):
		// At-least-once redelivery of an event already accepted: ack
		// without reprocessing.
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	case taxonomy.Classify(err) == taxonomy.InputRejected:
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"status": "error"})
	}
}

func (h *Handler) reject(c *gin.Context, status int, reason string) {
	h.audit.Emit(c.Request.Context(), unresolvedTokenID, "input_rejected", reason, "transport")
	c.JSON(status, gin.H{"status": "rejected", "reason": reason})
}

// verifySignature checks body against header's "sha256=<hex>" HMAC, the
// convention used by WhatsApp and most webhook platforms built on it.
func (h *Handler) verifySignature(body []byte, header string) bool {
	if h.cfg.SigningSecret == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.cfg.SigningSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	return hmac.Equal(provided, expected)
}

func toMediaEntries(items []MediaItem) []packager.MediaEntry {
	entries := make([]packager.MediaEntry, 0, len(items))
	for _, m := range items {
		entries = append(entries, packager.MediaEntry{URL: m.URL, ContentType: m.ContentType, ByteSize: m.ByteSize})
	}
	return entries
}
