// Package packager implements the Input Packager: format-only validation
// and normalization of a raw inbound transport event into an InputPackage,
// with no content-level medical interpretation.
package packager

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AutonomosCdM/vigia-sub003/internal/taxonomy"
)

var allowedMediaTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"video/mp4":       true,
	"video/quicktime": true,
}

// Config controls the source-hashing salt and the size cap enforced at
// packaging time.
type Config struct {
	SourceSalt    string
	MaxMediaBytes int64
}

// Packager is the Input Packager.
type Packager struct {
	cfg Config
}

// New constructs a Packager.
func New(cfg Config) *Packager {
	return &Packager{cfg: cfg}
}

// Package performs format validation (mime, size cap, required fields) of
// raw and produces an InputPackage. Any validation failure is returned
// wrapped as taxonomy.InputRejected: surfaced to the transport with a 4xx,
// audited, never retried. sessionID is supplied by the caller — already
// resolved against the Tokenization Service and Session Manager — the
// packager never resolves identity or session state itself.
func (p *Packager) Package(_ context.Context, sessionID string, raw RawEvent) (*InputPackage, error) {
	if raw.Sender == "" {
		return nil, taxonomy.Wrap(taxonomy.InputRejected, fmt.Errorf("%w: missing sender", ErrMalformed))
	}
	if raw.Text == "" && len(raw.Media) == 0 {
		return nil, taxonomy.Wrap(taxonomy.InputRejected, fmt.Errorf("%w: no text or media", ErrMalformed))
	}

	var mediaRefs []MediaRef
	var totalBytes int64
	for _, m := range raw.Media {
		if !allowedMediaTypes[strings.ToLower(m.ContentType)] {
			return nil, taxonomy.Wrap(taxonomy.InputRejected, fmt.Errorf("%w: %s", ErrUnsupportedMedia, m.ContentType))
		}
		totalBytes += m.ByteSize
		mediaRefs = append(mediaRefs, MediaRef{
			URL:             m.URL,
			ContentType:     m.ContentType,
			ByteSize:        m.ByteSize,
			CorrelationHash: correlationHash(m.URL, m.ByteSize),
		})
	}
	if cap := p.maxMediaBytes(); cap > 0 && totalBytes > cap {
		return nil, taxonomy.Wrap(taxonomy.InputRejected, ErrOversize)
	}

	return &InputPackage{
		SessionID:    sessionID,
		Timestamp:    time.Now(),
		InputType:    detectInputType(raw),
		Text:         raw.Text,
		Media:        mediaRefs,
		SourceID:     p.sourceID(raw.Sender),
		ProcessingID: uuid.New().String(),
	}, nil
}

func (p *Packager) sourceID(sender string) string {
	mac := hmac.New(sha256.New, []byte(p.cfg.SourceSalt))
	mac.Write([]byte(sender))
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *Packager) maxMediaBytes() int64 {
	if p.cfg.MaxMediaBytes <= 0 {
		return 10 << 20
	}
	return p.cfg.MaxMediaBytes
}

func detectInputType(raw RawEvent) InputType {
	hasText := raw.Text != ""
	hasMedia := len(raw.Media) > 0
	switch {
	case hasText && hasMedia:
		return InputMixed
	case hasMedia:
		for _, m := range raw.Media {
			if strings.HasPrefix(strings.ToLower(m.ContentType), "video/") {
				return InputVideo
			}
		}
		return InputImage
	default:
		return InputText
	}
}

// correlationHash fingerprints a media reference by URL and declared size.
// It is not a content hash of the bytes themselves — those are never
// fetched by this service — only a stable identifier for the reference.
func correlationHash(url string, byteSize int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", url, byteSize)))
	return hex.EncodeToString(sum[:])
}
