package packager

import "time"

// InputType is the detected shape of a packaged input.
type InputType string

// Recognized input types.
const (
	InputText  InputType = "text"
	InputImage InputType = "image"
	InputVideo InputType = "video"
	InputMixed InputType = "mixed"
)

// MediaEntry is one media attachment on a raw inbound event, as received
// from the transport adapter.
type MediaEntry struct {
	URL         string
	ContentType string
	ByteSize    int64
}

// RawEvent is a transport-agnostic inbound event: a sender handle, optional
// text, and zero or more media entries.
type RawEvent struct {
	Sender string
	Text   string
	Media  []MediaEntry
}

// MediaRef is a packaged media reference. The actual bytes are not fetched
// here — only a correlation hash over the reference is computed; the
// image_prep stage records that correlation hash as the MedicalImage's
// content hash without fetching the object.
type MediaRef struct {
	URL             string
	ContentType     string
	ByteSize        int64
	CorrelationHash string
}

// InputPackage is the transient, de-identified unit the Dispatcher
// enqueues. It carries no hospital identity field.
type InputPackage struct {
	SessionID    string
	Timestamp    time.Time
	InputType    InputType
	Text         string
	Media        []MediaRef
	SourceID     string
	ProcessingID string
}
