package processingstore

import "time"

// SessionState is the lifecycle state of a Session record.
type SessionState string

// Session state values, mirroring the session_state enum.
const (
	SessionActive  SessionState = "active"
	SessionExpired SessionState = "expired"
	SessionClosed  SessionState = "closed"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

// Task status values, mirroring the task_status enum.
const (
	TaskPending   TaskStatus = "pending"
	TaskLeased    TaskStatus = "leased"
	TaskDone      TaskStatus = "done"
	TaskEscalated TaskStatus = "escalated"
	TaskCanceled  TaskStatus = "canceled"
)

// TokenizedPatient is the derived, de-identified projection of a hospital
// patient. It contains no attribute derivable to a natural-person identity.
type TokenizedPatient struct {
	TokenID          string
	PatientAlias     string
	AgeRange         string
	GenderCategory   string
	RiskFactors      map[string]bool
	MedicalConditions []string
	TokenExpiresAt   time.Time
	CreatedAt        time.Time
}

// Session is the durable mirror of an in-memory session record.
type Session struct {
	SessionID     string
	TokenID       string
	CreatedAt     time.Time
	LastTouchedAt time.Time
	State         SessionState
	InputType     string
	AuditTrailID  string
}

// MedicalImage references an object-store image by URL and content hash.
type MedicalImage struct {
	ImageID     string
	TokenID     string
	SessionID   string
	ObjectURL   string
	ContentHash string
	ByteSize    int64
	CreatedAt   time.Time
}

// LPPDetection is one pressure-injury detection result for an image.
type LPPDetection struct {
	DetectionID         string
	TokenID             string
	ImageID             string
	Grade               int
	Confidence          float64
	AnatomicalLocation  string
	CreatedAt           time.Time
}

// MedicalDecision is the final, merged clinical decision for a detection.
type MedicalDecision struct {
	DecisionID         string
	TokenID            string
	DetectionID        string
	UrgencyLevel       string
	EvidenceLevel      string
	Recommendations    []string
	References         []string
	EscalationRequired bool
	FollowUpInterval   string
	JustificationText  string
	CreatedAt          time.Time
}

// AuditEntry is one immutable audit log record.
type AuditEntry struct {
	EntryID       string
	Timestamp     time.Time
	ActorID       string
	TokenID       string
	Action        string
	Component     string
	Outcome       string
	CorrelationID string
}

// InputQueueEntry is one encrypted, durable queue record.
type InputQueueEntry struct {
	ProcessingID string
	SessionID    string
	EnqueuedAt   time.Time
	Deadline     time.Time
	KeyVersion   uint32
	Ciphertext   []byte
	Nonce        []byte
	AckedAt      *time.Time
}

// TaskQueueEntry is one async task runner work item.
type TaskQueueEntry struct {
	TaskID         string
	Queue          string
	SessionID      string
	TokenID        string
	Stage          string
	Payload        []byte // JSON
	Attempt        int
	MaxAttempts    int
	Status         TaskStatus
	AvailableAt    time.Time
	LeaseExpiresAt *time.Time
	Deadline       time.Time
	CreatedAt      time.Time
}
