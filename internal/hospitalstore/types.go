package hospitalstore

import "time"

// ApprovalStatus is the lifecycle state of a TokenizationRequest.
type ApprovalStatus string

// Approval status values, mirroring the tokenization_approval_status enum.
const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Patient is a hospital-owned identity record. It never leaves the Hospital
// Store and is never referenced by patient_id outside this package.
type Patient struct {
	PatientID          string
	HospitalMRN        string
	FullName           string
	DateOfBirth        time.Time
	PhoneNumber        string
	ChronicConditions  []string
	AttendingPhysician string
	WardLocation       string
	CreatedAt          time.Time
}

// TokenizationRequest tracks the hospital side of a tokenization handshake.
type TokenizationRequest struct {
	RequestID        string
	PatientID        string
	TokenID          string
	TokenAlias       string
	RequestingSystem string
	ApprovalStatus   ApprovalStatus
	ExpiresAt        time.Time
	CreatedAt        time.Time
}
