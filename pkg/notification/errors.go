package notification

import "errors"

var (
	// ErrUnknownTemplate is returned when Send references a template id
	// that was never registered.
	ErrUnknownTemplate = errors.New("notification: unknown message template")

	// ErrForbiddenParam is returned when a caller's template_params
	// include a key on the hospital-identity denylist — a contract
	// violation, never a valid input.
	ErrForbiddenParam = errors.New("notification: template parameter carries hospital identity")
)

// forbiddenParamKeys are parameter names a notification request must
// never carry, since templates may only reference the token alias.
var forbiddenParamKeys = []string{
	"mrn", "hospital_mrn", "full_name", "patient_name", "date_of_birth",
	"phone_number", "patient_id", "ward_location", "attending_physician",
}
