package domain

import "time"

// FailurePhase identifies which part of a cycle produced a failure record.
type FailurePhase string

const (
	PhaseDrain    FailurePhase = "drain"
	PhaseTopUp    FailurePhase = "topup"
	PhaseVerify   FailurePhase = "verify"
	PhaseList     FailurePhase = "list"
	PhaseDelivery FailurePhase = "delivery"
)

// FailureRecord is one row in the failure ledger: a remote operation that
// failed after its retry budget. The ledger drives graduated retry across
// cycles — a subject is skipped, not erased, and attempted again later.
type FailureRecord struct {
	ID         string       `json:"id" db:"id"`
	Phase      FailurePhase `json:"phase" db:"phase"`
	Email      string       `json:"email,omitempty" db:"email"`
	HTTPStatus int          `json:"http_status" db:"http_status"`
	ErrorText  string       `json:"error_text" db:"error_text"`
	RetryCount int          `json:"retry_count" db:"retry_count"`
	OccurredAt time.Time    `json:"occurred_at" db:"occurred_at"`
}

// TruncateErrorText bounds error payloads before they reach the ledger.
func TruncateErrorText(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max]
}
