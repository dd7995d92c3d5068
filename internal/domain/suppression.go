package domain

import "time"

// SuppressionReason enumerates why an email was suppressed.
type SuppressionReason string

const (
	ReasonUnsubscribe  SuppressionReason = "unsubscribe"
	ReasonInvalidEmail SuppressionReason = "invalid_email"
	ReasonManual       SuppressionReason = "manual"
)

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceDrain        SuppressionSource = "drain"
	SourceVerification SuppressionSource = "verification"
	SourceImport       SuppressionSource = "import"
)

// SuppressionEntry is a permanent do-not-contact record. Once active, the
// selection query must never return the email again; the engine only ever
// inserts rows here, it never deletes them.
type SuppressionEntry struct {
	ID        string            `json:"id" db:"id"`
	Email     string            `json:"email" db:"email"`
	Domain    string            `json:"domain" db:"domain"`
	Reason    SuppressionReason `json:"reason" db:"reason"`
	Source    SuppressionSource `json:"source" db:"source"`
	Active    bool              `json:"active" db:"active"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
