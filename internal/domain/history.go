package domain

import "time"

// HistoryRecord is the append-only cooldown ledger: one row per terminal
// disposition event. The merge key includes the day bucket of the
// disposition timestamp, so re-running a cycle cannot double-record the
// same event while a genuine re-enrollment months later records a new one.
type HistoryRecord struct {
	Email       string           `json:"email" db:"email"`
	CampaignID  string           `json:"campaign_id" db:"campaign_id"`
	Segment     Segment          `json:"segment" db:"segment"`
	Disposition MembershipStatus `json:"disposition" db:"disposition"`
	Detail      string           `json:"detail,omitempty" db:"detail"`
	CompletedAt time.Time        `json:"completed_at" db:"completed_at"`
	AttemptNum  int              `json:"attempt_num" db:"attempt_num"`
}

// Bucket returns the day bucket used for idempotent history merges.
func (h HistoryRecord) Bucket() time.Time {
	return h.CompletedAt.UTC().Truncate(24 * time.Hour)
}
