package domain

import "time"

// MembershipStatus is the engine's view of a lead's state inside a remote
// campaign. Only "active" counts against the inventory ceiling; all other
// values are terminal and the row is kept for audit rather than deleted.
type MembershipStatus string

const (
	StatusActive       MembershipStatus = "active"
	StatusCompleted    MembershipStatus = "completed"
	StatusReplied      MembershipStatus = "replied"
	StatusBouncedHard  MembershipStatus = "bounced_hard"
	StatusBouncedSoft  MembershipStatus = "bounced_soft"
	StatusUnsubscribed MembershipStatus = "unsubscribed"
	StatusStaleActive  MembershipStatus = "stale_active"
)

// Terminal reports whether the status ends the lead's run in a campaign.
func (s MembershipStatus) Terminal() bool {
	return s != StatusActive && s != ""
}

// VerificationStatus models the verification sub-protocol explicitly:
// pending resolves to valid, invalid, or unknown. Unknown is re-polled on
// the next pass rather than acted on.
type VerificationStatus string

const (
	VerificationNone    VerificationStatus = ""
	VerificationPending VerificationStatus = "pending"
	VerificationValid   VerificationStatus = "valid"
	VerificationInvalid VerificationStatus = "invalid"
	VerificationUnknown VerificationStatus = "unknown"
)

// Membership is one (email, campaign) pair the engine believes exists in
// the remote service. RemoteID is the remote system's opaque lead id,
// globally unique there.
type Membership struct {
	Email      string           `json:"email" db:"email"`
	CampaignID string           `json:"campaign_id" db:"campaign_id"`
	RemoteID   string           `json:"remote_id" db:"remote_id"`
	Status     MembershipStatus `json:"status" db:"status"`

	VerificationStatus      VerificationStatus `json:"verification_status,omitempty" db:"verification_status"`
	VerificationCatchAll    bool               `json:"verification_catch_all,omitempty" db:"verification_catch_all"`
	VerificationCredits     int                `json:"verification_credits,omitempty" db:"verification_credits"`
	VerifiedAt              *time.Time         `json:"verified_at,omitempty" db:"verified_at"`
	VerificationTriggeredAt *time.Time         `json:"verification_triggered_at,omitempty" db:"verification_triggered_at"`

	// LastCheckedAt throttles drain re-evaluation: leads checked within
	// the throttle window are skipped by the next drain pass.
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty" db:"last_checked_at"`

	AddedAt   time.Time `json:"added_at" db:"added_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
