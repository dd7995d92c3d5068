package domain

import "time"

// CampaignSummary is the per-campaign slice of a cycle summary.
type CampaignSummary struct {
	CampaignID string                   `json:"campaign_id"`
	Segment    Segment                  `json:"segment"`
	Created    int                      `json:"created"`
	CreateFail int                      `json:"create_failed"`
	Drained    map[MembershipStatus]int `json:"drained"`
	Evaluated  int                      `json:"evaluated"`
	Skipped    int                      `json:"skipped"`
}

// VerificationSummary reports verification sub-loop activity.
type VerificationSummary struct {
	Triggered int `json:"triggered"`
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Pending   int `json:"pending"`
	Deleted   int `json:"deleted"`
}

// CycleSummary is the structured record emitted after every cycle. It is
// the engine's entire reporting obligation: an external notifier renders
// it to a human channel.
type CycleSummary struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`
	Partial    bool      `json:"partial"`

	ActiveInventory  int `json:"active_inventory"`
	InventoryCeiling int `json:"inventory_ceiling"`
	EligibleBacklog  int `json:"eligible_backlog"`

	Campaigns    []CampaignSummary   `json:"campaigns"`
	Verification VerificationSummary `json:"verification"`

	ErrorCount   int      `json:"error_count"`
	ErrorSamples []string `json:"error_samples,omitempty"`
}

// Duration returns the wall-clock length of the cycle.
func (s CycleSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// TotalCreated sums creations across campaigns.
func (s CycleSummary) TotalCreated() int {
	n := 0
	for _, c := range s.Campaigns {
		n += c.Created
	}
	return n
}

// TotalDrained sums drains across campaigns and dispositions.
func (s CycleSummary) TotalDrained() int {
	n := 0
	for _, c := range s.Campaigns {
		for _, v := range c.Drained {
			n += v
		}
	}
	return n
}

// AddError appends to the sample list, keeping at most limit samples
// while always counting.
func (s *CycleSummary) AddError(msg string, limit int) {
	s.ErrorCount++
	if len(s.ErrorSamples) < limit {
		s.ErrorSamples = append(s.ErrorSamples, msg)
	}
}
