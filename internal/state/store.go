// Package state defines the durable-state contracts the engine writes
// through. Every write is an idempotent merge on a natural key, so a
// crashed cycle can be re-run end to end without double effects.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/coldsync/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("state: not found")

// MembershipStore persists (email, campaign) membership rows.
type MembershipStore interface {
	Get(ctx context.Context, email, campaignID string) (*domain.Membership, error)
	// Upsert merges on (email, campaign_id).
	Upsert(ctx context.Context, m *domain.Membership) error
	// ListByCampaign returns all rows for a campaign regardless of status.
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.Membership, error)
	// ActiveCount is the engine's active inventory across all campaigns.
	ActiveCount(ctx context.Context) (int, error)
	// MarkChecked stamps last_checked_at for a batch of emails.
	MarkChecked(ctx context.Context, campaignID string, emails []string, at time.Time) error
	// VerificationCandidates returns active rows whose verification has
	// never been triggered, or was triggered before the cutoff and is
	// still unresolved.
	VerificationCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Membership, error)
	// PendingVerification returns rows awaiting a verification result.
	PendingVerification(ctx context.Context, limit int) ([]domain.Membership, error)
}

// HistoryStore is the append-only cooldown ledger.
type HistoryStore interface {
	// Merge writes a disposition event exactly once per
	// (email, campaign, disposition, day bucket).
	Merge(ctx context.Context, rec domain.HistoryRecord) error
}

// SuppressionStore is the permanent do-not-contact list.
type SuppressionStore interface {
	// Insert adds an entry; an existing row for the email is kept as-is.
	Insert(ctx context.Context, e domain.SuppressionEntry) error
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// FailureStore records remote operations that exhausted their retry budget.
type FailureStore interface {
	// Record merges on (phase, email, day), accumulating retry_count.
	Record(ctx context.Context, rec domain.FailureRecord) error
}

// SummaryStore persists cycle summaries for the trigger API.
type SummaryStore interface {
	Save(ctx context.Context, s *domain.CycleSummary) error
	Last(ctx context.Context) (*domain.CycleSummary, error)
}
