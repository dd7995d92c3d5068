package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/coldsync/internal/domain"
)

// HistoryRepo implements state.HistoryStore.
type HistoryRepo struct{ db *sql.DB }

// NewHistoryRepo creates a Postgres-backed history ledger.
func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

// Merge records one disposition event. The conflict target includes the
// day bucket, and DO NOTHING keeps the first write, so re-evaluating the
// same lead within a cycle (pagination overlap, crash re-run) cannot
// double-record. A genuine re-enrollment months later lands in a new
// bucket and records normally.
func (r *HistoryRepo) Merge(ctx context.Context, rec domain.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_history
			(email, campaign_id, segment, disposition, detail, completed_at, bucket, attempt_num)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (email, campaign_id, disposition, bucket) DO NOTHING
	`, rec.Email, rec.CampaignID, rec.Segment, rec.Disposition,
		rec.Detail, rec.CompletedAt, rec.Bucket(), rec.AttemptNum)
	if err != nil {
		return fmt.Errorf("merge history: %w", err)
	}
	return nil
}
