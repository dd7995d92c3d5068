package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/coldsync/internal/domain"
)

// FailureRepo implements state.FailureStore.
type FailureRepo struct{ db *sql.DB }

// NewFailureRepo creates a Postgres-backed failure ledger.
func NewFailureRepo(db *sql.DB) *FailureRepo { return &FailureRepo{db: db} }

// Record merges a failed remote operation into the ledger. Repeat failures
// for the same subject on the same day accumulate retry_count instead of
// piling up rows.
func (r *FailureRepo) Record(ctx context.Context, rec domain.FailureRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO failure_ledger
			(id, phase, email, http_status, error_text, retry_count, occurred_at, day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, ($7)::date)
		ON CONFLICT (phase, email, day) DO UPDATE SET
			http_status = EXCLUDED.http_status,
			error_text = EXCLUDED.error_text,
			retry_count = failure_ledger.retry_count + EXCLUDED.retry_count,
			occurred_at = EXCLUDED.occurred_at
	`, rec.ID, rec.Phase, rec.Email, rec.HTTPStatus,
		domain.TruncateErrorText(rec.ErrorText), rec.RetryCount, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}
