package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/state"
)

// SummaryRepo implements state.SummaryStore. Summaries are stored as JSON
// payloads keyed by cycle id; the trigger API serves the latest one.
type SummaryRepo struct{ db *sql.DB }

// NewSummaryRepo creates a Postgres-backed summary store.
func NewSummaryRepo(db *sql.DB) *SummaryRepo { return &SummaryRepo{db: db} }

func (r *SummaryRepo) Save(ctx context.Context, s *domain.CycleSummary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cycle_summaries (cycle_id, started_at, finished_at, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cycle_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			payload = EXCLUDED.payload
	`, s.CycleID, s.StartedAt, s.FinishedAt, payload)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func (r *SummaryRepo) Last(ctx context.Context) (*domain.CycleSummary, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM cycle_summaries
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last summary: %w", err)
	}

	var s domain.CycleSummary
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &s, nil
}
