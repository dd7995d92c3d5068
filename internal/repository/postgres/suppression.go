package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/coldsync/internal/domain"
)

// SuppressionRepo implements state.SuppressionStore.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression store.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

// Insert adds a do-not-contact entry. DO NOTHING keeps the original row:
// suppression is monotonic, the first reason on record wins and the engine
// never weakens or removes an entry.
func (r *SuppressionRepo) Insert(ctx context.Context, e domain.SuppressionEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_list (id, email, domain, reason, source, active, created_at)
		VALUES ($1, $2, $3, $4, $5, true, NOW())
		ON CONFLICT (email) DO NOTHING
	`, e.ID, e.Email, e.Domain, e.Reason, e.Source)
	if err != nil {
		return fmt.Errorf("insert suppression: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppression_list WHERE email = $1 AND active = true)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}
