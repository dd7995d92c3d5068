// Package postgres implements the state stores against PostgreSQL. All
// writes are ON CONFLICT merges on natural keys so cycles stay idempotent.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/state"
)

// MembershipRepo implements state.MembershipStore.
type MembershipRepo struct{ db *sql.DB }

// NewMembershipRepo creates a Postgres-backed membership store.
func NewMembershipRepo(db *sql.DB) *MembershipRepo { return &MembershipRepo{db: db} }

const membershipColumns = `
	email, campaign_id, remote_id, status,
	COALESCE(verification_status,''), verification_catch_all,
	verification_credits, verified_at, verification_triggered_at,
	last_checked_at, added_at, updated_at`

func scanMembership(row interface{ Scan(...any) error }) (*domain.Membership, error) {
	m := &domain.Membership{}
	err := row.Scan(
		&m.Email, &m.CampaignID, &m.RemoteID, &m.Status,
		&m.VerificationStatus, &m.VerificationCatchAll,
		&m.VerificationCredits, &m.VerifiedAt, &m.VerificationTriggeredAt,
		&m.LastCheckedAt, &m.AddedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MembershipRepo) Get(ctx context.Context, email, campaignID string) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM lead_memberships
		WHERE email = $1 AND campaign_id = $2
	`, email, campaignID)

	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (r *MembershipRepo) Upsert(ctx context.Context, m *domain.Membership) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_memberships
			(email, campaign_id, remote_id, status,
			 verification_status, verification_catch_all, verification_credits,
			 verified_at, verification_triggered_at, last_checked_at,
			 added_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (email, campaign_id) DO UPDATE SET
			remote_id = EXCLUDED.remote_id,
			status = EXCLUDED.status,
			verification_status = EXCLUDED.verification_status,
			verification_catch_all = EXCLUDED.verification_catch_all,
			verification_credits = EXCLUDED.verification_credits,
			verified_at = EXCLUDED.verified_at,
			verification_triggered_at = EXCLUDED.verification_triggered_at,
			last_checked_at = EXCLUDED.last_checked_at,
			updated_at = NOW()
	`, m.Email, m.CampaignID, m.RemoteID, m.Status,
		m.VerificationStatus, m.VerificationCatchAll, m.VerificationCredits,
		m.VerifiedAt, m.VerificationTriggeredAt, m.LastCheckedAt)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (r *MembershipRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM lead_memberships
		WHERE campaign_id = $1
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *MembershipRepo) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lead_memberships WHERE status = $1`,
		domain.StatusActive,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active memberships: %w", err)
	}
	return n, nil
}

func (r *MembershipRepo) MarkChecked(ctx context.Context, campaignID string, emails []string, at time.Time) error {
	if len(emails) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE lead_memberships
		SET last_checked_at = $1, updated_at = NOW()
		WHERE campaign_id = $2 AND email = ANY($3)
	`, at, campaignID, pq.Array(emails))
	if err != nil {
		return fmt.Errorf("mark checked: %w", err)
	}
	return nil
}

func (r *MembershipRepo) VerificationCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM lead_memberships
		WHERE status = $1
		  AND (verification_status IS NULL OR verification_status = ''
		       OR (verification_status IN ($2, $3)
		           AND (verification_triggered_at IS NULL OR verification_triggered_at < $4)))
		ORDER BY added_at
		LIMIT $5
	`, domain.StatusActive, domain.VerificationPending, domain.VerificationUnknown, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("verification candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *MembershipRepo) PendingVerification(ctx context.Context, limit int) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM lead_memberships
		WHERE verification_status = $1
		ORDER BY verification_triggered_at
		LIMIT $2
	`, domain.VerificationPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pending verification: %w", err)
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
