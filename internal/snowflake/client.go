// Package snowflake reads outreach candidates from the analytical store.
// The engine treats it as read-only: eligibility (suppression, cooldown,
// active-membership exclusion) is pre-filtered inside the candidate view,
// so the selection contract lives in SQL owned by the data team and the
// engine only applies the limit.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver

	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/domain"
)

// Client provides access to the Snowflake candidate view.
type Client struct {
	cfg config.SnowflakeConfig
	db  *sql.DB
}

// NewClient creates a new Snowflake client.
func NewClient(cfg config.SnowflakeConfig) (*Client, error) {
	// DSN format: user:password@account/database/schema?warehouse=xxx
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		cfg.User,
		cfg.Password,
		cfg.Account,
		cfg.Database,
		cfg.Schema,
	)
	if cfg.Warehouse != "" {
		dsn += "?warehouse=" + cfg.Warehouse
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Client{cfg: cfg, db: db}, nil
}

// newClientWithDB is used by tests to inject a mock database.
func newClientWithDB(cfg config.SnowflakeConfig, db *sql.DB) *Client {
	return &Client{cfg: cfg, db: db}
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping tests the database connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// EligibleLeads returns up to limit candidates from the ready view, in the
// view's priority order.
func (c *Client) EligibleLeads(ctx context.Context, limit int) ([]domain.Lead, error) {
	query := fmt.Sprintf(`
		SELECT EMAIL, COMPANY_NAME, COMPANY_DOMAIN, STATE, COUNTRY_CODE, ANNUAL_REVENUE
		FROM %s
		LIMIT ?
	`, c.cfg.View)

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible leads: %w", err)
	}
	defer rows.Close()

	var leads []domain.Lead
	for rows.Next() {
		var (
			lead    domain.Lead
			company sql.NullString
			cdomain sql.NullString
			state   sql.NullString
			country sql.NullString
			revenue sql.NullFloat64
		)
		if err := rows.Scan(&lead.Email, &company, &cdomain, &state, &country, &revenue); err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		lead.Email = domain.NormalizeEmail(lead.Email)
		lead.Company = company.String
		lead.Domain = cdomain.String
		lead.State = state.String
		lead.CountryCode = country.String
		lead.AnnualRevenue = revenue.Float64
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// EligibleCount returns the size of the ready backlog.
func (c *Client) EligibleCount(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, c.cfg.View)
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count eligible leads: %w", err)
	}
	return count, nil
}
