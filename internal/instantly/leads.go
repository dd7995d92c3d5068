package instantly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/pkg/logger"
)

// ErrLeadNotFound is returned by GetLead when the remote id no longer
// exists.
var ErrLeadNotFound = errors.New("instantly: lead not found")

// maxDuplicatePages is the pagination circuit breaker: this many
// consecutive pages containing no unseen ids halt listing. Protects
// against a remote that ignores or mishandles the cursor.
const maxDuplicatePages = 3

// CreateLead enrolls a lead into a campaign and returns the remote lead id.
func (c *Client) CreateLead(ctx context.Context, lead domain.Lead, campaignID string) (string, error) {
	if c.dryRun {
		logger.Info("instantly: dry-run create", "lead", lead.Email, "campaign", campaignID)
		return "dry-run-" + uuid.NewString(), nil
	}

	payload := mustJSON(createLeadRequest{
		Campaign:       campaignID,
		Email:          lead.Email,
		CompanyName:    lead.Company,
		SkipIfInList:   true,
		VerifyOnImport: false,
	})

	body, err := c.doRequest(ctx, http.MethodPost, "/leads", opCreate, payload)
	if err != nil {
		return "", fmt.Errorf("creating lead: %w", err)
	}

	var resp createLeadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing create response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create response missing lead id")
	}
	return resp.ID, nil
}

// ListLeads fetches one page of leads for a campaign. An empty cursor
// starts from the beginning; the returned cursor is empty on the last page.
func (c *Client) ListLeads(ctx context.Context, campaignID, cursor string, pageSize int) ([]Lead, string, error) {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	payload := mustJSON(listLeadsRequest{
		Campaign:      campaignID,
		Limit:         pageSize,
		StartingAfter: cursor,
	})

	body, err := c.doRequest(ctx, http.MethodPost, "/leads/list", opList, payload)
	if err != nil {
		return nil, "", fmt.Errorf("listing leads: %w", err)
	}

	var resp listLeadsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("parsing list response: %w", err)
	}
	return resp.Items, resp.NextStartingAfter, nil
}

// ListAllLeads pages through every lead in a campaign. Pagination ends on
// an empty cursor, an empty page, or the duplicate-page breaker.
func (c *Client) ListAllLeads(ctx context.Context, campaignID string) ([]Lead, error) {
	var (
		all       []Lead
		cursor    string
		seen      = make(map[string]struct{})
		dupStreak int
	)

	for {
		items, next, err := c.ListLeads(ctx, campaignID, cursor, 0)
		if err != nil {
			return all, err
		}
		if len(items) == 0 {
			break
		}

		unseen := 0
		for _, lead := range items {
			if lead.ID == "" {
				continue
			}
			if _, dup := seen[lead.ID]; dup {
				continue
			}
			seen[lead.ID] = struct{}{}
			all = append(all, lead)
			unseen++
		}

		if unseen == 0 {
			dupStreak++
			if dupStreak >= maxDuplicatePages {
				logger.Warn("instantly: pagination halted on duplicate pages",
					"campaign", campaignID,
					"pages", dupStreak,
					"collected", len(all))
				break
			}
		} else {
			dupStreak = 0
		}

		if next == "" {
			break
		}
		cursor = next
	}

	return all, nil
}

// GetLead fetches a single lead by remote id.
func (c *Client) GetLead(ctx context.Context, remoteID string) (*Lead, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/leads/"+remoteID, opList, nil)
	if err != nil {
		if StatusOf(err) == http.StatusNotFound {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("fetching lead: %w", err)
	}

	var lead Lead
	if err := json.Unmarshal(body, &lead); err != nil {
		return nil, fmt.Errorf("parsing lead: %w", err)
	}
	return &lead, nil
}

// DeleteLead removes a lead from the remote service. A 404 means the lead
// is already gone, which is the desired end state, so it is a success.
func (c *Client) DeleteLead(ctx context.Context, remoteID string) error {
	if c.dryRun {
		logger.Info("instantly: dry-run delete", "lead_id", remoteID)
		return nil
	}

	_, err := c.doRequest(ctx, http.MethodDelete, "/leads/"+remoteID, opDelete, nil)
	if err != nil {
		if StatusOf(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("deleting lead: %w", err)
	}
	return nil
}
