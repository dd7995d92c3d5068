package instantly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/pkg/logger"
)

// TriggerVerification asks the remote service to verify an email address.
// Verification is asynchronous; poll later with PollVerification.
func (c *Client) TriggerVerification(ctx context.Context, email string) error {
	if c.dryRun {
		logger.Info("instantly: dry-run verification trigger", "lead", email)
		return nil
	}

	payload := mustJSON(map[string]string{"email": email})
	_, err := c.doRequest(ctx, http.MethodPost, "/email-verification", opVerify, payload)
	if err != nil {
		return fmt.Errorf("triggering verification: %w", err)
	}
	return nil
}

// PollVerification fetches the current verification result for an email.
// Statuses the service has not finished yet come back as pending; anything
// unrecognized maps to unknown so the caller re-polls instead of acting.
func (c *Client) PollVerification(ctx context.Context, email string) (domain.VerificationStatus, bool, error) {
	path := "/email-verification/" + url.PathEscape(email)
	body, err := c.doRequest(ctx, http.MethodGet, path, opVerify, nil)
	if err != nil {
		return domain.VerificationUnknown, false, fmt.Errorf("polling verification: %w", err)
	}

	var resp verificationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.VerificationUnknown, false, fmt.Errorf("parsing verification response: %w", err)
	}

	switch resp.statusValue() {
	case "verified", "valid":
		return domain.VerificationValid, resp.IsCatchAll, nil
	case "invalid":
		return domain.VerificationInvalid, resp.IsCatchAll, nil
	case "pending", "processing", "in_progress":
		return domain.VerificationPending, resp.IsCatchAll, nil
	default:
		return domain.VerificationUnknown, resp.IsCatchAll, nil
	}
}
