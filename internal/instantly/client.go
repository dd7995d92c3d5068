// Package instantly is the client for the campaign execution service. All
// remote reads and writes go through it: lead creation, cursor-paginated
// listing, idempotent deletion, and the email verification endpoints. An
// injected AdaptiveLimiter paces every call.
package instantly

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/pkg/httpretry"
	"github.com/ignite/coldsync/internal/pkg/logger"
)

// Operation names used for limiter pacing and breaker scoping.
const (
	opCreate = "create"
	opList   = "list"
	opDelete = "delete"
	opVerify = "verify"
)

// Client is a campaign service API client.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient httpretry.HTTPDoer
	limiter    *AdaptiveLimiter
	dryRun     bool
}

// NewClient creates a new campaign service client. The limiter is required;
// it is owned by this client and must not be shared with unrelated clients.
//
// The wrapped HTTP client retries at most once, for transient wire-level
// blips; the graduated retry policy in the orchestrator is the single
// authority for operation-level retries, so one ledger attempt stays close
// to one wire call.
func NewClient(cfg config.InstantlyConfig, limiter *AdaptiveLimiter) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 1),
		limiter: limiter,
	}
}

// WithDryRun returns a copy of the client whose mutating verbs simulate
// success instead of calling the remote service. Reads still go out.
func (c *Client) WithDryRun(on bool) *Client {
	clone := *c
	clone.dryRun = on
	return &clone
}

// doRequest makes a paced HTTP request against the campaign service and
// returns the body for 2xx responses. Non-2xx responses come back as
// classified errors; 429/5xx outcomes also slow the limiter down.
func (c *Client) doRequest(ctx context.Context, method, path, op string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx, op); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if payload != nil {
		body := payload
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.limiter.Record(op, false)
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.limiter.Record(op, false)
		return nil, fmt.Errorf("reading response: %w", err)
	}

	// Only backpressure signals slow the limiter; a 404 or validation
	// error says nothing about remote health.
	healthy := resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500
	c.limiter.Record(op, healthy)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("instantly: request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode)
		return nil, classifyStatus(resp.StatusCode, string(body))
	}

	return body, nil
}
