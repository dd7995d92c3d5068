// Package notify delivers cycle summaries to humans and to the archive.
// Delivery is strictly best-effort: the reconciliation work is already
// committed by the time a summary exists, so a failed notification logs
// and moves on, it never fails the cycle.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/pkg/httpretry"
	"github.com/ignite/coldsync/internal/pkg/logger"
)

// Notifier delivers one cycle summary.
type Notifier interface {
	Notify(ctx context.Context, summary *domain.CycleSummary) error
}

// Fanout delivers to every notifier, collecting errors instead of
// stopping at the first failure.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, summary *domain.CycleSummary) error {
	var firstErr error
	for _, n := range f {
		if err := n.Notify(ctx, summary); err != nil {
			logger.Error("notify: delivery failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// WebhookNotifier POSTs the summary as JSON to a configured endpoint
// (Slack-style incoming webhook or any internal collector).
type WebhookNotifier struct {
	url        string
	httpClient httpretry.HTTPDoer
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: 15 * time.Second,
		}, 2),
	}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, summary *domain.CycleSummary) error {
	payload, err := json.Marshal(webhookPayload(summary))
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// webhookPayload shapes the summary for a chat webhook: a short headline
// plus the full summary for collectors that want the detail.
func webhookPayload(s *domain.CycleSummary) map[string]any {
	headline := fmt.Sprintf("sync cycle %s: %d created, %d drained, %d errors in %s",
		s.CycleID, s.TotalCreated(), s.TotalDrained(), s.ErrorCount, s.Duration().Round(time.Second))
	if s.DryRun {
		headline = "[dry-run] " + headline
	}
	return map[string]any{
		"text":    headline,
		"summary": s,
	}
}
