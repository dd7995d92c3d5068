package sync

import (
	"context"
	"fmt"

	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/drain"
	"github.com/ignite/coldsync/internal/instantly"
	"github.com/ignite/coldsync/internal/pkg/logger"
)

// snapshotFromLead converts a remote lead into the classifier's input.
// Parsing stays defensive: fields the remote omitted are zero values,
// which the classifier reads as "signal absent".
func snapshotFromLead(lead instantly.Lead) drain.Snapshot {
	return drain.Snapshot{
		StatusCode:   lead.Status.Int(),
		StatusText:   lead.StatusText,
		ReplyCount:   lead.EmailReplyCount.Int(),
		BounceCode:   lead.ESPCode.Int(),
		Unsubscribed: lead.Unsubscribed,
		PauseUntil:   lead.PauseUntil.Time,
		CreatedAt:    lead.TimestampCreated.Time,
	}
}

// drainCampaign evaluates every remote lead in one campaign and drains the
// finished ones. Per-lead failures are recorded and skipped; only a fatal
// auth error propagates.
func (e *Engine) drainCampaign(ctx context.Context, opts Options, summary *domain.CycleSummary, segment domain.Segment, campaignID string) error {
	tally := newCampaignTally()
	defer tally.fold(summary, segment, campaignID)

	known, err := e.deps.Memberships.ListByCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("loading memberships: %w", err)
	}
	byEmail := make(map[string]*domain.Membership, len(known))
	for i := range known {
		byEmail[known[i].Email] = &known[i]
	}

	remoteLeads, err := e.deps.Remote.ListAllLeads(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("listing remote leads: %w", err)
	}

	now := e.now()
	throttleCutoff := now.Add(-e.cfg.CheckThrottle())
	seen := make(map[string]bool, len(remoteLeads))
	var checked []string

	for _, lead := range remoteLeads {
		if ctx.Err() != nil {
			summary.Partial = true
			return nil
		}

		email := domain.NormalizeEmail(lead.Email)
		if email == "" {
			continue
		}
		seen[email] = true

		membership := byEmail[email]
		if membership != nil && membership.Status.Terminal() {
			// Already drained in an earlier cycle; the remote delete
			// will catch up next pass if it is still lagging.
			continue
		}
		if membership != nil && membership.LastCheckedAt != nil && membership.LastCheckedAt.After(throttleCutoff) {
			tally.skipped++
			continue
		}

		tally.evaluated++
		decision := e.classifier.Classify(snapshotFromLead(lead), now)
		if !decision.Drain {
			checked = append(checked, email)
			continue
		}

		if membership == nil {
			// Remote knows a lead we never recorded (manual import or a
			// lost write). Adopt it so the drain is still audited.
			membership = &domain.Membership{
				Email:      email,
				CampaignID: campaignID,
				RemoteID:   lead.ID,
				Status:     domain.StatusActive,
				AddedAt:    lead.TimestampCreated.Time,
			}
		}

		if opts.DryRun {
			tally.drained[decision.Disposition]++
			continue
		}
		if err := e.drainLead(ctx, segment, membership, decision); err != nil {
			if instantly.IsFatal(err) {
				return err
			}
			summary.AddError(fmt.Sprintf("drain %s: %v", logger.RedactEmail(email), err), errorSampleLimit)
			continue
		}
		tally.drained[decision.Disposition]++
	}

	// Local rows whose remote lead vanished: the run is over, record it
	// as completed so the cooldown still applies.
	for email, m := range byEmail {
		if seen[email] || m.Status != domain.StatusActive {
			continue
		}
		tally.evaluated++
		decision := drain.Decision{
			Drain:       true,
			Disposition: domain.StatusCompleted,
			Detail:      "missing from remote service",
		}
		if opts.DryRun {
			tally.drained[decision.Disposition]++
			continue
		}
		if err := e.drainLead(ctx, segment, m, decision); err != nil {
			if instantly.IsFatal(err) {
				return err
			}
			summary.AddError(fmt.Sprintf("drain %s: %v", logger.RedactEmail(email), err), errorSampleLimit)
			continue
		}
		tally.drained[decision.Disposition]++
	}

	if !opts.DryRun && len(checked) > 0 {
		if err := e.deps.Memberships.MarkChecked(ctx, campaignID, checked, now); err != nil {
			summary.AddError(fmt.Sprintf("mark checked: %v", err), errorSampleLimit)
		}
	}
	return nil
}

// drainLead performs the drain sequence for one lead: idempotent remote
// delete, exactly-once history merge, suppression iff unsubscribed, then
// the terminal status upsert. Order matters — the remote delete comes
// first so a crash re-runs the whole sequence against a 404, which is
// still a success.
func (e *Engine) drainLead(ctx context.Context, segment domain.Segment, m *domain.Membership, decision drain.Decision) error {
	now := e.now()

	attempts := 0
	if m.RemoteID != "" {
		var err error
		attempts, err = e.remoteDo(ctx, func() error {
			return e.deps.Remote.DeleteLead(ctx, m.RemoteID)
		})
		if err != nil {
			// Leave the row active; graduated retry picks it up next
			// cycle instead of erasing a membership on one bad call.
			ferr := e.deps.Failures.Record(ctx, domain.FailureRecord{
				Phase:      domain.PhaseDrain,
				Email:      m.Email,
				HTTPStatus: instantly.StatusOf(err),
				ErrorText:  err.Error(),
				RetryCount: attempts,
				OccurredAt: now,
			})
			if ferr != nil {
				logger.Error("sync: failure ledger write failed", "error", ferr)
			}
			return err
		}
	}

	if err := e.deps.History.Merge(ctx, domain.HistoryRecord{
		Email:       m.Email,
		CampaignID:  m.CampaignID,
		Segment:     segment,
		Disposition: decision.Disposition,
		Detail:      decision.Detail,
		CompletedAt: now,
		AttemptNum:  attempts,
	}); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}

	if decision.Disposition == domain.StatusUnsubscribed {
		if err := e.deps.Suppressions.Insert(ctx, domain.SuppressionEntry{
			Email:  m.Email,
			Domain: domain.EmailDomain(m.Email),
			Reason: domain.ReasonUnsubscribe,
			Source: domain.SourceDrain,
		}); err != nil {
			return fmt.Errorf("writing suppression: %w", err)
		}
	}

	m.Status = decision.Disposition
	m.LastCheckedAt = &now
	if err := e.deps.Memberships.Upsert(ctx, m); err != nil {
		return fmt.Errorf("updating membership: %w", err)
	}

	logger.Info("sync: lead drained",
		"lead", m.Email,
		"campaign", m.CampaignID,
		"disposition", string(decision.Disposition))
	return nil
}
