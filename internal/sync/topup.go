package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/instantly"
	"github.com/ignite/coldsync/internal/pkg/logger"
)

// topUp fills the campaigns back up to the inventory ceiling with fresh
// candidates from the analytical store.
func (e *Engine) topUp(ctx context.Context, opts Options, summary *domain.CycleSummary) error {
	if e.deps.Source == nil {
		logger.Warn("sync: no candidate source configured, skipping top-up")
		return nil
	}

	active, err := e.deps.Memberships.ActiveCount(ctx)
	if err != nil {
		return fmt.Errorf("counting active inventory: %w", err)
	}

	headroom := e.cfg.InventoryCeiling() - active
	if headroom <= 0 {
		logger.Info("sync: inventory at ceiling, skipping top-up",
			"active", active,
			"ceiling", e.cfg.InventoryCeiling())
		return nil
	}

	want := opts.TargetLeads
	if want > headroom {
		want = headroom
	}

	candidates, err := e.deps.Source.EligibleLeads(ctx, want)
	if err != nil {
		return fmt.Errorf("selecting candidates: %w", err)
	}
	if len(candidates) == 0 {
		logger.Info("sync: no eligible candidates")
		return nil
	}

	// Partition by revenue into campaign buckets. A segment without a
	// configured campaign falls back to the SMB bucket.
	buckets := make(map[string][]domain.Lead)
	segments := make(map[string]domain.Segment)
	for _, lead := range candidates {
		segment := domain.SegmentFor(lead, e.cfg.RevenueThreshold)
		campaignID, ok := e.campaigns[segment]
		if !ok {
			segment = domain.SegmentSMB
			campaignID, ok = e.campaigns[segment]
			if !ok {
				return fmt.Errorf("no campaign configured for segment %s", segment)
			}
		}
		buckets[campaignID] = append(buckets[campaignID], lead)
		segments[campaignID] = segment
	}

	for campaignID, leads := range buckets {
		if err := e.createBatches(ctx, opts, summary, segments[campaignID], campaignID, leads); err != nil {
			return err
		}
		if ctx.Err() != nil {
			summary.Partial = true
			return nil
		}
	}
	return nil
}

// createBatches enrolls leads into one campaign in bounded batches with a
// pause between them. A running batch always finishes; the deadline is
// only checked at batch boundaries.
func (e *Engine) createBatches(ctx context.Context, opts Options, summary *domain.CycleSummary, segment domain.Segment, campaignID string, leads []domain.Lead) error {
	tally := newCampaignTally()
	defer tally.fold(summary, segment, campaignID)

	for start := 0; start < len(leads); start += opts.BatchSize {
		if ctx.Err() != nil {
			summary.Partial = true
			return nil
		}
		if start > 0 {
			if err := sleepCtx(ctx, e.cfg.BatchPause()); err != nil {
				summary.Partial = true
				return nil
			}
		}

		end := start + opts.BatchSize
		if end > len(leads) {
			end = len(leads)
		}
		if fatal := e.createBatch(ctx, opts, summary, segment, campaignID, leads[start:end], tally); fatal != nil {
			return fatal
		}
	}
	return nil
}

// createBatch runs one batch through a bounded worker pool. Only a fatal
// auth error is returned; subject-level failures land in the ledger.
func (e *Engine) createBatch(ctx context.Context, opts Options, summary *domain.CycleSummary, segment domain.Segment, campaignID string, leads []domain.Lead, tally *campaignTally) error {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		fatal error
	)

	jobs := make(chan domain.Lead)
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for lead := range jobs {
				mu.Lock()
				aborted := fatal != nil
				mu.Unlock()
				if aborted {
					// A bad credential fails every remaining job the same
					// way; drain the queue instead of hammering the remote.
					continue
				}
				created, err := e.createLead(ctx, opts, segment, campaignID, lead)
				mu.Lock()
				switch {
				case err == nil:
					if created {
						tally.created++
					}
				case instantly.IsFatal(err):
					if fatal == nil {
						fatal = err
					}
				default:
					tally.createFail++
					summary.AddError(fmt.Sprintf("create %s: %v", logger.RedactEmail(lead.Email), err), errorSampleLimit)
				}
				mu.Unlock()
			}
		}()
	}

	for _, lead := range leads {
		jobs <- lead
	}
	close(jobs)
	wg.Wait()

	return fatal
}

// createLead enrolls one candidate: remote create under the retry policy,
// membership upsert, then the asynchronous verification handoff. The bool
// reports whether the lead was actually (or in dry-run, would be) enrolled.
func (e *Engine) createLead(ctx context.Context, opts Options, segment domain.Segment, campaignID string, lead domain.Lead) (bool, error) {
	// The candidate view lags writes from this very cycle, so the
	// suppression list gets the final word.
	suppressed, err := e.deps.Suppressions.IsSuppressed(ctx, lead.Email)
	if err != nil {
		return false, fmt.Errorf("checking suppression: %w", err)
	}
	if suppressed {
		logger.Debug("sync: candidate suppressed, skipping", "lead", lead.Email)
		return false, nil
	}

	if opts.DryRun {
		logger.Info("sync: dry-run create", "lead", lead.Email, "campaign", campaignID)
		return true, nil
	}

	var remoteID string
	attempts, err := e.remoteDo(ctx, func() error {
		id, cerr := e.deps.Remote.CreateLead(ctx, lead, campaignID)
		if cerr == nil {
			remoteID = id
		}
		return cerr
	})
	if err != nil {
		ferr := e.deps.Failures.Record(ctx, domain.FailureRecord{
			Phase:      domain.PhaseTopUp,
			Email:      lead.Email,
			HTTPStatus: instantly.StatusOf(err),
			ErrorText:  err.Error(),
			RetryCount: attempts,
			OccurredAt: e.now(),
		})
		if ferr != nil {
			logger.Error("sync: failure ledger write failed", "error", ferr)
		}
		return false, err
	}

	now := e.now()
	membership := &domain.Membership{
		Email:      lead.Email,
		CampaignID: campaignID,
		RemoteID:   remoteID,
		Status:     domain.StatusActive,
		AddedAt:    now,
	}

	// Verification is fire-and-forget: a failed trigger is retried by the
	// sub-loop, it must not undo the successful enrollment.
	if verr := e.deps.Remote.TriggerVerification(ctx, lead.Email); verr == nil {
		membership.VerificationStatus = domain.VerificationPending
		membership.VerificationTriggeredAt = &now
	} else {
		logger.Warn("sync: verification trigger failed", "lead", lead.Email, "error", verr)
	}

	if err := e.deps.Memberships.Upsert(ctx, membership); err != nil {
		return false, fmt.Errorf("recording membership: %w", err)
	}
	return true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
