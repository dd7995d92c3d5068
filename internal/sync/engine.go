// Package sync runs the reconciliation cycle: drain finished leads out of
// the campaign service, top the campaigns back up from the analytical
// store, and report what happened. Cycles never overlap; a distributed
// lock guards the whole run.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/drain"
	"github.com/ignite/coldsync/internal/instantly"
	"github.com/ignite/coldsync/internal/pkg/distlock"
	"github.com/ignite/coldsync/internal/pkg/logger"
	"github.com/ignite/coldsync/internal/pkg/retrypolicy"
	"github.com/ignite/coldsync/internal/state"
)

// ErrCycleRunning is returned when another cycle already holds the lock.
var ErrCycleRunning = errors.New("sync: a cycle is already running")

// errorSampleLimit bounds how many error strings a summary carries.
const errorSampleLimit = 10

// RemoteClient is the slice of the campaign service client the engine uses.
type RemoteClient interface {
	ListAllLeads(ctx context.Context, campaignID string) ([]instantly.Lead, error)
	CreateLead(ctx context.Context, lead domain.Lead, campaignID string) (string, error)
	DeleteLead(ctx context.Context, remoteID string) error
	TriggerVerification(ctx context.Context, email string) error
}

// CandidateSource supplies eligible leads from the analytical store.
type CandidateSource interface {
	EligibleLeads(ctx context.Context, limit int) ([]domain.Lead, error)
	EligibleCount(ctx context.Context) (int, error)
}

// Verifier is the verification sub-loop, run inside the cycle when set.
type Verifier interface {
	TriggerPending(ctx context.Context) (int, error)
	PollPending(ctx context.Context) (domain.VerificationSummary, error)
}

// Options tune a single cycle. Zero values fall back to configuration.
type Options struct {
	DryRun      bool
	TargetLeads int
	BatchSize   int
}

// Deps collects everything a cycle touches.
type Deps struct {
	Remote       RemoteClient
	Source       CandidateSource
	Memberships  state.MembershipStore
	History      state.HistoryStore
	Suppressions state.SuppressionStore
	Failures     state.FailureStore
	Summaries    state.SummaryStore
	Verifier     Verifier
	Lock         distlock.DistLock
}

// Engine orchestrates reconciliation cycles.
type Engine struct {
	cfg       config.SyncConfig
	campaigns map[domain.Segment]string
	deps      Deps

	classifier *drain.Classifier
	retry      retrypolicy.Policy
	now        func() time.Time
}

// NewEngine creates an engine. Campaign ids map segments to the remote
// campaigns leads are enrolled into.
func NewEngine(cfg config.SyncConfig, instantlyCfg config.InstantlyConfig, deps Deps) *Engine {
	campaigns := make(map[domain.Segment]string)
	if instantlyCfg.SMBCampaignID != "" {
		campaigns[domain.SegmentSMB] = instantlyCfg.SMBCampaignID
	}
	if instantlyCfg.MidsizeCampaignID != "" {
		campaigns[domain.SegmentMidsize] = instantlyCfg.MidsizeCampaignID
	}

	return &Engine{
		cfg:        cfg,
		campaigns:  campaigns,
		deps:       deps,
		classifier: drain.New(cfg.BounceGrace(), cfg.StaleActive()),
		retry:      retrypolicy.Default(),
		now:        time.Now,
	}
}

// RunCycle executes one full reconciliation cycle: drain, top-up,
// verification, housekeeping. The returned summary is non-nil whenever the
// cycle actually ran, including aborted ones.
func (e *Engine) RunCycle(ctx context.Context, opts Options) (*domain.CycleSummary, error) {
	if e.deps.Lock != nil {
		acquired, err := e.deps.Lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring cycle lock: %w", err)
		}
		if !acquired {
			return nil, ErrCycleRunning
		}
		defer e.deps.Lock.Release(context.WithoutCancel(ctx))
	}

	if e.cfg.DryRun {
		opts.DryRun = true
	}
	if opts.TargetLeads <= 0 {
		opts.TargetLeads = e.cfg.TargetLeads
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = e.cfg.BatchSize
	}

	cycleCtx, cancel := context.WithTimeout(ctx, e.cfg.CycleTimeout())
	defer cancel()

	summary := &domain.CycleSummary{
		CycleID:          uuid.New().String(),
		StartedAt:        e.now(),
		DryRun:           opts.DryRun,
		InventoryCeiling: e.cfg.InventoryCeiling(),
	}

	logger.Info("sync: cycle starting",
		"cycle_id", summary.CycleID,
		"dry_run", opts.DryRun,
		"target", opts.TargetLeads)

	runErr := e.runPhases(cycleCtx, opts, summary)

	// Housekeeping always runs, even after a deadline, on a context that
	// survives the cycle's own cancellation.
	hkCtx, hkCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer hkCancel()
	e.housekeeping(hkCtx, summary)

	summary.FinishedAt = e.now()
	if !opts.DryRun && e.deps.Summaries != nil {
		if err := e.deps.Summaries.Save(hkCtx, summary); err != nil {
			logger.Error("sync: failed to persist summary", "error", err)
		}
	}

	logger.Info("sync: cycle finished",
		"cycle_id", summary.CycleID,
		"created", summary.TotalCreated(),
		"drained", summary.TotalDrained(),
		"errors", summary.ErrorCount,
		"partial", summary.Partial,
		"duration", summary.Duration().String())

	return summary, runErr
}

// runPhases executes drain then top-up then verification, in that order.
// Drain failures are soft unless the credential itself is bad.
func (e *Engine) runPhases(ctx context.Context, opts Options, summary *domain.CycleSummary) error {
	for segment, campaignID := range e.campaigns {
		if err := e.drainCampaign(ctx, opts, summary, segment, campaignID); err != nil {
			if instantly.IsFatal(err) {
				summary.AddError(err.Error(), errorSampleLimit)
				return fmt.Errorf("drain aborted: %w", err)
			}
			summary.AddError(fmt.Sprintf("drain %s: %v", campaignID, err), errorSampleLimit)
			logger.Error("sync: drain phase failed", "campaign", campaignID, "error", err)
		}
		if ctx.Err() != nil {
			summary.Partial = true
			return nil
		}
	}

	e.extendLock(ctx)

	if err := e.topUp(ctx, opts, summary); err != nil {
		if instantly.IsFatal(err) {
			summary.AddError(err.Error(), errorSampleLimit)
			return fmt.Errorf("top-up aborted: %w", err)
		}
		summary.AddError(fmt.Sprintf("top-up: %v", err), errorSampleLimit)
		logger.Error("sync: top-up phase failed", "error", err)
	}
	if ctx.Err() != nil {
		summary.Partial = true
		return nil
	}

	e.extendLock(ctx)

	if e.deps.Verifier != nil && !opts.DryRun {
		e.runVerification(ctx, summary)
	}
	if ctx.Err() != nil {
		summary.Partial = true
	}
	return nil
}

func (e *Engine) runVerification(ctx context.Context, summary *domain.CycleSummary) {
	triggered, err := e.deps.Verifier.TriggerPending(ctx)
	if err != nil {
		summary.AddError(fmt.Sprintf("verification trigger: %v", err), errorSampleLimit)
	}
	summary.Verification.Triggered += triggered

	tally, err := e.deps.Verifier.PollPending(ctx)
	if err != nil {
		summary.AddError(fmt.Sprintf("verification poll: %v", err), errorSampleLimit)
	}
	summary.Verification.Valid += tally.Valid
	summary.Verification.Invalid += tally.Invalid
	summary.Verification.Pending += tally.Pending
	summary.Verification.Deleted += tally.Deleted
}

// extendLock refreshes the cycle lock's TTL between phases so a long drain
// pass cannot let it lapse mid-cycle. Backends without TTLs (the advisory
// lock) have nothing to refresh.
func (e *Engine) extendLock(ctx context.Context) {
	ext, ok := e.deps.Lock.(interface {
		Extend(ctx context.Context, ttl time.Duration) error
	})
	if !ok {
		return
	}
	if err := ext.Extend(ctx, e.cfg.LockTTL()); err != nil {
		logger.Warn("sync: lock extend failed", "error", err)
	}
}

// housekeeping refreshes the inventory counters on the summary. It never
// mutates engine state.
func (e *Engine) housekeeping(ctx context.Context, summary *domain.CycleSummary) {
	if active, err := e.deps.Memberships.ActiveCount(ctx); err == nil {
		summary.ActiveInventory = active
	} else {
		logger.Warn("sync: housekeeping active count failed", "error", err)
	}
	if e.deps.Source != nil {
		if backlog, err := e.deps.Source.EligibleCount(ctx); err == nil {
			summary.EligibleBacklog = backlog
		} else {
			logger.Warn("sync: housekeeping backlog count failed", "error", err)
		}
	}
}

// remoteDo runs a remote mutation under the graduated retry policy,
// translating the client's error taxonomy into retry decisions. The
// attempt count feeds the failure ledger.
func (e *Engine) remoteDo(ctx context.Context, fn func() error) (int, error) {
	return e.retry.Do(ctx, func() error {
		err := fn()
		if err != nil && instantly.IsRetryable(err) {
			return retrypolicy.Retryable(err)
		}
		return err
	})
}

// campaignTally accumulates per-campaign counters during a cycle and is
// folded into the summary once the campaign finishes.
type campaignTally struct {
	created    int
	createFail int
	evaluated  int
	skipped    int
	drained    map[domain.MembershipStatus]int
}

func newCampaignTally() *campaignTally {
	return &campaignTally{drained: make(map[domain.MembershipStatus]int)}
}

func (t *campaignTally) fold(summary *domain.CycleSummary, segment domain.Segment, campaignID string) {
	for i := range summary.Campaigns {
		if summary.Campaigns[i].CampaignID == campaignID {
			c := &summary.Campaigns[i]
			c.Created += t.created
			c.CreateFail += t.createFail
			c.Evaluated += t.evaluated
			c.Skipped += t.skipped
			for k, v := range t.drained {
				c.Drained[k] += v
			}
			return
		}
	}
	drained := make(map[domain.MembershipStatus]int, len(t.drained))
	for k, v := range t.drained {
		drained[k] = v
	}
	summary.Campaigns = append(summary.Campaigns, domain.CampaignSummary{
		CampaignID: campaignID,
		Segment:    segment,
		Created:    t.created,
		CreateFail: t.createFail,
		Evaluated:  t.evaluated,
		Skipped:    t.skipped,
		Drained:    drained,
	})
}
