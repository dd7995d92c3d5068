// Package verify runs the email verification sub-loop. Verification is an
// asynchronous remote protocol: a trigger marks the address pending, and a
// later poll resolves it to valid, invalid, or unknown. Invalid addresses
// are removed from their campaign and permanently suppressed before they
// can hard-bounce.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/instantly"
	"github.com/ignite/coldsync/internal/pkg/logger"
	"github.com/ignite/coldsync/internal/pkg/retrypolicy"
	"github.com/ignite/coldsync/internal/state"
)

// RemoteClient is the slice of the campaign service client the sub-loop uses.
type RemoteClient interface {
	TriggerVerification(ctx context.Context, email string) error
	PollVerification(ctx context.Context, email string) (domain.VerificationStatus, bool, error)
	DeleteLead(ctx context.Context, remoteID string) error
}

// Service drives verification for active memberships.
type Service struct {
	cfg          config.VerificationConfig
	remote       RemoteClient
	memberships  state.MembershipStore
	suppressions state.SuppressionStore
	history      state.HistoryStore
	failures     state.FailureStore
	retry        retrypolicy.Policy
	now          func() time.Time
}

// NewService creates a verification service sharing the engine's client
// and stores.
func NewService(cfg config.VerificationConfig, remote RemoteClient, memberships state.MembershipStore, suppressions state.SuppressionStore, history state.HistoryStore, failures state.FailureStore) *Service {
	return &Service{
		cfg:          cfg,
		remote:       remote,
		memberships:  memberships,
		suppressions: suppressions,
		history:      history,
		failures:     failures,
		retry:        retrypolicy.Default(),
		now:          time.Now,
	}
}

// TriggerPending starts verification for active memberships that have
// never been verified, or whose previous trigger went stale. A lead
// triggered within the re-trigger window is left alone so the remote
// queue is not flooded with duplicates.
func (s *Service) TriggerPending(ctx context.Context) (int, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}

	cutoff := s.now().Add(-s.cfg.RetriggerWindow())
	candidates, err := s.memberships.VerificationCandidates(ctx, cutoff, s.cfg.PollBatchSize)
	if err != nil {
		return 0, fmt.Errorf("loading verification candidates: %w", err)
	}

	triggered := 0
	for i := range candidates {
		m := &candidates[i]
		if ctx.Err() != nil {
			return triggered, ctx.Err()
		}

		if err := s.remote.TriggerVerification(ctx, m.Email); err != nil {
			if instantly.IsFatal(err) {
				return triggered, err
			}
			s.recordFailure(ctx, m.Email, err, 1)
			continue
		}

		now := s.now()
		m.VerificationStatus = domain.VerificationPending
		m.VerificationTriggeredAt = &now
		if err := s.memberships.Upsert(ctx, m); err != nil {
			logger.Error("verify: failed to mark pending", "lead", m.Email, "error", err)
			continue
		}
		triggered++
	}
	return triggered, nil
}

// PollPending resolves outstanding verifications. Only pending rows are
// polled; unknown results stay pending for the next pass rather than
// being acted on.
func (s *Service) PollPending(ctx context.Context) (domain.VerificationSummary, error) {
	var tally domain.VerificationSummary
	if !s.cfg.Enabled {
		return tally, nil
	}

	pending, err := s.memberships.PendingVerification(ctx, s.cfg.PollBatchSize)
	if err != nil {
		return tally, fmt.Errorf("loading pending verifications: %w", err)
	}

	for i := range pending {
		m := &pending[i]
		if ctx.Err() != nil {
			return tally, ctx.Err()
		}

		status, catchAll, err := s.remote.PollVerification(ctx, m.Email)
		if err != nil {
			if instantly.IsFatal(err) {
				return tally, err
			}
			s.recordFailure(ctx, m.Email, err, 1)
			tally.Pending++
			continue
		}

		switch status {
		case domain.VerificationValid:
			now := s.now()
			m.VerificationStatus = domain.VerificationValid
			m.VerificationCatchAll = catchAll
			m.VerifiedAt = &now
			if err := s.memberships.Upsert(ctx, m); err != nil {
				logger.Error("verify: failed to record valid result", "lead", m.Email, "error", err)
				continue
			}
			tally.Valid++

		case domain.VerificationInvalid:
			if err := s.removeInvalid(ctx, m, catchAll); err != nil {
				if instantly.IsFatal(err) {
					return tally, err
				}
				tally.Pending++
				continue
			}
			tally.Invalid++
			if s.cfg.DeleteOnInvalid {
				tally.Deleted++
			}

		default:
			// Pending or unknown: re-polled on the next pass.
			tally.Pending++
		}
	}
	return tally, nil
}

// removeInvalid drains an invalid address: idempotent remote delete,
// permanent suppression, history, terminal row. The address must never be
// selected again, it would hard-bounce on first send.
func (s *Service) removeInvalid(ctx context.Context, m *domain.Membership, catchAll bool) error {
	attempts := 0
	if s.cfg.DeleteOnInvalid && m.RemoteID != "" {
		var err error
		attempts, err = s.retry.Do(ctx, func() error {
			derr := s.remote.DeleteLead(ctx, m.RemoteID)
			if derr != nil && instantly.IsRetryable(derr) {
				return retrypolicy.Retryable(derr)
			}
			return derr
		})
		if err != nil {
			s.recordFailure(ctx, m.Email, err, attempts)
			return err
		}
	}

	if err := s.suppressions.Insert(ctx, domain.SuppressionEntry{
		Email:  m.Email,
		Domain: domain.EmailDomain(m.Email),
		Reason: domain.ReasonInvalidEmail,
		Source: domain.SourceVerification,
	}); err != nil {
		return fmt.Errorf("suppressing invalid address: %w", err)
	}

	now := s.now()
	if err := s.history.Merge(ctx, domain.HistoryRecord{
		Email:       m.Email,
		CampaignID:  m.CampaignID,
		Disposition: domain.StatusBouncedHard,
		Detail:      "failed verification",
		CompletedAt: now,
		AttemptNum:  attempts,
	}); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}

	m.Status = domain.StatusBouncedHard
	m.VerificationStatus = domain.VerificationInvalid
	m.VerificationCatchAll = catchAll
	m.VerifiedAt = &now
	if err := s.memberships.Upsert(ctx, m); err != nil {
		return fmt.Errorf("updating membership: %w", err)
	}

	logger.Info("verify: invalid address removed", "lead", m.Email, "campaign", m.CampaignID)
	return nil
}

func (s *Service) recordFailure(ctx context.Context, email string, err error, retries int) {
	ferr := s.failures.Record(ctx, domain.FailureRecord{
		Phase:      domain.PhaseVerify,
		Email:      email,
		HTTPStatus: instantly.StatusOf(err),
		ErrorText:  err.Error(),
		RetryCount: retries,
		OccurredAt: s.now(),
	})
	if ferr != nil {
		logger.Error("verify: failure ledger write failed", "error", ferr)
	}
}
