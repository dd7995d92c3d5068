package verify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/state"
)

type fakeRemote struct {
	mu        sync.Mutex
	results   map[string]domain.VerificationStatus
	catchAll  map[string]bool
	triggered []string
	deleted   []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		results:  make(map[string]domain.VerificationStatus),
		catchAll: make(map[string]bool),
	}
}

func (f *fakeRemote) TriggerVerification(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, email)
	return nil
}

func (f *fakeRemote) PollVerification(_ context.Context, email string) (domain.VerificationStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.results[email]
	if !ok {
		return domain.VerificationUnknown, false, nil
	}
	return status, f.catchAll[email], nil
}

func (f *fakeRemote) DeleteLead(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, remoteID)
	return nil
}

type fakeStore struct {
	mu           sync.Mutex
	memberships  map[string]*domain.Membership
	suppressions map[string]domain.SuppressionEntry
	history      []domain.HistoryRecord
	failures     []domain.FailureRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memberships:  make(map[string]*domain.Membership),
		suppressions: make(map[string]domain.SuppressionEntry),
	}
}

func (s *fakeStore) Get(_ context.Context, email, campaignID string) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[email]
	if !ok {
		return nil, state.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) Upsert(_ context.Context, m *domain.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.memberships[m.Email] = &cp
	return nil
}

func (s *fakeStore) ListByCampaign(_ context.Context, _ string) ([]domain.Membership, error) {
	return nil, nil
}

func (s *fakeStore) ActiveCount(_ context.Context) (int, error) { return 0, nil }

func (s *fakeStore) MarkChecked(_ context.Context, _ string, _ []string, _ time.Time) error {
	return nil
}

func (s *fakeStore) VerificationCandidates(_ context.Context, cutoff time.Time, limit int) ([]domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Membership
	for _, m := range s.memberships {
		if m.Status != domain.StatusActive {
			continue
		}
		switch m.VerificationStatus {
		case domain.VerificationNone:
			out = append(out, *m)
		case domain.VerificationPending, domain.VerificationUnknown:
			if m.VerificationTriggeredAt == nil || m.VerificationTriggeredAt.Before(cutoff) {
				out = append(out, *m)
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) PendingVerification(_ context.Context, limit int) ([]domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Membership
	for _, m := range s.memberships {
		if m.VerificationStatus == domain.VerificationPending {
			out = append(out, *m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) Insert(_ context.Context, e domain.SuppressionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.suppressions[e.Email]; !exists {
		s.suppressions[e.Email] = e
	}
	return nil
}

func (s *fakeStore) IsSuppressed(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suppressions[email]
	return ok, nil
}

func (s *fakeStore) Merge(_ context.Context, rec domain.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	return nil
}

func (s *fakeStore) Record(_ context.Context, rec domain.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, rec)
	return nil
}

func testConfig() config.VerificationConfig {
	return config.VerificationConfig{
		Enabled:         true,
		RetriggerHours:  24,
		PollBatchSize:   100,
		DeleteOnInvalid: true,
	}
}

func newTestService(remote *fakeRemote, store *fakeStore) *Service {
	return NewService(testConfig(), remote, store, store, store, store)
}

func TestTriggerPending(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeStore()
	recent := time.Now().Add(-time.Hour)
	stale := time.Now().Add(-48 * time.Hour)

	store.memberships["fresh@x.com"] = &domain.Membership{
		Email: "fresh@x.com", CampaignID: "camp-1", Status: domain.StatusActive,
	}
	store.memberships["recent@x.com"] = &domain.Membership{
		Email: "recent@x.com", CampaignID: "camp-1", Status: domain.StatusActive,
		VerificationStatus: domain.VerificationPending, VerificationTriggeredAt: &recent,
	}
	store.memberships["stale@x.com"] = &domain.Membership{
		Email: "stale@x.com", CampaignID: "camp-1", Status: domain.StatusActive,
		VerificationStatus: domain.VerificationPending, VerificationTriggeredAt: &stale,
	}

	svc := newTestService(remote, store)
	n, err := svc.TriggerPending(context.Background())
	require.NoError(t, err)

	// Never-verified and stale rows trigger; the recent one is guarded.
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"fresh@x.com", "stale@x.com"}, remote.triggered)
	assert.Equal(t, domain.VerificationPending, store.memberships["fresh@x.com"].VerificationStatus)
}

func TestTriggerPendingDisabled(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeStore()
	store.memberships["a@x.com"] = &domain.Membership{Email: "a@x.com", Status: domain.StatusActive}

	svc := NewService(config.VerificationConfig{Enabled: false}, remote, store, store, store, store)
	n, err := svc.TriggerPending(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, remote.triggered)
}

func TestPollPendingValid(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeStore()
	remote.results["ok@x.com"] = domain.VerificationValid
	remote.catchAll["ok@x.com"] = true
	store.memberships["ok@x.com"] = &domain.Membership{
		Email: "ok@x.com", CampaignID: "camp-1", RemoteID: "r-1",
		Status: domain.StatusActive, VerificationStatus: domain.VerificationPending,
	}

	svc := newTestService(remote, store)
	tally, err := svc.PollPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, tally.Valid)
	m := store.memberships["ok@x.com"]
	assert.Equal(t, domain.VerificationValid, m.VerificationStatus)
	assert.True(t, m.VerificationCatchAll)
	assert.NotNil(t, m.VerifiedAt)
	assert.Equal(t, domain.StatusActive, m.Status)
	assert.Empty(t, remote.deleted)
}

func TestPollPendingInvalidRemovesAndSuppresses(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeStore()
	remote.results["bad@x.com"] = domain.VerificationInvalid
	store.memberships["bad@x.com"] = &domain.Membership{
		Email: "bad@x.com", CampaignID: "camp-1", RemoteID: "r-9",
		Status: domain.StatusActive, VerificationStatus: domain.VerificationPending,
	}

	svc := newTestService(remote, store)
	tally, err := svc.PollPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, tally.Invalid)
	assert.Equal(t, 1, tally.Deleted)
	assert.Equal(t, []string{"r-9"}, remote.deleted)

	entry, ok := store.suppressions["bad@x.com"]
	require.True(t, ok)
	assert.Equal(t, domain.ReasonInvalidEmail, entry.Reason)
	assert.Equal(t, domain.SourceVerification, entry.Source)

	m := store.memberships["bad@x.com"]
	assert.True(t, m.Status.Terminal())
	assert.Equal(t, domain.VerificationInvalid, m.VerificationStatus)
	require.Len(t, store.history, 1)
	assert.Equal(t, "failed verification", store.history[0].Detail)
}

func TestPollPendingInvalidKeepsRemoteWhenDeleteDisabled(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeStore()
	remote.results["bad@x.com"] = domain.VerificationInvalid
	store.memberships["bad@x.com"] = &domain.Membership{
		Email: "bad@x.com", CampaignID: "camp-1", RemoteID: "r-9",
		Status: domain.StatusActive, VerificationStatus: domain.VerificationPending,
	}

	cfg := testConfig()
	cfg.DeleteOnInvalid = false
	svc := NewService(cfg, remote, store, store, store, store)

	tally, err := svc.PollPending(context.Background())
	require.NoError(t, err)

	// Still suppressed and drained locally, but the remote row is left alone.
	assert.Equal(t, 1, tally.Invalid)
	assert.Zero(t, tally.Deleted)
	assert.Empty(t, remote.deleted)
	_, suppressed := store.suppressions["bad@x.com"]
	assert.True(t, suppressed)
	assert.True(t, store.memberships["bad@x.com"].Status.Terminal())
}

func TestPollPendingUnknownLeftForNextPass(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeStore()
	// No result registered: the fake reports unknown.
	store.memberships["odd@x.com"] = &domain.Membership{
		Email: "odd@x.com", CampaignID: "camp-1", RemoteID: "r-2",
		Status: domain.StatusActive, VerificationStatus: domain.VerificationPending,
	}

	svc := newTestService(remote, store)
	tally, err := svc.PollPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, tally.Pending)
	assert.Empty(t, remote.deleted)
	assert.Equal(t, domain.VerificationPending, store.memberships["odd@x.com"].VerificationStatus)
}
