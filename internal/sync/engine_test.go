package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/instantly"
	"github.com/ignite/coldsync/internal/state"
)

// ---- in-memory fakes ----

type fakeRemote struct {
	mu      sync.Mutex
	leads       map[string][]instantly.Lead // campaign -> remote leads
	deleted     []string
	created     []string
	createCalls int
	listErr     error
	failAll     error // returned by every mutation when set
	nextID      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{leads: make(map[string][]instantly.Lead)}
}

func (f *fakeRemote) ListAllLeads(_ context.Context, campaignID string) ([]instantly.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]instantly.Lead(nil), f.leads[campaignID]...), nil
}

func (f *fakeRemote) CreateLead(_ context.Context, lead domain.Lead, campaignID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failAll != nil {
		return "", f.failAll
	}
	f.nextID++
	id := fmt.Sprintf("remote-%d", f.nextID)
	f.created = append(f.created, lead.Email)
	return id, nil
}

func (f *fakeRemote) DeleteLead(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	f.deleted = append(f.deleted, remoteID)
	return nil
}

func (f *fakeRemote) TriggerVerification(_ context.Context, email string) error { return nil }

type fakeSource struct {
	leads []domain.Lead
}

func (f *fakeSource) EligibleLeads(_ context.Context, limit int) ([]domain.Lead, error) {
	if limit > len(f.leads) {
		limit = len(f.leads)
	}
	return f.leads[:limit], nil
}

func (f *fakeSource) EligibleCount(_ context.Context) (int, error) { return len(f.leads), nil }

type memStores struct {
	mu           sync.Mutex
	memberships  map[string]*domain.Membership // email|campaign
	history      map[string]domain.HistoryRecord
	suppressions map[string]domain.SuppressionEntry
	failures     []domain.FailureRecord
	summaries    []*domain.CycleSummary
}

func newMemStores() *memStores {
	return &memStores{
		memberships:  make(map[string]*domain.Membership),
		history:      make(map[string]domain.HistoryRecord),
		suppressions: make(map[string]domain.SuppressionEntry),
	}
}

func memKey(email, campaign string) string { return email + "|" + campaign }

func (s *memStores) Get(_ context.Context, email, campaignID string) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[memKey(email, campaignID)]
	if !ok {
		return nil, state.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStores) Upsert(_ context.Context, m *domain.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.memberships[memKey(m.Email, m.CampaignID)] = &cp
	return nil
}

func (s *memStores) ListByCampaign(_ context.Context, campaignID string) ([]domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Membership
	for _, m := range s.memberships {
		if m.CampaignID == campaignID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStores) ActiveCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.memberships {
		if m.Status == domain.StatusActive {
			n++
		}
	}
	return n, nil
}

func (s *memStores) MarkChecked(_ context.Context, campaignID string, emails []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, email := range emails {
		if m, ok := s.memberships[memKey(email, campaignID)]; ok {
			t := at
			m.LastCheckedAt = &t
		}
	}
	return nil
}

func (s *memStores) VerificationCandidates(_ context.Context, _ time.Time, _ int) ([]domain.Membership, error) {
	return nil, nil
}

func (s *memStores) PendingVerification(_ context.Context, _ int) ([]domain.Membership, error) {
	return nil, nil
}

func (s *memStores) Merge(_ context.Context, rec domain.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%s|%s", rec.Email, rec.CampaignID, rec.Disposition, rec.Bucket().Format("2006-01-02"))
	if _, exists := s.history[key]; !exists {
		s.history[key] = rec
	}
	return nil
}

func (s *memStores) Insert(_ context.Context, e domain.SuppressionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.suppressions[e.Email]; !exists {
		s.suppressions[e.Email] = e
	}
	return nil
}

func (s *memStores) IsSuppressed(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suppressions[email]
	return ok, nil
}

func (s *memStores) Record(_ context.Context, rec domain.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, rec)
	return nil
}

func (s *memStores) Save(_ context.Context, sum *domain.CycleSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return nil
}

func (s *memStores) Last(_ context.Context) (*domain.CycleSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.summaries) == 0 {
		return nil, state.ErrNotFound
	}
	return s.summaries[len(s.summaries)-1], nil
}

type fakeLock struct {
	mu   sync.Mutex
	held bool
}

func (l *fakeLock) Acquire(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}

// ---- test harness ----

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		MailboxCount:        1,
		PerMailboxDaily:     10,
		InventoryMultiplier: 1.0,
		TargetLeads:         5,
		BatchSize:           2,
		Workers:             2,
		CooldownDays:        90,
		BounceGraceDays:     7,
		StaleActiveDays:     90,
		CheckThrottleHours:  24,
		RevenueThreshold:    1_000_000,
		CycleTimeoutMinutes: 1,
		LockTTLMinutes:      1,
	}
}

func testInstantlyConfig() config.InstantlyConfig {
	return config.InstantlyConfig{
		SMBCampaignID:     "camp-smb",
		MidsizeCampaignID: "camp-mid",
		PageSize:          100,
	}
}

func newTestEngine(remote *fakeRemote, source *fakeSource, stores *memStores) *Engine {
	return NewEngine(testSyncConfig(), testInstantlyConfig(), Deps{
		Remote:       remote,
		Source:       source,
		Memberships:  stores,
		History:      stores,
		Suppressions: stores,
		Failures:     stores,
		Summaries:    stores,
		Lock:         &fakeLock{},
	})
}

func remoteLead(id, email string, status, replies int) instantly.Lead {
	lead := instantly.Lead{ID: id, Email: email}
	lead.Status = instantly.FlexInt(status)
	lead.EmailReplyCount = instantly.FlexInt(replies)
	lead.TimestampCreated.Time = time.Now().AddDate(0, 0, -30)
	return lead
}

// ---- tests ----

func TestRunCycleDrainsFinishedLeads(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()
	source := &fakeSource{}

	remote.leads["camp-smb"] = []instantly.Lead{
		remoteLead("r-1", "replied@x.com", 3, 2),
		remoteLead("r-2", "done@x.com", 3, 0),
		remoteLead("r-3", "healthy@x.com", 1, 0),
	}
	for _, email := range []string{"replied@x.com", "done@x.com", "healthy@x.com"} {
		require.NoError(t, stores.Upsert(context.Background(), &domain.Membership{
			Email: email, CampaignID: "camp-smb", RemoteID: "r-" + email[:1], Status: domain.StatusActive,
		}))
	}

	engine := newTestEngine(remote, source, stores)
	summary, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalDrained())

	m, err := stores.Get(context.Background(), "replied@x.com", "camp-smb")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReplied, m.Status)

	m, err = stores.Get(context.Background(), "done@x.com", "camp-smb")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, m.Status)

	m, err = stores.Get(context.Background(), "healthy@x.com", "camp-smb")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, m.Status)
	assert.NotNil(t, m.LastCheckedAt)

	// One history row per drained lead, none suppressed.
	assert.Len(t, stores.history, 2)
	assert.Empty(t, stores.suppressions)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()
	source := &fakeSource{}

	remote.leads["camp-smb"] = []instantly.Lead{remoteLead("r-1", "done@x.com", 3, 0)}
	require.NoError(t, stores.Upsert(context.Background(), &domain.Membership{
		Email: "done@x.com", CampaignID: "camp-smb", RemoteID: "r-1", Status: domain.StatusActive,
	}))

	engine := newTestEngine(remote, source, stores)

	first, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, first.TotalDrained())

	// Same remote state again: terminal rows are skipped, no double
	// history, no extra deletes.
	second, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalDrained())
	assert.Len(t, stores.history, 1)
	assert.Len(t, remote.deleted, 1)
}

func TestRunCycleUnsubscribeSuppressesOnce(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()

	lead := remoteLead("r-1", "bye@x.com", 1, 0)
	lead.Unsubscribed = true
	remote.leads["camp-smb"] = []instantly.Lead{lead}
	require.NoError(t, stores.Upsert(context.Background(), &domain.Membership{
		Email: "bye@x.com", CampaignID: "camp-smb", RemoteID: "r-1", Status: domain.StatusActive,
	}))

	engine := newTestEngine(remote, &fakeSource{}, stores)
	_, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, stores.suppressions, 1)
	entry := stores.suppressions["bye@x.com"]
	assert.Equal(t, domain.ReasonUnsubscribe, entry.Reason)
	assert.Equal(t, domain.SourceDrain, entry.Source)

	// Re-run: the entry stays as-is.
	_, err = engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, stores.suppressions, 1)
}

func TestRunCycleTopUpRespectsCeiling(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()

	// Ceiling is 10; 8 already active leaves headroom of 2.
	for i := 0; i < 8; i++ {
		require.NoError(t, stores.Upsert(context.Background(), &domain.Membership{
			Email:      fmt.Sprintf("existing%d@x.com", i),
			CampaignID: "camp-smb",
			RemoteID:   fmt.Sprintf("r-%d", i),
			Status:     domain.StatusActive,
		}))
	}

	source := &fakeSource{leads: []domain.Lead{
		{Email: "new1@x.com", AnnualRevenue: 100},
		{Email: "new2@x.com", AnnualRevenue: 100},
		{Email: "new3@x.com", AnnualRevenue: 100},
	}}

	engine := newTestEngine(remote, source, stores)
	summary, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalCreated())
	assert.Len(t, remote.created, 2)

	active, _ := stores.ActiveCount(context.Background())
	assert.LessOrEqual(t, active, summary.InventoryCeiling)
}

func TestRunCycleTopUpPartitionsByRevenue(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()
	source := &fakeSource{leads: []domain.Lead{
		{Email: "small@x.com", AnnualRevenue: 50_000},
		{Email: "big@x.com", AnnualRevenue: 5_000_000},
	}}

	engine := newTestEngine(remote, source, stores)
	summary, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalCreated())

	small, err := stores.Get(context.Background(), "small@x.com", "camp-smb")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, small.Status)
	assert.Equal(t, domain.VerificationPending, small.VerificationStatus)

	big, err := stores.Get(context.Background(), "big@x.com", "camp-mid")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, big.Status)
}

func TestRunCycleSkipsSuppressedCandidates(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()
	require.NoError(t, stores.Insert(context.Background(), domain.SuppressionEntry{
		Email: "dnc@x.com", Reason: domain.ReasonUnsubscribe, Source: domain.SourceDrain,
	}))

	source := &fakeSource{leads: []domain.Lead{
		{Email: "dnc@x.com"},
		{Email: "ok@x.com"},
	}}

	engine := newTestEngine(remote, source, stores)
	_, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok@x.com"}, remote.created)
}

func TestRunCycleMissingRemoteLeadCompletes(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()
	require.NoError(t, stores.Upsert(context.Background(), &domain.Membership{
		Email: "gone@x.com", CampaignID: "camp-smb", RemoteID: "r-1", Status: domain.StatusActive,
	}))

	engine := newTestEngine(remote, &fakeSource{}, stores)
	summary, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	m, err := stores.Get(context.Background(), "gone@x.com", "camp-smb")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, m.Status)
	assert.Equal(t, 1, summary.TotalDrained())
}

func TestRunCycleFatalAuthAborts(t *testing.T) {
	remote := newFakeRemote()
	remote.listErr = fmt.Errorf("listing: %w", instantly.ErrUnauthorized)
	stores := newMemStores()

	engine := newTestEngine(remote, &fakeSource{}, stores)
	summary, err := engine.RunCycle(context.Background(), Options{})

	require.Error(t, err)
	assert.True(t, instantly.IsFatal(err))
	require.NotNil(t, summary)
	assert.Positive(t, summary.ErrorCount)
}

func TestRunCycleFatalCreateStopsBatch(t *testing.T) {
	remote := newFakeRemote()
	remote.failAll = fmt.Errorf("create: %w", instantly.ErrUnauthorized)
	stores := newMemStores()
	source := &fakeSource{leads: []domain.Lead{
		{Email: "a@x.com"},
		{Email: "b@x.com"},
		{Email: "c@x.com"},
	}}

	cfg := testSyncConfig()
	cfg.BatchSize = 3
	cfg.Workers = 1
	engine := NewEngine(cfg, testInstantlyConfig(), Deps{
		Remote:       remote,
		Source:       source,
		Memberships:  stores,
		History:      stores,
		Suppressions: stores,
		Failures:     stores,
		Summaries:    stores,
		Lock:         &fakeLock{},
	})

	_, err := engine.RunCycle(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, instantly.IsFatal(err))

	// Only the first enrollment reached the remote; the rest of the batch
	// was skipped once the credential failure surfaced.
	assert.Equal(t, 1, remote.createCalls)
	assert.Empty(t, remote.created)
}

func TestRunCycleLockConflict(t *testing.T) {
	lock := &fakeLock{held: true}
	engine := NewEngine(testSyncConfig(), testInstantlyConfig(), Deps{
		Remote:      newFakeRemote(),
		Source:      &fakeSource{},
		Memberships: newMemStores(),
		History:     newMemStores(),
		Lock:        lock,
	})

	_, err := engine.RunCycle(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrCycleRunning)
}

func TestRunCycleDryRunWritesNothing(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()
	remote.leads["camp-smb"] = []instantly.Lead{remoteLead("r-1", "done@x.com", 3, 0)}
	require.NoError(t, stores.Upsert(context.Background(), &domain.Membership{
		Email: "done@x.com", CampaignID: "camp-smb", RemoteID: "r-1", Status: domain.StatusActive,
	}))
	source := &fakeSource{leads: []domain.Lead{{Email: "new@x.com"}}}

	engine := newTestEngine(remote, source, stores)
	summary, err := engine.RunCycle(context.Background(), Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	// Dry run reports what it would do...
	assert.Equal(t, 1, summary.TotalDrained())
	assert.Equal(t, 1, summary.TotalCreated())
	// ...without touching the remote or the durable state.
	assert.Empty(t, remote.deleted)
	assert.Empty(t, remote.created)
	assert.Empty(t, stores.history)
	m, _ := stores.Get(context.Background(), "done@x.com", "camp-smb")
	assert.Equal(t, domain.StatusActive, m.Status)
	assert.Empty(t, stores.summaries)
}

func TestRunCycleDeleteFailureLeavesRowActive(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()
	remote.leads["camp-smb"] = []instantly.Lead{remoteLead("r-1", "done@x.com", 3, 0)}
	remote.failAll = &instantly.APIError{StatusCode: 502, Message: "bad gateway"}
	require.NoError(t, stores.Upsert(context.Background(), &domain.Membership{
		Email: "done@x.com", CampaignID: "camp-smb", RemoteID: "r-1", Status: domain.StatusActive,
	}))

	engine := newTestEngine(remote, &fakeSource{}, stores)
	engine.retry.BaseDelay = time.Millisecond

	summary, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err) // drain failures are soft

	m, _ := stores.Get(context.Background(), "done@x.com", "camp-smb")
	assert.Equal(t, domain.StatusActive, m.Status)
	assert.Empty(t, stores.history)
	require.Len(t, stores.failures, 1)
	assert.Equal(t, domain.PhaseDrain, stores.failures[0].Phase)
	assert.Equal(t, 502, stores.failures[0].HTTPStatus)
	assert.Equal(t, 3, stores.failures[0].RetryCount)
	assert.Positive(t, summary.ErrorCount)
}

func TestRunCycleThrottleSkipsRecentlyChecked(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()
	remote.leads["camp-smb"] = []instantly.Lead{remoteLead("r-1", "done@x.com", 3, 0)}

	checked := time.Now().Add(-time.Hour)
	require.NoError(t, stores.Upsert(context.Background(), &domain.Membership{
		Email: "done@x.com", CampaignID: "camp-smb", RemoteID: "r-1",
		Status: domain.StatusActive, LastCheckedAt: &checked,
	}))

	engine := newTestEngine(remote, &fakeSource{}, stores)
	summary, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	// Checked an hour ago, throttle is 24h: lead is skipped untouched.
	assert.Equal(t, 0, summary.TotalDrained())
	m, _ := stores.Get(context.Background(), "done@x.com", "camp-smb")
	assert.Equal(t, domain.StatusActive, m.Status)
}

func TestRunCycleDeadlineProducesPartialSummary(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()
	remote.leads["camp-smb"] = []instantly.Lead{remoteLead("r-1", "done@x.com", 3, 0)}
	require.NoError(t, stores.Upsert(context.Background(), &domain.Membership{
		Email: "done@x.com", CampaignID: "camp-smb", RemoteID: "r-1", Status: domain.StatusActive,
	}))
	source := &fakeSource{leads: []domain.Lead{{Email: "new@x.com"}}}

	cfg := testSyncConfig()
	cfg.CycleTimeoutMinutes = 0 // cycle deadline expires before any phase runs
	engine := NewEngine(cfg, testInstantlyConfig(), Deps{
		Remote:       remote,
		Source:       source,
		Memberships:  stores,
		History:      stores,
		Suppressions: stores,
		Failures:     stores,
		Summaries:    stores,
		Lock:         &fakeLock{},
	})

	summary, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err) // a deadline is not a failure, the cycle just stops early

	assert.True(t, summary.Partial)
	assert.Empty(t, remote.created)
	assert.Empty(t, remote.deleted)

	// Housekeeping runs on its own context after the deadline, so the
	// partial summary still carries fresh inventory counters and is
	// recorded for the trigger API.
	assert.Equal(t, 1, summary.ActiveInventory)
	assert.Equal(t, 1, summary.EligibleBacklog)
	assert.False(t, summary.FinishedAt.IsZero())
	require.Len(t, stores.summaries, 1)
}

func TestRunCyclePersistsSummary(t *testing.T) {
	remote := newFakeRemote()
	stores := newMemStores()

	engine := newTestEngine(remote, &fakeSource{}, stores)
	summary, err := engine.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	last, err := stores.Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, summary.CycleID, last.CycleID)
	assert.False(t, last.FinishedAt.IsZero())
}
