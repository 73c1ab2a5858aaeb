package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"confidencePoolAPI/internal/docstore"
	"confidencePoolAPI/internal/perf"
	"confidencePoolAPI/internal/pool"
	"confidencePoolAPI/internal/recovery"
)

type stubFeed struct {
	results map[string]pool.GameResult
	err     error
	calls   int
}

func (f *stubFeed) WeekResults(ctx context.Context, season, week int) (map[string]pool.GameResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.results == nil {
		return map[string]pool.GameResult{}, nil
	}
	return f.results, nil
}

func winner(abbr string) *string { return &abbr }

func testConfig(ttl time.Duration) ConfidenceConfig {
	return ConfidenceConfig{
		PoolID:      "pool1",
		Season:      2025,
		CurrentWeek: 5,
		CacheTTL:    ttl,
		Location:    time.UTC,
	}
}

func newTestManager(store docstore.Store, feed ResultFeed, ttl time.Duration) *ConfidenceManager {
	return NewConfidenceManager(store, feed, recovery.NewManager(), perf.NewMonitor(), testConfig(ttl))
}

func seedMembers(t *testing.T, store *docstore.MemoryStore, m *ConfidenceManager, members pool.Membership) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), m.membersPath(), members))
}

func seedWeekDoc(t *testing.T, store *docstore.MemoryStore, m *ConfidenceManager, doc *pool.WeekDocument) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), m.weekPath(doc.WeekNumber), doc))
}

func enabledMember(name string) pool.MemberRecord {
	return pool.MemberRecord{DisplayName: name}
}

func disabledMember(name string) pool.MemberRecord {
	off := false
	return pool.MemberRecord{
		DisplayName:   name,
		Participation: pool.Participation{ConfidenceEnabled: &off},
	}
}

func weekFixture(week int, updated time.Time) *pool.WeekDocument {
	doc := pool.NewWeekDocument(week)
	doc.Picks["u1"] = pool.UserPicks{
		Meta: pool.PickMeta{UserID: "u1", DisplayName: "Alice"},
		Games: map[string]pool.Pick{
			"g1": {WinningTeamChoice: "KC", ConfidencePoints: 2},
			"g2": {WinningTeamChoice: "BUF", ConfidencePoints: 1},
		},
	}
	doc.GameResults = map[string]pool.GameResult{
		"g1": {WinningTeam: winner("KC")},
		"g2": {WinningTeam: winner("MIA")},
	}
	doc.Leaderboards.Weekly = pool.BuildWeeklyLeaderboard(doc.Picks, doc.GameResults)
	doc.Cache.LastUpdated = updated
	return doc
}

func TestWeeklyDisplayCostsOneRead(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	week := 5

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	seedWeekDoc(t, store, m, weekFixture(week, time.Now()))

	// First call warms the membership cache.
	first := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	require.True(t, first.Success)

	store.ResetCounts()
	res := m.GetDisplayData(context.Background(), &week, DisplayOptions{ForceRefresh: true})
	require.True(t, res.Success)
	assert.Equal(t, "unified", res.Metadata.Source)
	assert.Equal(t, 1, store.Reads(), "steady-state weekly view must cost exactly one store read")
}

func TestSeasonDisplayCostsTwoReads(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	weekDoc := weekFixture(5, time.Now().Add(-time.Hour))
	seedWeekDoc(t, store, m, weekDoc)

	summary := pool.NewSeasonSummary()
	summary.WeeklyTotals["4"] = map[string]int{"u1": 7}
	summary.UserTotals = map[string]int{"u1": 7}
	summary.LastUpdated = time.Now()
	require.NoError(t, store.Set(context.Background(), m.summaryPath(), summary))

	first := m.GetDisplayData(context.Background(), nil, DisplayOptions{})
	require.True(t, first.Success)

	store.ResetCounts()
	res := m.GetDisplayData(context.Background(), nil, DisplayOptions{ForceRefresh: true})
	require.True(t, res.Success)
	assert.Equal(t, "season", res.Metadata.View)
	assert.Equal(t, 2, store.Reads(), "season view must cost exactly two store reads")
}

func TestSecondCallServedFromCache(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	week := 5

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	seedWeekDoc(t, store, m, weekFixture(week, time.Now()))

	first := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	require.True(t, first.Success)
	assert.False(t, first.Metadata.FromCache)

	store.ResetCounts()
	second := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	require.True(t, second.Success)
	assert.True(t, second.Metadata.FromCache)
	assert.Equal(t, "cache", second.Metadata.Source)
	assert.Equal(t, 0, store.Reads())
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 30*time.Millisecond)
	week := 5

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	seedWeekDoc(t, store, m, weekFixture(week, time.Now()))

	m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	time.Sleep(60 * time.Millisecond)

	res := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	require.True(t, res.Success)
	assert.False(t, res.Metadata.FromCache, "entry past its TTL must be re-fetched")
}

func TestStalenessThresholds(t *testing.T) {
	m := newTestManager(docstore.NewMemoryStore(), &stubFeed{}, time.Minute)

	sunday := time.Date(2025, time.November, 9, 18, 0, 0, 0, time.UTC)
	tuesday := time.Date(2025, time.November, 11, 18, 0, 0, 0, time.UTC)

	doc := pool.NewWeekDocument(5)

	doc.Cache.LastUpdated = sunday.Add(-11 * time.Minute)
	assert.True(t, m.isDataStale(doc, sunday), "11 minutes old during the game window is stale")

	doc.Cache.LastUpdated = sunday.Add(-9 * time.Minute)
	assert.False(t, m.isDataStale(doc, sunday))

	doc.Cache.LastUpdated = tuesday.Add(-11 * time.Minute)
	assert.False(t, m.isDataStale(doc, tuesday), "Tuesday uses the relaxed 30 minute threshold")

	doc.Cache.LastUpdated = tuesday.Add(-31 * time.Minute)
	assert.True(t, m.isDataStale(doc, tuesday))

	doc.Cache.LastUpdated = time.Time{}
	assert.True(t, m.isDataStale(doc, sunday), "missing freshness metadata is always stale")
}

func TestStaleWeekIsRescoredInPlace(t *testing.T) {
	store := docstore.NewMemoryStore()
	feed := &stubFeed{results: map[string]pool.GameResult{
		"g1": {WinningTeam: winner("KC")},
		"g2": {WinningTeam: winner("BUF")},
	}}
	m := newTestManager(store, feed, 5*time.Minute)
	week := 5

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	stale := weekFixture(week, time.Now().Add(-time.Hour))
	stale.Leaderboards.Weekly = nil
	seedWeekDoc(t, store, m, stale)

	res := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	require.True(t, res.Success)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 3, res.Data[0].Score, "both games now final, 2+1 points")
	assert.Equal(t, 1, feed.calls)

	var persisted pool.WeekDocument
	require.NoError(t, store.Get(context.Background(), m.weekPath(week), &persisted))
	assert.Equal(t, 3, persisted.Leaderboards.Weekly[0].Score, "re-scored leaderboard must be written back")
	assert.False(t, persisted.Cache.LastUpdated.IsZero())
}

func TestMigrationBuildsUnifiedDocument(t *testing.T) {
	store := docstore.NewMemoryStore()
	feed := &stubFeed{results: map[string]pool.GameResult{
		"g1": {WinningTeam: winner("KC")},
	}}
	m := newTestManager(store, feed, 5*time.Minute)
	week := 5
	ctx := context.Background()

	seedMembers(t, store, m, pool.Membership{
		"u1": enabledMember("Alice"),
		"u2": enabledMember("Bob"),
		"u3": disabledMember("Cleo"),
	})
	for userID, choice := range map[string]string{"u1": "KC", "u2": "DEN", "u3": "KC"} {
		legacy := &pool.LegacyPickDocument{
			UserID:      userID,
			DisplayName: userID,
			Picks:       map[string]pool.Pick{"g1": {WinningTeamChoice: choice, ConfidencePoints: 4}},
		}
		require.NoError(t, store.Set(ctx, m.legacyPath(week, userID), legacy))
	}

	res := m.GetDisplayData(ctx, &week, DisplayOptions{})
	require.True(t, res.Success)
	assert.Equal(t, "migration", res.Metadata.Source)
	assert.True(t, res.Metadata.Migrated)

	require.Len(t, res.Data, 2, "opted-out member must not be migrated")
	assert.Equal(t, "u1", res.Data[0].UserID)
	assert.Equal(t, 4, res.Data[0].Score)
	assert.Equal(t, 0, res.Data[1].Score)

	assert.True(t, store.Exists(m.weekPath(week)))
	assert.True(t, store.Exists(m.summaryPath()), "migration must seed the season summary")
}

func TestMigrationOfEmptyWeekWritesNothing(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	week := 3

	seedMembers(t, store, m, pool.Membership{
		"u1": enabledMember("Alice"),
		"u2": enabledMember("Bob"),
	})

	res := m.MigrateWeekToUnified(context.Background(), week)
	require.True(t, res.Success)
	assert.Empty(t, res.Data)
	assert.True(t, res.Metadata.Migrated)
	assert.True(t, res.Metadata.Empty)
	assert.False(t, store.Exists(m.weekPath(week)), "no placeholder document for a week without picks")
}

func TestParticipationFilterOnReadPath(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	week := 5

	doc := weekFixture(week, time.Now())
	doc.Picks["u2"] = pool.UserPicks{
		Meta:  pool.PickMeta{UserID: "u2", DisplayName: "Bob"},
		Games: map[string]pool.Pick{"g1": {WinningTeamChoice: "KC", ConfidencePoints: 1}},
	}
	doc.Leaderboards.Weekly = pool.BuildWeeklyLeaderboard(doc.Picks, doc.GameResults)
	seedWeekDoc(t, store, m, doc)
	seedMembers(t, store, m, pool.Membership{
		"u1": enabledMember("Alice"),
		"u2": disabledMember("Bob"),
	})

	res := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	require.True(t, res.Success)
	require.Len(t, res.Data, 1, "picks of an opted-out member stay stored but are not displayed")
	assert.Equal(t, "u1", res.Data[0].UserID)
}

func TestSeasonReconciliationFoldsFresherWeek(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})

	summary := pool.NewSeasonSummary()
	summary.WeeklyTotals["4"] = map[string]int{"u1": 7}
	summary.UserTotals = map[string]int{"u1": 7}
	summary.LastUpdated = time.Now().Add(-time.Hour)
	require.NoError(t, store.Set(ctx, m.summaryPath(), summary))

	weekDoc := weekFixture(5, time.Now())
	seedWeekDoc(t, store, m, weekDoc)

	res := m.GetDisplayData(ctx, nil, DisplayOptions{})
	require.True(t, res.Success)
	require.Len(t, res.Data, 1)
	weekScore := weekDoc.Leaderboards.Weekly[0].Score
	assert.Equal(t, 7+weekScore, res.Data[0].Score, "fresher week scores fold into the season total")

	// Nothing is persisted on the read path.
	var stored pool.SeasonSummaryDocument
	require.NoError(t, store.Get(ctx, m.summaryPath(), &stored))
	assert.Equal(t, 7, stored.UserTotals["u1"])
}

func TestSubmitUserPicksTransactionalDualWrite(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()
	week := 5

	picks := map[string]pool.Pick{
		"g1": {WinningTeamChoice: "KC", ConfidencePoints: 2},
		"g2": {WinningTeamChoice: "BUF", ConfidencePoints: 1},
	}
	res := m.SubmitUserPicks(ctx, week, "u1", picks, "Alice")
	require.True(t, res.Success)
	assert.True(t, res.Transactional)
	assert.Equal(t, 2, res.WritesExecuted)

	var doc pool.WeekDocument
	require.NoError(t, store.Get(ctx, m.weekPath(week), &doc))
	up, ok := doc.Picks["u1"]
	require.True(t, ok)
	assert.Equal(t, "Alice", up.Meta.DisplayName)
	assert.False(t, up.Games["g1"].SubmittedAt.IsZero(), "picks must be timestamped on submission")
	assert.Equal(t, 1, doc.Stats.TotalUsers)

	var legacy pool.LegacyPickDocument
	require.NoError(t, store.Get(ctx, m.legacyPath(week, "u1"), &legacy))
	assert.Equal(t, "u1", legacy.UserID)
	assert.Equal(t, 2, legacy.Picks["g1"].ConfidencePoints)
}

func TestSubmitUserPicksValidation(t *testing.T) {
	m := newTestManager(docstore.NewMemoryStore(), &stubFeed{}, 5*time.Minute)
	ctx := context.Background()

	tests := []struct {
		name  string
		picks map[string]pool.Pick
	}{
		{"no picks", map[string]pool.Pick{}},
		{"missing team choice", map[string]pool.Pick{
			"g1": {ConfidencePoints: 1},
		}},
		{"zero confidence", map[string]pool.Pick{
			"g1": {WinningTeamChoice: "KC", ConfidencePoints: 0},
		}},
		{"duplicate confidence", map[string]pool.Pick{
			"g1": {WinningTeamChoice: "KC", ConfidencePoints: 3},
			"g2": {WinningTeamChoice: "BUF", ConfidencePoints: 3},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.SubmitUserPicks(ctx, 5, "u1", tt.picks, "Alice")
			assert.False(t, res.Success)
			assert.True(t, res.Rejected)
			assert.Equal(t, 0, res.WritesExecuted)
		})
	}
}

func TestSubmitUserPicksRejectsOutOfRangeConfidence(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()
	week := 5

	doc := pool.NewWeekDocument(week)
	doc.GameResults = map[string]pool.GameResult{
		"g1": {}, "g2": {},
	}
	seedWeekDoc(t, store, m, doc)

	res := m.SubmitUserPicks(ctx, week, "u1", map[string]pool.Pick{
		"g1": {WinningTeamChoice: "KC", ConfidencePoints: 5},
	}, "Alice")
	require.False(t, res.Success)
	assert.True(t, res.Rejected)

	var stored pool.WeekDocument
	require.NoError(t, store.Get(ctx, m.weekPath(week), &stored))
	assert.Empty(t, stored.Picks, "rejected transaction must leave the document untouched")
}

func TestSubmitFallsBackToSequentialWrites(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.FailTransactions = true
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()
	week := 5

	res := m.SubmitUserPicks(ctx, week, "u1", map[string]pool.Pick{
		"g1": {WinningTeamChoice: "KC", ConfidencePoints: 1},
	}, "Alice")
	require.True(t, res.Success)
	assert.False(t, res.Transactional)
	assert.Equal(t, 2, res.WritesExecuted)
	assert.True(t, store.Exists(m.weekPath(week)))
	assert.True(t, store.Exists(m.legacyPath(week, "u1")))
}

func TestSubmitReportsPartialFallbackWrite(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.FailTransactions = true
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()
	week := 5
	store.SetFailures = map[string]error{
		m.legacyPath(week, "u1"): errors.New("write refused"),
	}

	res := m.SubmitUserPicks(ctx, week, "u1", map[string]pool.Pick{
		"g1": {WinningTeamChoice: "KC", ConfidencePoints: 1},
	}, "Alice")
	require.False(t, res.Success)
	assert.Equal(t, 1, res.WritesExecuted, "the landed unified write must be reported")
	assert.True(t, store.Exists(m.weekPath(week)))
	assert.False(t, store.Exists(m.legacyPath(week, "u1")))
}

func TestSubmitInvalidatesCachedLeaderboard(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()
	week := 5

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	seedWeekDoc(t, store, m, weekFixture(week, time.Now()))

	m.GetDisplayData(ctx, &week, DisplayOptions{})
	cached := m.GetDisplayData(ctx, &week, DisplayOptions{})
	require.True(t, cached.Metadata.FromCache)

	res := m.SubmitUserPicks(ctx, week, "u2", map[string]pool.Pick{
		"g1": {WinningTeamChoice: "KC", ConfidencePoints: 1},
	}, "Bob")
	require.True(t, res.Success)

	after := m.GetDisplayData(ctx, &week, DisplayOptions{})
	require.True(t, after.Success)
	assert.False(t, after.Metadata.FromCache, "submission must invalidate the week's cached view")
}

func TestGetUserPicksFallsBackToLegacyDocument(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()
	week := 5

	legacy := &pool.LegacyPickDocument{
		UserID:      "u1",
		DisplayName: "Alice",
		Picks:       map[string]pool.Pick{"g1": {WinningTeamChoice: "KC", ConfidencePoints: 2}},
	}
	require.NoError(t, store.Set(ctx, m.legacyPath(week, "u1"), legacy))

	up, err := m.GetUserPicks(ctx, week, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", up.Meta.DisplayName)
	assert.Equal(t, 2, up.Games["g1"].ConfidencePoints)

	// Unknown user on an unmigrated week gets a well-formed empty result.
	empty, err := m.GetUserPicks(ctx, week, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty.Games)
	assert.Empty(t, empty.Games)
}

func TestOpenBreakerShortCircuitsWithoutReads(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	week := 5

	for i := 0; i < 5; i++ {
		m.recovery.Unified().RecordFailure()
	}

	res := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	assert.False(t, res.Success)
	assert.True(t, res.FallbackRequired)
	assert.Equal(t, 0, store.Reads(), "an open breaker must not touch the store")
}

func TestStoreFailureRequestsFallback(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	week := 5
	store.GetFailures = map[string]error{
		m.weekPath(week): errors.New("backend unavailable"),
	}

	res := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	assert.False(t, res.Success)
	assert.True(t, res.FallbackRequired)
	assert.Equal(t, 1, m.recovery.Unified().Failures())
}

func TestCorruptDataServesSafeDefault(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	week := 5
	store.GetFailures = map[string]error{
		m.weekPath(week): status.Error(codes.DataLoss, "document corrupted"),
	}

	res := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	require.True(t, res.Success, "data failures degrade to an empty leaderboard, not an error")
	assert.Empty(t, res.Data)
	assert.Equal(t, "safe_default", res.Fallback)
	assert.Equal(t, "safe_default", res.Metadata.Source)

	// Safe defaults must not poison the cache.
	store.GetFailures = nil
	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	seedWeekDoc(t, store, m, weekFixture(week, time.Now()))
	healthy := m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	require.True(t, healthy.Success)
	assert.False(t, healthy.Metadata.FromCache)
	assert.Len(t, healthy.Data, 1)
}

func TestSeasonWeekReadCorruptionServesSafeDefault(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()

	summary := pool.NewSeasonSummary()
	summary.UserTotals = map[string]int{"u1": 7}
	summary.LastUpdated = time.Now()
	require.NoError(t, store.Set(ctx, m.summaryPath(), summary))

	store.GetFailures = map[string]error{
		m.weekPath(m.CurrentWeek()): status.Error(codes.DataLoss, "document corrupted"),
	}

	res := m.GetDisplayData(ctx, nil, DisplayOptions{})
	require.True(t, res.Success)
	assert.Empty(t, res.Data)
	assert.Equal(t, "safe_default", res.Fallback)
	assert.Equal(t, "season", res.Metadata.View)
}

// contentionStore runs every transaction body twice, the way the real store
// retries on contention, before letting it commit.
type contentionStore struct {
	*docstore.MemoryStore
}

func (s *contentionStore) RunTransaction(ctx context.Context, fn func(tx docstore.Txn) error) error {
	_ = s.MemoryStore.RunTransaction(ctx, func(tx docstore.Txn) error {
		_ = fn(tx)
		return errors.New("contention, retrying")
	})
	return s.MemoryStore.RunTransaction(ctx, fn)
}

func TestRetriedTransactionBillsOneRead(t *testing.T) {
	store := &contentionStore{MemoryStore: docstore.NewMemoryStore()}
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)

	res := m.SubmitUserPicks(context.Background(), 5, "u1", map[string]pool.Pick{
		"g1": {WinningTeamChoice: "KC", ConfidencePoints: 1},
	}, "Alice")
	require.True(t, res.Success)
	assert.True(t, res.Transactional)
	assert.Equal(t, 1, m.GetMetrics().TotalReads,
		"a retried transaction body must bill its read once")
}

func TestReportsSurfaceCriticalAlerts(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()
	week := 5
	store.GetFailures = map[string]error{
		m.weekPath(week): errors.New("backend unavailable"),
	}

	res := m.GetDisplayData(ctx, &week, DisplayOptions{})
	require.False(t, res.Success)

	metrics := m.GetMetrics()
	require.NotEmpty(t, metrics.Alerts, "raised alerts must reach the metrics report")

	store.GetFailures = nil
	health := m.HealthCheck(ctx)
	require.NotEmpty(t, health.CriticalAlerts)
	assert.Equal(t, "critical", health.CriticalAlerts[0].Level)
}

func TestHealthCheck(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	ctx := context.Background()

	report := m.HealthCheck(ctx)
	assert.Equal(t, "healthy", report.Status, "an absent members document is not an error")
	assert.Equal(t, "closed", report.UnifiedBreaker)
	assert.Equal(t, "closed", report.LegacyBreaker)

	store.GetFailures = map[string]error{
		m.membersPath(): errors.New("backend unavailable"),
	}
	report = m.HealthCheck(ctx)
	assert.Equal(t, "error", report.Status)
	assert.NotEmpty(t, report.Error)
}

func TestGetMetricsReport(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := newTestManager(store, &stubFeed{}, 5*time.Minute)
	week := 5

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	seedWeekDoc(t, store, m, weekFixture(week, time.Now()))

	m.GetDisplayData(context.Background(), &week, DisplayOptions{})
	m.GetDisplayData(context.Background(), &week, DisplayOptions{})

	report := m.GetMetrics()
	assert.Equal(t, 2, report.Requests)
	assert.Equal(t, 1, report.CacheHits)
	assert.Positive(t, report.TotalReads)
	assert.Positive(t, report.CacheSize)
	assert.False(t, report.LegacyMode)
}
