package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confidencePoolAPI/internal/docstore"
	"confidencePoolAPI/internal/pool"
)

func newTestCompat(store *docstore.MemoryStore, feed ResultFeed) (*CompatService, *ConfidenceManager) {
	m := newTestManager(store, feed, 5*time.Minute)
	legacy := NewLegacyService(store, feed, m.monitor, testConfig(5*time.Minute))
	return NewCompatService(m, legacy), m
}

func TestCompatFallsBackToLegacyOnStoreFailure(t *testing.T) {
	store := docstore.NewMemoryStore()
	feed := &stubFeed{results: map[string]pool.GameResult{
		"g1": {WinningTeam: winner("KC")},
	}}
	compat, m := newTestCompat(store, feed)
	ctx := context.Background()
	week := 5

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	legacy := &pool.LegacyPickDocument{
		UserID:      "u1",
		DisplayName: "Alice",
		Picks:       map[string]pool.Pick{"g1": {WinningTeamChoice: "KC", ConfidencePoints: 3}},
	}
	require.NoError(t, store.Set(ctx, m.legacyPath(week, "u1"), legacy))

	store.GetFailures = map[string]error{
		m.weekPath(week): errors.New("backend unavailable"),
	}

	res := compat.ComputeLeaderboard(ctx, &week, DisplayOptions{})
	require.True(t, res.Success)
	assert.Equal(t, "legacy", res.Metadata.Source)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 3, res.Data[0].Score)
}

func TestCompatForcedLegacyMode(t *testing.T) {
	store := docstore.NewMemoryStore()
	feed := &stubFeed{}
	compat, m := newTestCompat(store, feed)
	ctx := context.Background()
	week := 5

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	seedWeekDoc(t, store, m, weekFixture(week, time.Now()))

	compat.SetMode(ModeLegacy)
	res := compat.ComputeLeaderboard(ctx, &week, DisplayOptions{})
	require.True(t, res.Success)
	assert.Equal(t, "legacy", res.Metadata.Source, "forced legacy mode must bypass the unified document")

	compat.SetMode(ModeUnified)
	res = compat.ComputeLeaderboard(ctx, &week, DisplayOptions{ForceRefresh: true})
	require.True(t, res.Success)
	assert.Equal(t, "unified", res.Metadata.Source)
}

func TestCompatSaveRejectionIsFinal(t *testing.T) {
	store := docstore.NewMemoryStore()
	compat, m := newTestCompat(store, &stubFeed{})
	week := 5

	res := compat.SaveUserPicks(context.Background(), week, "u1", map[string]pool.Pick{
		"g1": {WinningTeamChoice: "KC", ConfidencePoints: 2},
		"g2": {WinningTeamChoice: "BUF", ConfidencePoints: 2},
	}, "Alice")
	require.False(t, res.Success)
	assert.True(t, res.Rejected)
	assert.False(t, store.Exists(m.legacyPath(week, "u1")), "a rejected submission must not reach the legacy path")
}

func TestCompatSaveFallsBackWhenNoWritesLanded(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.FailTransactions = true
	compat, m := newTestCompat(store, &stubFeed{})
	week := 5
	store.SetFailures = map[string]error{
		m.weekPath(week): errors.New("write refused"),
	}

	res := compat.SaveUserPicks(context.Background(), week, "u1", map[string]pool.Pick{
		"g1": {WinningTeamChoice: "KC", ConfidencePoints: 1},
	}, "Alice")
	require.True(t, res.Success)
	assert.Equal(t, 1, res.WritesExecuted)
	assert.True(t, store.Exists(m.legacyPath(week, "u1")))
	assert.False(t, store.Exists(m.weekPath(week)))
}

func TestCompatSeasonFallbackAggregatesAllWeeks(t *testing.T) {
	store := docstore.NewMemoryStore()
	feed := &stubFeed{results: map[string]pool.GameResult{
		"g1": {WinningTeam: winner("KC")},
	}}
	compat, m := newTestCompat(store, feed)
	ctx := context.Background()

	seedMembers(t, store, m, pool.Membership{"u1": enabledMember("Alice")})
	for week, points := range map[int]int{4: 3, 5: 5} {
		legacy := &pool.LegacyPickDocument{
			UserID:      "u1",
			DisplayName: "Alice",
			Picks:       map[string]pool.Pick{"g1": {WinningTeamChoice: "KC", ConfidencePoints: points}},
		}
		require.NoError(t, store.Set(ctx, m.legacyPath(week, "u1"), legacy))
	}

	// A failing summary read pushes the season view onto the legacy path.
	store.GetFailures = map[string]error{
		m.summaryPath(): errors.New("backend unavailable"),
	}

	res := compat.ComputeLeaderboard(ctx, nil, DisplayOptions{})
	require.True(t, res.Success)
	assert.Equal(t, "season", res.Metadata.View)
	assert.Equal(t, "legacy", res.Metadata.Source)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 8, res.Data[0].Score, "season fallback must keep every prior week's points")

	// Forced legacy mode takes the same aggregate path.
	store.GetFailures = nil
	compat.SetMode(ModeLegacy)
	res = compat.ComputeLeaderboard(ctx, nil, DisplayOptions{})
	require.True(t, res.Success)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 8, res.Data[0].Score)
}
