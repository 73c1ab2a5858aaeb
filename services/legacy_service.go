package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"confidencePoolAPI/internal/docstore"
	"confidencePoolAPI/internal/perf"
	"confidencePoolAPI/internal/pool"
)

// LegacyService is the original one-read-per-user leaderboard computation.
// It survives as the fallback behind the unified path and as the forced mode
// of the compatibility shim.
type LegacyService struct {
	store   docstore.Store
	feed    ResultFeed
	monitor *perf.Monitor
	cfg     ConfidenceConfig
}

func NewLegacyService(store docstore.Store, feed ResultFeed, mon *perf.Monitor, cfg ConfidenceConfig) *LegacyService {
	return &LegacyService{store: store, feed: feed, monitor: mon, cfg: cfg}
}

// ComputeLeaderboard reads every participant's legacy pick document and
// scores the week from scratch. Cost is O(pool size) store reads.
func (s *LegacyService) ComputeLeaderboard(ctx context.Context, week int) ([]pool.LeaderboardEntry, error) {
	var members pool.Membership
	err := s.store.Get(ctx, s.membersPath(), &members)
	s.monitor.RecordReads(1)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to load pool membership: %w", err)
	}

	picks := make(map[string]pool.UserPicks)
	for userID, rec := range members {
		if !rec.ConfidenceEnabled() {
			continue
		}
		var legacy pool.LegacyPickDocument
		err := s.store.Get(ctx, s.legacyPath(week, userID), &legacy)
		s.monitor.RecordReads(1)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Printf("legacy: skipping user %s for week %d: %v", userID, week, err)
			continue
		}
		name := legacy.DisplayName
		if name == "" {
			name = rec.DisplayName
		}
		picks[userID] = pool.UserPicks{
			Meta:  pool.PickMeta{UserID: userID, DisplayName: name},
			Games: legacy.Picks,
		}
	}

	results, err := s.feed.WeekResults(ctx, s.cfg.Season, week)
	if err != nil {
		log.Printf("legacy: computing week %d without fresh results: %v", week, err)
		results = make(map[string]pool.GameResult)
	}
	return pool.BuildWeeklyLeaderboard(picks, results), nil
}

// ComputeSeasonLeaderboard sums the per-week legacy computation across weeks
// 1 through throughWeek. Cost is O(pool size * weeks) store reads; this is
// the path the season summary document exists to replace.
func (s *LegacyService) ComputeSeasonLeaderboard(ctx context.Context, throughWeek int) ([]pool.LeaderboardEntry, error) {
	totals := make(map[string]int)
	names := make(map[string]string)
	for week := 1; week <= throughWeek; week++ {
		entries, err := s.ComputeLeaderboard(ctx, week)
		if err != nil {
			return nil, fmt.Errorf("failed to score week %d: %w", week, err)
		}
		for _, e := range entries {
			totals[e.UserID] += e.Score
			names[e.UserID] = e.DisplayName
		}
	}

	season := make([]pool.LeaderboardEntry, 0, len(totals))
	for userID, total := range totals {
		season = append(season, pool.LeaderboardEntry{
			UserID:      userID,
			DisplayName: names[userID],
			Score:       total,
		})
	}
	return pool.RankEntries(season), nil
}

// SavePicks writes only the legacy per-user document. Used when the unified
// submission path is unavailable.
func (s *LegacyService) SavePicks(ctx context.Context, week int, userID string, picks map[string]pool.Pick, displayName string) error {
	doc := &pool.LegacyPickDocument{
		UserID:       userID,
		DisplayName:  displayName,
		Picks:        picks,
		UpdatedAt:    time.Now(),
		SubmissionID: uuid.New().String(),
	}
	if err := s.store.Set(ctx, s.legacyPath(week, userID), doc); err != nil {
		return fmt.Errorf("failed to save legacy picks for %s week %d: %w", userID, week, err)
	}
	return nil
}

func (s *LegacyService) legacyPath(week int, userID string) string {
	return fmt.Sprintf("pools/%s/picks/%d/weeks/%d/users/%s", s.cfg.PoolID, s.cfg.Season, week, userID)
}

func (s *LegacyService) membersPath() string {
	return fmt.Sprintf("pools/%s/metadata/members", s.cfg.PoolID)
}
