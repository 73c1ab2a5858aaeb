package services

import (
	"context"
	"log"
	"sync"

	"confidencePoolAPI/internal/pool"
)

type Mode string

const (
	ModeUnified Mode = "unified"
	ModeLegacy  Mode = "legacy"
)

// CompatService is the surface legacy callers use. It routes to the unified
// manager and falls back to the legacy per-user computation whenever the
// unified path asks for it. The mode flag is the operational escape hatch:
// flipping it to legacy forces every request onto the slow path.
type CompatService struct {
	unified *ConfidenceManager
	legacy  *LegacyService

	mu   sync.RWMutex
	mode Mode
}

func NewCompatService(unified *ConfidenceManager, legacy *LegacyService) *CompatService {
	return &CompatService{unified: unified, legacy: legacy, mode: ModeUnified}
}

func (c *CompatService) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *CompatService) SetMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	log.Printf("compat: leaderboard mode set to %s", mode)
}

// ComputeLeaderboard is the drop-in for the pre-unified caller. week nil
// means the season view.
func (c *CompatService) ComputeLeaderboard(ctx context.Context, week *int, opts DisplayOptions) *DisplayResult {
	if c.Mode() == ModeLegacy || c.unified.recovery.LegacyMode() {
		return c.legacyResult(ctx, week)
	}
	res := c.unified.GetDisplayData(ctx, week, opts)
	if res.FallbackRequired || !res.Success {
		log.Printf("compat: unified leaderboard path unavailable, using legacy fallback: %s", res.Error)
		return c.legacyResult(ctx, week)
	}
	return res
}

// DisplayLeaderboard keeps the old render-path entry point alive; display is
// an external concern now so it returns the same data contract.
func (c *CompatService) DisplayLeaderboard(ctx context.Context, week *int, opts DisplayOptions) *DisplayResult {
	return c.ComputeLeaderboard(ctx, week, opts)
}

// SaveUserPicks is the drop-in for the pre-unified submission call.
func (c *CompatService) SaveUserPicks(ctx context.Context, week int, userID string, picks map[string]pool.Pick, displayName string) *SubmitResult {
	if c.Mode() == ModeLegacy {
		if err := c.legacy.SavePicks(ctx, week, userID, picks, displayName); err != nil {
			return &SubmitResult{Success: false, Error: err.Error()}
		}
		return &SubmitResult{Success: true, WritesExecuted: 1}
	}
	res := c.unified.SubmitUserPicks(ctx, week, userID, picks, displayName)
	// A rejected submission is final; only store-level failures with no
	// writes landed fall back to the legacy single write.
	if !res.Success && !res.Rejected && res.WritesExecuted == 0 {
		if err := c.legacy.SavePicks(ctx, week, userID, picks, displayName); err == nil {
			log.Printf("compat: picks for %s week %d saved via legacy path only", userID, week)
			return &SubmitResult{Success: true, WritesExecuted: 1}
		}
	}
	return res
}

func (c *CompatService) legacyResult(ctx context.Context, week *int) *DisplayResult {
	breaker := c.unified.recovery.Legacy()
	if !breaker.Allow() {
		return c.unified.safeDefault(viewName(week), weekOrZero(week))
	}

	w := weekOrZero(week)
	if week == nil {
		w = c.unified.CurrentWeek()
	}
	var entries []pool.LeaderboardEntry
	var err error
	if week == nil {
		// Season standings are totals across every played week, so the
		// fallback pays the full O(users x weeks) recomputation.
		entries, err = c.legacy.ComputeSeasonLeaderboard(ctx, w)
	} else {
		entries, err = c.legacy.ComputeLeaderboard(ctx, w)
	}
	if err != nil {
		breaker.RecordFailure()
		log.Printf("compat: legacy leaderboard failed for week %d: %v", w, err)
		return c.unified.safeDefault(viewName(week), weekOrZero(week))
	}
	breaker.RecordSuccess()
	return &DisplayResult{
		Success:  true,
		Data:     entries,
		Metadata: DisplayMetadata{View: viewName(week), Week: w, Source: "legacy"},
	}
}

func viewName(week *int) string {
	if week == nil {
		return "season"
	}
	return "weekly"
}

func weekOrZero(week *int) int {
	if week == nil {
		return 0
	}
	return *week
}
