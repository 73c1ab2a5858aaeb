package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"confidencePoolAPI/internal/cache"
	"confidencePoolAPI/internal/docstore"
	"confidencePoolAPI/internal/perf"
	"confidencePoolAPI/internal/pool"
	"confidencePoolAPI/internal/recovery"
)

// ResultFeed supplies final game results for a week. A nil winner means the
// game is not final yet.
type ResultFeed interface {
	WeekResults(ctx context.Context, season, week int) (map[string]pool.GameResult, error)
}

const defaultCacheTTL = 5 * time.Minute

type ConfidenceConfig struct {
	PoolID      string
	Season      int
	CurrentWeek int
	CacheTTL    time.Duration
	// Location decides the game-window day-of-week. Defaults to NFL
	// schedule time (America/New_York).
	Location *time.Location
}

// ConfidenceManager owns the unified per-week document: it bounds leaderboard
// reads to one document per week (two for season views) regardless of pool
// size, keeps the legacy per-user documents in sync via dual writes, and
// decides when a stored leaderboard is stale enough to re-score.
type ConfidenceManager struct {
	store    docstore.Store
	feed     ResultFeed
	cache    *cache.Cache
	recovery *recovery.Manager
	monitor  *perf.Monitor
	cfg      ConfidenceConfig

	mu          sync.Mutex
	currentWeek int

	now func() time.Time
}

func NewConfidenceManager(store docstore.Store, feed ResultFeed, rec *recovery.Manager, mon *perf.Monitor, cfg ConfidenceConfig) *ConfidenceManager {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	m := &ConfidenceManager{
		store:       store,
		feed:        feed,
		cache:       cache.New(cfg.CacheTTL),
		recovery:    rec,
		monitor:     mon,
		cfg:         cfg,
		currentWeek: cfg.CurrentWeek,
		now:         time.Now,
	}
	rec.ClearCaches = m.cache.Clear
	return m
}

// Cache exposes the leaderboard cache so main can run its cleanup loop.
func (m *ConfidenceManager) Cache() *cache.Cache { return m.cache }

func (m *ConfidenceManager) CurrentWeek() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentWeek
}

func (m *ConfidenceManager) SetCurrentWeek(week int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentWeek = week
}

type DisplayOptions struct {
	ForceRefresh bool
	Type         string
}

type DisplayMetadata struct {
	View      string `json:"view"`
	Week      int    `json:"week,omitempty"`
	Source    string `json:"source"`
	FromCache bool   `json:"from_cache,omitempty"`
	Migrated  bool   `json:"migrated,omitempty"`
	Empty     bool   `json:"empty,omitempty"`
}

type DisplayResult struct {
	Success    bool                    `json:"success"`
	Data       []pool.LeaderboardEntry `json:"data"`
	Metadata   DisplayMetadata         `json:"metadata"`
	LoadTimeMS int64                   `json:"load_time_ms"`
	Fallback   string                  `json:"fallback,omitempty"`
	Error      string                  `json:"error,omitempty"`

	// FallbackRequired tells the compatibility shim to run the legacy
	// per-user-read path.
	FallbackRequired bool `json:"-"`
}

// GetDisplayData returns the leaderboard for a week, or the season
// leaderboard when week is nil. The steady-state cost is one store read for
// a week view and two for a season view; migration and refresh paths are the
// amortized exceptions. It never returns an error: store failures come back
// as FallbackRequired.
func (m *ConfidenceManager) GetDisplayData(ctx context.Context, week *int, opts DisplayOptions) *DisplayResult {
	start := time.Now()

	if !m.recovery.Unified().Allow() {
		return &DisplayResult{
			Success:          false,
			FallbackRequired: true,
			Error:            "unified circuit breaker open",
		}
	}

	viewType := opts.Type
	if viewType == "" {
		viewType = "standard"
	}
	var key string
	if week != nil {
		key = m.weeklyCacheKey(*week, viewType)
	} else {
		key = m.seasonCacheKey(viewType)
	}

	if !opts.ForceRefresh {
		if v, ok := m.cache.Get(key); ok {
			m.monitor.RecordCacheHit()
			res := &DisplayResult{
				Success: true,
				Data:    v.([]pool.LeaderboardEntry),
			}
			res.Metadata.Source = "cache"
			res.Metadata.FromCache = true
			if week != nil {
				res.Metadata.View, res.Metadata.Week = "weekly", *week
			} else {
				res.Metadata.View = "season"
			}
			m.finish(res, "get_display_data", start)
			return res
		}
	}

	var res *DisplayResult
	if week != nil {
		res = m.weeklyDisplayData(ctx, *week, viewType)
	} else {
		res = m.seasonDisplayData(ctx, viewType)
	}

	switch {
	case res.FallbackRequired:
		m.recovery.Unified().RecordFailure()
		m.monitor.RecordError()
	case res.Success && res.Metadata.Source != "safe_default":
		m.recovery.Unified().RecordSuccess()
		m.cache.Set(key, res.Data)
	}
	m.finish(res, "get_display_data", start)
	return res
}

func (m *ConfidenceManager) weeklyDisplayData(ctx context.Context, week int, viewType string) *DisplayResult {
	path := m.weekPath(week)
	var doc pool.WeekDocument
	err := m.store.Get(ctx, path, &doc)
	m.monitor.RecordReads(1)

	if errors.Is(err, docstore.ErrNotFound) {
		return m.MigrateWeekToUnified(ctx, week)
	}
	if err != nil {
		rerr := m.recovery.Recover(ctx, "weekly_display", err, func(ctx context.Context) error {
			e := m.store.Get(ctx, path, &doc)
			m.monitor.RecordReads(1)
			return e
		})
		switch {
		case rerr == nil:
			m.monitor.RecordRecovery()
		case errors.Is(rerr, recovery.ErrSafeDefault):
			return m.safeDefault("weekly", week)
		default:
			return &DisplayResult{Success: false, FallbackRequired: true, Error: err.Error()}
		}
	}

	if m.isDataStale(&doc, m.now()) {
		if err := m.refreshDoc(ctx, &doc); err != nil {
			log.Printf("confidence: refresh of week %d failed, serving stored leaderboard: %v", week, err)
		}
	}

	members := m.loadMembership(ctx)
	entries := filterByParticipation(doc.Leaderboards.Weekly, members)
	return &DisplayResult{
		Success:  true,
		Data:     entries,
		Metadata: DisplayMetadata{View: "weekly", Week: week, Source: "unified"},
	}
}

func (m *ConfidenceManager) seasonDisplayData(ctx context.Context, viewType string) *DisplayResult {
	week := m.CurrentWeek()

	var summary pool.SeasonSummaryDocument
	err := m.store.Get(ctx, m.summaryPath(), &summary)
	m.monitor.RecordReads(1)
	if errors.Is(err, docstore.ErrNotFound) {
		summary = *pool.NewSeasonSummary()
	} else if err != nil {
		rerr := m.recovery.Recover(ctx, "season_display", err, func(ctx context.Context) error {
			e := m.store.Get(ctx, m.summaryPath(), &summary)
			m.monitor.RecordReads(1)
			return e
		})
		switch {
		case rerr == nil:
			m.monitor.RecordRecovery()
		case errors.Is(rerr, recovery.ErrSafeDefault):
			return m.safeDefault("season", 0)
		default:
			return &DisplayResult{Success: false, FallbackRequired: true, Error: err.Error()}
		}
	}

	var weekDoc pool.WeekDocument
	err = m.store.Get(ctx, m.weekPath(week), &weekDoc)
	m.monitor.RecordReads(1)
	haveWeek := err == nil
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		rerr := m.recovery.Recover(ctx, "season_display", err, func(ctx context.Context) error {
			e := m.store.Get(ctx, m.weekPath(week), &weekDoc)
			m.monitor.RecordReads(1)
			return e
		})
		switch {
		case rerr == nil:
			m.monitor.RecordRecovery()
			haveWeek = true
		case errors.Is(rerr, recovery.ErrSafeDefault):
			return m.safeDefault("season", 0)
		default:
			return &DisplayResult{Success: false, FallbackRequired: true, Error: err.Error()}
		}
	}

	// Read-path reconciliation: when the week document is fresher than the
	// summary, fold its scores into the aggregate in memory. Nothing is
	// persisted here.
	if haveWeek && weekDoc.Cache.LastUpdated.After(summary.LastUpdated) {
		scores := make(map[string]int, len(weekDoc.Leaderboards.Weekly))
		for _, e := range weekDoc.Leaderboards.Weekly {
			scores[e.UserID] = e.Score
		}
		if summary.WeeklyTotals == nil {
			summary.WeeklyTotals = make(map[string]map[string]int)
		}
		summary.WeeklyTotals[strconv.Itoa(week)] = scores
		totals := make(map[string]int)
		for _, weekScores := range summary.WeeklyTotals {
			for id, s := range weekScores {
				totals[id] += s
			}
		}
		summary.UserTotals = totals
	}

	// Membership rides the same TTL cache, so the participation filter costs
	// no steady-state store reads.
	members := m.loadMembership(ctx)
	names := make(map[string]string, len(members))
	for id, rec := range members {
		names[id] = rec.DisplayName
	}
	for id, up := range weekDoc.Picks {
		if names[id] == "" {
			names[id] = up.Meta.DisplayName
		}
	}

	entries := filterByParticipation(buildSeasonEntries(&summary, names), members)
	return &DisplayResult{
		Success:  true,
		Data:     entries,
		Metadata: DisplayMetadata{View: "season", Week: week, Source: "unified"},
	}
}

// MigrateWeekToUnified builds the unified week document from the legacy
// per-user documents. This is the expensive O(N)-read path the unified
// design exists to avoid; it runs at most once per week.
func (m *ConfidenceManager) MigrateWeekToUnified(ctx context.Context, week int) *DisplayResult {
	members := m.loadMembership(ctx)

	picks := make(map[string]pool.UserPicks)
	for userID, rec := range members {
		if !rec.ConfidenceEnabled() {
			continue
		}
		var legacy pool.LegacyPickDocument
		err := m.store.Get(ctx, m.legacyPath(week, userID), &legacy)
		m.monitor.RecordReads(1)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Printf("confidence: migration skipping user %s: %v", userID, err)
			continue
		}
		if len(legacy.Picks) == 0 {
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

	if len(picks) == 0 {
		// Nothing to migrate. Return an empty leaderboard without persisting
		// a placeholder document.
		return &DisplayResult{
			Success: true,
			Data:    []pool.LeaderboardEntry{},
			Metadata: DisplayMetadata{
				View: "weekly", Week: week, Source: "migration",
				Migrated: true, Empty: true,
			},
		}
	}

	results, err := m.feed.WeekResults(ctx, m.cfg.Season, week)
	if err != nil {
		log.Printf("confidence: migration for week %d proceeding without results: %v", week, err)
		results = make(map[string]pool.GameResult)
	}

	doc := pool.NewWeekDocument(week)
	doc.Picks = picks
	doc.GameResults = results
	scores := pool.ScoreWeek(picks, results)
	doc.Leaderboards.Weekly = pool.BuildWeeklyLeaderboard(picks, results)
	doc.Stats = pool.ComputeStats(picks, scores)
	doc.Cache.LastUpdated = m.now()
	doc.Cache.GamesComplete = pool.CountComplete(results)
	doc.Cache.InvalidateAfter = m.now().Add(m.staleThreshold(m.now()))

	names := make(map[string]string, len(picks))
	for id, up := range picks {
		names[id] = up.Meta.DisplayName
	}
	if seasonEntries, err := m.updateSeasonSummary(ctx, week, scores, names); err != nil {
		log.Printf("confidence: season summary update failed during migration: %v", err)
	} else {
		doc.Leaderboards.Season = seasonEntries
	}

	if err := m.store.Set(ctx, m.weekPath(week), doc); err != nil {
		return &DisplayResult{Success: false, FallbackRequired: true, Error: err.Error()}
	}

	entries := filterByParticipation(doc.Leaderboards.Weekly, members)
	return &DisplayResult{
		Success:  true,
		Data:     entries,
		Metadata: DisplayMetadata{View: "weekly", Week: week, Source: "migration", Migrated: true},
	}
}

// RefreshWeekData re-scores a stored week from fresh game results. It never
// re-reads the legacy per-user documents.
func (m *ConfidenceManager) RefreshWeekData(ctx context.Context, week int) (*pool.WeekDocument, error) {
	var doc pool.WeekDocument
	err := m.store.Get(ctx, m.weekPath(week), &doc)
	m.monitor.RecordReads(1)
	if err != nil {
		return nil, fmt.Errorf("failed to load week %d for refresh: %w", week, err)
	}
	if err := m.refreshDoc(ctx, &doc); err != nil {
		return nil, err
	}
	m.invalidateWeek(week)
	return &doc, nil
}

func (m *ConfidenceManager) refreshDoc(ctx context.Context, doc *pool.WeekDocument) error {
	week := doc.WeekNumber
	results, err := m.feed.WeekResults(ctx, m.cfg.Season, week)
	if err != nil {
		return fmt.Errorf("failed to fetch results for week %d: %w", week, err)
	}

	doc.GameResults = results
	scores := pool.ScoreWeek(doc.Picks, results)
	doc.Leaderboards.Weekly = pool.BuildWeeklyLeaderboard(doc.Picks, results)
	doc.Stats = pool.ComputeStats(doc.Picks, scores)
	doc.Cache.LastUpdated = m.now()
	doc.Cache.GamesComplete = pool.CountComplete(results)
	doc.Cache.InvalidateAfter = m.now().Add(m.staleThreshold(m.now()))

	names := make(map[string]string, len(doc.Picks))
	for id, up := range doc.Picks {
		names[id] = up.Meta.DisplayName
	}
	if seasonEntries, err := m.updateSeasonSummary(ctx, week, scores, names); err != nil {
		log.Printf("confidence: season summary update failed during refresh: %v", err)
	} else {
		doc.Leaderboards.Season = seasonEntries
	}

	if err := m.store.Set(ctx, m.weekPath(week), doc); err != nil {
		return fmt.Errorf("failed to write refreshed week %d: %w", week, err)
	}
	return nil
}

type SubmitResult struct {
	Success        bool   `json:"success"`
	WritesExecuted int    `json:"writes_executed"`
	Transactional  bool   `json:"transactional"`
	Error          string `json:"error,omitempty"`

	// Rejected is set for validation failures, which are final: no retry or
	// fallback write applies.
	Rejected bool `json:"rejected,omitempty"`
}

// ValidationError marks a rejected submission, as opposed to a store failure.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// SubmitUserPicks merges the user's picks into the week document and writes
// the unified and legacy documents in one transaction. The read happens
// inside the transaction so concurrent submissions from other instances are
// isolated by the store. When the transaction layer itself fails, the two
// writes run sequentially instead: availability over atomicity, logged.
func (m *ConfidenceManager) SubmitUserPicks(ctx context.Context, week int, userID string, picks map[string]pool.Pick, displayName string) *SubmitResult {
	start := time.Now()
	defer func() {
		m.monitor.RecordRequest("submit_user_picks", time.Since(start))
	}()

	if err := validatePicks(picks); err != nil {
		return &SubmitResult{Success: false, Rejected: true, Error: err.Error()}
	}

	weekPath := m.weekPath(week)
	legacyPath := m.legacyPath(week, userID)
	now := m.now()

	stamped := make(map[string]pool.Pick, len(picks))
	for gameID, p := range picks {
		p.SubmittedAt = now
		stamped[gameID] = p
	}
	legacy := &pool.LegacyPickDocument{
		UserID:       userID,
		DisplayName:  displayName,
		Picks:        stamped,
		UpdatedAt:    now,
		SubmissionID: uuid.NewString(),
	}

	apply := func(doc *pool.WeekDocument) {
		if doc.Picks == nil {
			doc.Picks = make(map[string]pool.UserPicks)
		}
		doc.WeekNumber = week
		doc.Picks[userID] = pool.UserPicks{
			Meta:  pool.PickMeta{UserID: userID, DisplayName: displayName},
			Games: stamped,
		}
		doc.Stats.TotalUsers = len(doc.Picks)
		doc.Cache.LastUpdated = now
	}

	// The store may run the transaction body more than once on contention;
	// the read is billed once regardless.
	txnRead := false
	err := m.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		var doc pool.WeekDocument
		err := tx.Get(weekPath, &doc)
		if errors.Is(err, docstore.ErrNotFound) {
			doc = *pool.NewWeekDocument(week)
		} else if err != nil {
			return err
		}
		txnRead = true
		if games := len(doc.GameResults); games > 0 {
			for gameID, p := range stamped {
				if p.ConfidencePoints > games {
					return &ValidationError{msg: fmt.Sprintf(
						"confidence points for game %s exceed the %d games this week", gameID, games)}
				}
			}
		}
		apply(&doc)
		if err := tx.Set(weekPath, &doc); err != nil {
			return err
		}
		return tx.Set(legacyPath, legacy)
	})

	if txnRead {
		m.monitor.RecordReads(1)
	}
	if err == nil {
		m.recovery.Unified().RecordSuccess()
		m.invalidateWeek(week)
		return &SubmitResult{Success: true, WritesExecuted: 2, Transactional: true}
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &SubmitResult{Success: false, Rejected: true, Error: ve.Error()}
	}

	log.Printf("confidence: pick submission transaction failed, falling back to sequential writes: %v", err)
	m.monitor.RecordError()

	var doc pool.WeekDocument
	gerr := m.store.Get(ctx, weekPath, &doc)
	m.monitor.RecordReads(1)
	if errors.Is(gerr, docstore.ErrNotFound) {
		doc = *pool.NewWeekDocument(week)
	} else if gerr != nil {
		m.recovery.Unified().RecordFailure()
		return &SubmitResult{Success: false, Error: gerr.Error()}
	}
	apply(&doc)
	if serr := m.store.Set(ctx, weekPath, &doc); serr != nil {
		m.recovery.Unified().RecordFailure()
		return &SubmitResult{Success: false, Error: serr.Error()}
	}
	if serr := m.store.Set(ctx, legacyPath, legacy); serr != nil {
		// The unified write already landed; report the partial state rather
		// than hiding it.
		m.recovery.Unified().RecordFailure()
		log.Printf("confidence: legacy write failed after unified write landed for user %s week %d: %v", userID, week, serr)
		return &SubmitResult{Success: false, WritesExecuted: 1, Error: serr.Error()}
	}

	m.recovery.Unified().RecordSuccess()
	m.monitor.RecordRecovery()
	m.invalidateWeek(week)
	return &SubmitResult{Success: true, WritesExecuted: 2, Transactional: false}
}

// GetUserPicks returns one user's submitted picks for a week, reading the
// unified document first and falling back to the legacy per-user document
// for weeks that have not migrated.
func (m *ConfidenceManager) GetUserPicks(ctx context.Context, week int, userID string) (*pool.UserPicks, error) {
	var doc pool.WeekDocument
	err := m.store.Get(ctx, m.weekPath(week), &doc)
	m.monitor.RecordReads(1)
	if err == nil {
		up, ok := doc.Picks[userID]
		if !ok {
			return &pool.UserPicks{Meta: pool.PickMeta{UserID: userID}, Games: map[string]pool.Pick{}}, nil
		}
		return &up, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	var legacy pool.LegacyPickDocument
	err = m.store.Get(ctx, m.legacyPath(week, userID), &legacy)
	m.monitor.RecordReads(1)
	if errors.Is(err, docstore.ErrNotFound) {
		return &pool.UserPicks{Meta: pool.PickMeta{UserID: userID}, Games: map[string]pool.Pick{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return &pool.UserPicks{
		Meta:  pool.PickMeta{UserID: userID, DisplayName: legacy.DisplayName},
		Games: legacy.Picks,
	}, nil
}

type MetricsReport struct {
	perf.Metrics
	CacheSize  int          `json:"cache_size"`
	LegacyMode bool         `json:"legacy_mode"`
	Alerts     []perf.Alert `json:"alerts"`
}

func (m *ConfidenceManager) GetMetrics() MetricsReport {
	return MetricsReport{
		Metrics:    m.monitor.Snapshot(),
		CacheSize:  m.cache.Len(),
		LegacyMode: m.recovery.LegacyMode(),
		Alerts:     m.monitor.Alerts(),
	}
}

type HealthReport struct {
	Status         string       `json:"status"` // healthy|error
	UnifiedBreaker string       `json:"unified_breaker"`
	LegacyBreaker  string       `json:"legacy_breaker"`
	CacheSize      int          `json:"cache_size"`
	Metrics        perf.Metrics `json:"metrics"`
	CriticalAlerts []perf.Alert `json:"critical_alerts,omitempty"`
	Error          string       `json:"error,omitempty"`
}

func (m *ConfidenceManager) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:         "healthy",
		UnifiedBreaker: m.recovery.Unified().State(),
		LegacyBreaker:  m.recovery.Legacy().State(),
		CacheSize:      m.cache.Len(),
		Metrics:        m.monitor.Snapshot(),
		CriticalAlerts: m.monitor.CriticalAlerts(),
	}
	var members pool.Membership
	err := m.store.Get(ctx, m.membersPath(), &members)
	m.monitor.RecordReads(1)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		report.Status = "error"
		report.Error = err.Error()
	}
	return report
}

func (m *ConfidenceManager) ClearCache() {
	m.cache.Clear()
}

func (m *ConfidenceManager) InvalidateCache(week int) {
	m.invalidateWeek(week)
}

// isDataStale applies the staleness rule: missing freshness metadata is
// always stale; otherwise the threshold is 10 minutes during the Thursday
// through Monday game window and 30 minutes on Tuesday and Wednesday.
func (m *ConfidenceManager) isDataStale(doc *pool.WeekDocument, now time.Time) bool {
	if doc.Cache.LastUpdated.IsZero() {
		return true
	}
	return now.Sub(doc.Cache.LastUpdated) > m.staleThreshold(now)
}

func (m *ConfidenceManager) staleThreshold(now time.Time) time.Duration {
	if inGameWindow(now.In(m.cfg.Location)) {
		return 10 * time.Minute
	}
	return 30 * time.Minute
}

func inGameWindow(t time.Time) bool {
	switch t.Weekday() {
	case time.Tuesday, time.Wednesday:
		return false
	default:
		return true
	}
}

// updateSeasonSummary persists the week's scores and atomically recomputes
// every user's season total as the sum across recorded weeks.
func (m *ConfidenceManager) updateSeasonSummary(ctx context.Context, week int, scores map[string]int, names map[string]string) ([]pool.LeaderboardEntry, error) {
	var summary pool.SeasonSummaryDocument
	txnRead := false
	err := m.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		summary = pool.SeasonSummaryDocument{}
		err := tx.Get(m.summaryPath(), &summary)
		if errors.Is(err, docstore.ErrNotFound) {
			summary = *pool.NewSeasonSummary()
		} else if err != nil {
			return err
		}
		txnRead = true

		if summary.WeeklyTotals == nil {
			summary.WeeklyTotals = make(map[string]map[string]int)
		}
		summary.WeeklyTotals[strconv.Itoa(week)] = scores
		totals := make(map[string]int)
		for _, weekScores := range summary.WeeklyTotals {
			for id, s := range weekScores {
				totals[id] += s
			}
		}
		summary.UserTotals = totals
		summary.LastUpdated = m.now()
		return tx.Set(m.summaryPath(), &summary)
	})
	if txnRead {
		m.monitor.RecordReads(1)
	}
	if err != nil {
		return nil, err
	}
	return buildSeasonEntries(&summary, names), nil
}

func (m *ConfidenceManager) loadMembership(ctx context.Context) pool.Membership {
	key := m.membersCacheKey()
	if v, ok := m.cache.Get(key); ok {
		return v.(pool.Membership)
	}
	var members pool.Membership
	err := m.store.Get(ctx, m.membersPath(), &members)
	m.monitor.RecordReads(1)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			log.Printf("confidence: failed to load pool membership: %v", err)
		}
		// Absent membership filters nobody out.
		return pool.Membership{}
	}
	m.cache.Set(key, members)
	return members
}

func (m *ConfidenceManager) safeDefault(view string, week int) *DisplayResult {
	return &DisplayResult{
		Success:  true,
		Data:     []pool.LeaderboardEntry{},
		Fallback: "safe_default",
		Metadata: DisplayMetadata{View: view, Week: week, Source: "safe_default"},
	}
}

func (m *ConfidenceManager) finish(res *DisplayResult, op string, start time.Time) {
	d := time.Since(start)
	res.LoadTimeMS = d.Milliseconds()
	m.monitor.RecordRequest(op, d)
}

func (m *ConfidenceManager) invalidateWeek(week int) {
	// Season aggregates depend on every week, so week invalidation clears
	// season keys too.
	m.cache.Invalidate(fmt.Sprintf(":week:%d:", week))
	m.cache.Invalidate(":season:")
}

func (m *ConfidenceManager) weeklyCacheKey(week int, viewType string) string {
	return fmt.Sprintf("confidence:%s:%d:week:%d:%s", m.cfg.PoolID, m.cfg.Season, week, viewType)
}

func (m *ConfidenceManager) seasonCacheKey(viewType string) string {
	return fmt.Sprintf("confidence:%s:%d:season:%s", m.cfg.PoolID, m.cfg.Season, viewType)
}

func (m *ConfidenceManager) membersCacheKey() string {
	return fmt.Sprintf("confidence:%s:%d:members", m.cfg.PoolID, m.cfg.Season)
}

func (m *ConfidenceManager) weekPath(week int) string {
	return fmt.Sprintf("pools/%s/confidence/%d/weeks/%d", m.cfg.PoolID, m.cfg.Season, week)
}

func (m *ConfidenceManager) summaryPath() string {
	return fmt.Sprintf("pools/%s/confidence/%d/meta/summary", m.cfg.PoolID, m.cfg.Season)
}

func (m *ConfidenceManager) legacyPath(week int, userID string) string {
	return fmt.Sprintf("pools/%s/picks/%d/weeks/%d/users/%s", m.cfg.PoolID, m.cfg.Season, week, userID)
}

func (m *ConfidenceManager) membersPath() string {
	return fmt.Sprintf("pools/%s/metadata/members", m.cfg.PoolID)
}

func validatePicks(picks map[string]pool.Pick) error {
	if len(picks) == 0 {
		return &ValidationError{msg: "no picks submitted"}
	}
	seen := make(map[int]string, len(picks))
	for gameID, p := range picks {
		if p.WinningTeamChoice == "" {
			return &ValidationError{msg: fmt.Sprintf("game %s has no team choice", gameID)}
		}
		if p.ConfidencePoints < 1 {
			return &ValidationError{msg: fmt.Sprintf("confidence points for game %s must be at least 1", gameID)}
		}
		if other, dup := seen[p.ConfidencePoints]; dup {
			return &ValidationError{msg: fmt.Sprintf(
				"confidence value %d used for both %s and %s", p.ConfidencePoints, other, gameID)}
		}
		seen[p.ConfidencePoints] = gameID
	}
	return nil
}

func filterByParticipation(entries []pool.LeaderboardEntry, members pool.Membership) []pool.LeaderboardEntry {
	filtered := make([]pool.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		if rec, ok := members[e.UserID]; ok && !rec.ConfidenceEnabled() {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func buildSeasonEntries(summary *pool.SeasonSummaryDocument, names map[string]string) []pool.LeaderboardEntry {
	entries := make([]pool.LeaderboardEntry, 0, len(summary.UserTotals))
	for userID, total := range summary.UserTotals {
		name := names[userID]
		if name == "" {
			name = userID
		}
		entries = append(entries, pool.LeaderboardEntry{
			UserID:      userID,
			DisplayName: name,
			Score:       total,
		})
	}
	return pool.RankEntries(entries)
}
