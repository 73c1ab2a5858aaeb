package pool

import "time"

// Pick is one team choice wagered with a confidence value.
type Pick struct {
	WinningTeamChoice string    `json:"winning_team_choice" firestore:"winningTeamChoice"`
	ConfidencePoints  int       `json:"confidence_points" firestore:"confidencePoints"`
	SubmittedAt       time.Time `json:"submitted_at" firestore:"submittedAt"`
}

type PickMeta struct {
	UserID      string `json:"user_id" firestore:"userId"`
	DisplayName string `json:"display_name" firestore:"displayName"`
}

// UserPicks holds one user's picks for a week, keyed by game id.
type UserPicks struct {
	Meta  PickMeta        `json:"meta" firestore:"meta"`
	Games map[string]Pick `json:"games" firestore:"games"`
}

// GameResult carries the winner of a game. A nil WinningTeam means the game
// is not final yet and the pick scores nothing for now.
type GameResult struct {
	WinningTeam *string `json:"winning_team" firestore:"winningTeam"`
}

type LeaderboardEntry struct {
	UserID      string `json:"user_id" firestore:"userId"`
	DisplayName string `json:"display_name" firestore:"displayName"`
	Score       int    `json:"score" firestore:"score"`
	Rank        int    `json:"rank" firestore:"rank"`
}

type Leaderboards struct {
	Weekly []LeaderboardEntry `json:"weekly" firestore:"weekly"`
	Season []LeaderboardEntry `json:"season" firestore:"season"`
}

// CacheMeta is the freshness metadata stored on the week document itself.
type CacheMeta struct {
	LastUpdated     time.Time `json:"last_updated" firestore:"lastUpdated"`
	GamesComplete   int       `json:"games_complete" firestore:"gamesComplete"`
	InvalidateAfter time.Time `json:"invalidate_after" firestore:"invalidateAfter"`
}

type WeekStats struct {
	TotalUsers       int            `json:"total_users" firestore:"totalUsers"`
	AverageScore     float64        `json:"average_score" firestore:"averageScore"`
	PickDistribution map[string]int `json:"pick_distribution" firestore:"pickDistribution"`
}

// WeekDocument is the unified per-week record: every user's picks plus the
// precomputed leaderboards, so a leaderboard view costs one read instead of
// one read per user.
type WeekDocument struct {
	WeekNumber   int                   `json:"week_number" firestore:"weekNumber"`
	Picks        map[string]UserPicks  `json:"picks" firestore:"picks"`
	Leaderboards Leaderboards          `json:"leaderboards" firestore:"leaderboards"`
	Cache        CacheMeta             `json:"cache" firestore:"cache"`
	GameResults  map[string]GameResult `json:"game_results" firestore:"gameResults"`
	Stats        WeekStats             `json:"stats" firestore:"stats"`
}

// NewWeekDocument returns an empty skeleton for a week.
func NewWeekDocument(week int) *WeekDocument {
	return &WeekDocument{
		WeekNumber:  week,
		Picks:       make(map[string]UserPicks),
		GameResults: make(map[string]GameResult),
		Stats:       WeekStats{PickDistribution: make(map[string]int)},
	}
}

// SeasonSummaryDocument aggregates weekly scores across the season.
// UserTotals is always recomputed from WeeklyTotals when any week changes.
type SeasonSummaryDocument struct {
	UserTotals   map[string]int            `json:"user_totals" firestore:"userTotals"`
	WeeklyTotals map[string]map[string]int `json:"weekly_totals" firestore:"weeklyTotals"`
	LastUpdated  time.Time                 `json:"last_updated" firestore:"lastUpdated"`
}

func NewSeasonSummary() *SeasonSummaryDocument {
	return &SeasonSummaryDocument{
		UserTotals:   make(map[string]int),
		WeeklyTotals: make(map[string]map[string]int),
	}
}

// LegacyPickDocument is the old per-user-per-week schema. It is still written
// on every submission (dual write) so readers that have not migrated keep
// working.
type LegacyPickDocument struct {
	UserID       string          `json:"user_id" firestore:"userId"`
	DisplayName  string          `json:"display_name" firestore:"displayName"`
	Picks        map[string]Pick `json:"picks" firestore:"picks"`
	UpdatedAt    time.Time       `json:"updated_at" firestore:"updatedAt"`
	SubmissionID string          `json:"submission_id" firestore:"submissionId"`
}

type Participation struct {
	ConfidenceEnabled *bool `json:"confidence_enabled" firestore:"confidenceEnabled"`
}

type MemberRecord struct {
	DisplayName   string        `json:"display_name" firestore:"displayName"`
	Participation Participation `json:"participation" firestore:"participation"`
}

// ConfidenceEnabled defaults to true when the flag is absent so members that
// predate the participation feature are not dropped.
func (m MemberRecord) ConfidenceEnabled() bool {
	if m.Participation.ConfidenceEnabled == nil {
		return true
	}
	return *m.Participation.ConfidenceEnabled
}

// Membership is the pool members document, keyed by user id.
type Membership map[string]MemberRecord
