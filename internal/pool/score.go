package pool

import (
	"sort"
	"strconv"
)

// ScoreWeek computes each user's weekly score: a correct pick earns its
// confidence points, a wrong or still-unfinished game earns nothing.
func ScoreWeek(picks map[string]UserPicks, results map[string]GameResult) map[string]int {
	scores := make(map[string]int, len(picks))
	for userID, up := range picks {
		total := 0
		for gameID, pick := range up.Games {
			result, ok := results[gameID]
			if !ok || result.WinningTeam == nil {
				continue
			}
			if pick.WinningTeamChoice == *result.WinningTeam {
				total += pick.ConfidencePoints
			}
		}
		scores[userID] = total
	}
	return scores
}

// RankEntries sorts entries by score descending and assigns competition
// ranks: tied scores share a rank and the next distinct score resumes at its
// 1-based position, so [50 50 40] ranks as [1 1 3]. Ties are ordered by user
// id so repeated runs over the same data produce identical output.
func RankEntries(entries []LeaderboardEntry) []LeaderboardEntry {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
	return entries
}

// BuildWeeklyLeaderboard scores the picks map and returns the ranked entries.
func BuildWeeklyLeaderboard(picks map[string]UserPicks, results map[string]GameResult) []LeaderboardEntry {
	scores := ScoreWeek(picks, results)
	entries := make([]LeaderboardEntry, 0, len(scores))
	for userID, score := range scores {
		entries = append(entries, LeaderboardEntry{
			UserID:      userID,
			DisplayName: picks[userID].Meta.DisplayName,
			Score:       score,
		})
	}
	return RankEntries(entries)
}

// ComputeStats derives the week stats block from the picks and scores.
func ComputeStats(picks map[string]UserPicks, scores map[string]int) WeekStats {
	stats := WeekStats{
		TotalUsers:       len(picks),
		PickDistribution: make(map[string]int),
	}
	total := 0
	for _, score := range scores {
		total += score
	}
	if len(scores) > 0 {
		stats.AverageScore = float64(total) / float64(len(scores))
	}
	for _, up := range picks {
		for _, pick := range up.Games {
			stats.PickDistribution[strconv.Itoa(pick.ConfidencePoints)]++
		}
	}
	return stats
}

// CountComplete reports how many games have a final result.
func CountComplete(results map[string]GameResult) int {
	n := 0
	for _, r := range results {
		if r.WinningTeam != nil {
			n++
		}
	}
	return n
}
