// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ranking

import (
	"slices"
	"time"

	"github.com/danielhkuo/pk-arena/models"
)

// JudgeVote is one of a judge's votes together with its match state
type JudgeVote struct {
	WinnerTeamID  string
	MatchDuration int
	VotedAt       time.Time
	Categories    []string
	Outcome       MatchOutcome
}

// UserStats summarises a judge's voting history. pending is the number of
// open matches the judge can still vote on.
func UserStats(votes []JudgeVote, pending int) models.UserVotingStats {
	ordered := slices.Clone(votes)
	slices.SortStableFunc(ordered, func(a, b JudgeVote) int {
		return a.VotedAt.Compare(b.VotedAt)
	})

	stats := models.UserVotingStats{
		TotalVotes:     len(ordered),
		PendingMatches: pending,
	}

	var totalDuration int
	categoryCounts := make(map[string]int)
	for _, v := range ordered {
		totalDuration += v.MatchDuration

		if v.Outcome.Status == models.MatchCompleted {
			stats.CompletedMatches++
		}

		// A streak is broken only by a decided wrong call
		if correct := v.Outcome.IsCorrectPrediction(v.WinnerTeamID); correct != nil {
			if *correct {
				stats.CorrectPredictions++
				stats.CurrentStreak++
				stats.LongestStreak = max(stats.LongestStreak, stats.CurrentStreak)
			} else {
				stats.CurrentStreak = 0
			}
		}

		seen := make(map[string]bool, len(v.Categories))
		for _, c := range v.Categories {
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			categoryCounts[c]++
		}
	}

	if len(ordered) > 0 {
		stats.AverageVoteTime = round(float64(totalDuration)/float64(len(ordered)), 1)
	}
	stats.FavoriteCategory = favorite(categoryCounts)
	return stats
}

func favorite(counts map[string]int) string {
	best, bestCount := "", 0
	for c, n := range counts {
		if n > bestCount || (n == bestCount && c < best) {
			best, bestCount = c, n
		}
	}
	return best
}

// SystemCounts are the raw totals behind the system-wide voting stats
type SystemCounts struct {
	TotalJudges         int
	ActiveJudges        int
	TotalVotes          int
	TotalVoteSeconds    int
	CompletedMatches    int
	NonCancelledMatches int
}

// SystemStats derives averages and the match completion percentage
func SystemStats(c SystemCounts) models.VotingStats {
	stats := models.VotingStats{
		TotalJudges:  c.TotalJudges,
		ActiveJudges: c.ActiveJudges,
		TotalVotes:   c.TotalVotes,
	}
	if c.TotalVotes > 0 {
		stats.AverageVoteTime = round(float64(c.TotalVoteSeconds)/float64(c.TotalVotes), 1)
	}
	if c.NonCancelledMatches > 0 {
		stats.CompletionRate = round(float64(c.CompletedMatches)/float64(c.NonCancelledMatches)*100, 2)
	}
	return stats
}
