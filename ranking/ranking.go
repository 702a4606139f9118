// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package ranking turns stored votes and match results into leaderboard
// rows and judge statistics. It is pure computation over already-loaded
// data, so every function here is deterministic for a given input.
package ranking

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/danielhkuo/pk-arena/models"
)

// Elo parameters for the leaderboard score
const (
	InitialRating = 1000.0
	KFactor       = 32.0
)

// Leaderboard page size bounds
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ClampLimit applies the default and maximum leaderboard size
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// MatchOutcome is the vote tally of one PK match
type MatchOutcome struct {
	Status     string
	TeamAID    string
	TeamBID    string
	TeamAVotes int
	TeamBVotes int
}

// Winner returns the team with strictly more votes in a completed match.
// Open matches and draws have no winner.
func (o MatchOutcome) Winner() (string, bool) {
	if o.Status != models.MatchCompleted {
		return "", false
	}
	switch {
	case o.TeamAVotes > o.TeamBVotes:
		return o.TeamAID, true
	case o.TeamBVotes > o.TeamAVotes:
		return o.TeamBID, true
	default:
		return "", false
	}
}

// IsCorrectPrediction reports whether a vote for teamID agreed with the
// final result. It is nil while the match is undecided.
func (o MatchOutcome) IsCorrectPrediction(teamID string) *bool {
	winner, ok := o.Winner()
	if !ok {
		return nil
	}
	correct := winner == teamID
	return &correct
}

// Entry is one project competing on the leaderboard
type Entry struct {
	Team    models.Team
	Project models.Project
}

// Vote is a single head-to-head verdict between two projects
type Vote struct {
	ID              string
	WinnerProjectID string
	LoserProjectID  string
	VotedAt         time.Time
}

// Match is a PK match seen from the projects' side
type Match struct {
	ProjectAID string
	ProjectBID string
	Outcome    MatchOutcome
}

// Options filter and truncate a leaderboard
type Options struct {
	Category string
	Limit    int
}

type standing struct {
	entry      Entry
	rating     float64
	totalVotes int
	played     int
	won        int
}

func (s *standing) winRate() float64 {
	if s.played == 0 {
		return 0
	}
	return float64(s.won) / float64(s.played)
}

// Leaderboard ranks projects by Elo score, then win rate, then votes received.
// Votes are replayed in VotedAt order, ties broken by ID; votes naming unknown
// projects are skipped.
func Leaderboard(entries []Entry, votes []Vote, matches []Match, opts Options) []models.LeaderboardItem {
	standings := make(map[string]*standing, len(entries))
	for _, e := range entries {
		standings[e.Project.ID] = &standing{entry: e, rating: InitialRating}
	}

	ordered := slices.Clone(votes)
	slices.SortFunc(ordered, func(a, b Vote) int {
		if c := a.VotedAt.Compare(b.VotedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for _, v := range ordered {
		winner, ok := standings[v.WinnerProjectID]
		if !ok {
			continue
		}
		loser, ok := standings[v.LoserProjectID]
		if !ok {
			continue
		}
		winner.totalVotes++
		winner.rating, loser.rating = updateElo(winner.rating, loser.rating)
	}

	for _, m := range matches {
		if m.Outcome.Status != models.MatchCompleted {
			continue
		}
		winnerTeam, decided := m.Outcome.Winner()
		for _, side := range []struct{ projectID, teamID string }{
			{m.ProjectAID, m.Outcome.TeamAID},
			{m.ProjectBID, m.Outcome.TeamBID},
		} {
			s, ok := standings[side.projectID]
			if !ok {
				continue
			}
			s.played++
			if decided && winnerTeam == side.teamID {
				s.won++
			}
		}
	}

	rows := make([]*standing, 0, len(standings))
	for _, s := range standings {
		if opts.Category != "" && !strings.EqualFold(s.entry.Project.Category, opts.Category) {
			continue
		}
		rows = append(rows, s)
	}

	slices.SortFunc(rows, func(a, b *standing) int {
		if c := cmp.Compare(b.rating, a.rating); c != 0 {
			return c
		}
		if c := cmp.Compare(b.winRate(), a.winRate()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.totalVotes, a.totalVotes); c != 0 {
			return c
		}
		if c := cmp.Compare(a.entry.Team.ID, b.entry.Team.ID); c != 0 {
			return c
		}
		return cmp.Compare(a.entry.Project.ID, b.entry.Project.ID)
	})

	limit := ClampLimit(opts.Limit)
	if len(rows) > limit {
		rows = rows[:limit]
	}

	items := make([]models.LeaderboardItem, 0, len(rows))
	for i, s := range rows {
		items = append(items, models.LeaderboardItem{
			Rank:          i + 1,
			Team:          s.entry.Team,
			Project:       s.entry.Project,
			TotalVotes:    s.totalVotes,
			WinRate:       round(s.winRate(), 4),
			MatchesPlayed: s.played,
			MatchesWon:    s.won,
			Score:         round(s.rating, 1),
		})
	}
	return items
}

// updateElo returns the new ratings after the first player beats the second
func updateElo(winner, loser float64) (float64, float64) {
	expected := 1 / (1 + math.Pow(10, (loser-winner)/400))
	delta := KFactor * (1 - expected)
	return winner + delta, loser - delta
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
