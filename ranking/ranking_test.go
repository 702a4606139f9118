// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ranking

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/danielhkuo/pk-arena/models"
)

func entry(teamID, projectID, category string) Entry {
	return Entry{
		Team:    models.Team{ID: teamID, Name: "Team " + teamID},
		Project: models.Project{ID: projectID, TeamID: teamID, Category: category},
	}
}

func TestMatchOutcome(t *testing.T) {
	Convey("Given a match tally", t, func() {
		o := MatchOutcome{Status: models.MatchCompleted, TeamAID: "a", TeamBID: "b", TeamAVotes: 3, TeamBVotes: 2}

		Convey("The side with more votes wins a completed match", func() {
			winner, ok := o.Winner()
			So(ok, ShouldBeTrue)
			So(winner, ShouldEqual, "a")
			So(*o.IsCorrectPrediction("a"), ShouldBeTrue)
			So(*o.IsCorrectPrediction("b"), ShouldBeFalse)
		})

		Convey("An equal tally is a draw with no prediction result", func() {
			o.TeamBVotes = 3
			_, ok := o.Winner()
			So(ok, ShouldBeFalse)
			So(o.IsCorrectPrediction("a"), ShouldBeNil)
		})

		Convey("An open match is undecided", func() {
			o.Status = models.MatchActive
			_, ok := o.Winner()
			So(ok, ShouldBeFalse)
			So(o.IsCorrectPrediction("a"), ShouldBeNil)
		})
	})
}

func TestLeaderboard(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	Convey("Given three projects", t, func() {
		entries := []Entry{
			entry("t1", "p1", "AI"),
			entry("t2", "p2", "AI"),
			entry("t3", "p3", "Web"),
		}

		Convey("With no votes everyone starts at the initial rating", func() {
			items := Leaderboard(entries, nil, nil, Options{})
			So(items, ShouldHaveLength, 3)
			for _, it := range items {
				So(it.Score, ShouldEqual, InitialRating)
				So(it.WinRate, ShouldEqual, 0)
			}

			Convey("Ties fall back to team ID order", func() {
				So(items[0].Team.ID, ShouldEqual, "t1")
				So(items[1].Team.ID, ShouldEqual, "t2")
				So(items[2].Team.ID, ShouldEqual, "t3")
				So(items[0].Rank, ShouldEqual, 1)
				So(items[2].Rank, ShouldEqual, 3)
			})
		})

		Convey("Votes move Elo ratings in time order", func() {
			votes := []Vote{
				{WinnerProjectID: "p2", LoserProjectID: "p1", VotedAt: base.Add(time.Minute)},
				{WinnerProjectID: "p2", LoserProjectID: "p1", VotedAt: base},
			}
			matches := []Match{{
				ProjectAID: "p1", ProjectBID: "p2",
				Outcome: MatchOutcome{Status: models.MatchCompleted, TeamAID: "t1", TeamBID: "t2", TeamBVotes: 2, TeamAVotes: 0},
			}}

			items := Leaderboard(entries, votes, matches, Options{})

			So(items[0].Project.ID, ShouldEqual, "p2")
			So(items[0].Score, ShouldEqual, 1030.5)
			So(items[0].TotalVotes, ShouldEqual, 2)
			So(items[0].MatchesPlayed, ShouldEqual, 1)
			So(items[0].MatchesWon, ShouldEqual, 1)
			So(items[0].WinRate, ShouldEqual, 1)

			So(items[1].Project.ID, ShouldEqual, "p3")
			So(items[1].Score, ShouldEqual, 1000)

			So(items[2].Project.ID, ShouldEqual, "p1")
			So(items[2].Score, ShouldEqual, 969.5)
			So(items[2].MatchesPlayed, ShouldEqual, 1)
			So(items[2].MatchesWon, ShouldEqual, 0)
		})

		Convey("Votes cast in the same instant replay in ID order", func() {
			first := Vote{ID: "v1", WinnerProjectID: "p1", LoserProjectID: "p2", VotedAt: base}
			second := Vote{ID: "v2", WinnerProjectID: "p2", LoserProjectID: "p1", VotedAt: base}

			forward := Leaderboard(entries, []Vote{first, second}, nil, Options{})
			reversed := Leaderboard(entries, []Vote{second, first}, nil, Options{})

			So(reversed, ShouldResemble, forward)
			So(forward[0].Project.ID, ShouldEqual, "p2")
			So(forward[0].Score, ShouldEqual, 1001.5)
			So(forward[2].Project.ID, ShouldEqual, "p1")
			So(forward[2].Score, ShouldEqual, 998.5)
		})

		Convey("A drawn match counts as played but not won", func() {
			matches := []Match{{
				ProjectAID: "p1", ProjectBID: "p2",
				Outcome: MatchOutcome{Status: models.MatchCompleted, TeamAID: "t1", TeamBID: "t2", TeamAVotes: 1, TeamBVotes: 1},
			}}
			items := Leaderboard(entries, nil, matches, Options{})
			for _, it := range items[:2] {
				So(it.MatchesPlayed, ShouldEqual, 1)
				So(it.MatchesWon, ShouldEqual, 0)
			}
		})

		Convey("Cancelled or open matches are not counted", func() {
			matches := []Match{{
				ProjectAID: "p1", ProjectBID: "p2",
				Outcome: MatchOutcome{Status: models.MatchCancelled, TeamAID: "t1", TeamBID: "t2", TeamAVotes: 2},
			}}
			items := Leaderboard(entries, nil, matches, Options{})
			So(items[0].MatchesPlayed, ShouldEqual, 0)
		})

		Convey("Category filter and limit apply after scoring", func() {
			votes := []Vote{{WinnerProjectID: "p3", LoserProjectID: "p1", VotedAt: base}}
			items := Leaderboard(entries, votes, nil, Options{Category: "ai", Limit: 1})
			So(items, ShouldHaveLength, 1)
			So(items[0].Project.ID, ShouldEqual, "p2")
			So(items[0].Rank, ShouldEqual, 1)
		})

		Convey("Votes for unknown projects are ignored", func() {
			votes := []Vote{{WinnerProjectID: "gone", LoserProjectID: "p1", VotedAt: base}}
			items := Leaderboard(entries, votes, nil, Options{})
			So(items[0].Score, ShouldEqual, InitialRating)
		})
	})
}

func TestClampLimit(t *testing.T) {
	Convey("Leaderboard limits are clamped", t, func() {
		So(ClampLimit(0), ShouldEqual, DefaultLimit)
		So(ClampLimit(-5), ShouldEqual, DefaultLimit)
		So(ClampLimit(50), ShouldEqual, 50)
		So(ClampLimit(1000), ShouldEqual, MaxLimit)
	})
}

func TestUserStats(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	decided := func(winner string) MatchOutcome {
		o := MatchOutcome{Status: models.MatchCompleted, TeamAID: "a", TeamBID: "b"}
		if winner == "a" {
			o.TeamAVotes = 2
		} else {
			o.TeamBVotes = 2
		}
		return o
	}

	Convey("Given a judge's votes", t, func() {
		votes := []JudgeVote{
			{WinnerTeamID: "a", MatchDuration: 30, VotedAt: base, Categories: []string{"AI", "Web"}, Outcome: decided("a")},
			{WinnerTeamID: "a", MatchDuration: 60, VotedAt: base.Add(1 * time.Minute), Categories: []string{"AI", "AI"}, Outcome: decided("a")},
			{WinnerTeamID: "b", MatchDuration: 45, VotedAt: base.Add(2 * time.Minute), Categories: []string{"Web"}, Outcome: decided("a")},
			{WinnerTeamID: "a", MatchDuration: 20, VotedAt: base.Add(3 * time.Minute), Categories: []string{"Games"},
				Outcome: MatchOutcome{Status: models.MatchActive, TeamAID: "a", TeamBID: "b", TeamAVotes: 1}},
			{WinnerTeamID: "b", MatchDuration: 25, VotedAt: base.Add(4 * time.Minute), Categories: []string{"Web"}, Outcome: decided("b")},
		}

		stats := UserStats(votes, 4)

		Convey("Totals and averages are computed", func() {
			So(stats.TotalVotes, ShouldEqual, 5)
			So(stats.AverageVoteTime, ShouldEqual, 36)
			So(stats.CompletedMatches, ShouldEqual, 4)
			So(stats.PendingMatches, ShouldEqual, 4)
		})

		Convey("Streaks skip undecided matches and reset on a wrong call", func() {
			So(stats.CorrectPredictions, ShouldEqual, 3)
			So(stats.LongestStreak, ShouldEqual, 2)
			So(stats.CurrentStreak, ShouldEqual, 1)
		})

		Convey("Favorite category counts each match once", func() {
			So(stats.FavoriteCategory, ShouldEqual, "Web")
		})
	})

	Convey("Given no votes", t, func() {
		stats := UserStats(nil, 0)
		So(stats.TotalVotes, ShouldEqual, 0)
		So(stats.AverageVoteTime, ShouldEqual, 0)
		So(stats.FavoriteCategory, ShouldEqual, "")
	})
}

func TestSystemStats(t *testing.T) {
	Convey("System stats derive rates from raw counts", t, func() {
		stats := SystemStats(SystemCounts{
			TotalJudges:         10,
			ActiveJudges:        4,
			TotalVotes:          3,
			TotalVoteSeconds:    100,
			CompletedMatches:    1,
			NonCancelledMatches: 3,
		})
		So(stats.TotalJudges, ShouldEqual, 10)
		So(stats.ActiveJudges, ShouldEqual, 4)
		So(stats.AverageVoteTime, ShouldEqual, 33.3)
		So(stats.CompletionRate, ShouldEqual, 33.33)
	})

	Convey("Empty systems report zero rates", t, func() {
		stats := SystemStats(SystemCounts{})
		So(stats.AverageVoteTime, ShouldEqual, 0)
		So(stats.CompletionRate, ShouldEqual, 0)
	})
}
