// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/danielhkuo/pk-arena/auth"
	"github.com/danielhkuo/pk-arena/cliparse"
	"github.com/danielhkuo/pk-arena/middleware"
	"github.com/danielhkuo/pk-arena/models"
	"github.com/danielhkuo/pk-arena/ranking"
	"github.com/danielhkuo/pk-arena/voting"
)

type VotingHandler struct {
	db     *sql.DB
	cfg    cliparse.Config
	engine *voting.Engine
}

func NewVotingHandler(db *sql.DB, cfg cliparse.Config, engine *voting.Engine) *VotingHandler {
	return &VotingHandler{db: db, cfg: cfg, engine: engine}
}

// PKTask handles GET /voting/pk-task
func (h *VotingHandler) PKTask(w http.ResponseWriter, r *http.Request) {
	judgeID := caller(r).UserID
	preferred := r.URL.Query().Get("preferredCategory")

	task, err := h.engine.AcquireTask(r.Context(), judgeID, preferred)
	if errors.Is(err, voting.ErrNoTask) {
		middleware.JSONResponse(w, http.StatusNotFound, models.PKTaskResponse{
			Success: false,
			Error:   "No PK task available right now",
		})
		return
	}
	if err != nil {
		slog.Error("failed to acquire pk task", "error", err, "judge_id", judgeID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to acquire PK task")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, task)
}

// Submit handles POST /voting/submit
func (h *VotingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.VoteSubmissionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	judgeID := caller(r).UserID
	ipHash := auth.HashIP(middleware.GetClientIP(r), h.cfg.IPHashSalt)

	resp, err := h.engine.SubmitVote(r.Context(), judgeID, req, ipHash)

	var (
		ce *voting.ConflictError
		ie *voting.InvalidVoteError
	)
	switch {
	case errors.As(err, &ie):
		middleware.ValidationErrorResponse(w, ie.Errors)
		return
	case errors.As(err, &ce):
		middleware.JSONResponse(w, http.StatusConflict, models.VoteSubmissionResponse{
			Success:        false,
			Error:          ce.Message,
			ConflictReason: ce.Reason,
		})
		return
	case errors.Is(err, voting.ErrMatchNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Match not found")
		return
	case err != nil:
		slog.Error("failed to submit vote", "error", err, "judge_id", judgeID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit vote")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// judgeVote is a stored vote together with the state of its match
type judgeVote struct {
	record     models.VoteRecord
	outcome    ranking.MatchOutcome
	categories []string
}

func loadJudgeVotes(ctx context.Context, db *sql.DB, judgeID string) ([]judgeVote, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT v.id, v.pk_id, v.judge_id, v.winner_team_id, v.loser_team_id, tw.name, tl.name,
			v.confidence, v.reason, v.match_duration, v.voted_at, v.lock_expires_at,
			m.status, m.team_a_id, m.team_b_id, m.team_a_votes, m.team_b_votes,
			pa.category, pb.category
		FROM vote v
		JOIN team tw ON tw.id = v.winner_team_id
		JOIN team tl ON tl.id = v.loser_team_id
		JOIN pk_match m ON m.id = v.pk_id
		JOIN project pa ON pa.id = m.project_a_id
		JOIN project pb ON pb.id = m.project_b_id
		WHERE v.judge_id = $1
	`, judgeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	var votes []judgeVote
	for rows.Next() {
		var (
			v          judgeVote
			rec        = &v.record
			o          = &v.outcome
			catA, catB string
		)
		if err := rows.Scan(&rec.ID, &rec.PKID, &rec.JudgeID, &rec.WinnerTeamID, &rec.LoserTeamID,
			&rec.WinnerTeamName, &rec.LoserTeamName, &rec.Confidence, &rec.Reason, &rec.MatchDuration,
			&rec.VotedAt, &rec.LockExpiresAt,
			&o.Status, &o.TeamAID, &o.TeamBID, &o.TeamAVotes, &o.TeamBVotes,
			&catA, &catB); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		rec.IsCorrectPrediction = o.IsCorrectPrediction(rec.WinnerTeamID)
		v.categories = []string{catA, catB}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// parseDateParam accepts RFC 3339 timestamps or plain dates. A plain end
// date covers the whole day.
func parseDateParam(value string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// Records handles GET /voting/records
func (h *VotingHandler) Records(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	q := r.URL.Query()

	var (
		start, end time.Time
		err        error
	)
	if s := q.Get("startDate"); s != "" {
		if start, err = parseDateParam(s, false); err != nil {
			middleware.ValidationErrorResponse(w, []models.ValidationError{{Field: "startDate", Message: "must be a date or RFC 3339 timestamp", Value: s}})
			return
		}
	}
	if s := q.Get("endDate"); s != "" {
		if end, err = parseDateParam(s, true); err != nil {
			middleware.ValidationErrorResponse(w, []models.ValidationError{{Field: "endDate", Message: "must be a date or RFC 3339 timestamp", Value: s}})
			return
		}
	}
	confidence := q.Get("confidence")
	if confidence != "" && !validOneOf(confidence, models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow) {
		middleware.ValidationErrorResponse(w, []models.ValidationError{{Field: "confidence", Message: "must be high, medium or low", Value: confidence}})
		return
	}

	votes, err := loadJudgeVotes(r.Context(), h.db, caller(r).UserID)
	if err != nil {
		slog.Error("failed to load vote records", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	records := []models.VoteRecord{}
	for _, v := range votes {
		rec := v.record
		if !start.IsZero() && rec.VotedAt.Before(start) {
			continue
		}
		if !end.IsZero() && rec.VotedAt.After(end) {
			continue
		}
		if confidence != "" && rec.Confidence != confidence {
			continue
		}
		records = append(records, rec)
	}
	sortRecordsNewestFirst(records)

	paginatedResponse(w, "Vote records fetched", paginate(records, page, limit), len(records), page, limit)
}

func sortRecordsNewestFirst(records []models.VoteRecord) {
	slices.SortFunc(records, func(a, b models.VoteRecord) int {
		if c := b.VotedAt.Compare(a.VotedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// Stats handles GET /voting/stats
func (h *VotingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	judgeID := caller(r).UserID

	votes, err := loadJudgeVotes(r.Context(), h.db, judgeID)
	if err != nil {
		slog.Error("failed to load judge votes", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	voted := make(map[string]bool, len(votes))
	judgeVotes := make([]ranking.JudgeVote, 0, len(votes))
	for _, v := range votes {
		voted[v.record.PKID] = true
		judgeVotes = append(judgeVotes, ranking.JudgeVote{
			WinnerTeamID:  v.record.WinnerTeamID,
			MatchDuration: v.record.MatchDuration,
			VotedAt:       v.record.VotedAt,
			Categories:    v.categories,
			Outcome:       v.outcome,
		})
	}

	pending, err := countVotable(r.Context(), h.db, voted, utcNow())
	if err != nil {
		slog.Error("failed to count pending matches", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.Success(w, http.StatusOK, "Voting stats fetched", ranking.UserStats(judgeVotes, pending))
}

// countVotable counts open matches that still accept votes and that the
// judge has not voted on
func countVotable(ctx context.Context, db *sql.DB, voted map[string]bool, now time.Time) (int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, start_time, end_time, total_votes, judge_limit
		FROM pk_match WHERE status IN ($1, $2)
	`, models.MatchPending, models.MatchActive)
	if err != nil {
		return 0, fmt.Errorf("failed to query open matches: %w", err)
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		var (
			id         string
			start      time.Time
			end        sql.NullTime
			total      int
			judgeLimit int
		)
		if err := rows.Scan(&id, &start, &end, &total, &judgeLimit); err != nil {
			return 0, fmt.Errorf("failed to scan open match: %w", err)
		}
		if voted[id] || start.After(now) || (end.Valid && !end.Time.After(now)) || total >= judgeLimit {
			continue
		}
		n++
	}
	return n, rows.Err()
}

// Leaderboard handles GET /voting/leaderboard
func (h *VotingHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	category := r.URL.Query().Get("category")

	items, err := buildLeaderboard(r.Context(), h.db, ranking.Options{Category: category, Limit: limit})
	if err != nil {
		slog.Error("failed to build leaderboard", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.Success(w, http.StatusOK, "Leaderboard fetched", items)
}

// buildLeaderboard ranks every published project and every project that
// has played a match
func buildLeaderboard(ctx context.Context, db *sql.DB, opts ranking.Options) ([]models.LeaderboardItem, error) {
	teams := make(map[string]models.Team)
	rows, err := db.QueryContext(ctx, `SELECT `+teamColumns+` FROM team`)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", err)
	}
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		t.InviteCode = ""
		t.Members = []models.TeamMember{}
		teams[t.ID] = t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var matches []ranking.Match
	inMatch := make(map[string]bool)
	rows, err = db.QueryContext(ctx, `
		SELECT project_a_id, project_b_id, status, team_a_id, team_b_id, team_a_votes, team_b_votes
		FROM pk_match
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	for rows.Next() {
		var m ranking.Match
		o := &m.Outcome
		if err := rows.Scan(&m.ProjectAID, &m.ProjectBID, &o.Status, &o.TeamAID, &o.TeamBID,
			&o.TeamAVotes, &o.TeamBVotes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		inMatch[m.ProjectAID] = true
		inMatch[m.ProjectBID] = true
		matches = append(matches, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var entries []ranking.Entry
	rows, err = db.QueryContext(ctx, `SELECT `+projectColumns+` FROM project`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		if !p.IsPublished && !inMatch[p.ID] {
			continue
		}
		entries = append(entries, ranking.Entry{Team: teams[p.TeamID], Project: p})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var votes []ranking.Vote
	rows, err = db.QueryContext(ctx, `
		SELECT id, winner_project_id, loser_project_id, voted_at FROM vote ORDER BY voted_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v ranking.Vote
		if err := rows.Scan(&v.ID, &v.WinnerProjectID, &v.LoserProjectID, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ranking.Leaderboard(entries, votes, matches, opts), nil
}

// SystemStats handles GET /voting/system-stats
func (h *VotingHandler) SystemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := loadSystemStats(r.Context(), h.db, h.cfg.ActiveJudgeWindow, utcNow())
	if err != nil {
		slog.Error("failed to load system stats", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.Success(w, http.StatusOK, "System stats fetched", stats)
}
