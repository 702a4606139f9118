// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/danielhkuo/pk-arena/cliparse"
	"github.com/danielhkuo/pk-arena/middleware"
	"github.com/danielhkuo/pk-arena/models"
	"github.com/danielhkuo/pk-arena/voting"
)

type MatchHandler struct {
	db     *sql.DB
	cfg    cliparse.Config
	engine *voting.Engine
}

func NewMatchHandler(db *sql.DB, cfg cliparse.Config, engine *voting.Engine) *MatchHandler {
	return &MatchHandler{db: db, cfg: cfg, engine: engine}
}

type matchSpec struct {
	competitionID string
	round         int
	projectAID    string
	projectBID    string
	teamAID       string
	teamBID       string
	judgeLimit    int
	startTime     time.Time
	endTime       *time.Time
}

func insertMatch(ctx context.Context, tx *sql.Tx, m matchSpec, now time.Time) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pk_match (id, competition_id, round, project_a_id, project_b_id, team_a_id, team_b_id,
			status, start_time, end_time, judge_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, id, m.competitionID, m.round, m.projectAID, m.projectBID, m.teamAID, m.teamBID,
		models.MatchPending, m.startTime, m.endTime, m.judgeLimit, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert match: %w", err)
	}
	return id, nil
}

// timing validates the judge limit and time window shared by both create paths
func (h *MatchHandler) timing(judgeLimit int, start, end *time.Time, now time.Time) (int, time.Time, *time.Time, []models.ValidationError) {
	var errs []models.ValidationError
	if judgeLimit == 0 {
		judgeLimit = h.cfg.DefaultJudgeLimit
	}
	if judgeLimit < 1 {
		errs = append(errs, models.ValidationError{Field: "judgeLimit", Message: "must be at least 1", Value: judgeLimit})
	}
	startTime := now
	if start != nil {
		startTime = start.UTC()
	}
	endTime := utcPtr(end)
	if endTime != nil && !endTime.After(startTime) {
		errs = append(errs, models.ValidationError{Field: "endTime", Message: "must be after startTime"})
	}
	return judgeLimit, startTime, endTime, errs
}

// Create handles POST /matches
func (h *MatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateMatchRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	now := utcNow()
	judgeLimit, startTime, endTime, errs := h.timing(req.JudgeLimit, req.StartTime, req.EndTime, now)
	if req.CompetitionID == "" {
		errs = append(errs, models.ValidationError{Field: "competitionId", Message: "is required"})
	}
	if req.Round < 1 {
		errs = append(errs, models.ValidationError{Field: "round", Message: "must be at least 1", Value: req.Round})
	}
	if req.ProjectAID == "" || req.ProjectBID == "" {
		errs = append(errs, models.ValidationError{Field: "projectAId", Message: "both projects are required"})
	} else if req.ProjectAID == req.ProjectBID {
		errs = append(errs, models.ValidationError{Field: "projectBId", Message: "must differ from projectAId"})
	}
	if len(errs) > 0 {
		middleware.ValidationErrorResponse(w, errs)
		return
	}

	if _, err := loadCompetition(r.Context(), h.db, req.CompetitionID); errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Competition not found")
		return
	} else if err != nil {
		slog.Error("failed to load competition", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	var projects [2]models.Project
	for i, id := range []string{req.ProjectAID, req.ProjectBID} {
		p, err := loadProject(r.Context(), h.db, id)
		if errors.Is(err, errNotFound) {
			middleware.ErrorResponse(w, http.StatusNotFound, "Project not found: "+id)
			return
		}
		if err != nil {
			slog.Error("failed to load project", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		projects[i] = p
	}

	errs = nil
	for i, p := range projects {
		if !p.IsPublished {
			errs = append(errs, models.ValidationError{Field: []string{"projectAId", "projectBId"}[i], Message: "project is not published", Value: p.ID})
		}
	}
	if projects[0].TeamID == projects[1].TeamID {
		errs = append(errs, models.ValidationError{Field: "projectBId", Message: "projects must belong to different teams"})
	}
	if len(errs) > 0 {
		middleware.ValidationErrorResponse(w, errs)
		return
	}

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	matchID, err := insertMatch(r.Context(), tx, matchSpec{
		competitionID: req.CompetitionID,
		round:         req.Round,
		projectAID:    projects[0].ID,
		projectBID:    projects[1].ID,
		teamAID:       projects[0].TeamID,
		teamBID:       projects[1].TeamID,
		judgeLimit:    judgeLimit,
		startTime:     startTime,
		endTime:       endTime,
	}, now)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		slog.Error("failed to create match", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create match")
		return
	}

	match, err := voting.LoadMatch(r.Context(), h.db, matchID)
	if err != nil {
		slog.Error("failed to load match", "error", err, "pk_id", matchID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	slog.Info("pk match created", "pk_id", matchID, "competition_id", req.CompetitionID, "round", req.Round)

	middleware.Success(w, http.StatusCreated, "Match created", match)
}

// GenerateRound handles POST /competitions/{id}/rounds/{round}/generate.
// Each team enters its most recently published project; teams are shuffled
// and paired, and an odd team out sits the round out.
func (h *MatchHandler) GenerateRound(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.Atoi(r.PathValue("round"))
	if err != nil || round < 1 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "round must be a positive integer")
		return
	}

	var req models.GenerateRoundRequest
	if r.ContentLength != 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	now := utcNow()
	judgeLimit, startTime, endTime, errs := h.timing(req.JudgeLimit, req.StartTime, req.EndTime, now)
	if len(errs) > 0 {
		middleware.ValidationErrorResponse(w, errs)
		return
	}

	competition, err := loadCompetition(r.Context(), h.db, r.PathValue("id"))
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Competition not found")
		return
	}
	if err != nil {
		slog.Error("failed to load competition", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	entrants, err := h.roundEntrants(r.Context())
	if err != nil {
		slog.Error("failed to load round entrants", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if len(entrants) < 2 {
		middleware.ErrorResponse(w, http.StatusConflict, "At least two teams need a published project")
		return
	}

	rand.Shuffle(len(entrants), func(i, j int) {
		entrants[i], entrants[j] = entrants[j], entrants[i]
	})

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	err = claimRound(r.Context(), tx, competition.ID, round, now)
	if errors.Is(err, errRoundTaken) {
		middleware.ErrorResponse(w, http.StatusConflict, "Round already has matches")
		return
	}
	if err != nil {
		slog.Error("failed to check round matches", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	for i := 0; i+1 < len(entrants); i += 2 {
		a, b := entrants[i], entrants[i+1]
		if _, err := insertMatch(r.Context(), tx, matchSpec{
			competitionID: competition.ID,
			round:         round,
			projectAID:    a.ID,
			projectBID:    b.ID,
			teamAID:       a.TeamID,
			teamBID:       b.TeamID,
			judgeLimit:    judgeLimit,
			startTime:     startTime,
			endTime:       endTime,
		}, now); err != nil {
			slog.Error("failed to create round match", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to generate round")
			return
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit round", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to generate round")
		return
	}

	matches, err := voting.ListMatches(r.Context(), h.db, competition.ID, round)
	if err != nil {
		slog.Error("failed to list round matches", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	created := matches[:0]
	for _, m := range matches {
		if m.Status != models.MatchCancelled {
			created = append(created, m)
		}
	}

	slog.Info("round generated", "competition_id", competition.ID, "round", round,
		"matches", len(created), "bye", len(entrants)%2 == 1)

	middleware.Success(w, http.StatusCreated, "Round generated", created)
}

// errRoundTaken marks a round that already has live matches
var errRoundTaken = errors.New("round already has matches")

// claimRound fails with errRoundTaken if the round has any match that is not
// cancelled. Touching the competition row first serializes concurrent
// generators of the same competition until tx ends.
func claimRound(ctx context.Context, tx *sql.Tx, competitionID string, round int, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE competition SET updated_at = $1 WHERE id = $2
	`, now, competitionID); err != nil {
		return fmt.Errorf("failed to lock competition: %w", err)
	}

	var live int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pk_match WHERE competition_id = $1 AND round = $2 AND status <> $3
	`, competitionID, round, models.MatchCancelled).Scan(&live); err != nil {
		return fmt.Errorf("failed to count round matches: %w", err)
	}
	if live > 0 {
		return errRoundTaken
	}
	return nil
}

// roundEntrants returns one published project per team
func (h *MatchHandler) roundEntrants(ctx context.Context) ([]models.Project, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM project WHERE is_published = $1
	`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query published projects: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]models.Project)
	var order []string
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		cur, ok := latest[p.TeamID]
		if !ok {
			order = append(order, p.TeamID)
		}
		if !ok || publishedAfter(p, cur) {
			latest[p.TeamID] = p
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entrants := make([]models.Project, 0, len(order))
	for _, teamID := range order {
		entrants = append(entrants, latest[teamID])
	}
	return entrants, nil
}

func publishedAfter(a, b models.Project) bool {
	at, bt := a.UpdatedAt, b.UpdatedAt
	if a.PublishedAt != nil {
		at = *a.PublishedAt
	}
	if b.PublishedAt != nil {
		bt = *b.PublishedAt
	}
	if at.Equal(bt) {
		return a.ID > b.ID
	}
	return at.After(bt)
}

// Get handles GET /matches/{id}
func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	match, err := voting.LoadMatch(r.Context(), h.db, r.PathValue("id"))
	if errors.Is(err, voting.ErrMatchNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Match not found")
		return
	}
	if err != nil {
		slog.Error("failed to load match", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.Success(w, http.StatusOK, "Match fetched", match)
}

// Cancel handles POST /matches/{id}/cancel
func (h *MatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	match, err := h.engine.CancelMatch(r.Context(), r.PathValue("id"))

	var ce *voting.ConflictError
	switch {
	case errors.Is(err, voting.ErrMatchNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Match not found")
		return
	case errors.As(err, &ce):
		middleware.ErrorResponse(w, http.StatusConflict, "Completed matches cannot be cancelled")
		return
	case err != nil:
		slog.Error("failed to cancel match", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to cancel match")
		return
	}

	middleware.Success(w, http.StatusOK, "Match cancelled", match)
}
