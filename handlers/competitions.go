// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/danielhkuo/pk-arena/cliparse"
	"github.com/danielhkuo/pk-arena/middleware"
	"github.com/danielhkuo/pk-arena/models"
	"github.com/danielhkuo/pk-arena/ranking"
)

// currentCompetitionID is accepted wherever a competition ID is expected
const currentCompetitionID = "current"

type CompetitionHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewCompetitionHandler(db *sql.DB, cfg cliparse.Config) *CompetitionHandler {
	return &CompetitionHandler{db: db, cfg: cfg}
}

const competitionColumns = `id, name, description, current_stage, total_rounds, max_teams, start_time, end_time,
	estimated_end_time, registration_deadline, prize_pool, rules, created_at, updated_at`

func scanCompetition(row interface{ Scan(...any) error }) (models.Competition, error) {
	var (
		c            models.Competition
		estimatedEnd sql.NullTime
		deadline     sql.NullTime
		prizePool    sql.NullFloat64
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CurrentStage, &c.TotalRounds, &c.MaxTeams,
		&c.StartTime, &c.EndTime, &estimatedEnd, &deadline, &prizePool, &c.Rules, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Competition{}, err
	}
	c.EstimatedEndTime = timePtr(estimatedEnd)
	c.RegistrationDeadline = timePtr(deadline)
	if prizePool.Valid {
		v := prizePool.Float64
		c.PrizePool = &v
	}
	return c, nil
}

func loadCompetition(ctx context.Context, db *sql.DB, id string) (models.Competition, error) {
	if id == currentCompetitionID {
		return currentCompetition(ctx, db, utcNow())
	}
	c, err := scanCompetition(db.QueryRowContext(ctx, `SELECT `+competitionColumns+` FROM competition WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Competition{}, errNotFound
	}
	if err != nil {
		return models.Competition{}, fmt.Errorf("failed to query competition: %w", err)
	}
	return c, nil
}

// currentCompetition picks the most recently started competition that is
// still running, falling back to the latest one overall
func currentCompetition(ctx context.Context, db *sql.DB, now time.Time) (models.Competition, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+competitionColumns+` FROM competition`)
	if err != nil {
		return models.Competition{}, fmt.Errorf("failed to query competitions: %w", err)
	}
	defer rows.Close()

	var running, latest *models.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return models.Competition{}, fmt.Errorf("failed to scan competition: %w", err)
		}
		if latest == nil || c.StartTime.After(latest.StartTime) {
			latest = &c
		}
		if c.CurrentStage != models.StageCompleted && !c.StartTime.After(now) &&
			(running == nil || c.StartTime.After(running.StartTime)) {
			running = &c
		}
	}
	if err := rows.Err(); err != nil {
		return models.Competition{}, err
	}

	switch {
	case running != nil:
		return *running, nil
	case latest != nil:
		return *latest, nil
	default:
		return models.Competition{}, errNotFound
	}
}

// withCounters fills in the live match and team counters
func withCounters(ctx context.Context, db *sql.DB, c models.Competition) (models.Competition, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT round, status FROM pk_match WHERE competition_id = $1
	`, c.ID)
	if err != nil {
		return c, fmt.Errorf("failed to query competition matches: %w", err)
	}
	defer rows.Close()

	c.TotalMatches, c.ActiveMatches, c.CompletedRounds = 0, 0, 0
	openRounds := make(map[int]bool)
	for rows.Next() {
		var (
			round  int
			status string
		)
		if err := rows.Scan(&round, &status); err != nil {
			return c, fmt.Errorf("failed to scan match: %w", err)
		}
		if status == models.MatchCancelled {
			continue
		}
		c.TotalMatches++
		if _, seen := openRounds[round]; !seen {
			openRounds[round] = false
		}
		if status == models.MatchPending || status == models.MatchActive {
			c.ActiveMatches++
			openRounds[round] = true
		}
	}
	if err := rows.Err(); err != nil {
		return c, err
	}
	for _, open := range openRounds {
		if !open {
			c.CompletedRounds++
		}
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM team`).Scan(&c.RegisteredTeams); err != nil {
		return c, fmt.Errorf("failed to count teams: %w", err)
	}
	return c, nil
}

// loadSystemStats gathers the system-wide voting counters. A judge is
// active with a vote or lock issued inside the window.
func loadSystemStats(ctx context.Context, db *sql.DB, window time.Duration, now time.Time) (models.VotingStats, error) {
	var c ranking.SystemCounts

	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM app_user WHERE role = $1
	`, models.RoleJudge).Scan(&c.TotalJudges); err != nil {
		return models.VotingStats{}, fmt.Errorf("failed to count judges: %w", err)
	}

	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(match_duration), 0) FROM vote
	`).Scan(&c.TotalVotes, &c.TotalVoteSeconds); err != nil {
		return models.VotingStats{}, fmt.Errorf("failed to count votes: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM pk_match GROUP BY status`)
	if err != nil {
		return models.VotingStats{}, fmt.Errorf("failed to count matches: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return models.VotingStats{}, fmt.Errorf("failed to scan match count: %w", err)
		}
		if status == models.MatchCompleted {
			c.CompletedMatches += n
		}
		if status != models.MatchCancelled {
			c.NonCancelledMatches += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.VotingStats{}, err
	}

	// Admins may judge too, but only judge accounts count toward activeJudges
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM app_user u
		WHERE u.role = $1
		AND (EXISTS (SELECT 1 FROM vote v WHERE v.judge_id = u.id AND v.voted_at >= $2)
			OR EXISTS (SELECT 1 FROM pk_lock l WHERE l.judge_id = u.id AND l.issued_at >= $2))
	`, models.RoleJudge, now.Add(-window)).Scan(&c.ActiveJudges); err != nil {
		return models.VotingStats{}, fmt.Errorf("failed to count active judges: %w", err)
	}

	return ranking.SystemStats(c), nil
}

// Create handles POST /competitions
func (h *CompetitionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCompetitionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var errs []models.ValidationError
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxTitleLength {
		errs = append(errs, models.ValidationError{Field: "name", Message: fmt.Sprintf("must be 1-%d characters", maxTitleLength)})
	}
	if req.TotalRounds == 0 {
		req.TotalRounds = 1
	}
	if req.TotalRounds < 1 {
		errs = append(errs, models.ValidationError{Field: "totalRounds", Message: "must be at least 1", Value: req.TotalRounds})
	}
	if req.MaxTeams < 0 {
		errs = append(errs, models.ValidationError{Field: "maxTeams", Message: "must not be negative", Value: req.MaxTeams})
	}
	if req.StartTime.IsZero() {
		errs = append(errs, models.ValidationError{Field: "startTime", Message: "is required"})
	}
	if !req.EndTime.After(req.StartTime) {
		errs = append(errs, models.ValidationError{Field: "endTime", Message: "must be after startTime"})
	}
	if req.PrizePool != nil && *req.PrizePool < 0 {
		errs = append(errs, models.ValidationError{Field: "prizePool", Message: "must not be negative", Value: *req.PrizePool})
	}
	if len(errs) > 0 {
		middleware.ValidationErrorResponse(w, errs)
		return
	}

	id, err := newID()
	if err != nil {
		slog.Error("failed to generate competition ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create competition")
		return
	}

	now := utcNow()
	c := models.Competition{
		ID:                   id,
		Name:                 name,
		Description:          strings.TrimSpace(req.Description),
		CurrentStage:         models.StageRegistration,
		TotalRounds:          req.TotalRounds,
		MaxTeams:             req.MaxTeams,
		StartTime:            req.StartTime.UTC(),
		EndTime:              req.EndTime.UTC(),
		EstimatedEndTime:     utcPtr(req.EstimatedEndTime),
		RegistrationDeadline: utcPtr(req.RegistrationDeadline),
		PrizePool:            req.PrizePool,
		Rules:                req.Rules,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO competition (id, name, description, current_stage, total_rounds, max_teams, start_time,
			end_time, estimated_end_time, registration_deadline, prize_pool, rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, c.ID, c.Name, c.Description, c.CurrentStage, c.TotalRounds, c.MaxTeams, c.StartTime, c.EndTime,
		c.EstimatedEndTime, c.RegistrationDeadline, c.PrizePool, c.Rules, now)
	if err != nil {
		slog.Error("failed to insert competition", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create competition")
		return
	}

	slog.Info("competition created", "competition_id", c.ID, "name", c.Name)

	middleware.Success(w, http.StatusCreated, "Competition created", c)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// UpdateStage handles PUT /competitions/{id}/stage
func (h *CompetitionHandler) UpdateStage(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStageRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !validOneOf(req.Stage, models.StageRegistration, models.StageGroupStage, models.StageKnockout,
		models.StageSemiFinal, models.StageFinal, models.StageCompleted) {
		middleware.ValidationErrorResponse(w, []models.ValidationError{
			{Field: "stage", Message: "unknown competition stage", Value: req.Stage},
		})
		return
	}

	c, err := loadCompetition(r.Context(), h.db, r.PathValue("id"))
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Competition not found")
		return
	}
	if err != nil {
		slog.Error("failed to load competition", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	c.CurrentStage = req.Stage
	c.UpdatedAt = utcNow()
	if _, err := h.db.ExecContext(r.Context(), `
		UPDATE competition SET current_stage = $1, updated_at = $2 WHERE id = $3
	`, c.CurrentStage, c.UpdatedAt, c.ID); err != nil {
		slog.Error("failed to update stage", "error", err, "competition_id", c.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update stage")
		return
	}

	slog.Info("competition stage changed", "competition_id", c.ID, "stage", c.CurrentStage)

	middleware.Success(w, http.StatusOK, "Stage updated", c)
}

// Current handles GET /competitions/current
func (h *CompetitionHandler) Current(w http.ResponseWriter, r *http.Request) {
	c, err := currentCompetition(r.Context(), h.db, utcNow())
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "No competition found")
		return
	}
	if err == nil {
		c, err = withCounters(r.Context(), h.db, c)
	}
	if err != nil {
		slog.Error("failed to load current competition", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.Success(w, http.StatusOK, "Competition fetched", c)
}

// Progress handles GET /competitions/{id}/progress
func (h *CompetitionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	c, err := loadCompetition(r.Context(), h.db, r.PathValue("id"))
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Competition not found")
		return
	}
	if err == nil {
		c, err = withCounters(r.Context(), h.db, c)
	}
	if err != nil {
		slog.Error("failed to load competition", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	stats, err := loadSystemStats(r.Context(), h.db, h.cfg.ActiveJudgeWindow, utcNow())
	if err != nil {
		slog.Error("failed to load voting stats", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.Success(w, http.StatusOK, "Competition progress fetched", models.CompetitionProgress{
		Competition: c,
		VotingStats: stats,
	})
}
