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
	"unicode/utf8"

	"github.com/danielhkuo/pk-arena/auth"
	"github.com/danielhkuo/pk-arena/cliparse"
	"github.com/danielhkuo/pk-arena/middleware"
	"github.com/danielhkuo/pk-arena/models"
)

// Team list status filters
const (
	teamStatusOpen = "open"
	teamStatusFull = "full"
)

const maxTeamMembers = 20

var errTeamFull = errors.New("team is full")

type TeamHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewTeamHandler(db *sql.DB, cfg cliparse.Config) *TeamHandler {
	return &TeamHandler{db: db, cfg: cfg}
}

func scanTeam(row interface{ Scan(...any) error }) (models.Team, error) {
	var t models.Team
	err := row.Scan(&t.ID, &t.Name, &t.Logo, &t.Description, &t.IsPublic, &t.MaxMembers,
		&t.InviteCode, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

const teamColumns = `id, name, logo, description, is_public, max_members, invite_code, created_at, updated_at`

func loadTeamMembers(ctx context.Context, db *sql.DB, teamID string) ([]models.TeamMember, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tm.id, tm.user_id, u.name, u.email, u.avatar, tm.role, tm.joined_at, tm.skills
		FROM team_member tm
		JOIN app_user u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.joined_at, tm.id
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query team members: %w", err)
	}
	defer rows.Close()

	members := []models.TeamMember{}
	for rows.Next() {
		var (
			m      models.TeamMember
			skills string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Name, &m.Email, &m.Avatar, &m.Role, &m.JoinedAt, &skills); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		m.Skills = models.DecodeList(skills)
		members = append(members, m)
	}
	return members, rows.Err()
}

// loadTeam returns a team with its members. The invite code is blanked
// unless showInvite is set.
func loadTeam(ctx context.Context, db *sql.DB, id string, showInvite bool) (models.Team, error) {
	t, err := scanTeam(db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM team WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Team{}, errNotFound
	}
	if err != nil {
		return models.Team{}, fmt.Errorf("failed to query team: %w", err)
	}
	t.Members, err = loadTeamMembers(ctx, db, id)
	if err != nil {
		return models.Team{}, err
	}
	if !showInvite {
		t.InviteCode = ""
	}
	return t, nil
}

// addMember inserts a membership if the team has room
func addMember(ctx context.Context, tx *sql.Tx, teamID, userID, role string, maxMembers int) error {
	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM team_member WHERE team_id = $1
	`, teamID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count members: %w", err)
	}
	if count >= maxMembers {
		return errTeamFull
	}

	memberID, err := newID()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO team_member (id, team_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`, memberID, teamID, userID, role, utcNow())
	return err
}

// List handles GET /teams
func (h *TeamHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	search := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("search")))
	status := r.URL.Query().Get("status")
	if status != "" && !validOneOf(status, teamStatusOpen, teamStatusFull) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "status must be open or full")
		return
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT t.id, t.name, t.logo, t.description, t.is_public, t.max_members, t.invite_code,
			t.created_at, t.updated_at,
			(SELECT COUNT(*) FROM team_member tm WHERE tm.team_id = t.id)
		FROM team t
		ORDER BY t.created_at DESC, t.id
	`)
	if err != nil {
		slog.Error("failed to query teams", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	var teams []models.Team
	for rows.Next() {
		var (
			t     models.Team
			count int
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Logo, &t.Description, &t.IsPublic, &t.MaxMembers,
			&t.InviteCode, &t.CreatedAt, &t.UpdatedAt, &count); err != nil {
			rows.Close()
			slog.Error("failed to scan team", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		t.InviteCode = ""
		if search != "" && !strings.Contains(strings.ToLower(t.Name), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		full := count >= t.MaxMembers
		if (status == teamStatusOpen && full) || (status == teamStatusFull && !full) {
			continue
		}
		teams = append(teams, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		slog.Error("failed to iterate teams", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	pageTeams := paginate(teams, page, limit)
	for i := range pageTeams {
		members, err := loadTeamMembers(r.Context(), h.db, pageTeams[i].ID)
		if err != nil {
			slog.Error("failed to load team members", "error", err, "team_id", pageTeams[i].ID)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		pageTeams[i].Members = members
	}

	paginatedResponse(w, "Teams fetched", pageTeams, len(teams), page, limit)
}

// Create handles POST /teams
func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTeamRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var errs []models.ValidationError
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		errs = append(errs, models.ValidationError{Field: "name", Message: fmt.Sprintf("must be 1-%d characters", maxNameLength)})
	}
	if req.MaxMembers == 0 {
		req.MaxMembers = h.cfg.DefaultTeamMembers
	}
	if req.MaxMembers < 1 || req.MaxMembers > maxTeamMembers {
		errs = append(errs, models.ValidationError{Field: "maxMembers", Message: fmt.Sprintf("must be between 1 and %d", maxTeamMembers), Value: req.MaxMembers})
	}
	if len(errs) > 0 {
		middleware.ValidationErrorResponse(w, errs)
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	userID := caller(r).UserID
	if _, _, err := teamMembership(r.Context(), h.db, userID); err == nil {
		middleware.ErrorResponse(w, http.StatusConflict, "You already belong to a team")
		return
	} else if !errors.Is(err, errNotFound) {
		slog.Error("failed to check membership", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	teamID, err := newID()
	if err != nil {
		slog.Error("failed to generate team ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create team")
		return
	}

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	now := utcNow()
	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO team (id, name, logo, description, is_public, max_members, invite_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, teamID, name, req.Logo, strings.TrimSpace(req.Description), isPublic, req.MaxMembers,
		auth.GenerateInviteCode(teamID, h.cfg.IPHashSalt), now)
	if err != nil {
		slog.Error("failed to insert team", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create team")
		return
	}

	err = addMember(r.Context(), tx, teamID, userID, models.MemberLeader, req.MaxMembers)
	if isUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "You already belong to a team")
		return
	}
	if err != nil {
		slog.Error("failed to add team leader", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create team")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit team", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create team")
		return
	}

	team, err := loadTeam(r.Context(), h.db, teamID, true)
	if err != nil {
		slog.Error("failed to load team", "error", err, "team_id", teamID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	slog.Info("team created", "team_id", teamID, "leader_id", userID)

	middleware.Success(w, http.StatusCreated, "Team created", team)
}

// Get handles GET /teams/{id}
func (h *TeamHandler) Get(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("id")

	member, err := isTeamMember(r.Context(), h.db, r, teamID)
	if err != nil {
		slog.Error("failed to check membership", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	team, err := loadTeam(r.Context(), h.db, teamID, member)
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Team not found")
		return
	}
	if err != nil {
		slog.Error("failed to load team", "error", err, "team_id", teamID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.Success(w, http.StatusOK, "Team fetched", team)
}

// authorizeManage writes the error response and returns false when the
// caller may not manage the team
func (h *TeamHandler) authorizeManage(w http.ResponseWriter, r *http.Request, teamID string) (models.Team, bool) {
	team, err := loadTeam(r.Context(), h.db, teamID, true)
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Team not found")
		return models.Team{}, false
	}
	if err != nil {
		slog.Error("failed to load team", "error", err, "team_id", teamID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return models.Team{}, false
	}

	ok, err := canManageTeam(r.Context(), h.db, r, teamID)
	if err != nil {
		slog.Error("failed to check team permissions", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return models.Team{}, false
	}
	if !ok {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only the team leader can do this")
		return models.Team{}, false
	}
	return team, true
}

// Update handles PUT /teams/{id}
func (h *TeamHandler) Update(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("id")

	var req models.UpdateTeamRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	team, ok := h.authorizeManage(w, r, teamID)
	if !ok {
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameLength {
			middleware.ValidationErrorResponse(w, []models.ValidationError{
				{Field: "name", Message: fmt.Sprintf("must be 1-%d characters", maxNameLength)},
			})
			return
		}
		team.Name = name
	}
	if req.Description != nil {
		team.Description = strings.TrimSpace(*req.Description)
	}
	if req.Logo != nil {
		team.Logo = *req.Logo
	}
	if req.IsPublic != nil {
		team.IsPublic = *req.IsPublic
	}
	team.UpdatedAt = utcNow()

	_, err := h.db.ExecContext(r.Context(), `
		UPDATE team SET name = $1, description = $2, logo = $3, is_public = $4, updated_at = $5
		WHERE id = $6
	`, team.Name, team.Description, team.Logo, team.IsPublic, team.UpdatedAt, teamID)
	if err != nil {
		slog.Error("failed to update team", "error", err, "team_id", teamID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update team")
		return
	}

	middleware.Success(w, http.StatusOK, "Team updated", team)
}

// Delete handles DELETE /teams/{id}
func (h *TeamHandler) Delete(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("id")

	if _, ok := h.authorizeManage(w, r, teamID); !ok {
		return
	}

	var matches int
	if err := h.db.QueryRowContext(r.Context(), `
		SELECT COUNT(*) FROM pk_match WHERE team_a_id = $1 OR team_b_id = $1
	`, teamID).Scan(&matches); err != nil {
		slog.Error("failed to count team matches", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if matches > 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Team has already competed and cannot be deleted")
		return
	}

	if _, err := h.db.ExecContext(r.Context(), `DELETE FROM team WHERE id = $1`, teamID); err != nil {
		slog.Error("failed to delete team", "error", err, "team_id", teamID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to delete team")
		return
	}

	slog.Info("team deleted", "team_id", teamID)

	middleware.Success(w, http.StatusOK, "Team deleted", nil)
}

// Invite handles POST /teams/{id}/invite
func (h *TeamHandler) Invite(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("id")

	var req models.TeamInviteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	email, ok := normalizeEmail(req.Email)
	if !ok {
		middleware.ValidationErrorResponse(w, []models.ValidationError{
			{Field: "email", Message: "must be a valid email address", Value: req.Email},
		})
		return
	}
	if req.Role != "" && req.Role != models.MemberMember {
		middleware.ValidationErrorResponse(w, []models.ValidationError{
			{Field: "role", Message: "invited users join as member", Value: req.Role},
		})
		return
	}

	team, ok := h.authorizeManage(w, r, teamID)
	if !ok {
		return
	}

	var userID string
	err := h.db.QueryRowContext(r.Context(), `SELECT id FROM app_user WHERE email = $1`, email).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "No user with that email")
		return
	}
	if err != nil {
		slog.Error("failed to query user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if h.join(w, r, team, userID) {
		slog.Info("member invited", "team_id", teamID, "user_id", userID)
	}
}

// Join handles POST /teams/join/{inviteCode}
func (h *TeamHandler) Join(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.PathValue("inviteCode")))

	var teamID string
	err := h.db.QueryRowContext(r.Context(), `SELECT id FROM team WHERE invite_code = $1`, code).Scan(&teamID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Invalid invite code")
		return
	}
	if err != nil {
		slog.Error("failed to query team by invite code", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	team, err := loadTeam(r.Context(), h.db, teamID, true)
	if err != nil {
		slog.Error("failed to load team", "error", err, "team_id", teamID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	userID := caller(r).UserID
	if h.join(w, r, team, userID) {
		slog.Info("member joined", "team_id", teamID, "user_id", userID)
	}
}

// join adds userID to the team and writes the updated team
func (h *TeamHandler) join(w http.ResponseWriter, r *http.Request, team models.Team, userID string) bool {
	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return false
	}
	defer tx.Rollback()

	err = addMember(r.Context(), tx, team.ID, userID, models.MemberMember, team.MaxMembers)
	switch {
	case errors.Is(err, errTeamFull):
		middleware.ErrorResponse(w, http.StatusConflict, "Team is full")
		return false
	case isUniqueViolation(err):
		middleware.ErrorResponse(w, http.StatusConflict, "User already belongs to a team")
		return false
	case err != nil:
		slog.Error("failed to add member", "error", err, "team_id", team.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add member")
		return false
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit membership", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add member")
		return false
	}

	updated, err := loadTeam(r.Context(), h.db, team.ID, true)
	if err != nil {
		slog.Error("failed to load team", "error", err, "team_id", team.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return false
	}

	middleware.Success(w, http.StatusOK, "Member added", updated)
	return true
}

// RemoveMember handles DELETE /teams/{id}/members/{memberId}.
// memberId may be the membership ID or the user ID. Members may remove
// themselves; anyone else needs the leader or an admin.
func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("id")
	memberID := r.PathValue("memberId")

	var (
		id     string
		userID string
		role   string
	)
	err := h.db.QueryRowContext(r.Context(), `
		SELECT id, user_id, role FROM team_member
		WHERE team_id = $1 AND (id = $2 OR user_id = $2)
	`, teamID, memberID).Scan(&id, &userID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Member not found")
		return
	}
	if err != nil {
		slog.Error("failed to query member", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if userID != caller(r).UserID {
		if _, ok := h.authorizeManage(w, r, teamID); !ok {
			return
		}
	}
	if role == models.MemberLeader {
		middleware.ErrorResponse(w, http.StatusBadRequest, "The team leader cannot be removed")
		return
	}

	if _, err := h.db.ExecContext(r.Context(), `DELETE FROM team_member WHERE id = $1`, id); err != nil {
		slog.Error("failed to remove member", "error", err, "member_id", id)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to remove member")
		return
	}

	slog.Info("member removed", "team_id", teamID, "user_id", userID)

	middleware.Success(w, http.StatusOK, "Member removed", nil)
}
