// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/danielhkuo/pk-arena/auth"
	"github.com/danielhkuo/pk-arena/cliparse"
	"github.com/danielhkuo/pk-arena/middleware"
	"github.com/danielhkuo/pk-arena/models"
)

const maxNameLength = 50

type AuthHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewAuthHandler(db *sql.DB, cfg cliparse.Config) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg}
}

const userQuery = `
	SELECT u.id, u.email, u.name, u.avatar, u.role, u.is_active, u.last_login_at,
		u.created_at, u.updated_at, u.password_hash, tm.team_id
	FROM app_user u
	LEFT JOIN team_member tm ON tm.user_id = u.id`

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var (
		u         models.User
		lastLogin sql.NullTime
		teamID    sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Avatar, &u.Role, &u.IsActive, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt, &u.PasswordHash, &teamID)
	if err != nil {
		return models.User{}, err
	}
	u.LastLoginAt = timePtr(lastLogin)
	if teamID.Valid {
		u.TeamID = &teamID.String
	}
	return u, nil
}

func loadUser(ctx context.Context, db *sql.DB, id string) (models.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, userQuery+` WHERE u.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, errNotFound
	}
	return u, err
}

func normalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

func codeMatches(configured, given string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(given)) == 1
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var errs []models.ValidationError
	email, ok := normalizeEmail(req.Email)
	if !ok {
		errs = append(errs, models.ValidationError{Field: "email", Message: "must be a valid email address", Value: req.Email})
	}
	if len(req.Password) < auth.MinPasswordLength {
		errs = append(errs, models.ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength)})
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		errs = append(errs, models.ValidationError{Field: "name", Message: fmt.Sprintf("must be 1-%d characters", maxNameLength)})
	}
	if req.Role == "" {
		req.Role = models.RoleParticipant
	}
	if !validOneOf(req.Role, models.RoleParticipant, models.RoleJudge, models.RoleAdmin) {
		errs = append(errs, models.ValidationError{Field: "role", Message: "must be participant, judge or admin", Value: req.Role})
	}
	if len(errs) > 0 {
		middleware.ValidationErrorResponse(w, errs)
		return
	}

	// Privileged roles are gated by invite codes from config
	switch req.Role {
	case models.RoleJudge:
		if !codeMatches(h.cfg.JudgeInviteCode, req.InviteCode) {
			middleware.ErrorResponse(w, http.StatusForbidden, "A valid judge invite code is required")
			return
		}
	case models.RoleAdmin:
		if !codeMatches(h.cfg.AdminInviteCode, req.InviteCode) {
			middleware.ErrorResponse(w, http.StatusForbidden, "A valid admin invite code is required")
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register")
		return
	}

	userID, err := newID()
	if err != nil {
		slog.Error("failed to generate user ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register")
		return
	}

	now := utcNow()
	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO app_user (id, email, name, role, password_hash, is_active, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $7)
	`, userID, email, name, req.Role, hash, true, now)
	if isUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Email is already registered")
		return
	}
	if err != nil {
		slog.Error("failed to insert user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register")
		return
	}

	user, err := loadUser(r.Context(), h.db, userID)
	if err != nil {
		slog.Error("failed to load new user", "error", err, "user_id", userID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register")
		return
	}

	session, err := h.issueSession(r.Context(), user, false)
	if err != nil {
		slog.Error("failed to issue session", "error", err, "user_id", userID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register")
		return
	}

	slog.Info("user registered", "user_id", userID, "role", req.Role)

	middleware.Success(w, http.StatusCreated, "Registration successful", session)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "email and password are required")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := scanUser(h.db.QueryRowContext(r.Context(), userQuery+` WHERE u.email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		slog.Error("failed to query user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if !user.IsActive {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Account is disabled")
		return
	}

	now := utcNow()
	if _, err := h.db.ExecContext(r.Context(), `
		UPDATE app_user SET last_login_at = $1 WHERE id = $2
	`, now, user.ID); err != nil {
		slog.Warn("failed to record login time", "error", err, "user_id", user.ID)
	}
	user.LastLoginAt = &now

	session, err := h.issueSession(r.Context(), user, req.RememberMe)
	if err != nil {
		slog.Error("failed to issue session", "error", err, "user_id", user.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	slog.Info("user logged in", "user_id", user.ID, "remember_me", req.RememberMe)

	middleware.Success(w, http.StatusOK, "Login successful", session)
}

func (h *AuthHandler) issueSession(ctx context.Context, user models.User, rememberMe bool) (models.AuthResponse, error) {
	now := utcNow()
	token, expiresAt, err := auth.IssueAccessToken(user.ID, user.Role, h.cfg.JWTSecret, h.cfg.AccessTokenTTL, now)
	if err != nil {
		return models.AuthResponse{}, err
	}

	refresh, err := auth.GenerateRefreshToken()
	if err != nil {
		return models.AuthResponse{}, err
	}
	ttl := h.cfg.RefreshTokenTTL
	if rememberMe {
		ttl = h.cfg.RememberMeTTL
	}
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO refresh_token (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, auth.HashToken(refresh, h.cfg.JWTSecret), user.ID, now.Add(ttl), now)
	if err != nil {
		return models.AuthResponse{}, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return models.AuthResponse{
		User:         user,
		Token:        token,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.RefreshToken == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	var (
		userID    string
		role      string
		isActive  bool
		expiresAt time.Time
		revokedAt sql.NullTime
	)
	err := h.db.QueryRowContext(r.Context(), `
		SELECT rt.user_id, u.role, u.is_active, rt.expires_at, rt.revoked_at
		FROM refresh_token rt
		JOIN app_user u ON u.id = rt.user_id
		WHERE rt.token_hash = $1
	`, auth.HashToken(req.RefreshToken, h.cfg.JWTSecret)).Scan(&userID, &role, &isActive, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid refresh token")
		return
	}
	if err != nil {
		slog.Error("failed to query refresh token", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	now := utcNow()
	if revokedAt.Valid || !now.Before(expiresAt) || !isActive {
		middleware.ErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token is no longer valid")
		return
	}

	token, tokenExpiry, err := auth.IssueAccessToken(userID, role, h.cfg.JWTSecret, h.cfg.AccessTokenTTL, now)
	if err != nil {
		slog.Error("failed to issue access token", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to refresh token")
		return
	}

	middleware.Success(w, http.StatusOK, "Token refreshed", models.RefreshTokenResponse{
		Token:     token,
		ExpiresAt: tokenExpiry,
	})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := caller(r).UserID

	res, err := h.db.ExecContext(r.Context(), `
		UPDATE refresh_token SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL
	`, utcNow(), userID)
	if err != nil {
		slog.Error("failed to revoke refresh tokens", "error", err, "user_id", userID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to log out")
		return
	}
	revoked, _ := res.RowsAffected()

	slog.Info("user logged out", "user_id", userID, "revoked_tokens", revoked)

	middleware.Success(w, http.StatusOK, "Logged out", nil)
}

// currentUser loads the caller's account, writing the error response when
// it cannot
func (h *AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, err := loadUser(r.Context(), h.db, caller(r).UserID)
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return models.User{}, false
	}
	if err != nil {
		slog.Error("failed to load user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return models.User{}, false
	}
	return user, true
}

// GetProfile handles GET /auth/profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	middleware.Success(w, http.StatusOK, "Profile fetched", models.UserEnvelope{User: user})
}

// Me handles GET /users/me. The user is the data payload itself, not wrapped
// in an envelope.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	middleware.Success(w, http.StatusOK, "Profile fetched", user)
}

// UpdateProfile handles PUT /auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	user, err := loadUser(r.Context(), h.db, caller(r).UserID)
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("failed to load user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
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
		user.Name = name
	}
	if req.Avatar != nil {
		user.Avatar = strings.TrimSpace(*req.Avatar)
	}

	user.UpdatedAt = utcNow()
	_, err = h.db.ExecContext(r.Context(), `
		UPDATE app_user SET name = $1, avatar = $2, updated_at = $3 WHERE id = $4
	`, user.Name, user.Avatar, user.UpdatedAt, user.ID)
	if err != nil {
		slog.Error("failed to update profile", "error", err, "user_id", user.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	middleware.Success(w, http.StatusOK, "Profile updated", models.UserEnvelope{User: user})
}
