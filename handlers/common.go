// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/danielhkuo/pk-arena/auth"
	"github.com/danielhkuo/pk-arena/middleware"
	"github.com/danielhkuo/pk-arena/models"
)

// Pagination bounds shared by every list endpoint
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// pageParams reads page/limit query parameters, clamped to sane bounds
func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// paginate slices an in-memory result set to the requested page
func paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := min(start+limit, len(items))
	return items[start:end]
}

func paginatedResponse(w http.ResponseWriter, message string, data any, total, page, limit int) {
	middleware.JSONResponse(w, http.StatusOK, models.PaginatedResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    models.NewPaginationMeta(total, page, limit),
	})
}

// caller returns the authenticated claims; RequireAuth guarantees they exist
func caller(r *http.Request) auth.Claims {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	return claims
}

func isAdmin(r *http.Request) bool {
	return caller(r).Role == models.RoleAdmin
}

// isUniqueViolation recognises duplicate-key errors from both drivers
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func newID() (string, error) {
	id, err := auth.GenerateID(12)
	if err != nil {
		return "", err
	}
	return id, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// timePtr converts a nullable column into an optional JSON field
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// errNotFound marks lookups of rows that do not exist
var errNotFound = errors.New("not found")

// teamMembership returns the team and member role of a user, or errNotFound
func teamMembership(ctx context.Context, db *sql.DB, userID string) (teamID, role string, err error) {
	err = db.QueryRowContext(ctx, `
		SELECT team_id, role FROM team_member WHERE user_id = $1
	`, userID).Scan(&teamID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", errNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to query team membership: %w", err)
	}
	return teamID, role, nil
}

// canManageTeam reports whether the caller leads the team or is an admin
func canManageTeam(ctx context.Context, db *sql.DB, r *http.Request, teamID string) (bool, error) {
	if isAdmin(r) {
		return true, nil
	}
	memberTeam, role, err := teamMembership(ctx, db, caller(r).UserID)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return memberTeam == teamID && role == models.MemberLeader, nil
}

// isTeamMember reports whether the caller belongs to the team or is an admin
func isTeamMember(ctx context.Context, db *sql.DB, r *http.Request, teamID string) (bool, error) {
	if isAdmin(r) {
		return true, nil
	}
	memberTeam, _, err := teamMembership(ctx, db, caller(r).UserID)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return memberTeam == teamID, nil
}

func validOneOf(value string, allowed ...string) bool {
	return slices.Contains(allowed, value)
}
