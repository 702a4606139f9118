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
)

const (
	maxTitleLength       = 100
	maxDescriptionLength = 5000
)

type ProjectHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewProjectHandler(db *sql.DB, cfg cliparse.Config) *ProjectHandler {
	return &ProjectHandler{db: db, cfg: cfg}
}

const projectColumns = `id, team_id, title, description, demo_video_url, experience_url, github_url,
	tech_stack, category, status, is_published, version, submitted_at, published_at, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (models.Project, error) {
	var (
		p           models.Project
		techStack   string
		submittedAt sql.NullTime
		publishedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.TeamID, &p.Title, &p.Description, &p.DemoVideoURL, &p.ExperienceURL,
		&p.GithubURL, &techStack, &p.Category, &p.Status, &p.IsPublished, &p.Version,
		&submittedAt, &publishedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Project{}, err
	}
	p.TechStack = models.DecodeList(techStack)
	p.SubmittedAt = timePtr(submittedAt)
	p.PublishedAt = timePtr(publishedAt)
	return p, nil
}

func loadProject(ctx context.Context, db *sql.DB, id string) (models.Project, error) {
	p, err := scanProject(db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM project WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, errNotFound
	}
	if err != nil {
		return models.Project{}, fmt.Errorf("failed to query project: %w", err)
	}
	return p, nil
}

func validateProjectContent(p models.Project) []models.ValidationError {
	var errs []models.ValidationError
	if p.Title == "" || utf8.RuneCountInString(p.Title) > maxTitleLength {
		errs = append(errs, models.ValidationError{Field: "title", Message: fmt.Sprintf("must be 1-%d characters", maxTitleLength)})
	}
	if utf8.RuneCountInString(p.Description) > maxDescriptionLength {
		errs = append(errs, models.ValidationError{Field: "description", Message: fmt.Sprintf("must be at most %d characters", maxDescriptionLength)})
	}
	if !validOneOf(p.Status, models.ProjectDraft, models.ProjectSubmitted, models.ProjectPublished, models.ProjectArchived) {
		errs = append(errs, models.ValidationError{Field: "status", Message: "must be draft, submitted, published or archived", Value: p.Status})
	}
	return errs
}

// saveVersion persists the project row and records a snapshot of it under
// its current version number
func saveVersion(ctx context.Context, tx *sql.Tx, p models.Project, changes, createdBy string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE project SET title = $1, description = $2, demo_video_url = $3, experience_url = $4,
			github_url = $5, tech_stack = $6, category = $7, status = $8, is_published = $9,
			version = $10, submitted_at = $11, published_at = $12, updated_at = $13
		WHERE id = $14
	`, p.Title, p.Description, p.DemoVideoURL, p.ExperienceURL, p.GithubURL,
		models.EncodeList(p.TechStack), p.Category, p.Status, p.IsPublished, p.Version,
		p.SubmittedAt, p.PublishedAt, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return insertVersion(ctx, tx, p, changes, createdBy)
}

func insertVersion(ctx context.Context, tx *sql.Tx, p models.Project, changes, createdBy string) error {
	versionID, err := newID()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO project_version (id, project_id, version, title, description, demo_video_url,
			experience_url, github_url, tech_stack, category, changes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, versionID, p.ID, p.Version, p.Title, p.Description, p.DemoVideoURL, p.ExperienceURL,
		p.GithubURL, models.EncodeList(p.TechStack), p.Category, changes, createdBy, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert project version: %w", err)
	}
	return nil
}

// visible reports whether the caller may see an unpublished project
func (h *ProjectHandler) visible(r *http.Request, p models.Project) (bool, error) {
	if p.IsPublished {
		return true, nil
	}
	return isTeamMember(r.Context(), h.db, r, p.TeamID)
}

// List handles GET /projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	q := r.URL.Query()
	search := strings.ToLower(strings.TrimSpace(q.Get("search")))
	category := strings.TrimSpace(q.Get("category"))
	teamID := q.Get("teamId")
	status := q.Get("status")

	ownTeam := ""
	if !isAdmin(r) {
		t, _, err := teamMembership(r.Context(), h.db, caller(r).UserID)
		if err != nil && !errors.Is(err, errNotFound) {
			slog.Error("failed to check membership", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		ownTeam = t
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT `+projectColumns+` FROM project ORDER BY updated_at DESC, id
	`)
	if err != nil {
		slog.Error("failed to query projects", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			slog.Error("failed to scan project", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		if !p.IsPublished && !isAdmin(r) && p.TeamID != ownTeam {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Title), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if teamID != "" && p.TeamID != teamID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("failed to iterate projects", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	paginatedResponse(w, "Projects fetched", paginate(projects, page, limit), len(projects), page, limit)
}

// Create handles POST /projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProjectRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	userID := caller(r).UserID
	teamID, _, err := teamMembership(r.Context(), h.db, userID)
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusForbidden, "You must belong to a team to create a project")
		return
	}
	if err != nil {
		slog.Error("failed to check membership", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	projectID, err := newID()
	if err != nil {
		slog.Error("failed to generate project ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	now := utcNow()
	p := models.Project{
		ID:            projectID,
		TeamID:        teamID,
		Title:         strings.TrimSpace(req.Title),
		Description:   strings.TrimSpace(req.Description),
		DemoVideoURL:  req.DemoVideoURL,
		ExperienceURL: req.ExperienceURL,
		GithubURL:     req.GithubURL,
		TechStack:     req.TechStack,
		Category:      strings.TrimSpace(req.Category),
		Status:        models.ProjectDraft,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := validateProjectContent(p); len(errs) > 0 {
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

	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO project (id, team_id, title, description, demo_video_url, experience_url, github_url,
			tech_stack, category, status, is_published, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, p.ID, p.TeamID, p.Title, p.Description, p.DemoVideoURL, p.ExperienceURL, p.GithubURL,
		models.EncodeList(p.TechStack), p.Category, p.Status, false, p.Version, now)
	if err != nil {
		slog.Error("failed to insert project", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create project")
		return
	}
	if err := insertVersion(r.Context(), tx, p, "Initial version", userID); err != nil {
		slog.Error("failed to record project version", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create project")
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit project", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	slog.Info("project created", "project_id", p.ID, "team_id", teamID)

	middleware.Success(w, http.StatusCreated, "Project created", p)
}

// loadForRead loads a project the caller may see, writing 404 otherwise
func (h *ProjectHandler) loadForRead(w http.ResponseWriter, r *http.Request) (models.Project, bool) {
	p, err := loadProject(r.Context(), h.db, r.PathValue("id"))
	if err == nil {
		var ok bool
		ok, err = h.visible(r, p)
		if err == nil && !ok {
			err = errNotFound
		}
	}
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Project not found")
		return models.Project{}, false
	}
	if err != nil {
		slog.Error("failed to load project", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return models.Project{}, false
	}
	return p, true
}

// loadForWrite loads a project the caller's team owns
func (h *ProjectHandler) loadForWrite(w http.ResponseWriter, r *http.Request) (models.Project, bool) {
	p, ok := h.loadForRead(w, r)
	if !ok {
		return models.Project{}, false
	}
	member, err := isTeamMember(r.Context(), h.db, r, p.TeamID)
	if err != nil {
		slog.Error("failed to check membership", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return models.Project{}, false
	}
	if !member {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only team members can change this project")
		return models.Project{}, false
	}
	return p, true
}

// Get handles GET /projects/{id}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadForRead(w, r)
	if !ok {
		return
	}
	middleware.Success(w, http.StatusOK, "Project fetched", p)
}

// commitVersion bumps the version, persists p and writes it back
func (h *ProjectHandler) commitVersion(w http.ResponseWriter, r *http.Request, p models.Project, changes, message string) {
	p.Version++
	p.UpdatedAt = utcNow()

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	if err := saveVersion(r.Context(), tx, p, changes, caller(r).UserID); err != nil {
		slog.Error("failed to save project version", "error", err, "project_id", p.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update project")
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit project version", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update project")
		return
	}

	slog.Info("project updated", "project_id", p.ID, "version", p.Version)

	middleware.Success(w, http.StatusOK, message, p)
}

// Update handles PUT /projects/{id}
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProjectRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	p, ok := h.loadForWrite(w, r)
	if !ok {
		return
	}

	if req.Title != nil {
		p.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		p.Description = strings.TrimSpace(*req.Description)
	}
	if req.DemoVideoURL != nil {
		p.DemoVideoURL = *req.DemoVideoURL
	}
	if req.ExperienceURL != nil {
		p.ExperienceURL = *req.ExperienceURL
	}
	if req.GithubURL != nil {
		p.GithubURL = *req.GithubURL
	}
	if req.TechStack != nil {
		p.TechStack = req.TechStack
	}
	if req.Category != nil {
		p.Category = strings.TrimSpace(*req.Category)
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if errs := validateProjectContent(p); len(errs) > 0 {
		middleware.ValidationErrorResponse(w, errs)
		return
	}

	now := utcNow()
	if p.Status == models.ProjectSubmitted && p.SubmittedAt == nil {
		p.SubmittedAt = &now
	}
	if req.IsPublished != nil {
		setPublished(&p, *req.IsPublished, now)
	} else if req.Status != nil {
		p.IsPublished = p.Status == models.ProjectPublished
	}

	changes := req.Changes
	if changes == "" {
		changes = "Updated project"
	}
	h.commitVersion(w, r, p, changes, "Project updated")
}

func setPublished(p *models.Project, published bool, now time.Time) {
	p.IsPublished = published
	if published {
		p.Status = models.ProjectPublished
		if p.PublishedAt == nil {
			p.PublishedAt = &now
		}
		return
	}
	if p.Status == models.ProjectPublished {
		p.Status = models.ProjectDraft
	}
}

// Delete handles DELETE /projects/{id}
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadForWrite(w, r)
	if !ok {
		return
	}

	var matches int
	if err := h.db.QueryRowContext(r.Context(), `
		SELECT COUNT(*) FROM pk_match WHERE project_a_id = $1 OR project_b_id = $1
	`, p.ID).Scan(&matches); err != nil {
		slog.Error("failed to count project matches", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if matches > 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Project is part of a match and cannot be deleted")
		return
	}

	if _, err := h.db.ExecContext(r.Context(), `DELETE FROM project WHERE id = $1`, p.ID); err != nil {
		slog.Error("failed to delete project", "error", err, "project_id", p.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to delete project")
		return
	}

	slog.Info("project deleted", "project_id", p.ID)

	middleware.Success(w, http.StatusOK, "Project deleted", nil)
}

func (h *ProjectHandler) setPublishedState(w http.ResponseWriter, r *http.Request, published bool) {
	p, ok := h.loadForWrite(w, r)
	if !ok {
		return
	}

	now := utcNow()
	setPublished(&p, published, now)
	p.UpdatedAt = now

	_, err := h.db.ExecContext(r.Context(), `
		UPDATE project SET status = $1, is_published = $2, published_at = $3, updated_at = $4
		WHERE id = $5
	`, p.Status, p.IsPublished, p.PublishedAt, p.UpdatedAt, p.ID)
	if err != nil {
		slog.Error("failed to update publish state", "error", err, "project_id", p.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update project")
		return
	}

	slog.Info("project publish state changed", "project_id", p.ID, "published", published)

	message := "Project unpublished"
	if published {
		message = "Project published"
	}
	middleware.Success(w, http.StatusOK, message, p)
}

// Publish handles POST /projects/{id}/publish
func (h *ProjectHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.setPublishedState(w, r, true)
}

// Unpublish handles POST /projects/{id}/unpublish
func (h *ProjectHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	h.setPublishedState(w, r, false)
}

// Versions handles GET /projects/{id}/versions
func (h *ProjectHandler) Versions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadForRead(w, r)
	if !ok {
		return
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, project_id, version, title, description, changes, created_by, created_at
		FROM project_version
		WHERE project_id = $1
		ORDER BY version DESC
	`, p.ID)
	if err != nil {
		slog.Error("failed to query versions", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer rows.Close()

	versions := []models.ProjectVersion{}
	for rows.Next() {
		var v models.ProjectVersion
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Version, &v.Title, &v.Description,
			&v.Changes, &v.CreatedBy, &v.CreatedAt); err != nil {
			slog.Error("failed to scan version", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		slog.Error("failed to iterate versions", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.Success(w, http.StatusOK, "Versions fetched", versions)
}

// Restore handles POST /projects/{id}/versions/{versionId}/restore.
// The restored content becomes a new version; history is never rewritten.
func (h *ProjectHandler) Restore(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadForWrite(w, r)
	if !ok {
		return
	}

	var (
		version   int
		techStack string
	)
	err := h.db.QueryRowContext(r.Context(), `
		SELECT version, title, description, demo_video_url, experience_url, github_url, tech_stack, category
		FROM project_version
		WHERE id = $1 AND project_id = $2
	`, r.PathValue("versionId"), p.ID).Scan(&version, &p.Title, &p.Description, &p.DemoVideoURL,
		&p.ExperienceURL, &p.GithubURL, &techStack, &p.Category)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Version not found")
		return
	}
	if err != nil {
		slog.Error("failed to query version", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	p.TechStack = models.DecodeList(techStack)

	h.commitVersion(w, r, p, fmt.Sprintf("Restored version %d", version), "Project restored")
}
