// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/pk-arena/cliparse"
	"github.com/danielhkuo/pk-arena/middleware"
	"github.com/danielhkuo/pk-arena/models"
)

const (
	maxFilesPerUpload = 10
	multipartMemory   = 8 << 20
)

type FileHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewFileHandler(db *sql.DB, cfg cliparse.Config) *FileHandler {
	return &FileHandler{db: db, cfg: cfg}
}

type storedFile struct {
	info models.FileInfo
	path string
}

func fileURL(id string) string {
	return "/api/v1/files/" + id + "/content"
}

func loadFile(ctx context.Context, db *sql.DB, id string) (storedFile, error) {
	var f storedFile
	err := db.QueryRowContext(ctx, `
		SELECT id, name, original_name, content_type, size, path, owner_id, owner_type, is_public,
			uploaded_by, uploaded_at
		FROM stored_file WHERE id = $1
	`, id).Scan(&f.info.ID, &f.info.Name, &f.info.OriginalName, &f.info.Type, &f.info.Size, &f.path,
		&f.info.OwnerID, &f.info.OwnerType, &f.info.IsPublic, &f.info.UploadedBy, &f.info.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storedFile{}, errNotFound
	}
	if err != nil {
		return storedFile{}, fmt.Errorf("failed to query file: %w", err)
	}
	f.info.URL = fileURL(f.info.ID)
	return f, nil
}

// ownsTarget reports whether the caller may attach files to, or read
// private files of, the given owner
func ownsTarget(ctx context.Context, db *sql.DB, r *http.Request, ownerType, ownerID string) (bool, error) {
	if isAdmin(r) {
		return true, nil
	}
	switch ownerType {
	case models.OwnerUser:
		return ownerID == caller(r).UserID, nil
	case models.OwnerTeam:
		return isTeamMember(ctx, db, r, ownerID)
	case models.OwnerProject:
		p, err := loadProject(ctx, db, ownerID)
		if errors.Is(err, errNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return isTeamMember(ctx, db, r, p.TeamID)
	}
	return false, nil
}

func (h *FileHandler) canRead(r *http.Request, f storedFile) (bool, error) {
	if f.info.IsPublic || f.info.UploadedBy == caller(r).UserID {
		return true, nil
	}
	return ownsTarget(r.Context(), h.db, r, f.info.OwnerType, f.info.OwnerID)
}

func tooLarge(w http.ResponseWriter, name string, size, limit int64) {
	middleware.ErrorResponse(w, http.StatusRequestEntityTooLarge, fmt.Sprintf(
		"%s is %s; the limit is %s per file", name, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit))))
}

// Upload handles POST /files/upload
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes*maxFilesPerUpload+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.ErrorResponse(w, http.StatusRequestEntityTooLarge, fmt.Sprintf(
				"Upload exceeds %s", humanize.IBytes(uint64(maxErr.Limit))))
			return
		}
		middleware.ErrorResponse(w, http.StatusBadRequest, "Expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "No files in the files field")
		return
	}
	if len(headers) > maxFilesPerUpload {
		middleware.ErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("At most %d files per upload", maxFilesPerUpload))
		return
	}
	for _, fh := range headers {
		if fh.Size > h.cfg.MaxUploadBytes {
			tooLarge(w, fh.Filename, fh.Size, h.cfg.MaxUploadBytes)
			return
		}
	}

	userID := caller(r).UserID
	ownerType := r.FormValue("ownerType")
	if ownerType == "" {
		ownerType = models.OwnerUser
	}
	if !validOneOf(ownerType, models.OwnerUser, models.OwnerTeam, models.OwnerProject) {
		middleware.ValidationErrorResponse(w, []models.ValidationError{
			{Field: "ownerType", Message: "must be user, team or project", Value: ownerType},
		})
		return
	}
	ownerID := r.FormValue("ownerId")
	if ownerID == "" {
		ownerID = userID
	}
	isPublic, _ := strconv.ParseBool(r.FormValue("isPublic"))

	allowed, err := ownsTarget(r.Context(), h.db, r, ownerType, ownerID)
	if err != nil {
		slog.Error("failed to check file owner", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if !allowed {
		middleware.ErrorResponse(w, http.StatusForbidden, "You cannot upload files for this owner")
		return
	}

	files := make([]models.FileInfo, 0, len(headers))
	for _, fh := range headers {
		info, err := h.store(r.Context(), fh, ownerType, ownerID, isPublic, userID)
		if err != nil {
			slog.Error("failed to store upload", "error", err, "file", fh.Filename)
			h.discard(context.WithoutCancel(r.Context()), files)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to store file")
			return
		}
		files = append(files, info)
	}

	slog.Info("files uploaded", "count", len(files), "owner_type", ownerType, "owner_id", ownerID, "uploaded_by", userID)

	middleware.JSONResponse(w, http.StatusCreated, models.UploadResponse{
		Success: true,
		Files:   files,
		Message: fmt.Sprintf("Uploaded %d file(s)", len(files)),
	})
}

func (h *FileHandler) store(ctx context.Context, fh *multipart.FileHeader, ownerType, ownerID string, isPublic bool, userID string) (models.FileInfo, error) {
	id, err := newID()
	if err != nil {
		return models.FileInfo{}, err
	}

	original := filepath.Base(fh.Filename)
	name := id + strings.ToLower(filepath.Ext(original))
	path := filepath.Join(h.cfg.UploadDir, name)
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	src, err := fh.Open()
	if err != nil {
		return models.FileInfo{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return models.FileInfo{}, fmt.Errorf("failed to create file: %w", err)
	}
	size, err := io.Copy(dst, io.LimitReader(src, h.cfg.MaxUploadBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && size > h.cfg.MaxUploadBytes {
		err = fmt.Errorf("file exceeds %s", humanize.IBytes(uint64(h.cfg.MaxUploadBytes)))
	}
	if err != nil {
		os.Remove(path)
		return models.FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}

	now := utcNow()
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO stored_file (id, name, original_name, content_type, size, path, owner_id, owner_type,
			is_public, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, id, name, original, contentType, size, path, ownerID, ownerType, isPublic, userID, now)
	if err != nil {
		os.Remove(path)
		return models.FileInfo{}, fmt.Errorf("failed to insert file: %w", err)
	}

	slog.Debug("stored upload", "file_id", id, "size", humanize.IBytes(uint64(size)))

	return models.FileInfo{
		ID:           id,
		Name:         name,
		OriginalName: original,
		Type:         contentType,
		Size:         size,
		URL:          fileURL(id),
		OwnerID:      ownerID,
		OwnerType:    ownerType,
		IsPublic:     isPublic,
		UploadedAt:   now,
		UploadedBy:   userID,
	}, nil
}

// discard removes files stored earlier in an upload that failed, so an
// upload either stores every file or none
func (h *FileHandler) discard(ctx context.Context, files []models.FileInfo) {
	for _, f := range files {
		if _, err := h.db.ExecContext(ctx, `DELETE FROM stored_file WHERE id = $1`, f.ID); err != nil {
			slog.Warn("failed to discard file record", "error", err, "file_id", f.ID)
		}
		path := filepath.Join(h.cfg.UploadDir, f.Name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to discard file", "error", err, "path", path)
		}
	}
}

// loadReadable loads a file the caller may read, writing 404 otherwise
func (h *FileHandler) loadReadable(w http.ResponseWriter, r *http.Request) (storedFile, bool) {
	f, err := loadFile(r.Context(), h.db, r.PathValue("id"))
	if err == nil {
		var ok bool
		ok, err = h.canRead(r, f)
		if err == nil && !ok {
			err = errNotFound
		}
	}
	if errors.Is(err, errNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "File not found")
		return storedFile{}, false
	}
	if err != nil {
		slog.Error("failed to load file", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return storedFile{}, false
	}
	return f, true
}

// Info handles GET /files/{id}
func (h *FileHandler) Info(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadReadable(w, r)
	if !ok {
		return
	}
	middleware.Success(w, http.StatusOK, "File fetched", f.info)
}

// Content handles GET /files/{id}/content
func (h *FileHandler) Content(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadReadable(w, r)
	if !ok {
		return
	}

	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("file missing from upload dir", "file_id", f.info.ID, "path", f.path)
		middleware.ErrorResponse(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		slog.Error("failed to open file", "error", err, "file_id", f.info.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to read file")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", f.info.Type)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", f.info.OriginalName))
	http.ServeContent(w, r, f.info.OriginalName, f.info.UploadedAt, file)
}

// Delete handles DELETE /files/{id}
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadReadable(w, r)
	if !ok {
		return
	}
	if f.info.UploadedBy != caller(r).UserID && !isAdmin(r) {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only the uploader can delete this file")
		return
	}

	if _, err := h.db.ExecContext(r.Context(), `DELETE FROM stored_file WHERE id = $1`, f.info.ID); err != nil {
		slog.Error("failed to delete file record", "error", err, "file_id", f.info.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to delete file")
		return
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove file from disk", "error", err, "path", f.path)
	}

	slog.Info("file deleted", "file_id", f.info.ID)

	middleware.Success(w, http.StatusOK, "File deleted", nil)
}
