// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/danielhkuo/pk-arena/cliparse"
	"github.com/danielhkuo/pk-arena/handlers"
	"github.com/danielhkuo/pk-arena/metrics"
	"github.com/danielhkuo/pk-arena/middleware"
	"github.com/danielhkuo/pk-arena/models"
	"github.com/danielhkuo/pk-arena/voting"
)

// APIPrefix is the mount point of every API route
const APIPrefix = "/api/v1"

var (
	anyRole      []string
	adminOnly    = []string{models.RoleAdmin}
	judges       = []string{models.RoleJudge, models.RoleAdmin}
	participants = []string{models.RoleParticipant, models.RoleAdmin}
)

type routes struct {
	mux    *http.ServeMux
	secret string
}

// public mounts an unauthenticated API route
func (rt routes) public(pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	full := method + " " + APIPrefix + path
	rt.mux.HandleFunc(full, middleware.WithLogging(middleware.WithMetrics(full, h)))
}

// authed mounts an API route that needs a valid access token and, unless
// roles is nil, one of the listed roles
func (rt routes) authed(pattern string, roles []string, h http.HandlerFunc) {
	if roles != nil {
		h = middleware.RequireRole(roles, h)
	}
	rt.public(pattern, middleware.RequireAuth(rt.secret, h))
}

// teamActions serves POST /teams/join/{inviteCode} and POST /teams/{id}/invite,
// which ServeMux cannot register side by side since both match
// /teams/join/invite
func teamActions(h *handlers.TeamHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.PathValue("id") == "join":
			r.SetPathValue("inviteCode", r.PathValue("action"))
			h.Join(w, r)
		case r.PathValue("action") == "invite":
			h.Invite(w, r)
		default:
			middleware.ErrorResponse(w, http.StatusNotFound, "Not found")
		}
	}
}

// NewRouter wires every handler onto a mux and wraps it with CORS and
// request IDs
func NewRouter(db *sql.DB, cfg cliparse.Config, engine *voting.Engine) http.Handler {
	mux := http.NewServeMux()
	rt := routes{mux: mux, secret: cfg.JWTSecret}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(db, cfg)
	teamHandler := handlers.NewTeamHandler(db, cfg)
	projectHandler := handlers.NewProjectHandler(db, cfg)
	competitionHandler := handlers.NewCompetitionHandler(db, cfg)
	matchHandler := handlers.NewMatchHandler(db, cfg, engine)
	votingHandler := handlers.NewVotingHandler(db, cfg, engine)
	fileHandler := handlers.NewFileHandler(db, cfg)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metrics.Default().Handler())

	// Authentication
	rt.public("POST /auth/register", authHandler.Register)
	rt.public("POST /auth/login", authHandler.Login)
	rt.public("POST /auth/refresh", authHandler.Refresh)
	rt.authed("POST /auth/logout", anyRole, authHandler.Logout)
	rt.authed("GET /auth/profile", anyRole, authHandler.GetProfile)
	rt.authed("PUT /auth/profile", anyRole, authHandler.UpdateProfile)
	rt.authed("GET /users/me", anyRole, authHandler.Me)

	// Teams
	rt.authed("GET /teams", anyRole, teamHandler.List)
	rt.authed("POST /teams", participants, teamHandler.Create)
	rt.authed("GET /teams/{id}", anyRole, teamHandler.Get)
	rt.authed("PUT /teams/{id}", anyRole, teamHandler.Update)
	rt.authed("DELETE /teams/{id}", anyRole, teamHandler.Delete)
	rt.authed("POST /teams/{id}/{action}", anyRole, teamActions(teamHandler))
	rt.authed("DELETE /teams/{id}/members/{memberId}", anyRole, teamHandler.RemoveMember)

	// Projects
	rt.authed("GET /projects", anyRole, projectHandler.List)
	rt.authed("POST /projects", anyRole, projectHandler.Create)
	rt.authed("GET /projects/{id}", anyRole, projectHandler.Get)
	rt.authed("PUT /projects/{id}", anyRole, projectHandler.Update)
	rt.authed("DELETE /projects/{id}", anyRole, projectHandler.Delete)
	rt.authed("POST /projects/{id}/publish", anyRole, projectHandler.Publish)
	rt.authed("POST /projects/{id}/unpublish", anyRole, projectHandler.Unpublish)
	rt.authed("GET /projects/{id}/versions", anyRole, projectHandler.Versions)
	rt.authed("POST /projects/{id}/versions/{versionId}/restore", anyRole, projectHandler.Restore)

	// Competitions and matches
	rt.authed("POST /competitions", adminOnly, competitionHandler.Create)
	rt.authed("GET /competitions/current", anyRole, competitionHandler.Current)
	rt.authed("PUT /competitions/{id}/stage", adminOnly, competitionHandler.UpdateStage)
	rt.authed("GET /competitions/{id}/progress", anyRole, competitionHandler.Progress)
	rt.authed("POST /competitions/{id}/rounds/{round}/generate", adminOnly, matchHandler.GenerateRound)
	rt.authed("POST /matches", adminOnly, matchHandler.Create)
	rt.authed("GET /matches/{id}", anyRole, matchHandler.Get)
	rt.authed("POST /matches/{id}/cancel", adminOnly, matchHandler.Cancel)

	// Voting
	rt.authed("GET /voting/pk-task", judges, votingHandler.PKTask)
	rt.authed("POST /voting/submit", judges, votingHandler.Submit)
	rt.authed("GET /voting/records", judges, votingHandler.Records)
	rt.authed("GET /voting/stats", judges, votingHandler.Stats)
	rt.authed("GET /voting/leaderboard", anyRole, votingHandler.Leaderboard)
	rt.authed("GET /voting/system-stats", judges, votingHandler.SystemStats)

	// Files
	rt.authed("POST /files/upload", anyRole, fileHandler.Upload)
	rt.authed("GET /files/{id}", anyRole, fileHandler.Info)
	rt.authed("GET /files/{id}/content", anyRole, fileHandler.Content)
	rt.authed("DELETE /files/{id}", anyRole, fileHandler.Delete)

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pk-arena API v1"))
	})

	return middleware.WithRequestID(middleware.CORS(cfg.AllowedOrigins)(mux))
}
