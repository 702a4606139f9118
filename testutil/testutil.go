// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielhkuo/pk-arena/auth"
	"github.com/danielhkuo/pk-arena/cliparse"
	"github.com/danielhkuo/pk-arena/db"
	"github.com/danielhkuo/pk-arena/models"
)

// SetupTestDB opens a fresh SQLite database file with the full schema.
// The file lives in t.TempDir and is removed with it.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.CreateSchema(conn); err != nil {
		conn.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	cfg := cliparse.Defaults()
	cfg.Port = 3001
	cfg.DatabaseURL = "file::memory:"
	cfg.JWTSecret = "test-jwt-secret"
	cfg.IPHashSalt = "test-ip-salt"
	cfg.JudgeInviteCode = "JUDGE-CODE"
	cfg.AdminInviteCode = "ADMIN-CODE"
	return cfg
}

// CreateTestUser inserts an active user with password "password123" and returns its ID
func CreateTestUser(t *testing.T, conn *sql.DB, name, role string) string {
	t.Helper()

	userID, _ := auth.GenerateID(12)
	hash, err := auth.HashPassword("password123")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	now := time.Now().UTC()
	_, err = conn.Exec(`
		INSERT INTO app_user (id, email, name, role, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, userID, name+"@example.com", name, role, hash, true, now)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return userID
}

// AuthHeader returns an Authorization header carrying a fresh access token
func AuthHeader(t *testing.T, cfg cliparse.Config, userID, role string) map[string]string {
	t.Helper()

	token, _, err := auth.IssueAccessToken(userID, role, cfg.JWTSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Failed to issue access token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// CreateTestTeam creates a team led by leaderID and returns the team ID
func CreateTestTeam(t *testing.T, conn *sql.DB, cfg cliparse.Config, name, leaderID string) string {
	t.Helper()

	teamID, _ := auth.GenerateID(12)
	now := time.Now().UTC()
	_, err := conn.Exec(`
		INSERT INTO team (id, name, is_public, max_members, invite_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, teamID, name, true, cfg.DefaultTeamMembers, auth.GenerateInviteCode(teamID, cfg.IPHashSalt), now)
	if err != nil {
		t.Fatalf("Failed to create test team: %v", err)
	}

	if leaderID != "" {
		AddTestMember(t, conn, teamID, leaderID, models.MemberLeader)
	}
	return teamID
}

// AddTestMember adds a user to a team
func AddTestMember(t *testing.T, conn *sql.DB, teamID, userID, role string) {
	t.Helper()

	memberID, _ := auth.GenerateID(12)
	_, err := conn.Exec(`
		INSERT INTO team_member (id, team_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`, memberID, teamID, userID, role, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to add team member: %v", err)
	}
}

// CreateTestProject creates a project for a team and returns its ID.
// Published projects are eligible for matches.
func CreateTestProject(t *testing.T, conn *sql.DB, teamID, title, category string, published bool) string {
	t.Helper()

	projectID, _ := auth.GenerateID(12)
	now := time.Now().UTC()
	status := models.ProjectDraft
	var publishedAt *time.Time
	if published {
		status = models.ProjectPublished
		publishedAt = &now
	}
	_, err := conn.Exec(`
		INSERT INTO project (id, team_id, title, description, category, status, is_published,
			version, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $9)
	`, projectID, teamID, title, "A project called "+title, category, status, published, publishedAt, now)
	if err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}

	return projectID
}

// CreateTestCompetition creates a competition running from an hour ago to a day from now
func CreateTestCompetition(t *testing.T, conn *sql.DB, name string) string {
	t.Helper()

	competitionID, _ := auth.GenerateID(12)
	now := time.Now().UTC()
	_, err := conn.Exec(`
		INSERT INTO competition (id, name, current_stage, total_rounds, max_teams, start_time, end_time, created_at, updated_at)
		VALUES ($1, $2, $3, 3, 16, $4, $5, $6, $6)
	`, competitionID, name, models.StageGroupStage, now.Add(-time.Hour), now.Add(24*time.Hour), now)
	if err != nil {
		t.Fatalf("Failed to create test competition: %v", err)
	}

	return competitionID
}

// MatchOptions customise CreateTestMatch
type MatchOptions struct {
	JudgeLimit int
	StartTime  time.Time
	EndTime    *time.Time
	CreatedAt  time.Time
	Status     string
}

// CreateTestMatch pairs two projects and returns the match ID.
// Zero option fields default to a pending match open since an hour ago.
func CreateTestMatch(t *testing.T, conn *sql.DB, competitionID, projectAID, projectBID string, opts MatchOptions) string {
	t.Helper()

	now := time.Now().UTC()
	if opts.JudgeLimit == 0 {
		opts.JudgeLimit = 3
	}
	if opts.StartTime.IsZero() {
		opts.StartTime = now.Add(-time.Hour)
	}
	if opts.CreatedAt.IsZero() {
		opts.CreatedAt = now
	}
	if opts.Status == "" {
		opts.Status = models.MatchPending
	}

	var teamAID, teamBID string
	if err := conn.QueryRow(`SELECT team_id FROM project WHERE id = $1`, projectAID).Scan(&teamAID); err != nil {
		t.Fatalf("Failed to look up project A: %v", err)
	}
	if err := conn.QueryRow(`SELECT team_id FROM project WHERE id = $1`, projectBID).Scan(&teamBID); err != nil {
		t.Fatalf("Failed to look up project B: %v", err)
	}

	var endTime *time.Time
	if opts.EndTime != nil {
		e := opts.EndTime.UTC()
		endTime = &e
	}

	matchID, _ := auth.GenerateID(12)
	_, err := conn.Exec(`
		INSERT INTO pk_match (id, competition_id, round, project_a_id, project_b_id, team_a_id, team_b_id,
			status, start_time, end_time, judge_limit, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, matchID, competitionID, projectAID, projectBID, teamAID, teamBID,
		opts.Status, opts.StartTime.UTC(), endTime, opts.JudgeLimit, opts.CreatedAt.UTC())
	if err != nil {
		t.Fatalf("Failed to create test match: %v", err)
	}

	return matchID
}

// Arena is a ready-made competition with two teams, one published project
// each, and a pending match between them
type Arena struct {
	CompetitionID string
	TeamAID       string
	TeamBID       string
	ProjectAID    string
	ProjectBID    string
	MatchID       string
}

// CreateTestArena seeds a minimal competition for voting tests
func CreateTestArena(t *testing.T, conn *sql.DB, cfg cliparse.Config, opts MatchOptions) Arena {
	t.Helper()

	var a Arena
	leaderA := CreateTestUser(t, conn, "leader-a-"+randomSuffix(), models.RoleParticipant)
	leaderB := CreateTestUser(t, conn, "leader-b-"+randomSuffix(), models.RoleParticipant)
	a.CompetitionID = CreateTestCompetition(t, conn, "Spring Hackathon")
	a.TeamAID = CreateTestTeam(t, conn, cfg, "Alpha", leaderA)
	a.TeamBID = CreateTestTeam(t, conn, cfg, "Beta", leaderB)
	a.ProjectAID = CreateTestProject(t, conn, a.TeamAID, "Alpha App", "AI", true)
	a.ProjectBID = CreateTestProject(t, conn, a.TeamBID, "Beta App", "Web", true)
	a.MatchID = CreateTestMatch(t, conn, a.CompetitionID, a.ProjectAID, a.ProjectBID, opts)
	return a
}

func randomSuffix() string {
	s, _ := auth.GenerateID(4)
	return s
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body any, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}

// DecodeData decodes the data field of a {success, message, data} envelope
func DecodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if !env.Success {
		t.Fatalf("Expected success envelope")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("Failed to decode envelope data: %v", err)
	}
}
