// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to the configured database and verifies the connection.
// dbType is "sqlite" (modernc, pure Go) or "postgres" (lib/pq).
func Open(dbType, url string) (*sql.DB, error) {
	driver := dbType
	switch dbType {
	case "sqlite":
		url = sqliteDSN(url)
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	conn, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// sqliteDSN adds the pragmas the store relies on unless the caller set them.
// Immediate transactions make concurrent writers queue on busy_timeout
// instead of failing on lock upgrade.
func sqliteDSN(url string) string {
	params := []struct{ key, param string }{
		{"foreign_keys", "_pragma=foreign_keys(1)"},
		{"busy_timeout", "_pragma=busy_timeout(5000)"},
		{"journal_mode", "_pragma=journal_mode(WAL)"},
		{"_txlock", "_txlock=immediate"},
	}
	for _, p := range params {
		if strings.Contains(url, p.key) {
			continue
		}
		if strings.Contains(url, "?") {
			url += "&" + p.param
		} else {
			url += "?" + p.param
		}
	}
	return url
}

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Portable between SQLite and PostgreSQL: no NOW(), no JSONB, no SERIAL.
const schema = `
-- Users
CREATE TABLE IF NOT EXISTS app_user (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    avatar TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL CHECK (role IN ('anonymous', 'participant', 'judge', 'admin')),
    password_hash TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    last_login_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_app_user_role ON app_user(role);

-- Refresh tokens (stored as HMAC digests)
CREATE TABLE IF NOT EXISTS refresh_token (
    token_hash TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES app_user(id) ON DELETE CASCADE,
    expires_at TIMESTAMP NOT NULL,
    revoked_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_refresh_token_user_id ON refresh_token(user_id);

-- Teams
CREATE TABLE IF NOT EXISTS team (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    logo TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    is_public BOOLEAN NOT NULL DEFAULT TRUE,
    max_members INTEGER NOT NULL CHECK (max_members > 0),
    invite_code TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- A user belongs to at most one team
CREATE TABLE IF NOT EXISTS team_member (
    id TEXT PRIMARY KEY,
    team_id TEXT NOT NULL REFERENCES team(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL UNIQUE REFERENCES app_user(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('leader', 'member')),
    skills TEXT NOT NULL DEFAULT '',
    joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_team_member_team_id ON team_member(team_id);

-- Projects
CREATE TABLE IF NOT EXISTS project (
    id TEXT PRIMARY KEY,
    team_id TEXT NOT NULL REFERENCES team(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    demo_video_url TEXT NOT NULL DEFAULT '',
    experience_url TEXT NOT NULL DEFAULT '',
    github_url TEXT NOT NULL DEFAULT '',
    tech_stack TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'submitted', 'published', 'archived')),
    is_published BOOLEAN NOT NULL DEFAULT FALSE,
    version INTEGER NOT NULL DEFAULT 1,
    submitted_at TIMESTAMP,
    published_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_project_team_id ON project(team_id);
CREATE INDEX IF NOT EXISTS idx_project_category ON project(category);

-- Project versions (full snapshots so any version can be restored)
CREATE TABLE IF NOT EXISTS project_version (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES project(id) ON DELETE CASCADE,
    version INTEGER NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    demo_video_url TEXT NOT NULL DEFAULT '',
    experience_url TEXT NOT NULL DEFAULT '',
    github_url TEXT NOT NULL DEFAULT '',
    tech_stack TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    changes TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (project_id, version)
);

-- Competitions
CREATE TABLE IF NOT EXISTS competition (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    current_stage TEXT NOT NULL DEFAULT 'registration' CHECK (current_stage IN ('registration', 'group_stage', 'knockout', 'semi_final', 'final', 'completed')),
    total_rounds INTEGER NOT NULL DEFAULT 1,
    max_teams INTEGER NOT NULL DEFAULT 0,
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP NOT NULL,
    estimated_end_time TIMESTAMP,
    registration_deadline TIMESTAMP,
    prize_pool REAL,
    rules TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- PK matches
CREATE TABLE IF NOT EXISTS pk_match (
    id TEXT PRIMARY KEY,
    competition_id TEXT NOT NULL REFERENCES competition(id) ON DELETE CASCADE,
    round INTEGER NOT NULL,
    project_a_id TEXT NOT NULL REFERENCES project(id),
    project_b_id TEXT NOT NULL REFERENCES project(id),
    team_a_id TEXT NOT NULL REFERENCES team(id),
    team_b_id TEXT NOT NULL REFERENCES team(id),
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'active', 'completed', 'cancelled')),
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP,
    total_votes INTEGER NOT NULL DEFAULT 0,
    team_a_votes INTEGER NOT NULL DEFAULT 0,
    team_b_votes INTEGER NOT NULL DEFAULT 0,
    judge_limit INTEGER NOT NULL CHECK (judge_limit > 0),
    completed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (project_a_id <> project_b_id),
    CHECK (team_a_votes + team_b_votes = total_votes),
    CHECK (total_votes <= judge_limit)
);

CREATE INDEX IF NOT EXISTS idx_pk_match_status ON pk_match(status);
CREATE INDEX IF NOT EXISTS idx_pk_match_competition ON pk_match(competition_id, round);

-- Voting locks
CREATE TABLE IF NOT EXISTS pk_lock (
    id TEXT PRIMARY KEY,
    pk_id TEXT NOT NULL REFERENCES pk_match(id) ON DELETE CASCADE,
    judge_id TEXT NOT NULL REFERENCES app_user(id) ON DELETE CASCADE,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'consumed', 'expired', 'released')),
    issued_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    closed_at TIMESTAMP
);

-- At most one active lock per judge
CREATE UNIQUE INDEX IF NOT EXISTS idx_pk_lock_active_judge ON pk_lock(judge_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_pk_lock_pk_status ON pk_lock(pk_id, status);

-- Votes
CREATE TABLE IF NOT EXISTS vote (
    id TEXT PRIMARY KEY,
    pk_id TEXT NOT NULL REFERENCES pk_match(id) ON DELETE CASCADE,
    judge_id TEXT NOT NULL REFERENCES app_user(id) ON DELETE CASCADE,
    lock_id TEXT NOT NULL REFERENCES pk_lock(id),
    winner_team_id TEXT NOT NULL,
    loser_team_id TEXT NOT NULL,
    winner_project_id TEXT NOT NULL,
    loser_project_id TEXT NOT NULL,
    confidence TEXT NOT NULL DEFAULT 'medium' CHECK (confidence IN ('high', 'medium', 'low')),
    reason TEXT NOT NULL DEFAULT '',
    match_duration INTEGER NOT NULL DEFAULT 0,
    ip_hash TEXT NOT NULL DEFAULT '',
    voted_at TIMESTAMP NOT NULL,
    lock_expires_at TIMESTAMP NOT NULL,
    UNIQUE (pk_id, judge_id)
);

CREATE INDEX IF NOT EXISTS idx_vote_judge_id ON vote(judge_id);

-- Uploaded files
CREATE TABLE IF NOT EXISTS stored_file (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    original_name TEXT NOT NULL,
    content_type TEXT NOT NULL,
    size BIGINT NOT NULL,
    path TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    owner_type TEXT NOT NULL CHECK (owner_type IN ('user', 'team', 'project')),
    is_public BOOLEAN NOT NULL DEFAULT FALSE,
    uploaded_by TEXT NOT NULL REFERENCES app_user(id) ON DELETE CASCADE,
    uploaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_stored_file_owner ON stored_file(owner_type, owner_id);
`
