// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens the database and creates the schema.

	conn, err := db.Open("sqlite", "file:pkarena.db")
	if err := db.CreateSchema(conn); err != nil {
		return err
	}

Queries use $N placeholders, which both drivers accept. SQLite connections
get foreign keys, a busy timeout, WAL and immediate transactions, so
concurrent writers queue instead of failing.

CreateSchema is idempotent.

# Tables

  - app_user, refresh_token
  - team, team_member
  - project, project_version
  - competition, pk_match
  - pk_lock, vote
  - stored_file

Timestamps are written in UTC.
*/
package db
