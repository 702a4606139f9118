// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the PK Arena API server.

PK Arena runs head-to-head ("PK") judging for hackathons. Teams submit
projects, admins pair them into matches round by round, and judges pull
one match at a time under a short-lived lock and vote for the better side.
A live leaderboard ranks every project from the vote stream.

# Starting the Server

SQLite works out of the box:

	PKARENA_JWT_SECRET=dev PKARENA_IP_HASH_SALT=dev go run .

Or against PostgreSQL with flags:

	go run . -p 3001 -t postgres -d "postgres://..."

A .env file in the working directory is loaded first if present.

# Configuration

Required settings:

  - PKARENA_JWT_SECRET (--jwt-secret): HMAC key for access tokens
  - PKARENA_IP_HASH_SALT (--ip-salt): Salt for hashing voter IPs and refresh tokens

Optional settings:

  - PORT (-p): Server port (default: 3001)
  - DATABASE_URL (-d): Connection string (default: pkarena.db in the working directory)
  - PKARENA_DATABASE_TYPE (-t): sqlite or postgres
  - PKARENA_CONFIG (-c): YAML file with any of the above

See package cliparse for the full list.

# Architecture

  - handlers: HTTP request handlers (auth, teams, projects, competitions, matches, voting, files)
  - voting: Lock issuing, vote submission and the expiry sweeper
  - ranking: Elo leaderboard and judge statistics
  - router: Route definitions under /api/v1
  - middleware: CORS, request IDs, logging, metrics, JWT auth, JSON helpers
  - metrics: Prometheus collectors
  - models: Request/response types
  - auth: Passwords, JWTs, IDs and hashes
  - db: Connection setup and schema creation
  - cliparse: Configuration parsing

The HTTP server and the lock sweeper share one errgroup and stop together
on SIGINT or SIGTERM.
*/
package main
