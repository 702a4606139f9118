// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the PK Arena API.

NewRouter returns the full handler tree:

	handler := router.NewRouter(db, cfg, engine)

Every API route lives under APIPrefix (/api/v1) and is wrapped with
logging and metrics. Roles are checked after the access token.

# Endpoints

Unprefixed:

	GET /health  - Liveness probe
	GET /metrics - Prometheus scrape
	GET /        - Banner

Auth:

	POST /auth/register, /auth/login, /auth/refresh, /auth/logout
	GET  /auth/profile, /users/me
	PUT  /auth/profile

Teams:

	GET    /teams, /teams/{id}
	POST   /teams                       (participant, admin)
	PUT    /teams/{id}
	DELETE /teams/{id}
	POST   /teams/{id}/invite
	POST   /teams/join/{inviteCode}
	DELETE /teams/{id}/members/{memberId}

Projects:

	GET    /projects, /projects/{id}, /projects/{id}/versions
	POST   /projects, /projects/{id}/publish, /projects/{id}/unpublish
	POST   /projects/{id}/versions/{versionId}/restore
	PUT    /projects/{id}
	DELETE /projects/{id}

Competitions and matches (writes are admin only):

	POST /competitions
	GET  /competitions/current
	PUT  /competitions/{id}/stage
	GET  /competitions/{id}/progress
	POST /competitions/{id}/rounds/{round}/generate
	POST /matches, /matches/{id}/cancel
	GET  /matches/{id}

Voting (judge, admin; leaderboard open to any user):

	GET  /voting/pk-task, /voting/records, /voting/stats
	GET  /voting/leaderboard, /voting/system-stats
	POST /voting/submit

Files:

	POST   /files/upload
	GET    /files/{id}, /files/{id}/content
	DELETE /files/{id}

The join and invite routes share one POST /teams/{id}/{action} pattern,
since ServeMux rejects the two as conflicting.
*/
package router
