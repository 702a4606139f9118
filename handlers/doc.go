// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the PK Arena API.

# Handler Types

Each handler is a struct with database and config dependencies:

  - AuthHandler: Registration, login, refresh tokens and profiles
  - TeamHandler: Teams, invite codes and membership
  - ProjectHandler: Project submissions, publishing and version history
  - CompetitionHandler: Competition lifecycle and progress
  - MatchHandler: Manual matches and round generation
  - VotingHandler: Judge tasks, vote submission and statistics
  - FileHandler: Uploads and access-checked downloads

Handlers that touch matches also take the *voting.Engine:

	matchHandler := handlers.NewMatchHandler(db, cfg, engine)

The caller's identity comes from the JWT claims placed on the request
context by middleware.RequireAuth.

# Judging Flow

	GET  /voting/pk-task → PKTask (locks one match for the judge)
	POST /voting/submit  → Submit (consumes the lock, returns nextPK)

A judge holds at most one lock. Asking again returns the same lock with
its remaining time. Submit answers 409 with a reason code when the lock
expired, the judge already voted, the lock is not theirs, or the round
ended.

# Rounds

GenerateRound pairs the newest published project of every team in a
random order. An odd team out sits the round out. A round that already
has live matches cannot be generated twice.

# Responses

Every JSON response goes through middleware.Success or
middleware.ErrorResponse, so clients always see the
{success, message, data} envelope.
*/
package handlers
