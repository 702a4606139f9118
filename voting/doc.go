// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package voting hands matches to judges and records their votes.

# Locks

AcquireTask gives a judge one match under a lock that expires after the
configured TTL. Calls for the same judge are serialized in process and run
in a single transaction. A match is never offered to more judges than its
judge limit, counting both votes and live locks.

	task, err := engine.AcquireTask(ctx, judgeID, "web")
	if errors.Is(err, voting.ErrNoTask) {
		// nothing to judge right now
	}

# Votes

SubmitVote consumes the lock. Rejections are *ConflictError values whose
Reason is one of models.ConflictInvalidLock, ConflictDuplicate,
ConflictRoundEnded or ConflictExpired, checked in that order. Bad input is
an *InvalidVoteError.

# Expiry

RunSweeper expires stale locks on a gocron schedule until its context is
cancelled. Expired locks are also caught lazily by AcquireTask and
SubmitVote.
*/
package voting
