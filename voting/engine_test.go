// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package voting

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/pk-arena/auth"
	"github.com/danielhkuo/pk-arena/models"
	"github.com/danielhkuo/pk-arena/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func newFakeClock() clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Now().UTC().Truncate(time.Second))
}

const testLockTTL = 10 * time.Minute

func setup(t *testing.T, opts testutil.MatchOptions) (*sql.DB, *Engine, clockwork.FakeClock, testutil.Arena) {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	clock := newFakeClock()
	engine := NewEngine(conn, testLockTTL, WithClock(clock))
	arena := testutil.CreateTestArena(t, conn, cfg, opts)
	return conn, engine, clock, arena
}

func newJudge(t *testing.T, conn *sql.DB) string {
	t.Helper()
	suffix, _ := auth.GenerateID(4)
	return testutil.CreateTestUser(t, conn, "judge-"+suffix, models.RoleJudge)
}

func lockStatus(t *testing.T, conn *sql.DB, lockID string) string {
	t.Helper()
	var status string
	require.NoError(t, conn.QueryRow(`SELECT status FROM pk_lock WHERE id = $1`, lockID).Scan(&status))
	return status
}

func matchCounters(t *testing.T, conn *sql.DB, matchID string) (status string, total, a, b int) {
	t.Helper()
	err := conn.QueryRow(`
		SELECT status, total_votes, team_a_votes, team_b_votes FROM pk_match WHERE id = $1
	`, matchID).Scan(&status, &total, &a, &b)
	require.NoError(t, err)
	return status, total, a, b
}

func conflictReason(t *testing.T, err error) string {
	t.Helper()
	var ce *ConflictError
	require.True(t, errors.As(err, &ce), "expected ConflictError, got %v", err)
	return ce.Reason
}

func TestAcquireTask_IssuesLock(t *testing.T) {
	conn, engine, clock, arena := setup(t, testutil.MatchOptions{})
	judge := newJudge(t, conn)
	ctx := context.Background()

	task, err := engine.AcquireTask(ctx, judge, "")
	require.NoError(t, err)

	assert.True(t, task.Success)
	require.NotNil(t, task.PK)
	assert.Equal(t, arena.MatchID, task.PK.ID)
	assert.Equal(t, models.MatchActive, task.PK.Status)
	assert.Equal(t, arena.TeamAID, task.PK.TeamA.ID)
	assert.Equal(t, arena.ProjectBID, task.PK.ProjectB.ID)
	assert.Regexp(t, `^lock_[0-9a-f-]{36}$`, task.LockID)
	require.NotNil(t, task.ExpiresAt)
	assert.True(t, task.ExpiresAt.Equal(clock.Now().Add(testLockTTL)))
	assert.Equal(t, int(testLockTTL/time.Second), task.RemainingTime)

	assert.Equal(t, models.LockActive, lockStatus(t, conn, task.LockID))
	status, _, _, _ := matchCounters(t, conn, arena.MatchID)
	assert.Equal(t, models.MatchActive, status)
}

func TestAcquireTask_Idempotent(t *testing.T) {
	conn, engine, clock, _ := setup(t, testutil.MatchOptions{})
	judge := newJudge(t, conn)
	ctx := context.Background()

	first, err := engine.AcquireTask(ctx, judge, "")
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	second, err := engine.AcquireTask(ctx, judge, "")
	require.NoError(t, err)

	assert.Equal(t, first.LockID, second.LockID)
	assert.Equal(t, first.PK.ID, second.PK.ID)
	assert.Equal(t, 6*60, second.RemainingTime)

	var count int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM pk_lock WHERE judge_id = $1`, judge).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAcquireTask_ExpiredLockIsReplaced(t *testing.T) {
	conn, engine, clock, arena := setup(t, testutil.MatchOptions{})
	judge := newJudge(t, conn)
	ctx := context.Background()

	first, err := engine.AcquireTask(ctx, judge, "")
	require.NoError(t, err)

	clock.Advance(testLockTTL)
	second, err := engine.AcquireTask(ctx, judge, "")
	require.NoError(t, err)

	assert.NotEqual(t, first.LockID, second.LockID)
	assert.Equal(t, arena.MatchID, second.PK.ID)
	assert.Equal(t, models.LockExpired, lockStatus(t, conn, first.LockID))
	assert.Equal(t, models.LockActive, lockStatus(t, conn, second.LockID))
}

func TestAcquireTask_NoTask(t *testing.T) {
	ctx := context.Background()

	t.Run("no matches at all", func(t *testing.T) {
		conn := testutil.SetupTestDB(t)
		engine := NewEngine(conn, testLockTTL)
		_, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
		assert.ErrorIs(t, err, ErrNoTask)
	})

	t.Run("match not started yet", func(t *testing.T) {
		conn, engine, _, _ := setup(t, testutil.MatchOptions{StartTime: time.Now().Add(time.Hour)})
		_, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
		assert.ErrorIs(t, err, ErrNoTask)
	})

	t.Run("match window closed", func(t *testing.T) {
		ended := time.Now().Add(-time.Minute)
		conn, engine, _, _ := setup(t, testutil.MatchOptions{EndTime: &ended})
		_, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
		assert.ErrorIs(t, err, ErrNoTask)
	})

	t.Run("judge limit taken by other locks", func(t *testing.T) {
		conn, engine, _, _ := setup(t, testutil.MatchOptions{JudgeLimit: 1})
		_, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
		require.NoError(t, err)

		_, err = engine.AcquireTask(ctx, newJudge(t, conn), "")
		assert.ErrorIs(t, err, ErrNoTask)
	})

	t.Run("judge already voted", func(t *testing.T) {
		conn, engine, _, arena := setup(t, testutil.MatchOptions{})
		judge := newJudge(t, conn)
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)
		_, err = engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: task.LockID,
		}, "")
		require.NoError(t, err)

		_, err = engine.AcquireTask(ctx, judge, "")
		assert.ErrorIs(t, err, ErrNoTask)
	})
}

func TestAcquireTask_Ordering(t *testing.T) {
	conn, engine, _, arena := setup(t, testutil.MatchOptions{CreatedAt: time.Now().Add(-2 * time.Hour)})
	cfg := testutil.GetTestConfig()
	ctx := context.Background()

	leader := testutil.CreateTestUser(t, conn, "leader-c", models.RoleParticipant)
	teamC := testutil.CreateTestTeam(t, conn, cfg, "Gamma", leader)
	gamesProject := testutil.CreateTestProject(t, conn, teamC, "Gamma Game", "Games", true)
	newer := testutil.CreateTestMatch(t, conn, arena.CompetitionID, arena.ProjectAID, gamesProject, testutil.MatchOptions{})

	t.Run("oldest of equally loaded matches first", func(t *testing.T) {
		task, err := engine.PeekNext(ctx, "nobody", "")
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, arena.MatchID, task.ID)
	})

	t.Run("preferred category wins over age", func(t *testing.T) {
		task, err := engine.AcquireTask(ctx, newJudge(t, conn), "games")
		require.NoError(t, err)
		assert.Equal(t, newer, task.PK.ID)
	})

	t.Run("unknown category falls back to all matches", func(t *testing.T) {
		task, err := engine.AcquireTask(ctx, newJudge(t, conn), "Robotics")
		require.NoError(t, err)
		assert.Equal(t, arena.MatchID, task.PK.ID)
	})

	t.Run("least loaded match first", func(t *testing.T) {
		// both matches now carry one active lock; a third judge takes the older,
		// a fourth then finds it more loaded than the newer one
		task, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
		require.NoError(t, err)
		assert.Equal(t, arena.MatchID, task.PK.ID)

		task, err = engine.AcquireTask(ctx, newJudge(t, conn), "")
		require.NoError(t, err)
		assert.Equal(t, newer, task.PK.ID)
	})
}

func TestAcquireTask_ConcurrentJudgesRespectLimit(t *testing.T) {
	conn, engine, _, arena := setup(t, testutil.MatchOptions{JudgeLimit: 2})
	ctx := context.Background()

	judges := make([]string, 8)
	for i := range judges {
		judges[i] = newJudge(t, conn)
	}

	var mu sync.Mutex
	granted := 0
	var g errgroup.Group
	for _, judge := range judges {
		g.Go(func() error {
			_, err := engine.AcquireTask(ctx, judge, "")
			if errors.Is(err, ErrNoTask) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			granted++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 2, granted)
	var active int
	require.NoError(t, conn.QueryRow(`
		SELECT COUNT(*) FROM pk_lock WHERE pk_id = $1 AND status = $2
	`, arena.MatchID, models.LockActive).Scan(&active))
	assert.Equal(t, 2, active)
}

func TestAcquireTask_SameJudgeConcurrently(t *testing.T) {
	conn, engine, _, _ := setup(t, testutil.MatchOptions{})
	judge := newJudge(t, conn)
	ctx := context.Background()

	locks := make([]string, 5)
	var g errgroup.Group
	for i := range locks {
		g.Go(func() error {
			task, err := engine.AcquireTask(ctx, judge, "")
			if err != nil {
				return err
			}
			locks[i] = task.LockID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range locks[1:] {
		assert.Equal(t, locks[0], id)
	}
}

func TestSubmitVote_Success(t *testing.T) {
	conn, engine, clock, arena := setup(t, testutil.MatchOptions{JudgeLimit: 2})
	judge := newJudge(t, conn)
	ctx := context.Background()

	task, err := engine.AcquireTask(ctx, judge, "")
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	resp, err := engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
		PKID:         arena.MatchID,
		WinnerTeamID: arena.TeamBID,
		LockID:       task.LockID,
		Reason:       "Cleaner demo and better UX",
	}, "iphash")
	require.NoError(t, err)

	require.NotNil(t, resp.VoteRecord)
	rec := resp.VoteRecord
	assert.True(t, resp.Success)
	assert.Equal(t, arena.TeamBID, rec.WinnerTeamID)
	assert.Equal(t, arena.TeamAID, rec.LoserTeamID)
	assert.Equal(t, "Beta", rec.WinnerTeamName)
	assert.Equal(t, "Alpha", rec.LoserTeamName)
	assert.Equal(t, models.ConfidenceMedium, rec.Confidence)
	assert.Equal(t, 90, rec.MatchDuration)
	assert.Nil(t, rec.IsCorrectPrediction, "match still open")
	assert.True(t, rec.LockExpiresAt.Equal(*task.ExpiresAt))
	assert.Nil(t, resp.NextPK, "only match already voted")

	assert.Equal(t, models.LockConsumed, lockStatus(t, conn, task.LockID))
	status, total, a, b := matchCounters(t, conn, arena.MatchID)
	assert.Equal(t, models.MatchActive, status)
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)

	var ipHash, winnerProject string
	require.NoError(t, conn.QueryRow(`
		SELECT ip_hash, winner_project_id FROM vote WHERE id = $1
	`, rec.ID).Scan(&ipHash, &winnerProject))
	assert.Equal(t, "iphash", ipHash)
	assert.Equal(t, arena.ProjectBID, winnerProject)
}

func TestSubmitVote_CompletesMatchAtJudgeLimit(t *testing.T) {
	conn, engine, _, arena := setup(t, testutil.MatchOptions{JudgeLimit: 2})
	ctx := context.Background()

	var last models.VoteSubmissionResponse
	for _, winner := range []string{arena.TeamAID, arena.TeamAID} {
		judge := newJudge(t, conn)
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)
		last, err = engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: winner, LockID: task.LockID, Confidence: models.ConfidenceHigh,
		}, "")
		require.NoError(t, err)
	}

	status, total, a, b := matchCounters(t, conn, arena.MatchID)
	assert.Equal(t, models.MatchCompleted, status)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, a)
	assert.Equal(t, 0, b)

	require.NotNil(t, last.VoteRecord.IsCorrectPrediction)
	assert.True(t, *last.VoteRecord.IsCorrectPrediction)

	_, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestSubmitVote_NextPK(t *testing.T) {
	conn, engine, _, arena := setup(t, testutil.MatchOptions{})
	cfg := testutil.GetTestConfig()
	ctx := context.Background()

	leader := testutil.CreateTestUser(t, conn, "leader-c", models.RoleParticipant)
	teamC := testutil.CreateTestTeam(t, conn, cfg, "Gamma", leader)
	projectC := testutil.CreateTestProject(t, conn, teamC, "Gamma App", "AI", true)
	other := testutil.CreateTestMatch(t, conn, arena.CompetitionID, arena.ProjectBID, projectC,
		testutil.MatchOptions{CreatedAt: time.Now().Add(time.Minute)})

	judge := newJudge(t, conn)
	task, err := engine.AcquireTask(ctx, judge, "")
	require.NoError(t, err)
	require.Equal(t, arena.MatchID, task.PK.ID)

	resp, err := engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
		PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: task.LockID,
	}, "")
	require.NoError(t, err)

	require.NotNil(t, resp.NextPK)
	assert.Equal(t, other, resp.NextPK.ID)

	// peeking takes no lock
	var locks int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM pk_lock WHERE pk_id = $1`, other).Scan(&locks))
	assert.Equal(t, 0, locks)
}

func TestSubmitVote_Conflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown lock", func(t *testing.T) {
		conn, engine, _, arena := setup(t, testutil.MatchOptions{})
		_, err := engine.SubmitVote(ctx, newJudge(t, conn), models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: "lock_missing",
		}, "")
		assert.Equal(t, models.ConflictInvalidLock, conflictReason(t, err))
	})

	t.Run("lock held by another judge", func(t *testing.T) {
		conn, engine, _, arena := setup(t, testutil.MatchOptions{})
		task, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
		require.NoError(t, err)

		_, err = engine.SubmitVote(ctx, newJudge(t, conn), models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: task.LockID,
		}, "")
		assert.Equal(t, models.ConflictInvalidLock, conflictReason(t, err))
	})

	t.Run("lock for a different match", func(t *testing.T) {
		conn, engine, _, arena := setup(t, testutil.MatchOptions{})
		judge := newJudge(t, conn)
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)

		_, err = engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
			PKID: "some-other-match", WinnerTeamID: arena.TeamAID, LockID: task.LockID,
		}, "")
		assert.Equal(t, models.ConflictInvalidLock, conflictReason(t, err))
	})

	t.Run("second submission with the same lock", func(t *testing.T) {
		conn, engine, _, arena := setup(t, testutil.MatchOptions{})
		judge := newJudge(t, conn)
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)
		req := models.VoteSubmissionRequest{PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: task.LockID}

		_, err = engine.SubmitVote(ctx, judge, req, "")
		require.NoError(t, err)
		_, err = engine.SubmitVote(ctx, judge, req, "")
		assert.Equal(t, models.ConflictDuplicate, conflictReason(t, err))

		_, total, _, _ := matchCounters(t, conn, arena.MatchID)
		assert.Equal(t, 1, total)
	})

	t.Run("lock expired", func(t *testing.T) {
		conn, engine, clock, arena := setup(t, testutil.MatchOptions{})
		judge := newJudge(t, conn)
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)

		clock.Advance(testLockTTL + time.Second)
		_, err = engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: task.LockID,
		}, "")
		assert.Equal(t, models.ConflictExpired, conflictReason(t, err))
		assert.Equal(t, models.LockExpired, lockStatus(t, conn, task.LockID))
	})

	t.Run("lock expires exactly at its deadline", func(t *testing.T) {
		conn, engine, clock, arena := setup(t, testutil.MatchOptions{})
		judge := newJudge(t, conn)
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)

		clock.Advance(testLockTTL)
		_, err = engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: task.LockID,
		}, "")
		assert.Equal(t, models.ConflictExpired, conflictReason(t, err))
	})

	t.Run("match cancelled while judging", func(t *testing.T) {
		conn, engine, _, arena := setup(t, testutil.MatchOptions{})
		judge := newJudge(t, conn)
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)

		_, err = engine.CancelMatch(ctx, arena.MatchID)
		require.NoError(t, err)
		assert.Equal(t, models.LockReleased, lockStatus(t, conn, task.LockID))

		_, err = engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: task.LockID,
		}, "")
		assert.Equal(t, models.ConflictRoundEnded, conflictReason(t, err))
	})

	t.Run("match window closed while judging", func(t *testing.T) {
		end := time.Now().Add(2 * time.Minute)
		conn, engine, clock, arena := setup(t, testutil.MatchOptions{EndTime: &end})
		judge := newJudge(t, conn)
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)

		clock.Advance(5 * time.Minute)
		_, err = engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: task.LockID,
		}, "")
		assert.Equal(t, models.ConflictRoundEnded, conflictReason(t, err))
	})
}

func TestSubmitVote_Validation(t *testing.T) {
	conn, engine, _, arena := setup(t, testutil.MatchOptions{})
	judge := newJudge(t, conn)
	ctx := context.Background()

	long := make([]rune, MaxReasonLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name  string
		req   models.VoteSubmissionRequest
		field string
	}{
		{"missing pkId", models.VoteSubmissionRequest{WinnerTeamID: "t", LockID: "l"}, "pkId"},
		{"missing winner", models.VoteSubmissionRequest{PKID: "p", LockID: "l"}, "winnerTeamId"},
		{"missing lock", models.VoteSubmissionRequest{PKID: "p", WinnerTeamID: "t"}, "lockId"},
		{"bad confidence", models.VoteSubmissionRequest{PKID: "p", WinnerTeamID: "t", LockID: "l", Confidence: "certain"}, "confidence"},
		{"reason too long", models.VoteSubmissionRequest{PKID: "p", WinnerTeamID: "t", LockID: "l", Reason: string(long)}, "reason"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.SubmitVote(ctx, judge, tt.req, "")
			var ive *InvalidVoteError
			require.True(t, errors.As(err, &ive), "expected InvalidVoteError, got %v", err)
			assert.Equal(t, tt.field, ive.Errors[0].Field)
		})
	}

	t.Run("winner outside the match", func(t *testing.T) {
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)

		_, err = engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: "not-a-team", LockID: task.LockID,
		}, "")
		var ive *InvalidVoteError
		require.True(t, errors.As(err, &ive))
		assert.Equal(t, "winnerTeamId", ive.Errors[0].Field)
		assert.Equal(t, models.LockActive, lockStatus(t, conn, task.LockID), "lock survives a rejected input")
	})
}

func TestSweepExpired(t *testing.T) {
	conn, engine, clock, _ := setup(t, testutil.MatchOptions{})
	ctx := context.Background()

	task, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
	require.NoError(t, err)

	n, err := engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(testLockTTL + time.Minute)
	n, err = engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.LockExpired, lockStatus(t, conn, task.LockID))
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	conn, engine, clock, _ := setup(t, testutil.MatchOptions{})
	task, err := engine.AcquireTask(context.Background(), newJudge(t, conn), "")
	require.NoError(t, err)
	clock.Advance(testLockTTL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.RunSweeper(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		var status string
		err := conn.QueryRow(`SELECT status FROM pk_lock WHERE id = $1`, task.LockID).Scan(&status)
		return err == nil && status == models.LockExpired
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestCancelMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("releases locks of an open match", func(t *testing.T) {
		conn, engine, _, arena := setup(t, testutil.MatchOptions{})
		task, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
		require.NoError(t, err)

		match, err := engine.CancelMatch(ctx, arena.MatchID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchCancelled, match.Status)
		assert.Equal(t, models.LockReleased, lockStatus(t, conn, task.LockID))

		_, err = engine.AcquireTask(ctx, newJudge(t, conn), "")
		assert.ErrorIs(t, err, ErrNoTask)
	})

	t.Run("completed match cannot be cancelled", func(t *testing.T) {
		conn, engine, _, arena := setup(t, testutil.MatchOptions{JudgeLimit: 1})
		judge := newJudge(t, conn)
		task, err := engine.AcquireTask(ctx, judge, "")
		require.NoError(t, err)
		_, err = engine.SubmitVote(ctx, judge, models.VoteSubmissionRequest{
			PKID: arena.MatchID, WinnerTeamID: arena.TeamAID, LockID: task.LockID,
		}, "")
		require.NoError(t, err)

		_, err = engine.CancelMatch(ctx, arena.MatchID)
		assert.Equal(t, models.ConflictRoundEnded, conflictReason(t, err))
	})

	t.Run("unknown match", func(t *testing.T) {
		conn := testutil.SetupTestDB(t)
		engine := NewEngine(conn, testLockTTL)
		_, err := engine.CancelMatch(ctx, "missing")
		assert.ErrorIs(t, err, ErrMatchNotFound)
	})
}

func TestReleaseMatchLocks(t *testing.T) {
	conn, engine, _, arena := setup(t, testutil.MatchOptions{})
	ctx := context.Background()

	for range 2 {
		_, err := engine.AcquireTask(ctx, newJudge(t, conn), "")
		require.NoError(t, err)
	}

	n, err := engine.ReleaseMatchLocks(ctx, arena.MatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = engine.ReleaseMatchLocks(ctx, arena.MatchID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
