// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package voting

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/danielhkuo/pk-arena/metrics"
	"github.com/danielhkuo/pk-arena/models"
	"github.com/danielhkuo/pk-arena/ranking"
)

// MaxReasonLength bounds the free-text reason on a vote, in characters
const MaxReasonLength = 500

// ErrNoTask is returned when no match can be assigned to the judge
var ErrNoTask = errors.New("no PK task available")

// ConflictError rejects a vote that lost a race with time or another vote.
// Reason is one of the models.Conflict* values.
type ConflictError struct {
	Reason  string
	Message string
}

func (e *ConflictError) Error() string {
	return e.Reason + ": " + e.Message
}

func conflict(reason, message string) *ConflictError {
	return &ConflictError{Reason: reason, Message: message}
}

// InvalidVoteError lists every field of a vote submission that failed validation
type InvalidVoteError struct {
	Errors []models.ValidationError
}

func (e *InvalidVoteError) Error() string {
	if len(e.Errors) == 0 {
		return "invalid vote"
	}
	return "invalid vote: " + e.Errors[0].Field + " " + e.Errors[0].Message
}

// Engine hands out PK locks and records votes against them
type Engine struct {
	db      *sql.DB
	lockTTL time.Duration
	clk     clockwork.Clock

	// one mutex per judge keeps AcquireTask idempotent under double-clicks
	judges cmap.ConcurrentMap[string, *sync.Mutex]
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the wall clock, for tests
func WithClock(clk clockwork.Clock) Option {
	return func(e *Engine) {
		if clk != nil {
			e.clk = clk
		}
	}
}

func NewEngine(db *sql.DB, lockTTL time.Duration, opts ...Option) *Engine {
	e := &Engine{
		db:      db,
		lockTTL: lockTTL,
		clk:     clockwork.NewRealClock(),
		judges:  cmap.New[*sync.Mutex](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.clk.Now().UTC()
}

func (e *Engine) lockJudge(judgeID string) func() {
	mu := e.judges.Upsert(judgeID, nil, func(exist bool, inMap, _ *sync.Mutex) *sync.Mutex {
		if exist {
			return inMap
		}
		return &sync.Mutex{}
	})
	mu.Lock()
	return mu.Unlock
}

// AcquireTask returns the judge's current lock if one is still live,
// otherwise locks the least-voted open match the judge has not voted on.
func (e *Engine) AcquireTask(ctx context.Context, judgeID, preferredCategory string) (models.PKTaskResponse, error) {
	unlock := e.lockJudge(judgeID)
	defer unlock()

	now := e.clock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PKTaskResponse{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	expired, err := expireStale(ctx, tx, now)
	if err != nil {
		return models.PKTaskResponse{}, err
	}

	// Idempotent re-fetch of a live lock
	var lockID, matchID string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT id, pk_id, expires_at FROM pk_lock
		WHERE judge_id = $1 AND status = $2
	`, judgeID, models.LockActive).Scan(&lockID, &matchID, &expiresAt)
	switch {
	case err == nil:
		match, err := loadMatch(ctx, tx, matchID)
		if err != nil {
			return models.PKTaskResponse{}, err
		}
		if err := tx.Commit(); err != nil {
			return models.PKTaskResponse{}, fmt.Errorf("failed to commit: %w", err)
		}
		metrics.RecordLocksExpired(expired)
		return taskResponse(match, lockID, expiresAt, now), nil
	case !errors.Is(err, sql.ErrNoRows):
		return models.PKTaskResponse{}, fmt.Errorf("failed to query active lock: %w", err)
	}

	candidates, err := findCandidates(ctx, tx, judgeID, preferredCategory, now)
	if err != nil {
		return models.PKTaskResponse{}, err
	}

	matchID = ""
	for _, c := range candidates {
		// Conditional update re-checks capacity under the row lock
		res, err := tx.ExecContext(ctx, `
			UPDATE pk_match SET status = $1, updated_at = $2
			WHERE id = $3 AND status IN ($4, $1)
			AND total_votes + (SELECT COUNT(*) FROM pk_lock l WHERE l.pk_id = $3 AND l.status = $5) < judge_limit
		`, models.MatchActive, now, c.id, models.MatchPending, models.LockActive)
		if err != nil {
			return models.PKTaskResponse{}, fmt.Errorf("failed to claim match: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			matchID = c.id
			break
		}
	}
	if matchID == "" {
		if err := tx.Commit(); err != nil {
			return models.PKTaskResponse{}, fmt.Errorf("failed to commit: %w", err)
		}
		metrics.RecordLocksExpired(expired)
		return models.PKTaskResponse{}, ErrNoTask
	}

	lockID = "lock_" + uuid.NewString()
	expiresAt = now.Add(e.lockTTL)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pk_lock (id, pk_id, judge_id, status, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, lockID, matchID, judgeID, models.LockActive, now, expiresAt)
	if err != nil {
		return models.PKTaskResponse{}, fmt.Errorf("failed to insert lock: %w", err)
	}

	match, err := loadMatch(ctx, tx, matchID)
	if err != nil {
		return models.PKTaskResponse{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.PKTaskResponse{}, fmt.Errorf("failed to commit: %w", err)
	}

	metrics.RecordLocksExpired(expired)
	metrics.RecordLockIssued()
	slog.Info("pk lock issued", "judge_id", judgeID, "pk_id", matchID, "lock_id", lockID, "expires_at", expiresAt)

	return taskResponse(match, lockID, expiresAt, now), nil
}

func taskResponse(match models.PKMatch, lockID string, expiresAt, now time.Time) models.PKTaskResponse {
	return models.PKTaskResponse{
		Success:       true,
		PK:            &match,
		LockID:        lockID,
		ExpiresAt:     &expiresAt,
		RemainingTime: int(expiresAt.Sub(now) / time.Second),
	}
}

// PeekNext returns the match AcquireTask would assign next, without locking it.
// A nil match means nothing is available.
func (e *Engine) PeekNext(ctx context.Context, judgeID, preferredCategory string) (*models.PKMatch, error) {
	candidates, err := findCandidates(ctx, e.db, judgeID, preferredCategory, e.clock())
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	match, err := loadMatch(ctx, e.db, candidates[0].id)
	if err != nil {
		return nil, err
	}
	return &match, nil
}

type candidate struct {
	id         string
	load       int
	createdAt  time.Time
	categories [2]string
}

// findCandidates lists open matches the judge may still vote on, best first
func findCandidates(ctx context.Context, q querier, judgeID, preferredCategory string, now time.Time) ([]candidate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT m.id, m.start_time, m.end_time, m.created_at, pa.category, pb.category,
			m.total_votes + (SELECT COUNT(*) FROM pk_lock l WHERE l.pk_id = m.id AND l.status = $1),
			m.judge_limit
		FROM pk_match m
		JOIN project pa ON pa.id = m.project_a_id
		JOIN project pb ON pb.id = m.project_b_id
		WHERE m.status IN ($2, $3)
		AND NOT EXISTS (SELECT 1 FROM vote v WHERE v.pk_id = m.id AND v.judge_id = $4)
	`, models.LockActive, models.MatchPending, models.MatchActive, judgeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate matches: %w", err)
	}
	defer rows.Close()

	var all []candidate
	for rows.Next() {
		var (
			c          candidate
			startTime  time.Time
			endTime    sql.NullTime
			judgeLimit int
		)
		if err := rows.Scan(&c.id, &startTime, &endTime, &c.createdAt,
			&c.categories[0], &c.categories[1], &c.load, &judgeLimit); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if startTime.After(now) {
			continue
		}
		if endTime.Valid && !endTime.Time.After(now) {
			continue
		}
		if c.load >= judgeLimit {
			continue
		}
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}

	if preferredCategory != "" {
		var preferred []candidate
		for _, c := range all {
			if strings.EqualFold(c.categories[0], preferredCategory) || strings.EqualFold(c.categories[1], preferredCategory) {
				preferred = append(preferred, c)
			}
		}
		if len(preferred) > 0 {
			all = preferred
		}
	}

	slices.SortFunc(all, func(a, b candidate) int {
		if c := cmp.Compare(a.load, b.load); c != 0 {
			return c
		}
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	return all, nil
}

// expireStale marks every active lock at or past its expiry as expired
func expireStale(ctx context.Context, q querier, now time.Time) (int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, expires_at FROM pk_lock WHERE status = $1
	`, models.LockActive)
	if err != nil {
		return 0, fmt.Errorf("failed to query active locks: %w", err)
	}

	var stale []string
	for rows.Next() {
		var id string
		var expiresAt time.Time
		if err := rows.Scan(&id, &expiresAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan lock: %w", err)
		}
		if !now.Before(expiresAt) {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("failed to iterate locks: %w", err)
	}
	rows.Close()

	for _, id := range stale {
		if err := closeLock(ctx, q, id, models.LockExpired, now); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func closeLock(ctx context.Context, q querier, lockID, status string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE pk_lock SET status = $1, closed_at = $2
		WHERE id = $3 AND status = $4
	`, status, now, lockID, models.LockActive)
	if err != nil {
		return fmt.Errorf("failed to close lock %s: %w", lockID, err)
	}
	return nil
}

// ValidateVote checks the fields of a submission that need no database access
func ValidateVote(req *models.VoteSubmissionRequest) []models.ValidationError {
	var errs []models.ValidationError
	if req.PKID == "" {
		errs = append(errs, models.ValidationError{Field: "pkId", Message: "is required"})
	}
	if req.WinnerTeamID == "" {
		errs = append(errs, models.ValidationError{Field: "winnerTeamId", Message: "is required"})
	}
	if req.LockID == "" {
		errs = append(errs, models.ValidationError{Field: "lockId", Message: "is required"})
	}
	switch req.Confidence {
	case "":
		req.Confidence = models.ConfidenceMedium
	case models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow:
	default:
		errs = append(errs, models.ValidationError{Field: "confidence", Message: "must be high, medium or low", Value: req.Confidence})
	}
	if utf8.RuneCountInString(req.Reason) > MaxReasonLength {
		errs = append(errs, models.ValidationError{Field: "reason", Message: fmt.Sprintf("must be at most %d characters", MaxReasonLength)})
	}
	return errs
}

type lockRow struct {
	id        string
	pkID      string
	judgeID   string
	status    string
	issuedAt  time.Time
	expiresAt time.Time
}

// SubmitVote records a judge's verdict on the match their lock covers.
// Rejections are *InvalidVoteError (bad input) or *ConflictError.
func (e *Engine) SubmitVote(ctx context.Context, judgeID string, req models.VoteSubmissionRequest, ipHash string) (models.VoteSubmissionResponse, error) {
	if errs := ValidateVote(&req); len(errs) > 0 {
		return models.VoteSubmissionResponse{}, &InvalidVoteError{Errors: errs}
	}

	unlock := e.lockJudge(judgeID)
	record, err := e.recordVote(ctx, judgeID, req, ipHash)
	unlock()

	var ce *ConflictError
	if errors.As(err, &ce) {
		metrics.RecordVoteConflict(ce.Reason)
		slog.Info("vote rejected", "judge_id", judgeID, "pk_id", req.PKID, "lock_id", req.LockID, "reason", ce.Reason)
	}
	if err != nil {
		return models.VoteSubmissionResponse{}, err
	}

	metrics.RecordVoteAccepted(record.MatchDuration)
	slog.Info("vote recorded", "judge_id", judgeID, "pk_id", req.PKID, "winner_team_id", record.WinnerTeamID)

	next, err := e.PeekNext(ctx, judgeID, "")
	if err != nil {
		// The vote is committed; a failed peek only loses the hint
		slog.Warn("failed to peek next match", "error", err, "judge_id", judgeID)
		next = nil
	}

	return models.VoteSubmissionResponse{
		Success:    true,
		VoteRecord: &record,
		NextPK:     next,
	}, nil
}

func (e *Engine) recordVote(ctx context.Context, judgeID string, req models.VoteSubmissionRequest, ipHash string) (models.VoteRecord, error) {
	now := e.clock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return models.VoteRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lock lockRow
	err = tx.QueryRowContext(ctx, `
		SELECT id, pk_id, judge_id, status, issued_at, expires_at
		FROM pk_lock WHERE id = $1
	`, req.LockID).Scan(&lock.id, &lock.pkID, &lock.judgeID, &lock.status, &lock.issuedAt, &lock.expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VoteRecord{}, conflict(models.ConflictInvalidLock, "lock not found")
	}
	if err != nil {
		return models.VoteRecord{}, fmt.Errorf("failed to query lock: %w", err)
	}
	if lock.judgeID != judgeID {
		return models.VoteRecord{}, conflict(models.ConflictInvalidLock, "lock belongs to another judge")
	}
	if lock.pkID != req.PKID {
		return models.VoteRecord{}, conflict(models.ConflictInvalidLock, "lock was issued for a different match")
	}

	var voted bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM vote WHERE pk_id = $1 AND judge_id = $2)
	`, req.PKID, judgeID).Scan(&voted)
	if err != nil {
		return models.VoteRecord{}, fmt.Errorf("failed to check existing vote: %w", err)
	}
	if voted || lock.status == models.LockConsumed {
		return models.VoteRecord{}, conflict(models.ConflictDuplicate, "judge has already voted on this match")
	}

	match, err := loadMatch(ctx, tx, req.PKID)
	if errors.Is(err, ErrMatchNotFound) {
		return models.VoteRecord{}, conflict(models.ConflictInvalidLock, "match not found")
	}
	if err != nil {
		return models.VoteRecord{}, err
	}
	if match.Status == models.MatchCompleted || match.Status == models.MatchCancelled {
		return models.VoteRecord{}, conflict(models.ConflictRoundEnded, "match is "+match.Status)
	}
	if match.EndTime != nil && !now.Before(*match.EndTime) {
		return models.VoteRecord{}, conflict(models.ConflictRoundEnded, "voting window for this match has closed")
	}

	if lock.status != models.LockActive {
		return models.VoteRecord{}, conflict(models.ConflictExpired, "lock is "+lock.status)
	}
	if !now.Before(lock.expiresAt) {
		if err := closeLock(ctx, tx, lock.id, models.LockExpired, now); err != nil {
			return models.VoteRecord{}, err
		}
		if err := tx.Commit(); err != nil {
			return models.VoteRecord{}, fmt.Errorf("failed to commit: %w", err)
		}
		metrics.RecordLocksExpired(1)
		return models.VoteRecord{}, conflict(models.ConflictExpired, "lock expired")
	}

	var winner, loser models.Team
	var winnerProject, loserProject models.Project
	switch req.WinnerTeamID {
	case match.TeamA.ID:
		winner, loser = match.TeamA, match.TeamB
		winnerProject, loserProject = match.ProjectA, match.ProjectB
	case match.TeamB.ID:
		winner, loser = match.TeamB, match.TeamA
		winnerProject, loserProject = match.ProjectB, match.ProjectA
	default:
		return models.VoteRecord{}, &InvalidVoteError{Errors: []models.ValidationError{
			{Field: "winnerTeamId", Message: "must be one of the two teams in the match", Value: req.WinnerTeamID},
		}}
	}

	voteID := uuid.NewString()
	duration := max(int(now.Sub(lock.issuedAt)/time.Second), 0)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vote (id, pk_id, judge_id, lock_id, winner_team_id, loser_team_id,
			winner_project_id, loser_project_id, confidence, reason, match_duration,
			ip_hash, voted_at, lock_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, voteID, req.PKID, judgeID, lock.id, winner.ID, loser.ID,
		winnerProject.ID, loserProject.ID, req.Confidence, req.Reason, duration,
		ipHash, now, lock.expiresAt)
	if err != nil {
		return models.VoteRecord{}, fmt.Errorf("failed to insert vote: %w", err)
	}

	if err := closeLock(ctx, tx, lock.id, models.LockConsumed, now); err != nil {
		return models.VoteRecord{}, err
	}

	aInc, bInc := 0, 0
	if winner.ID == match.TeamA.ID {
		aInc = 1
	} else {
		bInc = 1
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE pk_match
		SET total_votes = total_votes + 1, team_a_votes = team_a_votes + $1,
			team_b_votes = team_b_votes + $2, updated_at = $3
		WHERE id = $4 AND total_votes < judge_limit
	`, aInc, bInc, now, req.PKID)
	if err != nil {
		return models.VoteRecord{}, fmt.Errorf("failed to update match counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return models.VoteRecord{}, conflict(models.ConflictRoundEnded, "match has reached its judge limit")
	}

	match.TotalVotes++
	match.TeamAVotes += aInc
	match.TeamBVotes += bInc
	if match.TotalVotes >= match.JudgeLimit {
		_, err = tx.ExecContext(ctx, `
			UPDATE pk_match SET status = $1, completed_at = $2, updated_at = $2 WHERE id = $3
		`, models.MatchCompleted, now, req.PKID)
		if err != nil {
			return models.VoteRecord{}, fmt.Errorf("failed to complete match: %w", err)
		}
		match.Status = models.MatchCompleted

		// Locks still held on a full match can never be used
		if _, err := releaseLocks(ctx, tx, req.PKID, now); err != nil {
			return models.VoteRecord{}, err
		}
		slog.Info("pk match completed", "pk_id", req.PKID, "team_a_votes", match.TeamAVotes, "team_b_votes", match.TeamBVotes)
	}

	if err := tx.Commit(); err != nil {
		return models.VoteRecord{}, fmt.Errorf("failed to commit vote: %w", err)
	}

	outcome := ranking.MatchOutcome{
		Status:     match.Status,
		TeamAID:    match.TeamA.ID,
		TeamBID:    match.TeamB.ID,
		TeamAVotes: match.TeamAVotes,
		TeamBVotes: match.TeamBVotes,
	}

	return models.VoteRecord{
		ID:                  voteID,
		PKID:                req.PKID,
		JudgeID:             judgeID,
		WinnerTeamID:        winner.ID,
		LoserTeamID:         loser.ID,
		WinnerTeamName:      winner.Name,
		LoserTeamName:       loser.Name,
		Confidence:          req.Confidence,
		Reason:              req.Reason,
		MatchDuration:       duration,
		IsCorrectPrediction: outcome.IsCorrectPrediction(winner.ID),
		VotedAt:             now,
		LockExpiresAt:       lock.expiresAt,
	}, nil
}

// SweepExpired expires every active lock past its deadline and returns how many
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	now := e.clock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := expireStale(ctx, tx, now)
	if err != nil {
		return 0, err
	}

	var active int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pk_lock WHERE status = $1`, models.LockActive).Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("failed to count active locks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	metrics.RecordLocksExpired(n)
	metrics.SetActiveLocks(active)
	return n, nil
}

// RunSweeper schedules SweepExpired every interval and blocks until ctx is cancelled
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create sweeper scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			n, err := e.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("lock sweep failed", "error", err)
				}
				return
			}
			if n > 0 {
				slog.Info("expired stale pk locks", "count", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule lock sweep: %w", err)
	}

	s.Start()
	slog.Info("lock sweeper started", "interval", interval)

	<-ctx.Done()
	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop sweeper: %w", err)
	}
	return nil
}

// ReleaseMatchLocks releases the active locks held on a match
func (e *Engine) ReleaseMatchLocks(ctx context.Context, matchID string) (int, error) {
	n, err := releaseLocks(ctx, e.db, matchID, e.clock())
	if err != nil {
		return 0, err
	}
	metrics.RecordLocksReleased(n)
	return n, nil
}

func releaseLocks(ctx context.Context, q querier, matchID string, now time.Time) (int, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE pk_lock SET status = $1, closed_at = $2
		WHERE pk_id = $3 AND status = $4
	`, models.LockReleased, now, matchID, models.LockActive)
	if err != nil {
		return 0, fmt.Errorf("failed to release locks for match %s: %w", matchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count released locks: %w", err)
	}
	return int(n), nil
}

// CancelMatch cancels a pending or active match and releases its locks.
// Completed matches keep their result and yield a round_ended conflict.
func (e *Engine) CancelMatch(ctx context.Context, matchID string) (models.PKMatch, error) {
	now := e.clock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PKMatch{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	match, err := loadMatch(ctx, tx, matchID)
	if err != nil {
		return models.PKMatch{}, err
	}
	switch match.Status {
	case models.MatchCompleted:
		return models.PKMatch{}, conflict(models.ConflictRoundEnded, "match is already completed")
	case models.MatchCancelled:
		return match, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE pk_match SET status = $1, updated_at = $2 WHERE id = $3
	`, models.MatchCancelled, now, matchID)
	if err != nil {
		return models.PKMatch{}, fmt.Errorf("failed to cancel match: %w", err)
	}

	released, err := releaseLocks(ctx, tx, matchID, now)
	if err != nil {
		return models.PKMatch{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.PKMatch{}, fmt.Errorf("failed to commit: %w", err)
	}

	metrics.RecordLocksReleased(released)
	slog.Info("pk match cancelled", "pk_id", matchID, "released_locks", released)

	match.Status = models.MatchCancelled
	match.UpdatedAt = now
	return match, nil
}
