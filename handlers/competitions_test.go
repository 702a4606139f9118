// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/danielhkuo/pk-arena/models"
	"github.com/danielhkuo/pk-arena/testutil"
)

func TestCreateCompetition(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewCompetitionHandler(db, cfg)
	adminID := testutil.CreateTestUser(t, db, "admin", models.RoleAdmin)

	start := time.Now().UTC().Truncate(time.Second)
	prize := 5000.0

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "valid competition",
			requestBody: models.CreateCompetitionRequest{
				Name:      "Spring Hackathon",
				StartTime: start,
				EndTime:   start.Add(48 * time.Hour),
				PrizePool: &prize,
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "end before start",
			requestBody: models.CreateCompetitionRequest{
				Name:      "Backwards",
				StartTime: start,
				EndTime:   start.Add(-time.Hour),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing name",
			requestBody: models.CreateCompetitionRequest{
				StartTime: start,
				EndTime:   start.Add(time.Hour),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "negative prize pool",
			requestBody: models.CreateCompetitionRequest{
				Name:      "Broke",
				StartTime: start,
				EndTime:   start.Add(time.Hour),
				PrizePool: func() *float64 { v := -1.0; return &v }(),
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := as(t, cfg, http.MethodPost, "/competitions", tt.requestBody, adminID, models.RoleAdmin)
			w := serve(cfg, "POST /competitions", handler.Create, req)
			testutil.AssertStatus(t, w, tt.expectedStatus)

			if tt.expectedStatus == http.StatusCreated {
				var c models.Competition
				testutil.DecodeData(t, w, &c)
				if c.CurrentStage != models.StageRegistration {
					t.Errorf("Expected registration stage, got %s", c.CurrentStage)
				}
				if c.TotalRounds != 1 {
					t.Errorf("Expected default of 1 round, got %d", c.TotalRounds)
				}
				if c.PrizePool == nil || *c.PrizePool != prize {
					t.Errorf("Expected prize pool %v, got %v", prize, c.PrizePool)
				}
			}
		})
	}
}

func TestUpdateStage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewCompetitionHandler(db, cfg)
	adminID := testutil.CreateTestUser(t, db, "admin", models.RoleAdmin)
	competitionID := testutil.CreateTestCompetition(t, db, "Spring Hackathon")

	tests := []struct {
		name           string
		competitionID  string
		stage          string
		expectedStatus int
	}{
		{"advance to knockout", competitionID, models.StageKnockout, http.StatusOK},
		{"unknown stage", competitionID, "quarter_final", http.StatusBadRequest},
		{"unknown competition", "missing", models.StageFinal, http.StatusNotFound},
		{"current alias", currentCompetitionID, models.StageFinal, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := as(t, cfg, http.MethodPut, "/competitions/"+tt.competitionID+"/stage",
				models.UpdateStageRequest{Stage: tt.stage}, adminID, models.RoleAdmin)
			w := serve(cfg, "PUT /competitions/{id}/stage", handler.UpdateStage, req)
			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}

	var stage string
	if err := db.QueryRow(`SELECT current_stage FROM competition WHERE id = $1`, competitionID).Scan(&stage); err != nil {
		t.Fatalf("Failed to query competition: %v", err)
	}
	if stage != models.StageFinal {
		t.Errorf("Expected stage %s, got %s", models.StageFinal, stage)
	}
}

func TestCurrentCompetition(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewCompetitionHandler(db, cfg)
	userID := testutil.CreateTestUser(t, db, "viewer", models.RoleParticipant)

	current := func() (int, models.Competition) {
		req := as(t, cfg, http.MethodGet, "/competitions/current", nil, userID, models.RoleParticipant)
		w := serve(cfg, "GET /competitions/current", handler.Current, req)
		var c models.Competition
		if w.Code == http.StatusOK {
			testutil.DecodeData(t, w, &c)
		}
		return w.Code, c
	}

	if code, _ := current(); code != http.StatusNotFound {
		t.Fatalf("Expected 404 with no competitions, got %d", code)
	}

	runningID := testutil.CreateTestCompetition(t, db, "Running")
	finishedID := testutil.CreateTestCompetition(t, db, "Finished")
	now := time.Now().UTC()
	if _, err := db.Exec(`UPDATE competition SET current_stage = $1, start_time = $2 WHERE id = $3`,
		models.StageCompleted, now.Add(-time.Minute), finishedID); err != nil {
		t.Fatalf("Failed to finish competition: %v", err)
	}

	code, c := current()
	if code != http.StatusOK || c.ID != runningID {
		t.Errorf("Expected running competition %s, got %d %s", runningID, code, c.ID)
	}

	if _, err := db.Exec(`UPDATE competition SET current_stage = $1 WHERE id = $2`, models.StageCompleted, runningID); err != nil {
		t.Fatalf("Failed to finish competition: %v", err)
	}
	code, c = current()
	if code != http.StatusOK || c.ID != finishedID {
		t.Errorf("Expected latest competition %s as fallback, got %d %s", finishedID, code, c.ID)
	}
}

func TestCompetitionProgress(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewCompetitionHandler(db, cfg)

	arena := testutil.CreateTestArena(t, db, cfg, testutil.MatchOptions{})
	judgeID := testutil.CreateTestUser(t, db, "judge", models.RoleJudge)
	testutil.CreateTestUser(t, db, "idle-judge", models.RoleJudge)

	// Round 2 is fully decided; round 1 still has the open arena match
	testutil.CreateTestMatch(t, db, arena.CompetitionID, arena.ProjectAID, arena.ProjectBID,
		testutil.MatchOptions{Status: models.MatchCompleted})
	if _, err := db.Exec(`UPDATE pk_match SET round = 2 WHERE status = $1`, models.MatchCompleted); err != nil {
		t.Fatalf("Failed to move match: %v", err)
	}
	testutil.CreateTestMatch(t, db, arena.CompetitionID, arena.ProjectAID, arena.ProjectBID,
		testutil.MatchOptions{Status: models.MatchCancelled})

	now := time.Now().UTC()
	if _, err := db.Exec(`
		INSERT INTO pk_lock (id, pk_id, judge_id, status, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, "lock_test", arena.MatchID, judgeID, models.LockActive, now, now.Add(cfg.LockTTL)); err != nil {
		t.Fatalf("Failed to insert lock: %v", err)
	}

	for _, id := range []string{arena.CompetitionID, currentCompetitionID} {
		t.Run(id, func(t *testing.T) {
			req := as(t, cfg, http.MethodGet, "/competitions/"+id+"/progress", nil, judgeID, models.RoleJudge)
			w := serve(cfg, "GET /competitions/{id}/progress", handler.Progress, req)
			testutil.AssertStatus(t, w, http.StatusOK)

			var progress models.CompetitionProgress
			testutil.DecodeData(t, w, &progress)

			c := progress.Competition
			if c.ID != arena.CompetitionID {
				t.Errorf("Expected competition %s, got %s", arena.CompetitionID, c.ID)
			}
			if c.TotalMatches != 2 {
				t.Errorf("Expected 2 non-cancelled matches, got %d", c.TotalMatches)
			}
			if c.ActiveMatches != 1 {
				t.Errorf("Expected 1 active match, got %d", c.ActiveMatches)
			}
			if c.CompletedRounds != 1 {
				t.Errorf("Expected 1 completed round, got %d", c.CompletedRounds)
			}
			if c.RegisteredTeams != 2 {
				t.Errorf("Expected 2 registered teams, got %d", c.RegisteredTeams)
			}

			stats := progress.VotingStats
			if stats.TotalJudges != 2 || stats.ActiveJudges != 1 {
				t.Errorf("Expected 2 judges with 1 active, got %+v", stats)
			}
			if stats.CompletionRate != 50 {
				t.Errorf("Expected 50%% completion, got %v", stats.CompletionRate)
			}
		})
	}

	t.Run("unknown competition", func(t *testing.T) {
		req := as(t, cfg, http.MethodGet, "/competitions/missing/progress", nil, judgeID, models.RoleJudge)
		w := serve(cfg, "GET /competitions/{id}/progress", handler.Progress, req)
		testutil.AssertStatus(t, w, http.StatusNotFound)
	})
}
