// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/danielhkuo/pk-arena/auth"
	"github.com/danielhkuo/pk-arena/models"
	"github.com/danielhkuo/pk-arena/testutil"
)

func TestRegister(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewAuthHandler(db, cfg)

	testutil.CreateTestUser(t, db, "taken", models.RoleParticipant)

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		checkResponse  func(t *testing.T, resp *models.AuthResponse)
	}{
		{
			name: "participant by default",
			requestBody: models.RegisterRequest{
				Email:    "Alice@Example.com",
				Password: "password123",
				Name:     "Alice",
			},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp *models.AuthResponse) {
				if resp.Token == "" || resp.RefreshToken == "" {
					t.Fatal("Expected access and refresh tokens")
				}
				if resp.User.Role != models.RoleParticipant {
					t.Errorf("Expected role participant, got %s", resp.User.Role)
				}
				if resp.User.Email != "alice@example.com" {
					t.Errorf("Expected normalized email, got %s", resp.User.Email)
				}

				claims, err := auth.ParseAccessToken(resp.Token, cfg.JWTSecret, time.Now())
				if err != nil {
					t.Fatalf("Access token does not parse: %v", err)
				}
				if claims.UserID != resp.User.ID {
					t.Errorf("Token subject %s does not match user %s", claims.UserID, resp.User.ID)
				}

				// Only the digest of the refresh token is stored
				var count int
				err = db.QueryRow(`SELECT COUNT(*) FROM refresh_token WHERE token_hash = $1`,
					auth.HashToken(resp.RefreshToken, cfg.JWTSecret)).Scan(&count)
				if err != nil {
					t.Fatalf("Failed to query refresh token: %v", err)
				}
				if count != 1 {
					t.Errorf("Expected stored refresh token digest, found %d", count)
				}
			},
		},
		{
			name: "judge with invite code",
			requestBody: models.RegisterRequest{
				Email:      "judge@example.com",
				Password:   "password123",
				Name:       "Judy",
				Role:       models.RoleJudge,
				InviteCode: "JUDGE-CODE",
			},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp *models.AuthResponse) {
				if resp.User.Role != models.RoleJudge {
					t.Errorf("Expected role judge, got %s", resp.User.Role)
				}
			},
		},
		{
			name: "judge without invite code",
			requestBody: models.RegisterRequest{
				Email:    "judge2@example.com",
				Password: "password123",
				Name:     "Jude",
				Role:     models.RoleJudge,
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name: "admin with the judge code",
			requestBody: models.RegisterRequest{
				Email:      "admin@example.com",
				Password:   "password123",
				Name:       "Ada",
				Role:       models.RoleAdmin,
				InviteCode: "JUDGE-CODE",
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name: "anonymous role rejected",
			requestBody: models.RegisterRequest{
				Email:    "anon@example.com",
				Password: "password123",
				Name:     "Anon",
				Role:     models.RoleAnonymous,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid email",
			requestBody: models.RegisterRequest{
				Email:    "not-an-email",
				Password: "password123",
				Name:     "Bob",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "short password",
			requestBody: models.RegisterRequest{
				Email:    "bob@example.com",
				Password: "short",
				Name:     "Bob",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "name too long",
			requestBody: models.RegisterRequest{
				Email:    "bob@example.com",
				Password: "password123",
				Name:     strings.Repeat("b", 51),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "duplicate email",
			requestBody: models.RegisterRequest{
				Email:    "taken@example.com",
				Password: "password123",
				Name:     "Taken Again",
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.MakeRequest(http.MethodPost, "/auth/register", tt.requestBody, nil)
			w := servePublic("POST /auth/register", handler.Register, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)

			if tt.expectedStatus == http.StatusCreated && tt.checkResponse != nil {
				var resp models.AuthResponse
				testutil.DecodeData(t, w, &resp)
				tt.checkResponse(t, &resp)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewAuthHandler(db, cfg)

	userID := testutil.CreateTestUser(t, db, "alice", models.RoleJudge)
	inactiveID := testutil.CreateTestUser(t, db, "gone", models.RoleParticipant)
	if _, err := db.Exec(`UPDATE app_user SET is_active = $1 WHERE id = $2`, false, inactiveID); err != nil {
		t.Fatalf("Failed to deactivate user: %v", err)
	}

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{"valid credentials", models.LoginRequest{Email: "alice@example.com", Password: "password123"}, http.StatusOK},
		{"email is case-insensitive", models.LoginRequest{Email: " Alice@Example.com ", Password: "password123"}, http.StatusOK},
		{"wrong password", models.LoginRequest{Email: "alice@example.com", Password: "wrong-password"}, http.StatusUnauthorized},
		{"unknown email", models.LoginRequest{Email: "nobody@example.com", Password: "password123"}, http.StatusUnauthorized},
		{"inactive user", models.LoginRequest{Email: "gone@example.com", Password: "password123"}, http.StatusUnauthorized},
		{"missing password", models.LoginRequest{Email: "alice@example.com"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.MakeRequest(http.MethodPost, "/auth/login", tt.requestBody, nil)
			w := servePublic("POST /auth/login", handler.Login, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)

			if tt.expectedStatus == http.StatusOK {
				var resp models.AuthResponse
				testutil.DecodeData(t, w, &resp)
				if resp.User.ID != userID {
					t.Errorf("Expected user %s, got %s", userID, resp.User.ID)
				}
				if resp.User.LastLoginAt == nil {
					t.Error("Expected lastLoginAt to be set")
				}
			}
		})
	}
}

func TestRememberMeExtendsRefreshToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewAuthHandler(db, cfg)
	testutil.CreateTestUser(t, db, "alice", models.RoleParticipant)

	expiry := func(rememberMe bool) time.Duration {
		req := testutil.MakeRequest(http.MethodPost, "/auth/login",
			models.LoginRequest{Email: "alice@example.com", Password: "password123", RememberMe: rememberMe}, nil)
		w := servePublic("POST /auth/login", handler.Login, req)
		testutil.AssertStatus(t, w, http.StatusOK)

		var resp models.AuthResponse
		testutil.DecodeData(t, w, &resp)

		var created, expires time.Time
		err := db.QueryRow(`SELECT created_at, expires_at FROM refresh_token WHERE token_hash = $1`,
			auth.HashToken(resp.RefreshToken, cfg.JWTSecret)).Scan(&created, &expires)
		if err != nil {
			t.Fatalf("Failed to query refresh token: %v", err)
		}
		return expires.Sub(created)
	}

	short := expiry(false)
	long := expiry(true)
	if short != cfg.RefreshTokenTTL {
		t.Errorf("Expected refresh TTL %v, got %v", cfg.RefreshTokenTTL, short)
	}
	if long != cfg.RememberMeTTL {
		t.Errorf("Expected remember-me TTL %v, got %v", cfg.RememberMeTTL, long)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewAuthHandler(db, cfg)
	userID := testutil.CreateTestUser(t, db, "alice", models.RoleParticipant)

	login := testutil.MakeRequest(http.MethodPost, "/auth/login",
		models.LoginRequest{Email: "alice@example.com", Password: "password123"}, nil)
	w := servePublic("POST /auth/login", handler.Login, login)
	testutil.AssertStatus(t, w, http.StatusOK)
	var session models.AuthResponse
	testutil.DecodeData(t, w, &session)

	refresh := func(token string) int {
		req := testutil.MakeRequest(http.MethodPost, "/auth/refresh", models.RefreshTokenRequest{RefreshToken: token}, nil)
		return servePublic("POST /auth/refresh", handler.Refresh, req).Code
	}

	if code := refresh(session.RefreshToken); code != http.StatusOK {
		t.Fatalf("Expected refresh to succeed, got %d", code)
	}
	if code := refresh("not-a-real-token"); code != http.StatusUnauthorized {
		t.Errorf("Expected unknown token to be rejected, got %d", code)
	}
	if code := refresh(""); code != http.StatusBadRequest {
		t.Errorf("Expected missing token to be a bad request, got %d", code)
	}

	w = serve(cfg, "POST /auth/logout", handler.Logout,
		as(t, cfg, http.MethodPost, "/auth/logout", nil, userID, models.RoleParticipant))
	testutil.AssertStatus(t, w, http.StatusOK)

	if code := refresh(session.RefreshToken); code != http.StatusUnauthorized {
		t.Errorf("Expected revoked token to be rejected, got %d", code)
	}

	// Logout itself requires a bearer token
	w = serve(cfg, "POST /auth/logout", handler.Logout,
		testutil.MakeRequest(http.MethodPost, "/auth/logout", nil, nil))
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
}

func TestProfile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewAuthHandler(db, cfg)

	userID := testutil.CreateTestUser(t, db, "alice", models.RoleParticipant)
	teamID := testutil.CreateTestTeam(t, db, cfg, "Alpha", userID)

	t.Run("get includes team", func(t *testing.T) {
		w := serve(cfg, "GET /auth/profile", handler.GetProfile,
			as(t, cfg, http.MethodGet, "/auth/profile", nil, userID, models.RoleParticipant))
		testutil.AssertStatus(t, w, http.StatusOK)

		var resp models.UserEnvelope
		testutil.DecodeData(t, w, &resp)
		if resp.User.Name != "alice" {
			t.Errorf("Expected name alice, got %s", resp.User.Name)
		}
		if resp.User.TeamID == nil || *resp.User.TeamID != teamID {
			t.Errorf("Expected teamId %s, got %v", teamID, resp.User.TeamID)
		}
	})

	t.Run("users/me returns the bare user", func(t *testing.T) {
		w := serve(cfg, "GET /users/me", handler.Me,
			as(t, cfg, http.MethodGet, "/users/me", nil, userID, models.RoleParticipant))
		testutil.AssertStatus(t, w, http.StatusOK)

		var data map[string]any
		testutil.DecodeData(t, w, &data)
		if _, wrapped := data["user"]; wrapped {
			t.Errorf("Expected user fields at the top of data, got %v", data)
		}
		if data["id"] != userID || data["name"] != "alice" {
			t.Errorf("Expected id %s and name alice, got id=%v name=%v", userID, data["id"], data["name"])
		}
	})

	t.Run("update name and avatar", func(t *testing.T) {
		name, avatar := "Alice Liddell", "https://example.com/a.png"
		w := serve(cfg, "PUT /auth/profile", handler.UpdateProfile,
			as(t, cfg, http.MethodPut, "/auth/profile", models.UpdateProfileRequest{Name: &name, Avatar: &avatar},
				userID, models.RoleParticipant))
		testutil.AssertStatus(t, w, http.StatusOK)

		var stored string
		if err := db.QueryRow(`SELECT name FROM app_user WHERE id = $1`, userID).Scan(&stored); err != nil {
			t.Fatalf("Failed to query user: %v", err)
		}
		if stored != name {
			t.Errorf("Expected stored name %q, got %q", name, stored)
		}
	})

	t.Run("blank name rejected", func(t *testing.T) {
		blank := "   "
		w := serve(cfg, "PUT /auth/profile", handler.UpdateProfile,
			as(t, cfg, http.MethodPut, "/auth/profile", models.UpdateProfileRequest{Name: &blank},
				userID, models.RoleParticipant))
		testutil.AssertStatus(t, w, http.StatusBadRequest)
	})

	t.Run("unknown user", func(t *testing.T) {
		w := serve(cfg, "GET /auth/profile", handler.GetProfile,
			as(t, cfg, http.MethodGet, "/auth/profile", nil, "ghost", models.RoleParticipant))
		testutil.AssertStatus(t, w, http.StatusNotFound)
	})
}
