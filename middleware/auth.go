// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/danielhkuo/pk-arena/auth"
)

type claimsKey struct{}

// WithClaims stores authenticated claims on the context
func WithClaims(ctx context.Context, claims auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the caller set by RequireAuth
func ClaimsFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(auth.Claims)
	return claims, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth rejects requests without a valid access token
func RequireAuth(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			ErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization bearer token required")
			return
		}

		claims, err := auth.ParseAccessToken(token, secret, time.Now())
		if errors.Is(err, auth.ErrExpiredToken) {
			ErrorResponseWithCode(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token expired")
			return
		}
		if err != nil {
			ErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid access token")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

// RequireRole rejects authenticated callers whose role is not listed.
// Must run inside RequireAuth.
func RequireRole(roles []string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			ErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		if !slices.Contains(roles, claims.Role) {
			ErrorResponseWithCode(w, http.StatusForbidden, "FORBIDDEN", "Role "+claims.Role+" may not perform this action")
			return
		}
		next(w, r)
	}
}
