// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Wrapping

	handler := middleware.WithRequestID(middleware.CORS(origins)(mux))
	mux.HandleFunc(pattern, middleware.WithLogging(middleware.WithMetrics(pattern, h)))

WithLogging logs method, path, status, duration and request ID.

# Authentication

RequireAuth validates the Bearer token and stores the claims on the
context. RequireRole must run inside it:

	h := middleware.RequireAuth(secret, middleware.RequireRole(roles, next))
	claims, ok := middleware.ClaimsFromContext(r.Context())

# JSON Helpers

	middleware.Success(w, http.StatusOK, "ok", data)
	middleware.ErrorResponse(w, http.StatusNotFound, "Match not found")
	middleware.ValidationErrorResponse(w, errs)

# Client IP Extraction

	ip := middleware.GetClientIP(r)

Honors X-Forwarded-For and X-Real-IP.
*/
package middleware
