// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides password hashing, access tokens and random identifiers.

# Passwords

	hash, err := auth.HashPassword(password)
	err = auth.CheckPassword(hash, password)

Passwords shorter than MinPasswordLength are rejected. Hashes are bcrypt.

# Access Tokens

Access tokens are HS256 JWTs carrying the user ID and role:

	token, expiresAt, err := auth.IssueAccessToken(userID, role, secret, ttl, now)
	claims, err := auth.ParseAccessToken(token, secret, now)

ParseAccessToken returns ErrExpiredToken or ErrInvalidToken.

# Refresh Tokens

Refresh tokens are random 24-byte secrets. Only their HMAC is stored:

	token, err := auth.GenerateRefreshToken()
	stored := auth.HashToken(token, salt)

# Invite Codes

	code := auth.GenerateInviteCode(teamID, salt)

Codes are short uppercase base62, so they survive being read aloud.

# IDs and IP Hashing

	id, err := auth.GenerateID(16)  // 32 hex characters
	hash := auth.HashIP(ipAddress, salt)
*/
package auth
