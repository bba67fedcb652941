// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/auth"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/middleware"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
)

// invalidCredentialsMessage is returned for both unknown emails and wrong
// passwords so a caller cannot probe which accounts exist.
const invalidCredentialsMessage = "invalid email or password"

// invalidRefreshMessage is returned for every refresh rejection: bad
// signature, wrong token type, revoked grant, expired grant. One message
// for all of them.
const invalidRefreshMessage = "invalid or expired refresh token"

// AuthHandler serves account registration, login, refresh-token rotation,
// logout, and the current-user profile.
//
// Refresh tokens are single-use. Each login or refresh mints a new pair
// and records the refresh grant as an auth_sessions row keyed by the
// SHA-256 hash of the token; presenting a refresh token revokes its grant
// and issues a replacement.
type AuthHandler struct {
	db     *sql.DB
	tokens *auth.TokenManager
}

// NewAuthHandler creates an AuthHandler. Panics if db or tokens is nil.
func NewAuthHandler(db *sql.DB, tokens *auth.TokenManager) *AuthHandler {
	if db == nil {
		panic("NewAuthHandler: db must not be nil")
	}
	if tokens == nil {
		panic("NewAuthHandler: tokens must not be nil")
	}
	return &AuthHandler{db: db, tokens: tokens}
}

// HandleRegister creates an account and signs the caller in.
//
// POST /api/v1/auth/register
//
// Returns 201 with a token pair, 409 when the email is already taken.
func (h *AuthHandler) HandleRegister(c *gin.Context) {
	var req datatypes.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	user := &store.User{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
	}
	if err := store.CreateUser(c.Request.Context(), h.db, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		slog.Error("Failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	pair, err := h.issueTokenPair(c, user)
	if err != nil {
		slog.Error("Failed to issue token pair", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	slog.Info("User registered", "user_id", user.ID)
	c.JSON(http.StatusCreated, pair)
}

// HandleLogin verifies credentials and issues a token pair.
//
// POST /api/v1/auth/login
func (h *AuthHandler) HandleLogin(c *gin.Context) {
	var req datatypes.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	user, err := store.GetUserByEmail(c.Request.Context(), h.db, req.Email)
	if err != nil {
		slog.Error("Failed to look up user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if user == nil || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": invalidCredentialsMessage})
		return
	}

	pair, err := h.issueTokenPair(c, user)
	if err != nil {
		slog.Error("Failed to issue token pair", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	slog.Info("User logged in", "user_id", user.ID)
	c.JSON(http.StatusOK, pair)
}

// HandleRefresh rotates a refresh token.
//
// POST /api/v1/auth/refresh
//
// The presented token must be a refresh-type JWT whose grant row is still
// active. The old grant is revoked before the new pair is issued, so a
// replayed refresh token fails on its second use.
func (h *AuthHandler) HandleRefresh(c *gin.Context) {
	var req datatypes.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	claims, err := h.tokens.ParseToken(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": invalidRefreshMessage})
		return
	}

	ctx := c.Request.Context()
	grant, err := store.GetAuthSessionByTokenHash(ctx, h.db, auth.HashRefreshToken(req.RefreshToken))
	if err != nil {
		slog.Error("Failed to look up refresh grant", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	if grant == nil || grant.UserID != claims.Subject || time.Now().After(grant.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": invalidRefreshMessage})
		return
	}
	if grant.RevokedAt != nil {
		// A signed token for a revoked grant means the token was used
		// twice: either a stale client or a replay.
		slog.Warn("Revoked refresh token presented", "user_id", grant.UserID, "grant_id", grant.ID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": invalidRefreshMessage})
		return
	}

	user, err := store.GetUserByID(ctx, h.db, grant.UserID)
	if err != nil {
		slog.Error("Failed to load user for refresh", "user_id", grant.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": invalidRefreshMessage})
		return
	}

	if err := store.RevokeAuthSession(ctx, h.db, grant.ID); err != nil {
		slog.Error("Failed to revoke refresh grant", "grant_id", grant.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}

	pair, err := h.issueTokenPair(c, user)
	if err != nil {
		slog.Error("Failed to issue token pair", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}

	c.JSON(http.StatusOK, pair)
}

// HandleLogout revokes refresh grants for the authenticated caller.
//
// POST /api/v1/auth/logout
//
// With a refresh_token in the body only that grant is revoked; without
// one every grant belonging to the caller is revoked. Access tokens stay
// valid until they expire.
func (h *AuthHandler) HandleLogout(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req datatypes.LogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	ctx := c.Request.Context()
	var revoked int64
	if req.RefreshToken != "" {
		grant, err := store.GetAuthSessionByTokenHash(ctx, h.db, auth.HashRefreshToken(req.RefreshToken))
		if err != nil {
			slog.Error("Failed to look up refresh grant", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
			return
		}
		if grant != nil && grant.UserID == authInfo.UserID && grant.RevokedAt == nil {
			if err := store.RevokeAuthSession(ctx, h.db, grant.ID); err != nil {
				slog.Error("Failed to revoke refresh grant", "grant_id", grant.ID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
				return
			}
			revoked = 1
		}
	} else {
		n, err := store.RevokeUserAuthSessions(ctx, h.db, authInfo.UserID)
		if err != nil {
			slog.Error("Failed to revoke user grants", "user_id", authInfo.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
			return
		}
		revoked = n
	}

	slog.Info("User logged out", "user_id", authInfo.UserID, "revoked_sessions", revoked)
	c.JSON(http.StatusOK, gin.H{
		"status":           "success",
		"revoked_sessions": revoked,
	})
}

// HandleMe returns the authenticated caller's profile.
//
// GET /api/v1/auth/me
func (h *AuthHandler) HandleMe(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	user, err := store.GetUserByID(c.Request.Context(), h.db, authInfo.UserID)
	if err != nil {
		slog.Error("Failed to load user", "user_id", authInfo.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}
	if user == nil {
		// Valid token for a deleted account.
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, userInfo(user))
}

// issueTokenPair mints an access/refresh pair for user and records the
// refresh grant with the client address and user agent that requested it.
func (h *AuthHandler) issueTokenPair(c *gin.Context, user *store.User) (*datatypes.TokenPairResponse, error) {
	access, err := h.tokens.IssueAccessToken(user.ID, user.Email, user.Name)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, expiresAt, err := h.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	grant := &store.AuthSession{
		UserID:           user.ID,
		RefreshTokenHash: auth.HashRefreshToken(refresh),
		UserAgent:        c.Request.UserAgent(),
		IPAddress:        c.ClientIP(),
		ExpiresAt:        expiresAt,
	}
	if err := store.CreateAuthSession(c.Request.Context(), h.db, grant); err != nil {
		return nil, fmt.Errorf("record refresh grant: %w", err)
	}

	return &datatypes.TokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.tokens.AccessTTL().Seconds()),
		User:         userInfo(user),
	}, nil
}

// userInfo converts a store row to the public profile shape.
func userInfo(u *store.User) *datatypes.UserInfo {
	return &datatypes.UserInfo{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt.UnixMilli(),
	}
}
