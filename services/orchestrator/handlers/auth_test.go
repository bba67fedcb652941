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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/auth"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/middleware"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
)

// authTestEnv runs the auth handlers against a real store and token
// manager. Logout and me are mounted behind the real auth middleware so
// the Bearer path is exercised end to end.
type authTestEnv struct {
	t      *testing.T
	db     *store.DB
	tokens *auth.TokenManager
	router *gin.Engine
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tokens := auth.NewTokenManagerWithSecret("unit-test-signing-secret")
	handler := NewAuthHandler(db.DB(), tokens)

	router := gin.New()
	group := router.Group("/api/v1/auth")
	group.POST("/register", handler.HandleRegister)
	group.POST("/login", handler.HandleLogin)
	group.POST("/refresh", handler.HandleRefresh)

	protected := group.Group("")
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.POST("/logout", handler.HandleLogout)
	protected.GET("/me", handler.HandleMe)

	return &authTestEnv{t: t, db: db, tokens: tokens, router: router}
}

// request sends a JSON request, optionally with a Bearer token.
func (e *authTestEnv) request(method, path string, body any, bearer string) *httptest.ResponseRecorder {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("User-Agent", "auth-test-agent")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *authTestEnv) register(email, password, name string) datatypes.TokenPairResponse {
	e.t.Helper()
	w := e.request(http.MethodPost, "/api/v1/auth/register",
		gin.H{"email": email, "password": password, "name": name}, "")
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeTokenPair(e.t, w)
}

func decodeTokenPair(t *testing.T, w *httptest.ResponseRecorder) datatypes.TokenPairResponse {
	t.Helper()
	var pair datatypes.TokenPairResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	return pair
}

// TestNewAuthHandler_PanicsOnNilDependencies verifies construction fails
// loudly on missing wiring.
func TestNewAuthHandler_PanicsOnNilDependencies(t *testing.T) {
	tokens := auth.NewTokenManagerWithSecret("unit-test-signing-secret")

	assert.Panics(t, func() { NewAuthHandler(nil, tokens) })

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	assert.Panics(t, func() { NewAuthHandler(db.DB(), nil) })
}

// TestAuthHandler_RegisterIssuesTokenPair verifies registration creates
// the account, mints a working access token, and records the refresh
// grant with the caller's address.
func TestAuthHandler_RegisterIssuesTokenPair(t *testing.T) {
	env := newAuthTestEnv(t)

	pair := env.register("Alice@Example.com", "hunter2hunter2", "Alice")

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(auth.AccessTokenTTL.Seconds()), pair.ExpiresIn)

	require.NotNil(t, pair.User)
	assert.Equal(t, "alice@example.com", pair.User.Email)
	assert.Equal(t, "Alice", pair.User.Name)
	assert.NotEmpty(t, pair.User.ID)
	assert.Greater(t, pair.User.CreatedAt, int64(0))

	claims, err := env.tokens.ParseToken(pair.AccessToken, auth.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, pair.User.ID, claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)

	grant, err := store.GetAuthSessionByTokenHash(context.Background(), env.db.DB(),
		auth.HashRefreshToken(pair.RefreshToken))
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, pair.User.ID, grant.UserID)
	assert.Nil(t, grant.RevokedAt)
	assert.Equal(t, "auth-test-agent", grant.UserAgent)
	assert.NotEmpty(t, grant.IPAddress)
}

// TestAuthHandler_RegisterDuplicateEmail verifies re-registering an email
// returns 409 regardless of case.
func TestAuthHandler_RegisterDuplicateEmail(t *testing.T) {
	env := newAuthTestEnv(t)
	env.register("bob@example.com", "hunter2hunter2", "Bob")

	w := env.request(http.MethodPost, "/api/v1/auth/register",
		gin.H{"email": "BOB@example.com", "password": "hunter2hunter2", "name": "Bob"}, "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already registered")
}

// TestAuthHandler_RegisterValidation verifies malformed registrations are
// rejected before any row is written.
func TestAuthHandler_RegisterValidation(t *testing.T) {
	env := newAuthTestEnv(t)

	w := env.request(http.MethodPost, "/api/v1/auth/register",
		gin.H{"email": "carol@example.com", "password": "short", "name": "Carol"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "password below minimum length")

	w = env.request(http.MethodPost, "/api/v1/auth/register",
		gin.H{"email": "not-an-email", "password": "hunter2hunter2"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "invalid email")

	user, err := store.GetUserByEmail(context.Background(), env.db.DB(), "carol@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)
}

// TestAuthHandler_LoginSuccess verifies login with correct credentials
// issues a fresh pair backed by its own grant row.
func TestAuthHandler_LoginSuccess(t *testing.T) {
	env := newAuthTestEnv(t)
	registered := env.register("dave@example.com", "hunter2hunter2", "Dave")

	w := env.request(http.MethodPost, "/api/v1/auth/login",
		gin.H{"email": "dave@example.com", "password": "hunter2hunter2"}, "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pair := decodeTokenPair(t, w)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, registered.RefreshToken, pair.RefreshToken,
		"each login mints its own refresh grant")
	require.NotNil(t, pair.User)
	assert.Equal(t, registered.User.ID, pair.User.ID)
}

// TestAuthHandler_LoginRejectsBadCredentials verifies a wrong password
// and an unknown email produce the same answer.
func TestAuthHandler_LoginRejectsBadCredentials(t *testing.T) {
	env := newAuthTestEnv(t)
	env.register("erin@example.com", "hunter2hunter2", "Erin")

	wrongPassword := env.request(http.MethodPost, "/api/v1/auth/login",
		gin.H{"email": "erin@example.com", "password": "wrong-password"}, "")
	unknownEmail := env.request(http.MethodPost, "/api/v1/auth/login",
		gin.H{"email": "nobody@example.com", "password": "hunter2hunter2"}, "")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

// TestAuthHandler_RefreshRotation verifies refresh issues a new pair,
// revokes the presented grant, and rejects the old token afterwards.
func TestAuthHandler_RefreshRotation(t *testing.T) {
	env := newAuthTestEnv(t)
	first := env.register("frank@example.com", "hunter2hunter2", "Frank")

	w := env.request(http.MethodPost, "/api/v1/auth/refresh",
		gin.H{"refresh_token": first.RefreshToken}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decodeTokenPair(t, w)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEmpty(t, second.AccessToken)

	replay := env.request(http.MethodPost, "/api/v1/auth/refresh",
		gin.H{"refresh_token": first.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, replay.Code,
		"a rotated refresh token must not work a second time")

	again := env.request(http.MethodPost, "/api/v1/auth/refresh",
		gin.H{"refresh_token": second.RefreshToken}, "")
	assert.Equal(t, http.StatusOK, again.Code, "the replacement token stays usable")
}

// TestAuthHandler_RefreshRejectsAccessToken verifies an access token
// cannot stand in for a refresh token.
func TestAuthHandler_RefreshRejectsAccessToken(t *testing.T) {
	env := newAuthTestEnv(t)
	pair := env.register("grace@example.com", "hunter2hunter2", "Grace")

	w := env.request(http.MethodPost, "/api/v1/auth/refresh",
		gin.H{"refresh_token": pair.AccessToken}, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestAuthHandler_RefreshRejectsGarbage verifies unparseable tokens are a
// plain 401.
func TestAuthHandler_RefreshRejectsGarbage(t *testing.T) {
	env := newAuthTestEnv(t)

	w := env.request(http.MethodPost, "/api/v1/auth/refresh",
		gin.H{"refresh_token": "not-a-jwt"}, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestAuthHandler_RefreshRejectsExpiredGrant verifies a refresh token
// whose grant row has lapsed is rejected even though the JWT itself still
// verifies.
func TestAuthHandler_RefreshRejectsExpiredGrant(t *testing.T) {
	env := newAuthTestEnv(t)
	pair := env.register("heidi@example.com", "hunter2hunter2", "Heidi")

	_, err := env.db.DB().ExecContext(context.Background(),
		`UPDATE auth_sessions SET expires_at = ? WHERE refresh_token_hash = ?`,
		time.Now().Add(-time.Hour), auth.HashRefreshToken(pair.RefreshToken))
	require.NoError(t, err)

	w := env.request(http.MethodPost, "/api/v1/auth/refresh",
		gin.H{"refresh_token": pair.RefreshToken}, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestAuthHandler_LogoutRevokesNamedGrant verifies logout with a refresh
// token in the body kills exactly that grant.
func TestAuthHandler_LogoutRevokesNamedGrant(t *testing.T) {
	env := newAuthTestEnv(t)
	first := env.register("ivan@example.com", "hunter2hunter2", "Ivan")

	login := env.request(http.MethodPost, "/api/v1/auth/login",
		gin.H{"email": "ivan@example.com", "password": "hunter2hunter2"}, "")
	require.Equal(t, http.StatusOK, login.Code)
	second := decodeTokenPair(t, login)

	w := env.request(http.MethodPost, "/api/v1/auth/logout",
		gin.H{"refresh_token": first.RefreshToken}, first.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"revoked_sessions":1`)

	revoked := env.request(http.MethodPost, "/api/v1/auth/refresh",
		gin.H{"refresh_token": first.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, revoked.Code)

	alive := env.request(http.MethodPost, "/api/v1/auth/refresh",
		gin.H{"refresh_token": second.RefreshToken}, "")
	assert.Equal(t, http.StatusOK, alive.Code, "the other grant is untouched")
}

// TestAuthHandler_LogoutWithoutBodyRevokesAllGrants verifies a bare
// logout signs the user out everywhere.
func TestAuthHandler_LogoutWithoutBodyRevokesAllGrants(t *testing.T) {
	env := newAuthTestEnv(t)
	first := env.register("judy@example.com", "hunter2hunter2", "Judy")

	login := env.request(http.MethodPost, "/api/v1/auth/login",
		gin.H{"email": "judy@example.com", "password": "hunter2hunter2"}, "")
	require.Equal(t, http.StatusOK, login.Code)
	second := decodeTokenPair(t, login)

	w := env.request(http.MethodPost, "/api/v1/auth/logout", nil, first.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"revoked_sessions":2`)

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		refresh := env.request(http.MethodPost, "/api/v1/auth/refresh",
			gin.H{"refresh_token": token}, "")
		assert.Equal(t, http.StatusUnauthorized, refresh.Code)
	}
}

// TestAuthHandler_LogoutRequiresAuth verifies the middleware guards
// logout.
func TestAuthHandler_LogoutRequiresAuth(t *testing.T) {
	env := newAuthTestEnv(t)

	w := env.request(http.MethodPost, "/api/v1/auth/logout", nil, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestAuthHandler_Me verifies the profile endpoint round-trips the
// registered identity.
func TestAuthHandler_Me(t *testing.T) {
	env := newAuthTestEnv(t)
	pair := env.register("kim@example.com", "hunter2hunter2", "Kim")

	w := env.request(http.MethodGet, "/api/v1/auth/me", nil, pair.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var profile datatypes.UserInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	assert.Equal(t, pair.User.ID, profile.ID)
	assert.Equal(t, "kim@example.com", profile.Email)
	assert.Equal(t, "Kim", profile.Name)

	unauthed := env.request(http.MethodGet, "/api/v1/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, unauthed.Code)
}
