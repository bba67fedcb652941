// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// TokenTypeAccess marks short-lived bearer tokens.
	TokenTypeAccess = "access"

	// TokenTypeRefresh marks long-lived rotation tokens. Refresh tokens
	// are never accepted on API routes.
	TokenTypeRefresh = "refresh"

	// AccessTokenTTL is the lifetime of an access token.
	AccessTokenTTL = 30 * time.Minute

	// RefreshTokenTTL is the lifetime of a refresh token.
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// =============================================================================
// Struct Definitions
// =============================================================================

// Claims is the JWT payload for both token types. The Type claim is what
// keeps a stolen refresh token from doubling as an access token.
type Claims struct {
	Type  string `json:"type"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256-signed tokens.
//
// # Thread Safety
//
// Safe for concurrent use. The secret is set once at construction.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// =============================================================================
// Constructor
// =============================================================================

// NewTokenManager builds a TokenManager from the JWT_SECRET environment
// variable, falling back to the mounted secret file when unset.
func NewTokenManager() (*TokenManager, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secretPath := "/run/secrets/jwt_secret"
		secretBytes, err := os.ReadFile(secretPath)
		if err == nil {
			secret = strings.TrimSpace(string(secretBytes))
			slog.Info("Read the JWT secret from Podman Secrets")
		} else {
			slog.Error("JWT_SECRET environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("JWT_SECRET environment variable not set")
		}
	}
	if len(secret) < 32 {
		slog.Warn("JWT_SECRET is shorter than 32 bytes; use a longer secret in production")
	}
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
	}, nil
}

// NewTokenManagerWithSecret builds a TokenManager with an explicit secret.
// Intended for tests.
func NewTokenManagerWithSecret(secret string) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
	}
}

// =============================================================================
// Methods
// =============================================================================

// IssueAccessToken signs a short-lived access token for the user.
func (m *TokenManager) IssueAccessToken(userID, email, name string) (string, error) {
	return m.sign(userID, email, name, TokenTypeAccess, m.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token for the user and
// returns it with its expiry so the caller can persist the grant.
func (m *TokenManager) IssueRefreshToken(userID string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(m.refreshTTL)
	token, err := m.sign(userID, "", "", TokenTypeRefresh, m.refreshTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}

// ParseToken verifies signature and expiry and enforces the expected
// token type. Returns a wrapped ErrUnauthorized on any failure.
func (m *TokenManager) ParseToken(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", ErrUnauthorized)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token invalid: %w", ErrUnauthorized)
	}
	if claims.Type != wantType {
		return nil, fmt.Errorf("wrong token type %q: %w", claims.Type, ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing subject: %w", ErrUnauthorized)
	}
	return claims, nil
}

// Validate implements the AuthProvider interface. Only access tokens are
// accepted; refresh tokens fail with ErrUnauthorized.
func (m *TokenManager) Validate(_ context.Context, tokenString string) (*AuthInfo, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}
	claims, err := m.ParseToken(tokenString, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	return &AuthInfo{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
	}, nil
}

func (m *TokenManager) sign(userID, email, name, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Type:  tokenType,
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// HashRefreshToken returns the hex SHA-256 digest of a refresh token.
// Only the digest is persisted, so a database leak does not leak grants.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ AuthProvider = (*TokenManager)(nil)
