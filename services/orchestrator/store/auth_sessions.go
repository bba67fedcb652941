// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
)

// CreateAuthSession inserts a refresh-token grant row.
func CreateAuthSession(ctx context.Context, db Execer, session *AuthSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO auth_sessions (id, user_id, refresh_token_hash, user_agent, ip_address, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, session.ID, session.UserID, session.RefreshTokenHash, session.UserAgent, session.IPAddress, session.ExpiresAt, session.CreatedAt)
	return err
}

// GetAuthSessionByTokenHash retrieves an auth session by the refresh token
// hash. Returns (nil, nil) when absent.
func GetAuthSessionByTokenHash(ctx context.Context, db sqlscan.Querier, tokenHash string) (*AuthSession, error) {
	query := `SELECT id, user_id, refresh_token_hash, user_agent, ip_address, expires_at, revoked_at, created_at FROM auth_sessions WHERE refresh_token_hash = ?`
	var s AuthSession
	err := sqlscan.Get(ctx, db, &s, query, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return &s, nil
}

// RevokeAuthSession marks one grant revoked. Used on rotation and logout.
func RevokeAuthSession(ctx context.Context, db Execer, sessionID string) error {
	query := `UPDATE auth_sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`
	_, err := db.ExecContext(ctx, query, time.Now().UTC(), sessionID)
	return err
}

// RevokeUserAuthSessions revokes every active grant for a user.
func RevokeUserAuthSessions(ctx context.Context, db Execer, userID string) (int64, error) {
	query := `UPDATE auth_sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`
	res, err := db.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredAuthSessions removes grants past expiry or revoked before
// cutoff. Returns the number of rows removed.
func DeleteExpiredAuthSessions(ctx context.Context, db Execer, cutoff time.Time) (int64, error) {
	query := `DELETE FROM auth_sessions WHERE expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)`
	res, err := db.ExecContext(ctx, query, cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
