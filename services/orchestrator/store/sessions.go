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

// CreateChatSession inserts a new chat session row.
func CreateChatSession(ctx context.Context, db Execer, session *ChatSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Title == "" {
		session.Title = "New Chat"
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}

	query := `INSERT INTO chat_sessions (id, user_id, title, pinned, archived, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, session.ID, session.UserID, session.Title, session.Pinned, session.Archived, session.CreatedAt, session.UpdatedAt)
	return err
}

// GetChatSessionByID retrieves a chat session by its ID. Returns
// (nil, nil) when absent.
func GetChatSessionByID(ctx context.Context, db sqlscan.Querier, sessionID string) (*ChatSession, error) {
	query := `SELECT id, user_id, title, pinned, archived, created_at, updated_at FROM chat_sessions WHERE id = ?`
	var s ChatSession
	err := sqlscan.Get(ctx, db, &s, query, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return &s, nil
}

// ListChatSessions retrieves a user's sessions, pinned first, then most
// recently active. Archived sessions are excluded unless includeArchived.
func ListChatSessions(ctx context.Context, db sqlscan.Querier, userID string, includeArchived bool) ([]ChatSession, error) {
	query := `SELECT id, user_id, title, pinned, archived, created_at, updated_at FROM chat_sessions
	          WHERE user_id = ? AND (archived = 0 OR ? = 1)
	          ORDER BY pinned DESC, updated_at DESC`
	var sessions []ChatSession
	err := sqlscan.Select(ctx, db, &sessions, query, userID, includeArchived)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateChatSession applies the non-nil fields of title, pinned, and
// archived, and bumps updated_at.
func UpdateChatSession(ctx context.Context, db Execer, sessionID string, title *string, pinned, archived *bool) error {
	query := `UPDATE chat_sessions SET
	            title = COALESCE(?, title),
	            pinned = COALESCE(?, pinned),
	            archived = COALESCE(?, archived),
	            updated_at = ?
	          WHERE id = ?`
	_, err := db.ExecContext(ctx, query, title, pinned, archived, time.Now().UTC(), sessionID)
	return err
}

// TouchChatSession bumps the session's last-activity timestamp.
func TouchChatSession(ctx context.Context, db Execer, sessionID string) error {
	query := `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, time.Now().UTC(), sessionID)
	return err
}

// SetChatSessionTitle replaces the session title without touching
// updated_at, so background title generation does not reorder the list.
func SetChatSessionTitle(ctx context.Context, db Execer, sessionID, title string) error {
	query := `UPDATE chat_sessions SET title = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, title, sessionID)
	return err
}

// DeleteChatSession removes a session. Messages and checkpoints cascade.
func DeleteChatSession(ctx context.Context, db Execer, sessionID string) error {
	query := `DELETE FROM chat_sessions WHERE id = ?`
	_, err := db.ExecContext(ctx, query, sessionID)
	return err
}
