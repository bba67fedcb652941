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

// CreateChatMessage inserts a new message row.
func CreateChatMessage(ctx context.Context, db Execer, message *ChatMessage) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO messages (id, session_id, role, content, tool_calls, token_count, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, message.ID, message.SessionID, message.Role, message.Content, message.ToolCalls, message.TokenCount, message.Metadata, message.CreatedAt)
	return err
}

// ListChatMessages retrieves all messages for a session, oldest first.
// Ties on created_at break on insertion order.
func ListChatMessages(ctx context.Context, db sqlscan.Querier, sessionID string) ([]ChatMessage, error) {
	query := `SELECT id, session_id, role, content, tool_calls, token_count, metadata, created_at FROM messages WHERE session_id = ? ORDER BY created_at, rowid`
	var messages []ChatMessage
	err := sqlscan.Select(ctx, db, &messages, query, sessionID)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ListRecentChatMessages retrieves the most recent limit messages for a
// session, returned oldest first so they can be fed to the model as-is.
func ListRecentChatMessages(ctx context.Context, db sqlscan.Querier, sessionID string, limit int) ([]ChatMessage, error) {
	query := `SELECT id, session_id, role, content, tool_calls, token_count, metadata, created_at FROM messages WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`
	var messages []ChatMessage
	err := sqlscan.Select(ctx, db, &messages, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	// Newest-first from the index scan; callers want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListFirstChatMessages retrieves the earliest limit messages for a
// session, oldest first. Title generation reads the opening exchange.
func ListFirstChatMessages(ctx context.Context, db sqlscan.Querier, sessionID string, limit int) ([]ChatMessage, error) {
	query := `SELECT id, session_id, role, content, tool_calls, token_count, metadata, created_at FROM messages WHERE session_id = ? ORDER BY created_at, rowid LIMIT ?`
	var messages []ChatMessage
	err := sqlscan.Select(ctx, db, &messages, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// CountChatMessages returns the number of messages in a session.
func CountChatMessages(ctx context.Context, db sqlscan.Querier, sessionID string) (int, error) {
	query := `SELECT COUNT(*) AS n FROM messages WHERE session_id = ?`
	var result struct {
		N int `db:"n"`
	}
	err := sqlscan.Get(ctx, db, &result, query, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return result.N, nil
}
