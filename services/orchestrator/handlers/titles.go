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
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/aleutian-agent/services/llm"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
)

const (
	// titleMessageThreshold is the message count at which a session first
	// gets a generated title.
	titleMessageThreshold = 3

	// titleContextMessages is how many messages from the start of the
	// conversation feed the title prompt. The opening exchange names the
	// topic better than the latest turn does.
	titleContextMessages = 5

	// titleContentLimit truncates long messages in the title prompt.
	titleContentLimit = 200

	// titleMaxLength caps the stored title when the model ignores the
	// word limit.
	titleMaxLength = 255

	// defaultSessionTitle is the placeholder assigned at session creation.
	// Generation only replaces this placeholder, never a user-set title.
	defaultSessionTitle = "New Chat"

	titleMaxTokens   = 20
	titleTemperature = float32(0.7)
	titleTimeout     = 30 * time.Second
)

// TitleGenerator derives short session titles from conversation openings.
//
// # Description
//
// A session is created as "New Chat" and renamed in the background once
// it has enough messages. Generation runs detached from the request that
// triggered it, on its own context and timeout, and every failure mode
// degrades to keeping the current title. The store write deliberately
// does not bump session activity, so a rename never reorders the
// session list.
//
// # Thread Safety
//
// Thread-safe. Fields are read-only after construction. Concurrent
// Generate calls for the same session are harmless; the last write wins
// and both produce a title from the same opening messages.
type TitleGenerator struct {
	db      *sql.DB
	client  llm.LLMClient
	timeout time.Duration
}

// NewTitleGenerator creates a TitleGenerator. Panics if db or client is
// nil.
func NewTitleGenerator(db *sql.DB, client llm.LLMClient) *TitleGenerator {
	if db == nil {
		panic("NewTitleGenerator: db must not be nil")
	}
	if client == nil {
		panic("NewTitleGenerator: client must not be nil")
	}
	return &TitleGenerator{db: db, client: client, timeout: titleTimeout}
}

// Generate derives and stores a title for sessionID.
//
// # Description
//
// Intended to run as a goroutine. Loads the opening messages, asks the
// model for a 3-5 word title, and stores the cleaned result. Skips
// sessions that already carry a non-placeholder title. All errors are
// logged and swallowed; the session simply keeps its current title.
func (t *TitleGenerator) Generate(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	session, err := store.GetChatSessionByID(ctx, t.db, sessionID)
	if err != nil {
		slog.Warn("Title generation: failed to load session", "session_id", sessionID, "error", err)
		return
	}
	if session == nil {
		return
	}
	if session.Title != "" && session.Title != defaultSessionTitle {
		return
	}

	messages, err := store.ListFirstChatMessages(ctx, t.db, sessionID, titleContextMessages)
	if err != nil {
		slog.Warn("Title generation: failed to load messages", "session_id", sessionID, "error", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	title, err := t.client.Generate(ctx, buildTitlePrompt(messages), titleParams())
	if err != nil {
		slog.Warn("Title generation: model call failed", "session_id", sessionID, "error", err)
		return
	}
	title = cleanTitle(title)
	if title == "" {
		return
	}

	if err := store.SetChatSessionTitle(ctx, t.db, sessionID, title); err != nil {
		slog.Warn("Title generation: failed to store title", "session_id", sessionID, "error", err)
		return
	}
	slog.Debug("Generated session title", "session_id", sessionID, "title", title)
}

// buildTitlePrompt renders the opening messages into the title prompt.
func buildTitlePrompt(messages []store.ChatMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		if len(content) > titleContentLimit {
			content = content[:titleContentLimit]
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, content))
	}
	return fmt.Sprintf(
		"Generate a short title (3-5 words) for this conversation:\n\n%s\n\nTitle:",
		strings.Join(lines, "\n"),
	)
}

func titleParams() llm.GenerationParams {
	maxTokens := titleMaxTokens
	temperature := titleTemperature
	return llm.GenerationParams{
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}
}

// cleanTitle strips the decoration models like to add around short
// completions.
func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	if len(title) > titleMaxLength {
		title = strings.TrimSpace(title[:titleMaxLength])
	}
	return title
}
