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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/middleware"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
)

// SessionHandler serves the chat session management endpoints.
//
// # Description
//
// Sessions belong to exactly one user. Every operation resolves the
// session under the authenticated user's identity; a session that exists
// but belongs to someone else is reported as absent, so session ids leak
// nothing.
type SessionHandler struct {
	db *sql.DB
}

// NewSessionHandler creates a SessionHandler. Panics if db is nil.
func NewSessionHandler(db *sql.DB) *SessionHandler {
	if db == nil {
		panic("NewSessionHandler: db must not be nil")
	}
	return &SessionHandler{db: db}
}

// CreateSessionRequest is the body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	// Title is optional; empty means the "New Chat" placeholder.
	Title string `json:"title"`
}

// UpdateSessionRequest is the body for PATCH /api/v1/sessions/:id. Only
// fields present in the JSON are applied.
type UpdateSessionRequest struct {
	Title    *string `json:"title"`
	Pinned   *bool   `json:"pinned"`
	Archived *bool   `json:"archived"`
}

// ownedSession resolves the :id parameter to a session owned by the
// authenticated user. On any failure it writes the HTTP response and
// returns nil.
func (h *SessionHandler) ownedSession(c *gin.Context) *store.ChatSession {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil
	}

	sessionID := c.Param("id")
	session, err := store.GetChatSessionByID(c.Request.Context(), h.db, sessionID)
	if err != nil {
		slog.Error("Failed to load session", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return nil
	}
	if session == nil || session.UserID != authInfo.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil
	}
	return session
}

// HandleList handles GET /api/v1/sessions.
//
// Returns the user's sessions, pinned first, most recently active next.
// Archived sessions are hidden unless ?include_archived=true.
func (h *SessionHandler) HandleList(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	includeArchived := c.Query("include_archived") == "true"
	sessions, err := store.ListChatSessions(c.Request.Context(), h.db, authInfo.UserID, includeArchived)
	if err != nil {
		slog.Error("Failed to list sessions", "user_id", authInfo.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// HandleCreate handles POST /api/v1/sessions.
func (h *SessionHandler) HandleCreate(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	// The body is optional; a bare POST creates a "New Chat" session.
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	session := &store.ChatSession{UserID: authInfo.UserID, Title: req.Title}
	if err := store.CreateChatSession(c.Request.Context(), h.db, session); err != nil {
		slog.Error("Failed to create session", "user_id", authInfo.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, session)
}

// HandleGet handles GET /api/v1/sessions/:id.
func (h *SessionHandler) HandleGet(c *gin.Context) {
	session := h.ownedSession(c)
	if session == nil {
		return
	}
	c.JSON(http.StatusOK, session)
}

// HandleUpdate handles PATCH /api/v1/sessions/:id.
//
// Applies any combination of title, pinned, and archived. A patch that
// names none of them is rejected.
func (h *SessionHandler) HandleUpdate(c *gin.Context) {
	session := h.ownedSession(c)
	if session == nil {
		return
	}

	var req UpdateSessionRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Title == nil && req.Pinned == nil && req.Archived == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	if err := store.UpdateChatSession(c.Request.Context(), h.db, session.ID, req.Title, req.Pinned, req.Archived); err != nil {
		slog.Error("Failed to update session", "session_id", session.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update session"})
		return
	}

	updated, err := store.GetChatSessionByID(c.Request.Context(), h.db, session.ID)
	if err != nil || updated == nil {
		slog.Error("Failed to reload session after update", "session_id", session.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// HandleDelete handles DELETE /api/v1/sessions/:id.
//
// Messages and checkpoints go with the session via cascading deletes.
func (h *SessionHandler) HandleDelete(c *gin.Context) {
	session := h.ownedSession(c)
	if session == nil {
		return
	}

	if err := store.DeleteChatSession(c.Request.Context(), h.db, session.ID); err != nil {
		slog.Error("Failed to delete session", "session_id", session.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}
	slog.Info("Deleted session", "session_id", session.ID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": session.ID})
}

// HandleMessages handles GET /api/v1/sessions/:id/messages.
//
// Returns the full conversation, oldest first.
func (h *SessionHandler) HandleMessages(c *gin.Context) {
	session := h.ownedSession(c)
	if session == nil {
		return
	}

	messages, err := store.ListChatMessages(c.Request.Context(), h.db, session.ID)
	if err != nil {
		slog.Error("Failed to list messages", "session_id", session.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "messages": messages})
}
