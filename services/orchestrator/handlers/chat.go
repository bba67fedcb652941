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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/agent"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/middleware"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/observability"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/tools"
)

// nonStreamingFallbackContent is the canned answer returned when a
// blocking turn fails. It is returned with HTTP 200 and never persisted.
const nonStreamingFallbackContent = "I'm sorry, I couldn't process your request."

// HandleChat processes an agent chat turn without streaming.
//
// # Description
//
// Handles POST /api/v1/chat. Same pipeline as HandleChatStream, minus
// the transport: the agent graph runs to completion with no event relay
// and the final answer comes back as one JSON document. A turn that
// fails after the user message was saved answers with
// nonStreamingFallbackContent rather than an HTTP error, so clients can
// render something either way; the failed answer is not persisted.
//
// # Outputs
//
//	{
//	  "response_id": "...",
//	  "request_id": "...",
//	  "session_id": "...",
//	  "timestamp": 1736550000000,
//	  "answer": "The capital of France is Paris.",
//	  "usage": {"input_tokens": 120, "output_tokens": 9},
//	  "processing_time_ms": 1843
//	}
func (h *chatHandler) HandleChat(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChat")
	defer span.End()

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
		}
	}()

	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req datatypes.AgentChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Chat request validation failed", "request_id", req.RequestID, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	span.SetAttributes(
		attribute.String("user.id", authInfo.UserID),
		attribute.String("request.id", req.RequestID),
	)

	session, err := h.resolveSession(ctx, authInfo.UserID, &req)
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "session resolution failed")
		slog.Error("Failed to resolve chat session", "request_id", req.RequestID, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePersistence)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve session"})
		return
	}
	sessionID := session.ID
	span.SetAttributes(attribute.String("session.id", sessionID))

	userMsg := &store.ChatMessage{
		SessionID: sessionID,
		Role:      datatypes.RoleUser,
		Content:   req.Message,
	}
	if err := store.CreateChatMessage(ctx, h.db, userMsg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist user message")
		slog.Error("Failed to persist user message",
			"request_id", req.RequestID,
			"session_id", sessionID,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePersistence)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save message"})
		return
	}
	if err := store.TouchChatSession(ctx, h.db, sessionID); err != nil {
		slog.Warn("Failed to bump session activity", "session_id", sessionID, "error", err)
	}

	messages, err := h.loadTurnContext(ctx, &req, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context assembly failed")
		slog.Error("Failed to load turn context",
			"request_id", req.RequestID,
			"session_id", sessionID,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, h.streamTimeout)
	defer cancel()

	// The graph emits through a normalizer even when nobody listens; a
	// discard emitter keeps Run's contract uniform across both endpoints.
	n := agent.NewNormalizer(func(*datatypes.StreamEvent) error { return nil })

	rc := tools.RunContext{UserID: authInfo.UserID, SessionID: sessionID}
	result, runErr := h.graph.Run(runCtx, rc, messages, n)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "agent turn failed")
		slog.Error("Agent turn failed",
			"request_id", req.RequestID,
			"session_id", sessionID,
			"error", runErr,
		)
		if m := observability.DefaultMetrics; m != nil {
			switch {
			case errors.Is(runErr, context.Canceled):
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
			case errors.Is(runErr, context.DeadlineExceeded):
				m.RecordError(endpoint, observability.ErrorCodeTimeout)
			default:
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
		}
		resp := datatypes.NewAgentChatResponse(req.RequestID, sessionID, nonStreamingFallbackContent)
		resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()
		c.JSON(http.StatusOK, resp)
		return
	}

	answer := result.FinalContent
	promptTokens, completionTokens := turnTokenCounts(result.Usage, n.TokenCount())

	if answer != "" {
		sum := sha256.Sum256([]byte(answer))
		if err := h.persistAssistantMessage(ctx, sessionID, answer, hex.EncodeToString(sum[:]), completionTokens); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to persist assistant message")
			slog.Error("Failed to persist assistant message",
				"request_id", req.RequestID,
				"session_id", sessionID,
				"error", err,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodePersistence)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save message"})
			return
		}
	}
	if req.UseCheckpoint {
		h.saveCheckpoint(ctx, sessionID, result.Messages)
	}
	h.maybeGenerateTitle(ctx, sessionID)

	if m := observability.DefaultMetrics; m != nil {
		m.RecordTokens(promptTokens, completionTokens, h.model)
	}

	// Same substitution the stream applies: an empty clean answer becomes
	// the fallback text, and the fallback is never persisted.
	if answer == "" {
		answer = agent.FallbackContent
	}

	resp := datatypes.NewAgentChatResponse(req.RequestID, sessionID, answer)
	resp.Usage = &datatypes.TokenUsage{InputTokens: promptTokens, OutputTokens: completionTokens}
	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	success = true
	span.SetStatus(codes.Ok, "chat completed")
	c.JSON(http.StatusOK, resp)
}
