// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// =============================================================================
// AGENT CHAT MODULE - STREAM CONTRACT
// =============================================================================
//
// This module implements the agent chat endpoints. One turn runs the agent
// graph (model calls interleaved with tool execution) and relays its
// progress to the client over SSE.
//
// # Event Vocabulary
//
// | Event         | Payload fields            | When                            |
// |---------------|---------------------------|---------------------------------|
// | status        | message                   | Progress display                |
// | token         | content, token (seq)      | Answer fragment                 |
// | tool_start    | message                   | Tool phase begins               |
// | tool_thinking | tool_name                 | Model composing a tool call     |
// | tool_call     | tool, input               | Tool invocation dispatched      |
// | tool_result   | result (truncated)        | Tool execution finished         |
// | done          | total_tokens, session_id  | Clean end (exactly one terminal)|
// | error         | error                     | Failed end (exactly one terminal)|
//
// Every stream opens with a ": connected" comment. Every event carries the
// integrity envelope (id, created_at, hash, prev_hash) maintained by the
// SSE writer. Keepalive comments are sent every heartbeatInterval and are
// not part of the hash chain.
//
// # Turn Lifecycle
//
// 1. Resolve or create the session; reject foreign sessions as not found.
// 2. Persist the user message, then load context (last N messages, or the
//    session checkpoint when the client asks for checkpointing).
// 3. Run the graph, accumulating token events in mlocked memory.
// 4. On clean end: persist the assistant message with its integrity hash,
//    save the checkpoint if requested, kick off title generation, then
//    emit done. On failure: emit a single error event; nothing from the
//    failed turn is persisted.
//
// =============================================================================

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/aleutian-agent/services/llm"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/agent"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/middleware"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/observability"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/tools"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second

	// maxHistoryMessages limits how many stored messages are loaded as
	// context for one turn. This prevents context window overflow for
	// long conversations.
	maxHistoryMessages = 20

	// DefaultStreamTimeout bounds one streaming turn end to end.
	DefaultStreamTimeout = 300 * time.Second

	// systemPrompt opens every model-visible conversation.
	systemPrompt = "You are a helpful assistant."
)

// errSessionNotFound covers both absent sessions and sessions owned by
// another user, so session ids cannot be probed.
var errSessionNotFound = errors.New("session not found")

// =============================================================================
// Interface Definition
// =============================================================================

// ChatHandler defines the contract for the agent chat endpoints.
//
// # Description
//
// ChatHandler runs one agent turn per request: the conversation context is
// assembled from the session store, the agent graph executes the
// model/tool loop, and the outcome is persisted back to the session.
// HandleChatStream relays progress over SSE; HandleChat blocks and
// returns a single JSON response.
//
// # Thread Safety
//
// Implementations must be safe for concurrent requests.
type ChatHandler interface {
	// HandleChatStream processes an agent chat turn with SSE streaming.
	//
	// # Description
	//
	// Handles POST /api/v1/chat/stream. Persists the user message, runs
	// the agent graph, and streams normalized events as they happen.
	// Exactly one terminal event (done or error) ends every stream.
	//
	// # Inputs
	//
	//   - c: Gin context carrying the authenticated request.
	//
	// # Outputs
	//
	// SSE stream per the module contract above. Errors before the SSE
	// handshake are returned as JSON HTTP errors; errors after it are
	// sent as error events.
	HandleChatStream(c *gin.Context)

	// HandleChat processes an agent chat turn without streaming.
	//
	// # Description
	//
	// Handles POST /api/v1/chat. Same pipeline as HandleChatStream but
	// the agent runs to completion silently and the final answer is
	// returned as one JSON document.
	//
	// # Inputs
	//
	//   - c: Gin context carrying the authenticated request.
	HandleChat(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// chatHandler implements ChatHandler for production use.
//
// # Description
//
// chatHandler coordinates between the HTTP layer and the agent graph:
// request parsing and validation, session resolution and ownership,
// context assembly, SSE transport, and turn persistence. The graph owns
// the model/tool loop; the handler owns everything around it.
//
// # Fields
//
//   - db: Shared store handle for sessions, messages, and checkpoints.
//   - graph: Agent graph executing the model/tool loop.
//   - titles: Background title generator. May be nil (titles disabled).
//   - model: Backend model name, used as a metrics label.
//   - streamTimeout: Per-turn budget for streaming requests.
//   - tracer: OpenTelemetry tracer for distributed tracing.
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction; per-request
// state lives on the stack.
type chatHandler struct {
	db            *sql.DB
	graph         *agent.Graph
	titles        *TitleGenerator
	model         string
	streamTimeout time.Duration
	tracer        trace.Tracer
}

// ChatHandlerConfig carries the tunables for NewChatHandler.
type ChatHandlerConfig struct {
	// StreamTimeout bounds one streaming turn. Zero means
	// DefaultStreamTimeout.
	StreamTimeout time.Duration

	// Model is the configured backend model name, used to label token
	// metrics.
	Model string
}

// =============================================================================
// Constructor
// =============================================================================

// NewChatHandler creates a ChatHandler with the provided dependencies.
//
// # Description
//
// Creates a fully configured chatHandler for production use. Panics if db
// or graph is nil (programming errors). titles may be nil, which disables
// background title generation.
//
// # Inputs
//
//   - db: Store handle. Must not be nil.
//   - graph: Agent graph. Must not be nil.
//   - titles: Title generator, or nil.
//   - cfg: Tunables. Zero values fall back to defaults.
//
// # Outputs
//
//   - ChatHandler: Ready for use with the Gin router.
//
// # Examples
//
//	handler := handlers.NewChatHandler(db, graph, titles, handlers.ChatHandlerConfig{})
//	router.POST("/api/v1/chat/stream", handler.HandleChatStream)
//	router.POST("/api/v1/chat", handler.HandleChat)
func NewChatHandler(db *sql.DB, graph *agent.Graph, titles *TitleGenerator, cfg ChatHandlerConfig) ChatHandler {
	if db == nil {
		panic("NewChatHandler: db must not be nil")
	}
	if graph == nil {
		panic("NewChatHandler: graph must not be nil")
	}

	timeout := cfg.StreamTimeout
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}

	return &chatHandler{
		db:            db,
		graph:         graph,
		titles:        titles,
		model:         cfg.Model,
		streamTimeout: timeout,
		tracer:        otel.Tracer("aleutian.orchestrator.chat"),
	}
}

// =============================================================================
// Streaming Handler
// =============================================================================

// HandleChatStream processes an agent chat turn with SSE streaming.
//
// # Description
//
// The full turn lifecycle is documented in the module header. Before the
// SSE handshake errors surface as JSON HTTP responses; afterwards every
// failure becomes a single error event so the client always sees exactly
// one terminal.
//
// # Inputs
//
//   - c: Gin context containing the HTTP request. The auth middleware
//     must have stored AuthInfo.
//
// # Outputs
//
// SSE stream:
//
//	: connected
//
//	event: status
//	data: {"type":"status","message":"Generating response...","id":...}
//
//	event: token
//	data: {"type":"token","content":"Hello","token":0,"id":...}
//
//	event: done
//	data: {"type":"done","total_tokens":1,"session_id":"...","id":...}
//
// # Limitations
//
//   - Errors during streaming are sent as events, not HTTP errors.
//
// # Assumptions
//
//   - Client supports SSE.
func (h *chatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	// Track active stream (for metrics)
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 0: Authenticated user, stored by the auth middleware.
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	span.SetAttributes(attribute.String("user.id", authInfo.UserID))

	// Step 1: Parse and validate the request.
	var req datatypes.AgentChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse streaming chat request", "error", err)
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
		slog.Error("Streaming chat request validation failed",
			"request_id", req.RequestID,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.Bool("request.use_checkpoint", req.UseCheckpoint),
	)

	// Step 2: Resolve the session and record the user turn before the
	// agent runs, so the question survives a mid-stream failure.
	session, err := h.resolveSession(ctx, authInfo.UserID, &req)
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "session resolution failed")
		slog.Error("Failed to resolve chat session",
			"request_id", req.RequestID,
			"error", err,
		)
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

	// Step 3: Assemble the model-visible conversation.
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

	// Step 4: Switch to SSE.
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer",
			"request_id", req.RequestID,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}
	if err := writer.WriteConnected(); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write stream preamble", "request_id", req.RequestID, "error", err)
		return
	}
	if err := writer.WriteStatus("Generating response..."); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write status event", "request_id", req.RequestID, "error", err)
		return
	}

	// Step 5: Per-turn budget and heartbeat.
	streamCtx, cancel := context.WithTimeout(ctx, h.streamTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(streamCtx, writer, endpoint, heartbeatDone)

	// Step 6: Accumulate token events in mlocked memory while relaying
	// everything to the wire.
	accumulator, accErr := NewSecureTokenAccumulator()
	if accErr != nil {
		slog.Warn("Token accumulator unavailable, answer will be persisted without integrity hash",
			"request_id", req.RequestID,
			"error", accErr,
		)
	}
	defer func() {
		if accumulator != nil {
			accumulator.Destroy()
		}
	}()

	accumulating := true
	var firstTokenTime time.Time
	emit := func(event *datatypes.StreamEvent) error {
		if accumulating && event.Type == datatypes.EventToken {
			if firstTokenTime.IsZero() {
				firstTokenTime = time.Now()
			}
			if accumulator != nil {
				if err := accumulator.Write(event.Content); err != nil {
					// Log but keep streaming; the user still wants the answer.
					slog.Warn("Failed to accumulate token for persistence",
						"request_id", req.RequestID,
						"accumulator_id", accumulator.ID(),
						"error", err,
					)
				}
			}
		}
		return writer.WriteEvent(event)
	}
	n := agent.NewNormalizer(emit)

	// Step 7: Run the agent turn.
	rc := tools.RunContext{UserID: authInfo.UserID, SessionID: sessionID}
	result, runErr := h.graph.Run(streamCtx, rc, messages, n)

	close(heartbeatDone)

	// The fallback token emitted by Done is display-only; stop
	// accumulating so it never reaches the persisted answer.
	accumulating = false

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "agent turn failed")
		span.SetAttributes(attribute.Int("stream.token_count", n.TokenCount()))
		slog.Error("Agent turn failed",
			"request_id", req.RequestID,
			"session_id", sessionID,
			"token_count", n.TokenCount(),
			"error", runErr,
		)

		switch {
		case errors.Is(runErr, context.Canceled):
			// Client is gone; there is nobody left to send an error to.
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			}
		case errors.Is(runErr, context.DeadlineExceeded):
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeTimeout)
			}
			if err := n.Error(agent.TimeoutErrorMessage); err != nil {
				slog.Debug("Failed to write timeout error event", "error", err)
			}
		default:
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
			if err := n.Error(sanitizeErrorForClient(runErr)); err != nil {
				slog.Debug("Failed to write error event", "error", err)
			}
		}
		// Accumulated partial output is discarded by the deferred Destroy.
		return
	}

	// Record time to first token
	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}
	span.SetAttributes(attribute.Int("stream.token_count", n.TokenCount()))

	// Step 8: Extract the final answer and its integrity hash. The
	// accumulated text is authoritative; it is exactly what the client saw.
	answer := result.FinalContent
	answerHash := ""
	if accumulator != nil {
		if acc, hash, err := accumulator.Finalize(); err != nil {
			slog.Warn("Failed to finalize token accumulator",
				"request_id", req.RequestID,
				"error", err,
			)
		} else {
			answer = acc
			answerHash = hash
		}
	}

	promptTokens, completionTokens := turnTokenCounts(result.Usage, n.TokenCount())

	// Step 9: Persist the assistant turn, then terminate the stream. A
	// failed save must not masquerade as success.
	if answer != "" {
		if err := h.persistAssistantMessage(ctx, sessionID, answer, answerHash, completionTokens); err != nil {
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
			if err := n.Error(sanitizeErrorForClient(err)); err != nil {
				slog.Debug("Failed to write persistence error event", "error", err)
			}
			return
		}
	}
	if req.UseCheckpoint {
		h.saveCheckpoint(ctx, sessionID, result.Messages)
	}
	h.maybeGenerateTitle(ctx, sessionID)

	// Step 10: Terminal event. Done emits the synthetic fallback token
	// first when the turn produced no tokens.
	if err := n.Done(sessionID); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write done event", "request_id", req.RequestID, "error", err)
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordTokens(promptTokens, completionTokens, h.model)
	}

	success = true
	span.SetStatus(codes.Ok, "stream completed")
}

// =============================================================================
// Heartbeat
// =============================================================================

// runHeartbeat sends keepalive comments until the stream ends.
//
// # Description
//
// Runs as a goroutine alongside the agent turn. Sends an SSE comment
// every heartbeatInterval so load balancers do not drop the connection
// during long tool executions. Stops when done closes, the context ends,
// or a write fails (client gone).
//
// # Inputs
//
//   - ctx: Stream context; cancellation stops the heartbeat.
//   - writer: SSE writer shared with the event relay.
//   - endpoint: Endpoint label for metrics.
//   - done: Closed by the caller when the turn finishes.
func (h *chatHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// =============================================================================
// Turn Assembly Helpers
// =============================================================================

// resolveSession loads the requested session and verifies ownership, or
// creates a fresh one when the request carries no session id. Absent and
// foreign sessions both return errSessionNotFound.
func (h *chatHandler) resolveSession(ctx context.Context, userID string, req *datatypes.AgentChatRequest) (*store.ChatSession, error) {
	if req.SessionID == "" {
		session := &store.ChatSession{UserID: userID}
		if err := store.CreateChatSession(ctx, h.db, session); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return session, nil
	}

	session, err := store.GetChatSessionByID(ctx, h.db, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil || session.UserID != userID {
		return nil, errSessionNotFound
	}
	return session, nil
}

// loadTurnContext assembles the model-visible conversation for this turn.
//
// # Description
//
// In checkpoint mode the saved graph state is the context and the new
// user message is appended to it. Otherwise the last maxHistoryMessages
// stored messages (which include the just-persisted user message) are
// loaded behind the system prompt. An unreadable or missing checkpoint
// falls back to the message window so the turn still proceeds.
func (h *chatHandler) loadTurnContext(ctx context.Context, req *datatypes.AgentChatRequest, sessionID string) ([]datatypes.Message, error) {
	if req.UseCheckpoint {
		cp, err := store.GetLatestAgentCheckpoint(ctx, h.db, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if cp != nil {
			var msgs []datatypes.Message
			if err := json.Unmarshal([]byte(cp.State), &msgs); err != nil {
				slog.Warn("Discarding unreadable agent checkpoint",
					"session_id", sessionID,
					"checkpoint_id", cp.ID,
					"error", err,
				)
			} else {
				return append(msgs, datatypes.Message{
					Role:    datatypes.RoleUser,
					Content: req.Message,
				}), nil
			}
		}
	}

	history, err := store.ListRecentChatMessages(ctx, h.db, sessionID, maxHistoryMessages)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	msgs := make([]datatypes.Message, 0, len(history)+1)
	msgs = append(msgs, datatypes.Message{Role: datatypes.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		msgs = append(msgs, datatypes.Message{Role: m.Role, Content: m.Content})
	}
	return msgs, nil
}

// =============================================================================
// Turn Persistence Helpers
// =============================================================================

// messageMetadata is the JSON document stored alongside an assistant
// message.
type messageMetadata struct {
	Hash string `json:"hash,omitempty"`
}

// persistAssistantMessage stores the assistant turn with its integrity
// hash and bumps session activity.
func (h *chatHandler) persistAssistantMessage(ctx context.Context, sessionID, answer, hash string, tokenCount int) error {
	meta := ""
	if hash != "" {
		if data, err := json.Marshal(messageMetadata{Hash: hash}); err == nil {
			meta = string(data)
		}
	}

	msg := &store.ChatMessage{
		SessionID:  sessionID,
		Role:       datatypes.RoleAssistant,
		Content:    answer,
		TokenCount: tokenCount,
		Metadata:   meta,
	}
	if err := store.CreateChatMessage(ctx, h.db, msg); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	if err := store.TouchChatSession(ctx, h.db, sessionID); err != nil {
		slog.Warn("Failed to bump session activity", "session_id", sessionID, "error", err)
	}
	return nil
}

// saveCheckpoint serializes the turn's final transcript as the session
// checkpoint. Checkpoint failures are logged, not surfaced: the messages
// themselves are already persisted.
func (h *chatHandler) saveCheckpoint(ctx context.Context, sessionID string, msgs []datatypes.Message) {
	state, err := json.Marshal(msgs)
	if err != nil {
		slog.Error("Failed to serialize agent checkpoint", "session_id", sessionID, "error", err)
		return
	}
	cp := &store.AgentCheckpoint{SessionID: sessionID, State: string(state)}
	if err := store.SaveAgentCheckpoint(ctx, h.db, cp); err != nil {
		slog.Error("Failed to save agent checkpoint", "session_id", sessionID, "error", err)
	}
}

// maybeGenerateTitle starts background title generation once a session
// has enough messages. Runs detached from the request so a slow model
// call never delays the terminal event.
func (h *chatHandler) maybeGenerateTitle(ctx context.Context, sessionID string) {
	if h.titles == nil {
		return
	}
	count, err := store.CountChatMessages(ctx, h.db, sessionID)
	if err != nil {
		slog.Warn("Failed to count session messages for title generation",
			"session_id", sessionID,
			"error", err,
		)
		return
	}
	if count < titleMessageThreshold {
		return
	}
	go h.titles.Generate(sessionID)
}

// turnTokenCounts picks the reported token counts for a finished turn.
// Backend usage is authoritative when present; otherwise the number of
// streamed token events stands in for completion tokens.
func turnTokenCounts(usage *llm.Usage, streamedTokens int) (promptTokens, completionTokens int) {
	completionTokens = streamedTokens
	if usage != nil {
		promptTokens = usage.PromptTokens
		if usage.CompletionTokens > 0 {
			completionTokens = usage.CompletionTokens
		}
	}
	return promptTokens, completionTokens
}

// =============================================================================
// Error Sanitization
// =============================================================================

// sanitizeErrorForClient converts an internal error into text safe to put
// on the wire. Production deployments get a generic message; elsewhere
// the detail is preserved because local debugging needs it.
func sanitizeErrorForClient(err error) string {
	if strings.EqualFold(os.Getenv("ENVIRONMENT"), "production") {
		slog.Debug("Sanitized internal error for client", "error", err)
		return "An error occurred while processing your request"
	}
	return err.Error()
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ ChatHandler = (*chatHandler)(nil)
