// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains request and response types for agent chat endpoints.
// For streaming event types, see stream.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Per SEC-003: Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	// Per SEC-004: Unbounded message history mitigation.
	MaxMessagesPerRequest = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size (SEC-003)
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxMessageContentBytes.
//
// # Description
//
// Custom validator to enforce SEC-003 message size limits. Checks byte length
// (not rune count) to prevent memory exhaustion attacks with large payloads.
//
// # Inputs
//
//   - fl: Validator field level containing the string to validate
//
// # Outputs
//
//   - bool: true if content <= 32KB, false otherwise
//
// # Security References
//
//   - SEC-003: Unbounded message input (security_architecture_review.md)
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Agent Chat Request Types
// =============================================================================

// AgentChatRequest represents an agent chat request body.
//
// # Description
//
// AgentChatRequest carries the user's message for one agent turn. It is
// used by both POST /v1/chat (blocking) and POST /v1/chat/stream (SSE).
// The server loads conversation history for SessionID, runs the agent
// loop, and persists the resulting turn. Every request includes a unique
// ID and timestamp for audit trails and database correlation.
//
// # Fields
//
//   - RequestID: Optional client-supplied UUID v4. Generated server-side
//     when absent (see EnsureDefaults).
//   - Timestamp: Optional Unix milliseconds (UTC). Generated server-side
//     when absent.
//   - SessionID: Optional. The chat session receiving this turn; a new
//     session is created when absent and its id is returned in the done
//     event (or the blocking response).
//   - Message: Required. The user's input, limited to 32KB (SEC-003).
//   - UseCheckpoint: When true, conversation context comes from the
//     session's persisted graph checkpoint instead of the recent message
//     window.
//
// # Validation
//
// Uses go-playground/validator:
//   - SessionID: optional, must be valid UUID v4 when present
//   - Message: required, max 32768 bytes per SEC-003
//   - BudgetTokens-style tuning is intentionally not exposed; agent
//     iteration limits are server configuration
//
// # Limitations
//
//   - One user message per request; history lives server-side
//
// # Security References
//
//   - SEC-003: Message size limits (security_architecture_review.md)
//   - SEC-005: Error message sanitization (security_architecture_review.md)
type AgentChatRequest struct {
	RequestID     string `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp     int64  `json:"timestamp" validate:"gte=0"`
	SessionID     string `json:"session_id" validate:"omitempty,uuid4"`
	Message       string `json:"message" validate:"required,maxbytes"`
	UseCheckpoint bool   `json:"use_checkpoint"`
}

// Validate validates the AgentChatRequest fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field
func (r *AgentChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the client omitted
// them, so every request has proper identifiers for tracing and auditing.
func (r *AgentChatRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// =============================================================================
// Agent Chat Response Types
// =============================================================================

// AgentChatResponse represents the response from a blocking agent chat request.
//
// # Description
//
// Contains the agent's final answer after the full model/tool loop ran.
// Every response includes a unique ID and timestamp for audit trails.
//
// # Fields
//
//   - ResponseID: UUID v4 generated server-side.
//   - RequestID: Echo of the request ID for correlation.
//   - SessionID: Echo of the session this turn belongs to.
//   - Timestamp: Unix milliseconds (UTC) when the response was generated.
//   - Answer: The agent's final answer text.
//   - Usage: Optional token usage statistics.
//   - ProcessingTimeMs: Time taken to process the request.
type AgentChatResponse struct {
	ResponseID       string      `json:"response_id"`
	RequestID        string      `json:"request_id"`
	SessionID        string      `json:"session_id"`
	Timestamp        int64       `json:"timestamp"`
	Answer           string      `json:"answer"`
	Usage            *TokenUsage `json:"usage,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms,omitempty"`
}

// NewAgentChatResponse creates an AgentChatResponse with auto-generated
// ID and timestamp.
func NewAgentChatResponse(requestID, sessionID, answer string) *AgentChatResponse {
	return &AgentChatResponse{
		ResponseID: generateUUID(),
		RequestID:  requestID,
		SessionID:  sessionID,
		Timestamp:  time.Now().UnixMilli(),
		Answer:     answer,
	}
}

// =============================================================================
// Token Usage Types
// =============================================================================

// TokenUsage contains token consumption statistics.
//
// # Fields
//
//   - InputTokens: Number of tokens in the prompt/messages
//   - OutputTokens: Number of tokens in the response
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
