// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Stream Event Types
// =============================================================================

// Stream event type values. Every event written to an SSE stream uses
// exactly one of these types.
const (
	// EventToken is an incremental answer fragment. Carries Content and a
	// zero-based Token sequence number.
	EventToken = "token"

	// EventToolStart announces that a tool is about to run. Carries a
	// human-readable Message for display.
	EventToolStart = "tool_start"

	// EventToolThinking indicates the model decided to call a tool and is
	// preparing arguments. Carries ToolName.
	EventToolThinking = "tool_thinking"

	// EventToolCall reports a concrete tool invocation. Carries Tool and
	// the raw Input arguments.
	EventToolCall = "tool_call"

	// EventToolResult reports a completed tool execution. Carries Result,
	// truncated for transport.
	EventToolResult = "tool_result"

	// EventStatus is a progress message for display (e.g. "Generating
	// response...").
	EventStatus = "status"

	// EventSources lists retrieved documents that ground the answer.
	EventSources = "sources"

	// EventDone terminates a successful stream. Carries TotalTokens and
	// SessionId. Exactly one terminal event is sent per stream.
	EventDone = "done"

	// EventError terminates a failed stream. Carries Error. Exactly one
	// terminal event is sent per stream.
	EventError = "error"
)

// =============================================================================
// Stream Event
// =============================================================================

// StreamEvent is a single server-sent event in a chat stream.
//
// # Description
//
// StreamEvent is the union of all event payloads. Type selects which of
// the optional fields are populated. Every event carries an envelope
// (Id, CreatedAt, Hash, PrevHash) maintained by the SSE writer: Hash is
// the SHA-256 of the event content and PrevHash links to the previous
// event, forming a verifiable chain over the whole stream.
//
// # Fields
//
//   - Id: UUID v4, assigned at write time.
//   - Type: One of the Event* constants.
//   - CreatedAt: Unix milliseconds, assigned at write time.
//   - Hash, PrevHash: Integrity chain, assigned at write time.
//   - Content: Token text (token events).
//   - Token: Zero-based token sequence number (token events).
//   - Message: Display message (tool_start, status events).
//   - ToolName: Tool being prepared (tool_thinking events).
//   - Tool, Input: Tool invocation details (tool_call events).
//   - Result: Truncated tool output (tool_result events).
//   - TotalTokens: Count of token events sent (done events).
//   - Error: Client-safe error message (error events).
//   - SessionId: Conversation session (done events).
//   - Sources: Retrieved documents (sources events).
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`

	Content     string          `json:"content,omitempty"`
	Token       *int            `json:"token,omitempty"`
	Message     string          `json:"message,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	Tool        string          `json:"tool,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Result      string          `json:"result,omitempty"`
	TotalTokens *int            `json:"total_tokens,omitempty"`
	Error       string          `json:"error,omitempty"`
	SessionId   string          `json:"session_id,omitempty"`
	Sources     []SourceInfo    `json:"sources,omitempty"`
}

// NewStreamEvent creates an event of the given type with Id and CreatedAt
// populated. The SSE writer overwrites both at write time; pre-populating
// keeps events usable outside a writer (tests, buffered replay).
func NewStreamEvent(eventType string) *StreamEvent {
	return &StreamEvent{
		Id:        generateUUID(),
		Type:      eventType,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// WithMessage sets the display message and returns the event for chaining.
func (e *StreamEvent) WithMessage(message string) *StreamEvent {
	e.Message = message
	return e
}

// WithContent sets the token content and returns the event for chaining.
func (e *StreamEvent) WithContent(content string) *StreamEvent {
	e.Content = content
	return e
}

// WithToken sets the zero-based token sequence number.
func (e *StreamEvent) WithToken(seq int) *StreamEvent {
	e.Token = &seq
	return e
}

// WithToolName sets the tool name for tool_thinking events.
func (e *StreamEvent) WithToolName(name string) *StreamEvent {
	e.ToolName = name
	return e
}

// WithToolCall sets the tool invocation details for tool_call events.
func (e *StreamEvent) WithToolCall(tool string, input json.RawMessage) *StreamEvent {
	e.Tool = tool
	e.Input = input
	return e
}

// WithResult sets the tool output for tool_result events.
func (e *StreamEvent) WithResult(result string) *StreamEvent {
	e.Result = result
	return e
}

// WithTotalTokens sets the final token count for done events.
func (e *StreamEvent) WithTotalTokens(total int) *StreamEvent {
	e.TotalTokens = &total
	return e
}

// WithSources sets the retrieved document list.
func (e *StreamEvent) WithSources(sources []SourceInfo) *StreamEvent {
	e.Sources = sources
	return e
}

// WithSessionId sets the session identifier.
func (e *StreamEvent) WithSessionId(sessionId string) *StreamEvent {
	e.SessionId = sessionId
	return e
}

// WithError sets the client-safe error message.
func (e *StreamEvent) WithError(errorMsg string) *StreamEvent {
	e.Error = errorMsg
	return e
}
