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

	"github.com/google/uuid"
)

// =============================================================================
// Message Roles
// =============================================================================

const (
	// RoleSystem marks instructions injected by the server, never by users.
	RoleSystem = "system"

	// RoleUser marks end-user input.
	RoleUser = "user"

	// RoleAssistant marks model output, including tool call requests.
	RoleAssistant = "assistant"

	// RoleTool marks tool execution results fed back to the model.
	RoleTool = "tool"
)

// =============================================================================
// Core Message Types
// =============================================================================

// Message is a single conversation message exchanged with the LLM.
//
// # Description
//
// Message covers all four roles of the agent loop. A plain user or system
// message only sets Role and Content. An assistant message that requests
// tool execution carries ToolCalls. A tool result message sets Role to
// "tool" plus ToolCallID and Name so the model can match the result to
// its request.
//
// # Fields
//
//   - Role: One of "system", "user", "assistant", "tool".
//   - Content: Message text. May be empty on assistant messages that
//     only request tool calls.
//   - Name: Tool name, set on tool result messages.
//   - ToolCallID: ID of the tool call this message answers (role=tool).
//   - ToolCalls: Tool invocations requested by the assistant.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
//
// Arguments hold the raw JSON payload exactly as the model produced it.
// Tools validate the payload themselves; malformed arguments become a
// descriptive error result rather than a failed turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// SourceInfo identifies a retrieved document used to ground an answer.
type SourceInfo struct {
	Source   string  `json:"source"`
	Distance float64 `json:"distance,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// generateUUID returns a new UUID v4 string for request and response IDs.
func generateUUID() string {
	return uuid.New().String()
}
