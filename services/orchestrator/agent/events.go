// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"encoding/json"
	"log/slog"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
)

// toolResultLimit caps the result text carried by a tool_result event.
// The full result still reaches the model; only the displayed copy is cut.
const toolResultLimit = 500

// FallbackContent is the synthetic token emitted before done when a turn
// ends cleanly without producing a single token event, so clients are
// never left with zero content.
const FallbackContent = "I've searched for the information but couldn't generate a response. Please try again."

// TimeoutErrorMessage is the client-safe error text for turns aborted by
// a timeout.
const TimeoutErrorMessage = "Request timed out. The tool took too long to respond."

// EmitFunc delivers one normalized event to the transport. Returning a
// non-nil error aborts the turn (client gone, write failure).
type EmitFunc func(event *datatypes.StreamEvent) error

// Normalizer converts graph progress into the outward stream event
// vocabulary and enforces the stream invariants.
//
// # Description
//
// One Normalizer serves exactly one turn. It numbers token events from
// zero, truncates tool results for transport, and guarantees that at most
// one terminal event (done or error) is emitted; anything sent after the
// terminal is dropped with a warning. The reported total_tokens counts
// only model-produced tokens; the synthetic fallback token is excluded.
//
// # Thread Safety
//
// Not safe for concurrent use. The graph emits from a single goroutine.
type Normalizer struct {
	emit       EmitFunc
	seq        int
	tokens     int
	terminated bool
}

// NewNormalizer creates a Normalizer that delivers events through emit.
func NewNormalizer(emit EmitFunc) *Normalizer {
	return &Normalizer{emit: emit}
}

// Token emits one answer fragment with the next sequence number.
func (n *Normalizer) Token(content string) error {
	if n.dropIfTerminated(datatypes.EventToken) {
		return nil
	}
	event := datatypes.NewStreamEvent(datatypes.EventToken).
		WithContent(content).
		WithToken(n.seq)
	if err := n.emit(event); err != nil {
		return err
	}
	n.seq++
	n.tokens++
	return nil
}

// ToolStart announces that a tool phase is beginning.
func (n *Normalizer) ToolStart(message string) error {
	if n.dropIfTerminated(datatypes.EventToolStart) {
		return nil
	}
	return n.emit(datatypes.NewStreamEvent(datatypes.EventToolStart).WithMessage(message))
}

// ToolThinking reports that the model is composing a call to the named
// tool, before its arguments are complete.
func (n *Normalizer) ToolThinking(toolName string) error {
	if n.dropIfTerminated(datatypes.EventToolThinking) {
		return nil
	}
	return n.emit(datatypes.NewStreamEvent(datatypes.EventToolThinking).WithToolName(toolName))
}

// ToolCall reports a concrete tool invocation with its raw arguments.
func (n *Normalizer) ToolCall(tool string, input json.RawMessage) error {
	if n.dropIfTerminated(datatypes.EventToolCall) {
		return nil
	}
	return n.emit(datatypes.NewStreamEvent(datatypes.EventToolCall).WithToolCall(tool, input))
}

// ToolResult reports a completed tool execution, truncating the result
// for transport.
func (n *Normalizer) ToolResult(result string) error {
	if n.dropIfTerminated(datatypes.EventToolResult) {
		return nil
	}
	if len(result) > toolResultLimit {
		result = result[:toolResultLimit] + "..."
	}
	return n.emit(datatypes.NewStreamEvent(datatypes.EventToolResult).WithResult(result))
}

// Done terminates the stream successfully.
//
// When the turn produced no token events, a single synthetic fallback
// token (sequence 0) is emitted first. The fallback is display-only and
// does not count toward total_tokens.
func (n *Normalizer) Done(sessionID string) error {
	if n.dropIfTerminated(datatypes.EventDone) {
		return nil
	}
	n.terminated = true
	if n.tokens == 0 {
		fallback := datatypes.NewStreamEvent(datatypes.EventToken).
			WithContent(FallbackContent).
			WithToken(0)
		if err := n.emit(fallback); err != nil {
			return err
		}
	}
	done := datatypes.NewStreamEvent(datatypes.EventDone).
		WithTotalTokens(n.tokens).
		WithSessionId(sessionID)
	return n.emit(done)
}

// Error terminates the stream with a client-safe error message.
func (n *Normalizer) Error(message string) error {
	if n.dropIfTerminated(datatypes.EventError) {
		return nil
	}
	n.terminated = true
	return n.emit(datatypes.NewStreamEvent(datatypes.EventError).WithError(message))
}

// TokenCount returns the number of token events emitted so far, excluding
// the synthetic fallback.
func (n *Normalizer) TokenCount() int {
	return n.tokens
}

// Terminated reports whether a terminal event has been emitted.
func (n *Normalizer) Terminated() bool {
	return n.terminated
}

func (n *Normalizer) dropIfTerminated(eventType string) bool {
	if n.terminated {
		slog.Warn("Dropping stream event after terminal event", "type", eventType)
	}
	return n.terminated
}
