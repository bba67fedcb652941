// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides client implementations for LLM backends.
//
// All backends implement LLMClient. Streaming uses a callback per event
// so handlers can relay tokens to SSE without buffering. Backends that
// also produce embeddings implement Embedder.
package llm

import (
	"context"
	"encoding/json"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
)

// =============================================================================
// Generation Parameters
// =============================================================================

// GenerationParams are tuning options passed to a backend. Nil pointer
// fields mean "use the backend default".
type GenerationParams struct {
	Temperature *float32         `json:"temperature,omitempty"`
	TopK        *int             `json:"top_k,omitempty"`
	TopP        *float32         `json:"top_p,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// ToolDefinition describes a callable tool for function calling.
// Parameters is a JSON Schema document.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType identifies the kind of a streaming callback event.
type StreamEventType string

const (
	// StreamEventToken carries one answer fragment in Content.
	StreamEventToken StreamEventType = "token"

	// StreamEventThinking carries model reasoning output in Content.
	// Only emitted by backends that expose a reasoning channel.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventToolPending signals that the model has started composing
	// a tool invocation. Content carries the tool name. Emitted once per
	// tool call, as soon as the name arrives; arguments follow later in
	// the StreamEventToolCalls event. Backends that only surface complete
	// tool calls (Ollama) never emit it.
	StreamEventToolPending StreamEventType = "tool_pending"

	// StreamEventToolCalls carries complete tool invocations in ToolCalls.
	// Emitted once, after all argument deltas have been assembled.
	StreamEventToolCalls StreamEventType = "tool_calls"

	// StreamEventDone signals the end of the stream. Usage is populated
	// when the backend reports it.
	StreamEventDone StreamEventType = "done"

	// StreamEventError carries a backend error description in Error.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is a single event delivered to a StreamCallback.
type StreamEvent struct {
	Type      StreamEventType
	Content   string
	ToolCalls []datatypes.ToolCall
	Error     string
	Usage     *Usage
}

// StreamCallback receives stream events in arrival order. Returning a
// non-nil error aborts the stream; the backend stops reading and returns
// that error from ChatStream.
type StreamCallback func(event StreamEvent) error

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// =============================================================================
// Chat Results
// =============================================================================

// ChatResult is the outcome of a non-streaming chat completion. When the
// model requests tools, Content may be empty and ToolCalls non-empty.
type ChatResult struct {
	Content   string
	ToolCalls []datatypes.ToolCall
	Usage     *Usage
}

// =============================================================================
// Client Interfaces
// =============================================================================

// LLMClient is the interface implemented by all LLM backends.
type LLMClient interface {
	// Generate produces a completion for a single prompt string. Used by
	// lightweight callers (title generation) that do not need history.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a conversation. The result carries
	// tool calls when the model chose to invoke tools from params.Tools.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error)

	// ChatStream produces a completion for a conversation, delivering
	// events to callback as they arrive. Blocks until the stream ends,
	// the context is canceled, or the callback returns an error.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}

// Embedder produces vector embeddings for text. The OpenAI and Ollama
// clients both implement it; retrieval components depend on this
// interface rather than a concrete backend.
type Embedder interface {
	// Embed returns the embedding vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbeddingDimensions returns the vector width this embedder produces.
	EmbeddingDimensions() int
}
