// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the graph that orchestrates one chat turn.
//
// # Description
//
// The graph is a small typed state machine: a model call either produces
// the final answer or requests tool calls; requested tools run and their
// results are appended as tool messages; control returns to the model.
// The loop repeats until the model answers without tools or the
// iteration bound is hit.
//
// Tool-local failures degrade into text results the model can react to.
// Only model errors, timeouts, and cancellation abort the turn; the
// caller decides the terminal event, so a turn's output can be persisted
// before done is emitted.
//
// # Event Flow
//
// Progress is reported through a Normalizer: token events for answer
// fragments, tool_thinking while the model composes a call, tool_start
// on entering the tool phase, then tool_call and tool_result per tool.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/aleutian-agent/services/llm"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/observability"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/tools"
)

var tracer = otel.Tracer("aleutian.orchestrator.agent")

// Defaults applied by NewGraph for zero GraphConfig fields.
const (
	DefaultMaxIterations = 10
	DefaultToolTimeout   = 120 * time.Second
)

// Display messages for tool_start events. The web search message is kept
// specific because it is by far the most common phase.
const (
	webSearchToolName   = "web_search"
	webSearchMessage    = "Searching the web..."
	genericToolsMessage = "Using tools..."
)

// GraphConfig bounds one turn of the agent loop.
type GraphConfig struct {
	// MaxIterations caps model calls per turn. Zero means
	// DefaultMaxIterations.
	MaxIterations int

	// ToolTimeout bounds each individual tool execution. Zero means
	// DefaultToolTimeout.
	ToolTimeout time.Duration
}

// Graph drives the model/tool loop for chat turns.
//
// A Graph is immutable after construction and safe for concurrent turns;
// all per-turn state lives in Run's locals.
type Graph struct {
	client        llm.LLMClient
	registry      *tools.Registry
	maxIterations int
	toolTimeout   time.Duration
}

// NewGraph creates a Graph over the given model client and tool registry.
func NewGraph(client llm.LLMClient, registry *tools.Registry, cfg GraphConfig) *Graph {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	return &Graph{
		client:        client,
		registry:      registry,
		maxIterations: cfg.MaxIterations,
		toolTimeout:   cfg.ToolTimeout,
	}
}

// Result is the outcome of one completed turn.
type Result struct {
	// FinalContent is the text of the last assistant message.
	FinalContent string

	// Messages is the full transcript: the input history plus every
	// assistant and tool message the turn produced.
	Messages []datatypes.Message

	// Iterations is the number of model calls consumed.
	Iterations int

	// Usage aggregates token usage across all model calls that reported
	// it. Nil when no call reported usage.
	Usage *llm.Usage
}

// Run executes one turn of the agent loop.
//
// # Description
//
// messages must already contain the system prompt, prior history, and the
// new user message. Progress events flow through n as they happen; Run
// never emits a terminal event, leaving done/error to the caller.
//
// # Inputs
//
//   - ctx: Bounds the whole turn. Cancellation aborts it.
//   - rc: Identity threaded to every tool execution.
//   - messages: Model-visible conversation, oldest first.
//   - n: Normalizer receiving progress events.
//
// # Outputs
//
//   - *Result: Transcript and final answer on success.
//   - error: Model failure, tool timeout or cancellation, or the
//     iteration bound being exceeded. The message list is discarded on
//     error; nothing from the failed turn should be persisted.
func (g *Graph) Run(ctx context.Context, rc tools.RunContext, messages []datatypes.Message, n *Normalizer) (*Result, error) {
	ctx, span := tracer.Start(ctx, "AgentTurn")
	defer span.End()

	msgs := make([]datatypes.Message, len(messages))
	copy(msgs, messages)

	params := llm.GenerationParams{}
	if g.registry != nil && g.registry.Len() > 0 {
		params.Tools = g.registry.Definitions()
	}

	state := StateStart
	var pending []datatypes.ToolCall
	var usage *llm.Usage
	final := ""
	iterations := 0

	for state != StateEnd {
		next, err := transition(state, len(pending))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid graph transition")
			return nil, err
		}
		state = next

		switch state {
		case StateModelCall:
			if iterations >= g.maxIterations {
				err := fmt.Errorf("agent exceeded %d iterations without a final answer", g.maxIterations)
				slog.Error("Agent iteration bound exceeded",
					"session_id", rc.SessionID,
					"max_iterations", g.maxIterations,
				)
				span.RecordError(err)
				span.SetStatus(codes.Error, "iteration bound exceeded")
				return nil, err
			}
			iterations++

			content, calls, callUsage, err := g.modelCall(ctx, msgs, params, n)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "model call failed")
				return nil, err
			}
			usage = addUsage(usage, callUsage)
			msgs = append(msgs, datatypes.Message{
				Role:      datatypes.RoleAssistant,
				Content:   content,
				ToolCalls: calls,
			})
			pending = calls
			if len(calls) == 0 {
				final = content
			}

		case StateToolCall:
			toolMsgs, err := g.toolPhase(ctx, rc, pending, n)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "tool phase failed")
				return nil, err
			}
			msgs = append(msgs, toolMsgs...)
			pending = nil
		}
	}

	if m := observability.DefaultAgentMetrics; m != nil {
		m.RecordIterations(iterations)
	}
	span.SetAttributes(attribute.Int("iterations", iterations))
	slog.Debug("Agent turn complete",
		"session_id", rc.SessionID,
		"iterations", iterations,
		"messages", len(msgs),
	)
	return &Result{
		FinalContent: final,
		Messages:     msgs,
		Iterations:   iterations,
		Usage:        usage,
	}, nil
}

// modelCall streams one completion, relaying answer fragments and tool
// progress to the normalizer. Returns the assembled content and any tool
// calls the model requested.
func (g *Graph) modelCall(ctx context.Context, msgs []datatypes.Message, params llm.GenerationParams, n *Normalizer) (string, []datatypes.ToolCall, *llm.Usage, error) {
	ctx, span := tracer.Start(ctx, "ModelCall")
	defer span.End()

	var content strings.Builder
	var calls []datatypes.ToolCall
	var usage *llm.Usage

	err := g.client.ChatStream(ctx, msgs, params, func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			if event.Content == "" {
				return nil
			}
			content.WriteString(event.Content)
			return n.Token(event.Content)
		case llm.StreamEventToolPending:
			return n.ToolThinking(event.Content)
		case llm.StreamEventToolCalls:
			calls = append(calls, event.ToolCalls...)
			return nil
		case llm.StreamEventDone:
			usage = event.Usage
			return nil
		case llm.StreamEventError:
			return errors.New(event.Error)
		default:
			// Reasoning output and future event kinds stay model-internal.
			return nil
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model stream failed")
		return "", nil, nil, err
	}
	return content.String(), calls, usage, nil
}

// toolPhase executes every pending tool call in order and returns the
// tool messages to append. A tool timeout or cancellation aborts the
// phase; all other tool failures were already converted to text by the
// registry.
func (g *Graph) toolPhase(ctx context.Context, rc tools.RunContext, calls []datatypes.ToolCall, n *Normalizer) ([]datatypes.Message, error) {
	ctx, span := tracer.Start(ctx, "ToolPhase")
	defer span.End()
	span.SetAttributes(attribute.Int("tool_calls", len(calls)))

	if err := n.ToolStart(toolStartMessage(calls)); err != nil {
		return nil, err
	}

	out := make([]datatypes.Message, 0, len(calls))
	for _, call := range calls {
		if err := n.ToolCall(call.Name, call.Arguments); err != nil {
			return nil, err
		}

		toolCtx, cancel := context.WithTimeout(ctx, g.toolTimeout)
		result, err := g.registry.Execute(toolCtx, rc, call)
		cancel()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool execution aborted")
			return nil, fmt.Errorf("tool %s: %w", call.Name, err)
		}

		if err := n.ToolResult(result); err != nil {
			return nil, err
		}
		out = append(out, datatypes.Message{
			Role:       datatypes.RoleTool,
			Content:    result,
			Name:       call.Name,
			ToolCallID: call.ID,
		})
	}
	return out, nil
}

// toolStartMessage picks the display message for a tool phase.
func toolStartMessage(calls []datatypes.ToolCall) string {
	for _, call := range calls {
		if call.Name != webSearchToolName {
			return genericToolsMessage
		}
	}
	return webSearchMessage
}

// addUsage merges token usage across model calls. Either side may be nil.
func addUsage(total, call *llm.Usage) *llm.Usage {
	if call == nil {
		return total
	}
	if total == nil {
		u := *call
		return &u
	}
	total.PromptTokens += call.PromptTokens
	total.CompletionTokens += call.CompletionTokens
	return total
}
