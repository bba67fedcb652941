// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools implements the capability set the agent may invoke: web
// search, document search over uploaded files, and the user memory tools.
//
// Every tool validates its own JSON arguments against its declared schema
// and always produces text. Execution failures are converted to
// descriptive text at the registry boundary so a single broken tool
// degrades one result instead of aborting the turn. Only context
// cancellation and deadline expiry propagate as errors; the agent treats
// those as fatal for the turn.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jsonschema "github.com/swaggest/jsonschema-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/aleutian-agent/services/llm"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/observability"
)

var tracer = otel.Tracer("aleutian.orchestrator.tools")

// =============================================================================
// Interface Definitions
// =============================================================================

// RunContext carries the identity of the turn a tool executes in.
//
// Tools receive it as an explicit parameter rather than reading ambient
// state, so concurrent turns can never observe each other's identity.
// Valid only for the duration of one tool-call phase.
type RunContext struct {
	UserID    string
	SessionID string
}

// Tool is a single named capability the model may request.
type Tool interface {
	// GetName returns the tool's name as exposed to the model.
	GetName() string

	// GetDescription returns the usage guidance shown to the model.
	GetDescription() string

	// GetParameters returns the JSON schema for the tool's arguments.
	GetParameters() *jsonschema.Schema

	// Execute runs the tool. args is the raw model-decided JSON payload;
	// the tool validates it itself. The returned string is the text fed
	// back to the model.
	Execute(ctx context.Context, rc RunContext, args json.RawMessage) (string, error)
}

// =============================================================================
// Registry
// =============================================================================

// Registry holds the fixed set of tools available to the agent.
//
// # Thread Safety
//
// Register is not safe for concurrent use; populate the registry during
// startup. All other methods are read-only and safe to call from
// concurrent turns.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique and non-empty.
func (r *Registry) Register(tool Tool) error {
	name := tool.GetName()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s is already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Definitions returns the function-calling declarations for every
// registered tool, in registration order, for passing to an LLM backend.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		params, err := json.Marshal(tool.GetParameters())
		if err != nil {
			slog.Error("Failed to marshal tool schema, skipping tool", "tool", name, "error", err)
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.GetName(),
			Description: tool.GetDescription(),
			Parameters:  params,
		})
	}
	return defs
}

// Execute runs one model-requested tool call and returns its text result.
//
// # Description
//
// Every failure mode except cancellation is absorbed here: an unknown
// tool name or a tool execution error becomes a descriptive text result
// the model can read and react to. A non-nil error is returned only
// when ctx was canceled or its deadline expired, which aborts the turn.
//
// # Inputs
//
//   - ctx: Context carrying the per-tool deadline.
//   - rc: Identity of the executing turn.
//   - call: The model-decided tool name and arguments.
//
// # Outputs
//
//   - string: Text result to append as a tool message.
//   - error: Only context.Canceled or context.DeadlineExceeded.
func (r *Registry) Execute(ctx context.Context, rc RunContext, call datatypes.ToolCall) (string, error) {
	ctx, span := tracer.Start(ctx, "ExecuteTool")
	defer span.End()

	tool, ok := r.tools[call.Name]
	if !ok {
		slog.Warn("Model requested unknown tool", "tool", call.Name)
		return fmt.Sprintf("Error: tool '%s' is not available.", call.Name), nil
	}

	start := time.Now()
	result, err := tool.Execute(ctx, rc, call.Arguments)
	if m := observability.DefaultAgentMetrics; m != nil {
		m.RecordToolExecution(call.Name, time.Since(start).Seconds(), err == nil)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool timed out or canceled")
			return "", err
		}
		slog.Warn("Tool execution failed", "tool", call.Name, "error", err)
		span.RecordError(err)
		return fmt.Sprintf("Error executing tool '%s': %v", call.Name, err), nil
	}
	return result, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// mustSchema reflects a JSON schema from a tool's input struct. Schema
// generation only fails on malformed struct tags, so failure panics at
// startup rather than returning an error every caller would ignore.
func mustSchema(v interface{}) *jsonschema.Schema {
	reflector := jsonschema.Reflector{}
	schema, err := reflector.Reflect(v)
	if err != nil {
		panic(fmt.Sprintf("tools: schema generation failed for %T: %v", v, err))
	}
	return &schema
}

// truncate caps s at max bytes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
