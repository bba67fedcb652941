// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/swaggest/jsonschema-go"

	"github.com/AleutianAI/aleutian-agent/services/llm"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
)

// =============================================================================
// Constants
// =============================================================================

const (
	documentSearchToolName = "search_user_documents"

	documentSearchDescription = `Search through the user's uploaded documents.

Use when the user asks about their documents:
- "What does my contract say about X?"
- "Find information about Y in my files"
- "Summarize the PDF I uploaded"

Returns relevant document excerpts.`

	documentSearchDefaultLimit = 5
	documentSearchExcerptLimit = 1000
)

// =============================================================================
// Interface Definitions
// =============================================================================

// ChunkSearcher finds a user's document chunks nearest to a query vector.
// Implemented by vector.Store.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, userID string, vector []float32, limit int) ([]datatypes.DocumentChunkResult, error)
}

// =============================================================================
// Struct Definition
// =============================================================================

// DocumentSearchInput is the model-decided argument payload for
// search_user_documents.
type DocumentSearchInput struct {
	Query string `json:"query" required:"true" description:"What to search for"`
	Limit int    `json:"limit,omitempty" minimum:"1" maximum:"20" description:"Maximum number of results (default: 5)"`
}

// DocumentSearchTool retrieves excerpts from the caller's indexed
// documents by embedding the query and running nearest-neighbor search.
type DocumentSearchTool struct {
	searcher ChunkSearcher
	embedder llm.Embedder
	schema   *jsonschema.Schema
}

// =============================================================================
// Constructor
// =============================================================================

// NewDocumentSearchTool creates a document search tool over the given
// vector searcher and embedder.
func NewDocumentSearchTool(searcher ChunkSearcher, embedder llm.Embedder) *DocumentSearchTool {
	return &DocumentSearchTool{
		searcher: searcher,
		embedder: embedder,
		schema:   mustSchema(DocumentSearchInput{}),
	}
}

// =============================================================================
// Methods
// =============================================================================

func (t *DocumentSearchTool) GetName() string {
	return documentSearchToolName
}

func (t *DocumentSearchTool) GetDescription() string {
	return documentSearchDescription
}

func (t *DocumentSearchTool) GetParameters() *jsonschema.Schema {
	return t.schema
}

// Execute embeds the query and returns the user's best-matching excerpts.
//
// An empty result set yields an explicit no-match message so the model
// can distinguish "nothing relevant" from a broken tool.
func (t *DocumentSearchTool) Execute(ctx context.Context, rc RunContext, args json.RawMessage) (string, error) {
	var input DocumentSearchInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = documentSearchDefaultLimit
	}

	if rc.UserID == "" {
		return "User ID not available. Cannot search documents.", nil
	}
	if t.searcher == nil || t.embedder == nil {
		return "Document search is not available right now.", nil
	}

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := t.searcher.SearchChunks(ctx, rc.UserID, vec, limit)
	if err != nil {
		return "", fmt.Errorf("document search failed: %w", err)
	}
	if len(chunks) == 0 {
		return "No relevant information found in your documents.", nil
	}

	var sb strings.Builder
	sb.WriteString("## Relevant Document Excerpts\n")
	for i, chunk := range chunks {
		name := chunk.Filename
		if name == "" {
			name = "uploaded document"
		}
		sb.WriteString(fmt.Sprintf("\n%d. From \"%s\":\n%s\n", i+1, name, truncate(chunk.Content, documentSearchExcerptLimit)))
	}
	return sb.String(), nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Tool = (*DocumentSearchTool)(nil)
