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
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("DocumentChunk").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[DocumentChunkQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, c := range parsed.Get.DocumentChunk {
//	    fmt.Println(c.Content)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// DocumentChunkQueryResponse represents the response from querying the
// DocumentChunk class.
type DocumentChunkQueryResponse struct {
	Get struct {
		DocumentChunk []DocumentChunkResult `json:"DocumentChunk"`
	} `json:"Get"`
}

// DocumentChunkResult represents a single chunk from a query.
type DocumentChunkResult struct {
	Content    string `json:"content"`
	FileID     string `json:"file_id"`
	UserID     string `json:"user_id"`
	Filename   string `json:"filename"`
	ChunkIndex *int   `json:"chunk_index"`
	IngestedAt int64  `json:"ingested_at"`
	Additional struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// UserMemoryQueryResponse represents the response from querying the
// UserMemory class.
type UserMemoryQueryResponse struct {
	Get struct {
		UserMemory []UserMemoryResult `json:"UserMemory"`
	} `json:"Get"`
}

// UserMemoryResult represents a single memory from a query.
type UserMemoryResult struct {
	Content    string `json:"content"`
	MemoryID   string `json:"memory_id"`
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	MemoryType string `json:"memory_type"`
	CreatedAt  int64  `json:"created_at"`
	Additional struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// =============================================================================
// Property Structs
// =============================================================================

// DocumentChunkProperties represents the properties for creating a
// DocumentChunk object.
type DocumentChunkProperties struct {
	Content    string `json:"content"`
	FileID     string `json:"file_id"`
	UserID     string `json:"user_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	IngestedAt int64  `json:"ingested_at"`
}

// ToMap converts DocumentChunkProperties to map[string]interface{} for Weaviate.
func (p *DocumentChunkProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":     p.Content,
		"file_id":     p.FileID,
		"user_id":     p.UserID,
		"filename":    p.Filename,
		"chunk_index": p.ChunkIndex,
		"ingested_at": p.IngestedAt,
	}
}

// UserMemoryProperties represents the properties for creating a
// UserMemory object.
type UserMemoryProperties struct {
	Content    string `json:"content"`
	MemoryID   string `json:"memory_id"`
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	MemoryType string `json:"memory_type"`
	CreatedAt  int64  `json:"created_at"`
}

// ToMap converts UserMemoryProperties to map[string]interface{} for Weaviate.
func (p *UserMemoryProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":     p.Content,
		"memory_id":   p.MemoryID,
		"user_id":     p.UserID,
		"session_id":  p.SessionID,
		"memory_type": p.MemoryType,
		"created_at":  p.CreatedAt,
	}
}
