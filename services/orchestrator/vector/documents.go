// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/codes"
)

// =============================================================================
// Document Chunk Operations
// =============================================================================

// UpsertChunks writes document chunks and their precomputed vectors to the
// DocumentChunk class in a single batch request.
//
// # Description
//
// Object IDs are derived deterministically from (file_id, chunk_index), so
// re-ingesting the same file overwrites its chunks instead of duplicating
// them. Partial batch failures are logged per item and reflected in the
// returned count; the call only errors when the batch request itself fails.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - chunks: Chunk properties, one per vector.
//   - vectors: Embedding vectors aligned with chunks by index.
//
// # Outputs
//
//   - int: Number of chunks successfully written.
//   - error: Non-nil if the batch request failed or inputs are misaligned.
func (s *Store) UpsertChunks(ctx context.Context, chunks []datatypes.DocumentChunkProperties, vectors [][]float32) (int, error) {
	ctx, span := tracer.Start(ctx, "UpsertChunks")
	defer span.End()

	if len(chunks) != len(vectors) {
		err := fmt.Errorf("chunk count %d does not match vector count %d", len(chunks), len(vectors))
		span.RecordError(err)
		span.SetStatus(codes.Error, "misaligned batch input")
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(chunks))
	for i := range chunks {
		objects[i] = &models.Object{
			Class:      "DocumentChunk",
			ID:         deterministicUUID(chunks[i].FileID, strconv.Itoa(chunks[i].ChunkIndex)),
			Vector:     vectors[i],
			Properties: chunks[i].ToMap(),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return 0, fmt.Errorf("failed to save chunks to Weaviate: %w", err)
	}

	written := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			written++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "class", "DocumentChunk", "error", errItem.Message)
			}
		} else {
			slog.Warn("Failed Weaviate batch item, no error provided", "class", "DocumentChunk")
		}
	}

	if written < len(chunks) {
		slog.Warn("Partial Weaviate batch import", "requested", len(chunks), "written", written)
	}
	return written, nil
}

// SearchChunks runs a nearVector search over the caller's document chunks.
//
// # Description
//
// Results are scoped to the given user with an equality filter and ranked
// by vector similarity. Certainty is requested instead of distance so
// scores are always in [0,1] regardless of the distance metric.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - userID: Owner whose chunks are searched.
//   - vector: Query embedding.
//   - limit: Maximum results to return.
//
// # Outputs
//
//   - []datatypes.DocumentChunkResult: Matching chunks, best first.
//   - error: Non-nil on query or parse failure.
func (s *Store) SearchChunks(ctx context.Context, userID string, vector []float32, limit int) ([]datatypes.DocumentChunkResult, error) {
	ctx, span := tracer.Start(ctx, "SearchChunks")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "file_id"},
		{Name: "filename"},
		{Name: "chunk_index"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName("DocumentChunk").
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocumentChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk parse failed")
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	return parsed.Get.DocumentChunk, nil
}

// DeleteFileChunks removes every chunk belonging to a file.
//
// Used when a file is deleted or re-ingested. Returns the number of
// objects Weaviate reports as successfully deleted.
func (s *Store) DeleteFileChunks(ctx context.Context, fileID string) (int, error) {
	ctx, span := tracer.Start(ctx, "DeleteFileChunks")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"file_id"}).
		WithOperator(filters.Equal).
		WithValueString(fileID)

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName("DocumentChunk").
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk delete failed")
		return 0, fmt.Errorf("batch delete failed for DocumentChunk: %w", err)
	}

	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	if resp.Results.Failed > 0 {
		slog.Warn("Some chunk deletions failed", "file_id", fileID, "failed", resp.Results.Failed)
	}
	return int(resp.Results.Successful), nil
}
