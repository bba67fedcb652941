package vector

import (
	"context"
	"fmt"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/codes"
)

// SaveMemory stores a single agent memory with its precomputed vector and
// returns the object ID.
//
// When MemoryID is set the object ID is derived from (user_id, memory_id),
// so saving the same key again replaces the earlier memory. Without a
// MemoryID the object gets a fresh random ID and only accumulates.
func (s *Store) SaveMemory(ctx context.Context, props datatypes.UserMemoryProperties, vec []float32) (string, error) {
	ctx, span := tracer.Start(ctx, "SaveMemory")
	defer span.End()

	if props.MemoryID == "" {
		created, err := s.client.Data().Creator().
			WithClassName("UserMemory").
			WithProperties(props.ToMap()).
			WithVector(vec).
			Do(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "memory save failed")
			return "", fmt.Errorf("failed to save memory to Weaviate: %w", err)
		}
		if created == nil || created.Object == nil {
			return "", fmt.Errorf("weaviate returned no object for saved memory")
		}
		return string(created.Object.ID), nil
	}

	// Keyed memories go through the batcher for its put-or-replace
	// semantics; Data().Creator() rejects an existing ID.
	id := deterministicUUID(props.UserID, props.MemoryID)
	obj := &models.Object{
		Class:      "UserMemory",
		ID:         id,
		Vector:     vec,
		Properties: props.ToMap(),
	}
	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(obj).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memory save failed")
		return "", fmt.Errorf("failed to save memory to Weaviate: %w", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return "", fmt.Errorf("failed to save memory: %s", item.Result.Errors.Error[0].Message)
		}
	}
	return string(id), nil
}

// SearchMemories runs a nearVector search over the caller's saved memories.
// Results are scoped to the given user and ranked by similarity.
func (s *Store) SearchMemories(ctx context.Context, userID string, vec []float32, limit int) ([]datatypes.UserMemoryResult, error) {
	ctx, span := tracer.Start(ctx, "SearchMemories")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vec)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "memory_id"},
		{Name: "memory_type"},
		{Name: "session_id"},
		{Name: "created_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName("UserMemory").
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memory search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.UserMemoryQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memory parse failed")
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	return parsed.Get.UserMemory, nil
}

// ListRecentMemories returns the user's most recent memories without
// semantic ranking, newest first.
func (s *Store) ListRecentMemories(ctx context.Context, userID string, limit int) ([]datatypes.UserMemoryResult, error) {
	ctx, span := tracer.Start(ctx, "ListRecentMemories")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "memory_id"},
		{Name: "memory_type"},
		{Name: "session_id"},
		{Name: "created_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
		}},
	}

	sort := graphql.Sort{Path: []string{"created_at"}, Order: graphql.Desc}

	result, err := s.client.GraphQL().Get().
		WithClassName("UserMemory").
		WithFields(fields...).
		WithWhere(where).
		WithSort(sort).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memory list failed")
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.UserMemoryQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memory parse failed")
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	return parsed.Get.UserMemory, nil
}
