// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector provides typed operations over the Weaviate classes the
// orchestrator uses: DocumentChunk for uploaded file retrieval and
// UserMemory for agent-saved memories.
//
// Embeddings are computed by callers; this package stores and searches
// precomputed vectors only.
package vector

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.orchestrator.vector")

// ErrNotReady is returned by Ready when Weaviate answers the probe but
// reports itself unready.
var ErrNotReady = errors.New("weaviate is not ready")

// Store wraps a Weaviate client with the orchestrator's class operations.
//
// # Thread Safety
//
// Store is safe for concurrent use. The underlying Weaviate client
// handles connection pooling.
type Store struct {
	client *weaviate.Client
}

// NewStore creates a Store over an initialized Weaviate client.
func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// Ready probes the Weaviate readiness endpoint.
func (s *Store) Ready(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	if !ready {
		return ErrNotReady
	}
	return nil
}

// deterministicUUID derives a stable object ID from identity parts, so
// re-ingesting the same chunk overwrites rather than duplicates.
func deterministicUUID(parts ...string) strfmt.UUID {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// 16 bytes always form a valid UUID; this is unreachable.
		panic(fmt.Sprintf("uuid from hash: %v", err))
	}
	return strfmt.UUID(id.String())
}
