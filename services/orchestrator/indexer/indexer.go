// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexer turns uploaded files into searchable document chunks.
//
// # Description
//
// The indexer owns the ingestion side of the RAG pipeline. After an
// upload the handler stores the raw bytes and a pending file row, then
// hands the file id to ProcessFile in a background goroutine. The
// pipeline reads the stored bytes, splits them with a separator set
// chosen by file extension, embeds every chunk in one batch, and writes
// chunk rows to SQLite alongside vectorized objects in Weaviate. The
// file row tracks progress: pending -> processing -> completed, or
// failed with the error recorded for the UI.
//
// The SQLite rows are the source of truth for chunk content; Weaviate
// holds the same text plus vectors for similarity search. RemoveFile
// tears both down together with the bytes on disk.
package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/aleutian-agent/services/llm"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/vector"
)

var tracer = otel.Tracer("aleutian.orchestrator.indexer")

const (
	// chunkSize targets roughly 1000 tokens of text per chunk.
	chunkSize    = 4000
	chunkOverlap = 800 // 20% of chunkSize
)

var (
	defaultSeparators = []string{"\n\n", "\n", " ", ""}
	pythonSeparators  = []string{"\nclass ", "\ndef ", "\n\t", "\n", " "}
	cStyleSeparators  = []string{
		"\nfunction ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}

	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// VectorStore is the slice of the Weaviate layer the indexer uses.
type VectorStore interface {
	UpsertChunks(ctx context.Context, chunks []datatypes.DocumentChunkProperties, vectors [][]float32) (int, error)
	DeleteFileChunks(ctx context.Context, fileID string) (int, error)
}

var _ VectorStore = (*vector.Store)(nil)

// Indexer runs the file ingestion pipeline.
//
// vectors and embedder may be nil when the deployment runs without
// Weaviate; chunks are then stored in SQLite only and document search
// returns nothing for them.
type Indexer struct {
	db       *sql.DB
	vectors  VectorStore
	embedder llm.Embedder
}

// New creates an Indexer over the given stores.
func New(db *sql.DB, vectors VectorStore, embedder llm.Embedder) *Indexer {
	return &Indexer{db: db, vectors: vectors, embedder: embedder}
}

// ProcessFile runs the ingestion pipeline for one uploaded file.
//
// # Description
//
// Designed to run in a background goroutine after the upload response
// has been sent. Failures are recorded on the file row and logged,
// never returned: there is nobody left to return them to.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - fileID: Id of a file row in status pending.
func (ix *Indexer) ProcessFile(ctx context.Context, fileID string) {
	ctx, span := tracer.Start(ctx, "ProcessFile",
		trace.WithAttributes(attribute.String("file_id", fileID)))
	defer span.End()

	file, err := store.GetFileByID(ctx, ix.db, fileID)
	if err != nil {
		slog.Error("Failed to load file for ingestion", "file_id", fileID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "file lookup failed")
		return
	}
	if file == nil {
		slog.Error("File disappeared before ingestion", "file_id", fileID)
		return
	}

	if err := store.SetFileStatus(ctx, ix.db, fileID, store.FileStatusProcessing, "", 0); err != nil {
		slog.Error("Failed to mark file processing", "file_id", fileID, "error", err)
		return
	}

	count, err := ix.ingest(ctx, file)
	if err != nil {
		slog.Error("File ingestion failed", "file_id", fileID, "filename", file.Filename, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingestion failed")
		ix.markFailed(fileID, err)
		return
	}

	if err := store.SetFileStatus(ctx, ix.db, fileID, store.FileStatusCompleted, "", count); err != nil {
		slog.Error("Failed to mark file completed", "file_id", fileID, "error", err)
		return
	}
	span.SetAttributes(attribute.Int("chunk_count", count))
	slog.Info("File ingestion complete", "file_id", fileID, "filename", file.Filename, "chunks", count)
}

// ingest does the actual extract/split/embed/store work and returns the
// chunk count.
func (ix *Indexer) ingest(ctx context.Context, file *store.File) (int, error) {
	text, err := extractText(file.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read stored file: %w", err)
	}

	splitter := getSplitterForFile(file.Filename)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return 0, fmt.Errorf("failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "file_id", file.ID, "filename", file.Filename)
		return 0, nil
	}
	slog.Info("Split file into chunks", "file_id", file.ID, "filename", file.Filename, "chunk_count", len(chunks))

	now := time.Now().UTC()
	for i, content := range chunks {
		row := &store.FileChunk{FileID: file.ID, ChunkIndex: i, Content: content, CreatedAt: now}
		if err := store.CreateFileChunk(ctx, ix.db, row); err != nil {
			return 0, fmt.Errorf("failed to store chunk %d: %w", i, err)
		}
	}

	if ix.vectors == nil || ix.embedder == nil {
		slog.Warn("Vector store unavailable, chunks stored without embeddings", "file_id", file.ID)
		return len(chunks), nil
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding backend returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	props := make([]datatypes.DocumentChunkProperties, len(chunks))
	for i, content := range chunks {
		props[i] = datatypes.DocumentChunkProperties{
			Content:    content,
			FileID:     file.ID,
			UserID:     file.UserID,
			Filename:   file.Filename,
			ChunkIndex: i,
			IngestedAt: now.Unix(),
		}
	}
	if _, err := ix.vectors.UpsertChunks(ctx, props, vectors); err != nil {
		return 0, fmt.Errorf("failed to index chunks: %w", err)
	}
	return len(chunks), nil
}

// markFailed records an ingestion failure on the file row. Uses a fresh
// context so a canceled request context cannot stop the failure from
// being recorded.
func (ix *Indexer) markFailed(fileID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.SetFileStatus(ctx, ix.db, fileID, store.FileStatusFailed, cause.Error(), 0); err != nil {
		slog.Error("Failed to mark file failed", "file_id", fileID, "error", err)
	}
}

// RemoveFile deletes every trace of an uploaded file: vector objects,
// the file row (chunk rows cascade), and the stored bytes on disk.
//
// Vector and disk cleanup failures are logged rather than returned; the
// row delete is what the API result reports.
func (ix *Indexer) RemoveFile(ctx context.Context, file *store.File) error {
	ctx, span := tracer.Start(ctx, "RemoveFile",
		trace.WithAttributes(attribute.String("file_id", file.ID)))
	defer span.End()

	if ix.vectors != nil {
		if _, err := ix.vectors.DeleteFileChunks(ctx, file.ID); err != nil {
			slog.Warn("Failed to delete vector objects for file", "file_id", file.ID, "error", err)
		}
	}

	if err := store.DeleteFile(ctx, ix.db, file.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "file row delete failed")
		return fmt.Errorf("failed to delete file: %w", err)
	}

	if file.StoragePath != "" {
		if err := os.Remove(file.StoragePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove stored file", "file_id", file.ID, "path", file.StoragePath, "error", err)
		}
	}
	return nil
}

// extractText reads the stored file and normalizes it to valid UTF-8.
// Stray binary in an otherwise text file is dropped rather than failing
// the whole ingestion.
func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

// getSplitterForFile picks a separator set by file extension so code
// and markdown split on structural boundaries instead of mid-function.
func getSplitterForFile(filename string) textsplitter.TextSplitter {
	ext := filepath.Ext(filename)
	switch ext {
	case ".md":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		)

	case ".py":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(pythonSeparators),
		)

	case ".js", ".ts", ".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".go":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(cStyleSeparators),
		)

	default:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		)
	}
}
