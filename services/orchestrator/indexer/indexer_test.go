// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeEmbedder struct {
	batches [][]string
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(i), 0.5, -0.5}
	}
	return vecs, nil
}

func (f *fakeEmbedder) EmbeddingDimensions() int { return 3 }

// shortEmbedder returns one vector too few to exercise the alignment check.
type shortEmbedder struct{ fakeEmbedder }

func (f *shortEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := f.fakeEmbedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) == 0 {
		return vecs, err
	}
	return vecs[:len(vecs)-1], nil
}

type fakeVectorStore struct {
	upserts   [][]datatypes.DocumentChunkProperties
	vectors   [][][]float32
	deleted   []string
	upsertErr error
	deleteErr error
}

func (f *fakeVectorStore) UpsertChunks(ctx context.Context, chunks []datatypes.DocumentChunkProperties, vectors [][]float32) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.upserts = append(f.upserts, chunks)
	f.vectors = append(f.vectors, vectors)
	return len(chunks), nil
}

func (f *fakeVectorStore) DeleteFileChunks(ctx context.Context, fileID string) (int, error) {
	f.deleted = append(f.deleted, fileID)
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 1, nil
}

// =============================================================================
// Helpers
// =============================================================================

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *store.DB) *store.User {
	t.Helper()
	user := &store.User{Email: "files@example.com", PasswordHash: "x", Name: "Test User"}
	require.NoError(t, store.CreateUser(context.Background(), db.DB(), user))
	return user
}

// createStoredFile writes content to disk and registers a pending file
// row pointing at it.
func createStoredFile(t *testing.T, db *store.DB, userID, filename, content string) *store.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	file := &store.File{
		UserID:      userID,
		Filename:    filename,
		ContentType: "text/plain",
		SizeBytes:   int64(len(content)),
		StoragePath: path,
	}
	require.NoError(t, store.CreateFile(context.Background(), db.DB(), file))
	return file
}

// longText builds multi-paragraph content large enough to split into
// several chunks.
func longText(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "Paragraph %d. %s\n\n", i, strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20))
	}
	return b.String()
}

// =============================================================================
// ProcessFile Tests
// =============================================================================

func TestProcessFileCompletes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db)
	file := createStoredFile(t, db, user.ID, "notes.txt", longText(12))

	embedder := &fakeEmbedder{}
	vec := &fakeVectorStore{}
	ix := New(db.DB(), vec, embedder)

	ix.ProcessFile(ctx, file.ID)

	got, err := store.GetFileByID(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, store.FileStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	require.Greater(t, got.ChunkCount, 1, "content should split into multiple chunks")

	rows, err := store.ListFileChunks(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	require.Len(t, rows, got.ChunkCount)
	for i, row := range rows {
		assert.Equal(t, i, row.ChunkIndex)
		assert.NotEmpty(t, row.Content)
	}

	require.Len(t, embedder.batches, 1)
	require.Len(t, vec.upserts, 1)
	props := vec.upserts[0]
	require.Len(t, props, got.ChunkCount)
	require.Len(t, vec.vectors[0], got.ChunkCount)
	for i, p := range props {
		assert.Equal(t, file.ID, p.FileID)
		assert.Equal(t, user.ID, p.UserID)
		assert.Equal(t, "notes.txt", p.Filename)
		assert.Equal(t, i, p.ChunkIndex)
		assert.Equal(t, rows[i].Content, p.Content)
		assert.NotZero(t, p.IngestedAt)
	}
}

func TestProcessFileEmptyContent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db)
	file := createStoredFile(t, db, user.ID, "empty.txt", "")

	embedder := &fakeEmbedder{}
	vec := &fakeVectorStore{}
	New(db.DB(), vec, embedder).ProcessFile(ctx, file.ID)

	got, err := store.GetFileByID(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FileStatusCompleted, got.Status)
	assert.Equal(t, 0, got.ChunkCount)
	assert.Empty(t, embedder.batches)
	assert.Empty(t, vec.upserts)
}

func TestProcessFileMissingStoredFile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db)

	file := &store.File{UserID: user.ID, Filename: "gone.txt", StoragePath: filepath.Join(t.TempDir(), "gone.txt")}
	require.NoError(t, store.CreateFile(ctx, db.DB(), file))

	New(db.DB(), &fakeVectorStore{}, &fakeEmbedder{}).ProcessFile(ctx, file.ID)

	got, err := store.GetFileByID(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FileStatusFailed, got.Status)
	assert.Contains(t, got.Error, "failed to read stored file")
}

func TestProcessFileEmbedFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db)
	file := createStoredFile(t, db, user.ID, "notes.txt", longText(3))

	embedder := &fakeEmbedder{err: errors.New("embedding backend down")}
	vec := &fakeVectorStore{}
	New(db.DB(), vec, embedder).ProcessFile(ctx, file.ID)

	got, err := store.GetFileByID(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FileStatusFailed, got.Status)
	assert.Contains(t, got.Error, "embedding backend down")
	assert.Empty(t, vec.upserts)
}

func TestProcessFileVectorCountMismatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db)
	file := createStoredFile(t, db, user.ID, "notes.txt", longText(12))

	New(db.DB(), &fakeVectorStore{}, &shortEmbedder{}).ProcessFile(ctx, file.ID)

	got, err := store.GetFileByID(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FileStatusFailed, got.Status)
	assert.Contains(t, got.Error, "vectors for")
}

func TestProcessFileUpsertFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db)
	file := createStoredFile(t, db, user.ID, "notes.txt", longText(3))

	vec := &fakeVectorStore{upsertErr: errors.New("weaviate unreachable")}
	New(db.DB(), vec, &fakeEmbedder{}).ProcessFile(ctx, file.ID)

	got, err := store.GetFileByID(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FileStatusFailed, got.Status)
	assert.Contains(t, got.Error, "weaviate unreachable")
}

func TestProcessFileWithoutVectorStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db)
	file := createStoredFile(t, db, user.ID, "notes.txt", longText(3))

	New(db.DB(), nil, nil).ProcessFile(ctx, file.ID)

	got, err := store.GetFileByID(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FileStatusCompleted, got.Status)
	assert.Greater(t, got.ChunkCount, 0)

	rows, err := store.ListFileChunks(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Len(t, rows, got.ChunkCount)
}

func TestProcessFileUnknownID(t *testing.T) {
	db := openTestDB(t)
	embedder := &fakeEmbedder{}

	New(db.DB(), &fakeVectorStore{}, embedder).ProcessFile(context.Background(), "no-such-file")

	assert.Empty(t, embedder.batches)
}

// =============================================================================
// RemoveFile Tests
// =============================================================================

func TestRemoveFileDeletesEverything(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db)
	file := createStoredFile(t, db, user.ID, "notes.txt", "some stored text")
	require.NoError(t, store.CreateFileChunk(ctx, db.DB(), &store.FileChunk{FileID: file.ID, ChunkIndex: 0, Content: "some stored text"}))

	vec := &fakeVectorStore{}
	ix := New(db.DB(), vec, &fakeEmbedder{})

	require.NoError(t, ix.RemoveFile(ctx, file))

	got, err := store.GetFileByID(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	rows, err := store.ListFileChunks(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, statErr := os.Stat(file.StoragePath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, []string{file.ID}, vec.deleted)
}

func TestRemoveFileSurvivesVectorFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db)
	file := createStoredFile(t, db, user.ID, "notes.txt", "text")

	vec := &fakeVectorStore{deleteErr: errors.New("weaviate unreachable")}
	require.NoError(t, New(db.DB(), vec, &fakeEmbedder{}).RemoveFile(ctx, file))

	got, err := store.GetFileByID(ctx, db.DB(), file.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// Extraction and Splitting Tests
// =============================================================================

func TestExtractTextNormalizesEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.txt")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 'h', 'i', 0xfe}, 0o600))

	text, err := extractText(path)
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestGetSplitterForFileMarkdownHeadings(t *testing.T) {
	content := "# Title\n\n" + strings.Repeat("intro text ", 400) +
		"\n## Section\n\n" + strings.Repeat("section text ", 400)

	chunks, err := getSplitterForFile("doc.md").SplitText(content)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
}
