// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
)

// CreateFile inserts a new file row in status pending.
func CreateFile(ctx context.Context, db Execer, file *File) error {
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	if file.Status == "" {
		file.Status = FileStatusPending
	}
	now := time.Now().UTC()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	if file.UpdatedAt.IsZero() {
		file.UpdatedAt = now
	}

	query := `INSERT INTO files (id, user_id, filename, content_type, size_bytes, storage_path, status, error, chunk_count, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, file.ID, file.UserID, file.Filename, file.ContentType, file.SizeBytes, file.StoragePath, file.Status, file.Error, file.ChunkCount, file.CreatedAt, file.UpdatedAt)
	return err
}

// GetFileByID retrieves a file by its ID. Returns (nil, nil) when absent.
func GetFileByID(ctx context.Context, db sqlscan.Querier, fileID string) (*File, error) {
	query := `SELECT id, user_id, filename, content_type, size_bytes, storage_path, status, error, chunk_count, created_at, updated_at FROM files WHERE id = ?`
	var f File
	err := sqlscan.Get(ctx, db, &f, query, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return &f, nil
}

// ListFiles retrieves a user's files, newest first.
func ListFiles(ctx context.Context, db sqlscan.Querier, userID string) ([]File, error) {
	query := `SELECT id, user_id, filename, content_type, size_bytes, storage_path, status, error, chunk_count, created_at, updated_at FROM files WHERE user_id = ? ORDER BY created_at DESC`
	var files []File
	err := sqlscan.Select(ctx, db, &files, query, userID)
	if err != nil {
		return nil, err
	}
	return files, nil
}

// SetFileStatus transitions a file's ingestion state. errMsg and
// chunkCount record the outcome of the completed or failed transition.
func SetFileStatus(ctx context.Context, db Execer, fileID, status, errMsg string, chunkCount int) error {
	query := `UPDATE files SET status = ?, error = ?, chunk_count = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, status, errMsg, chunkCount, time.Now().UTC(), fileID)
	return err
}

// DeleteFile removes a file row. Chunks cascade.
func DeleteFile(ctx context.Context, db Execer, fileID string) error {
	query := `DELETE FROM files WHERE id = ?`
	_, err := db.ExecContext(ctx, query, fileID)
	return err
}

// DeleteStaleFailedFiles removes failed file rows older than cutoff.
// Returns the number of rows removed.
func DeleteStaleFailedFiles(ctx context.Context, db Execer, cutoff time.Time) (int64, error) {
	query := `DELETE FROM files WHERE status = ? AND updated_at < ?`
	res, err := db.ExecContext(ctx, query, FileStatusFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateFileChunk inserts one split segment of an uploaded file.
func CreateFileChunk(ctx context.Context, db Execer, chunk *FileChunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO file_chunks (id, file_id, chunk_index, content, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, chunk.ID, chunk.FileID, chunk.ChunkIndex, chunk.Content, chunk.CreatedAt)
	return err
}

// ListFileChunks retrieves a file's chunks in index order.
func ListFileChunks(ctx context.Context, db sqlscan.Querier, fileID string) ([]FileChunk, error) {
	query := `SELECT id, file_id, chunk_index, content, created_at FROM file_chunks WHERE file_id = ? ORDER BY chunk_index`
	var chunks []FileChunk
	err := sqlscan.Select(ctx, db, &chunks, query, fileID)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
