// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/indexer"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/middleware"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
)

// maxUploadBytes caps a single uploaded file at 10 MB.
const maxUploadBytes = 10 << 20

// multipartSlack covers the multipart framing around the file part when
// capping the request body.
const multipartSlack = 4 << 10

// Non-text/* media types the ingestion pipeline can still read as text.
var textLikeContentTypes = map[string]struct{}{
	"application/json":       {},
	"application/xml":        {},
	"application/javascript": {},
	"application/x-yaml":     {},
	"application/yaml":       {},
	"application/toml":       {},
	"application/sql":        {},
}

// Extensions accepted when the client sends no usable content type.
// Browsers fall back to application/octet-stream for most source files.
var textLikeExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".markdown": {}, ".csv": {}, ".log": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".xml": {},
	".html": {}, ".css": {}, ".sql": {}, ".sh": {},
	".py": {}, ".go": {}, ".js": {}, ".ts": {}, ".java": {},
	".c": {}, ".cpp": {}, ".h": {}, ".hpp": {}, ".rs": {},
}

// FileHandler serves document upload, listing, and deletion. Uploads are
// acknowledged immediately with a pending row; the indexer chunks and
// embeds the content in the background.
type FileHandler struct {
	db        *sql.DB
	indexer   *indexer.Indexer
	uploadDir string
}

// NewFileHandler creates a FileHandler storing raw uploads under
// uploadDir. Panics if db or ix is nil.
func NewFileHandler(db *sql.DB, ix *indexer.Indexer, uploadDir string) *FileHandler {
	if db == nil {
		panic("NewFileHandler: db must not be nil")
	}
	if ix == nil {
		panic("NewFileHandler: indexer must not be nil")
	}
	if uploadDir == "" {
		uploadDir = "data/uploads"
	}
	return &FileHandler{db: db, indexer: ix, uploadDir: uploadDir}
}

// HandleUpload accepts a multipart file, stores it, and queues ingestion.
//
// POST /api/v1/files/upload
//
// The response is the pending file row; poll GET /files/:id for the
// completed or failed status once ingestion finishes.
func (h *FileHandler) HandleUpload(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+multipartSlack)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the 10 MB limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' required"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the 10 MB limit"})
		return
	}

	contentType := normalizeMediaType(fileHeader.Header.Get("Content-Type"))
	filename := filepath.Base(fileHeader.Filename)
	if filename == "." || filename == string(filepath.Separator) || filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename required"})
		return
	}
	if !isTextLike(contentType, filename) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only text-like files can be indexed"})
		return
	}

	fileID := uuid.New().String()
	userDir := filepath.Join(h.uploadDir, authInfo.UserID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		slog.Error("Failed to create upload directory", "path", userDir, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	storagePath := filepath.Join(userDir, fileID+"_"+filename)
	if err := c.SaveUploadedFile(fileHeader, storagePath); err != nil {
		slog.Error("Failed to save uploaded file", "path", storagePath, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	file := &store.File{
		ID:          fileID,
		UserID:      authInfo.UserID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   fileHeader.Size,
		StoragePath: storagePath,
		Status:      store.FileStatusPending,
	}
	if err := store.CreateFile(c.Request.Context(), h.db, file); err != nil {
		slog.Error("Failed to create file row", "file_id", fileID, "error", err)
		if rmErr := os.Remove(storagePath); rmErr != nil {
			slog.Warn("Failed to remove orphaned upload", "path", storagePath, "error", rmErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	slog.Info("File uploaded",
		"file_id", fileID,
		"user_id", authInfo.UserID,
		"filename", filename,
		"size_bytes", fileHeader.Size,
	)

	// Ingestion outlives the request, so it runs on a detached context.
	go h.indexer.ProcessFile(context.Background(), fileID)

	c.JSON(http.StatusCreated, file)
}

// HandleList returns the caller's files, newest first.
//
// GET /api/v1/files
func (h *FileHandler) HandleList(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	files, err := store.ListFiles(c.Request.Context(), h.db, authInfo.UserID)
	if err != nil {
		slog.Error("Failed to list files", "user_id", authInfo.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}
	if files == nil {
		files = []store.File{}
	}

	c.JSON(http.StatusOK, gin.H{"files": files})
}

// HandleGet returns one file row, including ingestion status and error.
//
// GET /api/v1/files/:id
func (h *FileHandler) HandleGet(c *gin.Context) {
	file := h.ownedFile(c)
	if file == nil {
		return
	}
	c.JSON(http.StatusOK, file)
}

// HandleDelete removes a file: vector objects, chunk rows, the file row,
// and the stored bytes.
//
// DELETE /api/v1/files/:id
func (h *FileHandler) HandleDelete(c *gin.Context) {
	file := h.ownedFile(c)
	if file == nil {
		return
	}

	if err := h.indexer.RemoveFile(c.Request.Context(), file); err != nil {
		slog.Error("Failed to delete file", "file_id", file.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete file"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"deleted_file_id": file.ID,
	})
}

// ownedFile loads the file named by the :id param and enforces ownership.
// Absent and foreign files both read as 404. On any failure the response
// has been written and nil is returned.
func (h *FileHandler) ownedFile(c *gin.Context) *store.File {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil
	}

	fileID := c.Param("id")
	file, err := store.GetFileByID(c.Request.Context(), h.db, fileID)
	if err != nil {
		slog.Error("Failed to load file", "file_id", fileID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load file"})
		return nil
	}
	if file == nil || file.UserID != authInfo.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return nil
	}
	return file
}

// normalizeMediaType strips parameters like charset from a Content-Type
// header. Returns the input unchanged when it does not parse.
func normalizeMediaType(contentType string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	return contentType
}

// isTextLike reports whether the upload can be ingested as text, judged
// by media type first and file extension as the fallback.
func isTextLike(contentType, filename string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	if _, ok := textLikeContentTypes[contentType]; ok {
		return true
	}
	_, ok := textLikeExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}
