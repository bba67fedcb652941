// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"  Error  ", slog.LevelError},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLevel(tt.name)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Setup Tests
// =============================================================================

// restoreDefault puts the process-wide logger back after a Setup test.
func restoreDefault(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestSetup_InstallsDefault(t *testing.T) {
	restoreDefault(t)
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_DIR", "")

	logger := Setup("test-service")

	if logger == nil {
		t.Fatal("Setup returned nil")
	}
	if slog.Default() != logger {
		t.Error("Setup should install the returned logger as the default")
	}
}

func TestSetup_FileCopy(t *testing.T) {
	restoreDefault(t)
	dir := t.TempDir()
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_DIR", dir)

	logger := Setup("logtest")
	logger.Debug("file copy check", "key", "value")

	content := readLogFile(t, dir, "logtest")
	if !strings.Contains(content, "file copy check") {
		t.Errorf("Log file missing the message, got: %s", content)
	}
	if !strings.Contains(content, `"service":"logtest"`) {
		t.Errorf("Log file missing the service attribute, got: %s", content)
	}
	if !strings.Contains(content, `"key":"value"`) {
		t.Errorf("Log file missing the record attributes, got: %s", content)
	}
}

func TestSetup_LevelFiltersRecords(t *testing.T) {
	restoreDefault(t)
	dir := t.TempDir()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_DIR", dir)

	logger := Setup("filtered")
	logger.Info("should be dropped")
	logger.Error("should be kept")

	content := readLogFile(t, dir, "filtered")
	if strings.Contains(content, "should be dropped") {
		t.Error("Info record should be filtered at error level")
	}
	if !strings.Contains(content, "should be kept") {
		t.Error("Error record should pass the filter")
	}
}

func TestSetup_UnwritableLogDir(t *testing.T) {
	restoreDefault(t)
	// A file in place of the directory makes MkdirAll fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_DIR", filepath.Join(blocker, "logs"))
	t.Setenv("LOG_LEVEL", "")

	logger := Setup("broken-dir")

	// Logging must still work on stdout.
	if logger == nil {
		t.Fatal("Setup returned nil for unusable LOG_DIR")
	}
	logger.Info("still alive")
}

func readLogFile(t *testing.T, dir, service string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, service+"_*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("Expected one log file for %s, got %v (err %v)", service, matches, err)
	}
	content, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

// =============================================================================
// multiHandler Tests
// =============================================================================

func TestMultiHandler_FanOut(t *testing.T) {
	var first, second bytes.Buffer
	handler := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&first, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewJSONHandler(&second, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	logger := slog.New(handler)
	logger.Info("fan out")
	logger.Error("both")

	if !strings.Contains(first.String(), "fan out") {
		t.Error("Debug-level handler should receive the info record")
	}
	if strings.Contains(second.String(), "fan out") {
		t.Error("Error-level handler should not receive the info record")
	}
	if !strings.Contains(first.String(), "both") || !strings.Contains(second.String(), "both") {
		t.Error("Both handlers should receive the error record")
	}
}

func TestMultiHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := (&multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&buf, nil),
	}}).WithAttrs([]slog.Attr{slog.String("component", "test")})

	slog.New(handler).Info("attributed")

	if !strings.Contains(buf.String(), `"component":"test"`) {
		t.Errorf("Attribute missing from record, got: %s", buf.String())
	}
}

// =============================================================================
// File Helper Tests
// =============================================================================

func TestOpenLogFile_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	file, err := openLogFile(dir, "")
	if err != nil {
		t.Fatalf("openLogFile returned error: %v", err)
	}
	defer file.Close()

	if !strings.Contains(filepath.Base(file.Name()), "aleutian_") {
		t.Errorf("Expected the aleutian_ fallback name, got %s", file.Name())
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should exist: %v", err)
	}
}
