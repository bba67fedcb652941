// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the Aleutian agent HTTP server.
//
// This is the main entry point for the containerized agent service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - PORT: HTTP server port (default: 8000)
//   - DB_PATH: SQLite database file (default: data/app.db)
//   - UPLOAD_DIR: uploaded file storage root (default: data/uploads)
//   - WEAVIATE_URL: Weaviate vector DB URL (optional)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama, claude (default: openai)
//   - OPENAI_API_KEY / OPENAI_MODEL: OpenAI credentials and model
//   - OLLAMA_BASE_URL / OLLAMA_MODEL: Ollama endpoint and model
//   - EMBEDDING_MODEL: embedding model name (default: text-embedding-3-small)
//   - JWT_SECRET: token signing secret (or /run/secrets/jwt_secret)
//   - AGENT_MAX_ITERATIONS: model calls per agent turn (default: 10)
//   - CHAT_STREAM_TIMEOUT_SECONDS: streaming turn bound (default: 300)
//   - TOOL_TIMEOUT_SECONDS: per-tool execution bound (default: 120)
//   - RATE_LIMIT_RPS / RATE_LIMIT_BURST: chat throttle (default: 2 / 5)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - LOG_LEVEL: minimum log level - debug, info, warn, error (default: info)
//   - LOG_DIR: directory for a file copy of the logs (default: stdout only)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/aleutian-agent/pkg/logging"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator"
)

func main() {
	logging.Setup("orchestrator")

	// Build configuration from environment variables
	backend := getEnvString("LLM_BACKEND_TYPE", "openai")
	cfg := orchestrator.Config{
		Port:           getEnvInt("PORT", 8000),
		DBPath:         getEnvString("DB_PATH", "data/app.db"),
		UploadDir:      getEnvString("UPLOAD_DIR", "data/uploads"),
		WeaviateURL:    os.Getenv("WEAVIATE_URL"),
		LLMBackend:     backend,
		Model:          modelLabel(backend),
		OTelEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		MaxIterations:  getEnvInt("AGENT_MAX_ITERATIONS", 10),
		StreamTimeout:  getEnvSeconds("CHAT_STREAM_TIMEOUT_SECONDS", 300),
		ToolTimeout:    getEnvSeconds("TOOL_TIMEOUT_SECONDS", 120),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 5),
	}

	slog.Info("Starting agent service",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"db_path", cfg.DBPath,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// modelLabel resolves the model name for the active backend. Used only
// to label token metrics; the LLM clients read their own model config.
func modelLabel(backend string) string {
	switch backend {
	case "ollama":
		return os.Getenv("OLLAMA_MODEL")
	case "claude", "anthropic":
		return os.Getenv("CLAUDE_MODEL")
	default:
		return getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", value)
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", value)
	}
	return defaultValue
}

// getEnvSeconds returns the environment variable as a duration in
// whole seconds or a default.
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
