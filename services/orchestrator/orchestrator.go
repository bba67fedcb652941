// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the core agent service for Aleutian.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the LLM client, the agent graph and its
// tools, the SQLite store, the optional Weaviate vector store, and the
// observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 8000, LLMBackend: "openai"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/aleutian-agent/services/llm"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/agent"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/auth"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/handlers"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/indexer"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/middleware"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/observability"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/retention"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/routes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/tools"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/vector"
)

// shutdownTimeout bounds the drain of in-flight requests on SIGTERM.
// Streaming turns can be long; anything still running after this is cut.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// The server drains in-flight requests on SIGINT/SIGTERM before
	// returning. Cleanup (retention sweeper, tracer, store, secure
	// memory) is automatic on return.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// Callers must not modify the router after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables, config files, or
// programmatically for testing. All fields are optional with defaults
// applied by New().
//
// Provider credentials (OPENAI_API_KEY, ANTHROPIC_API_KEY, JWT_SECRET)
// are not part of Config; the respective clients read them from the
// environment or /run/secrets directly.
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Custom port and LLM backend
//	cfg := Config{
//	    Port:       8080,
//	    LLMBackend: "ollama",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 8000
	Port int

	// DBPath is the SQLite database file path. Parent directories are
	// created on open. Default: "data/app.db"
	DBPath string

	// UploadDir is the root directory for uploaded files.
	// Default: "data/uploads"
	UploadDir string

	// WeaviateURL is the Weaviate vector database URL.
	// If empty, vector DB features are disabled.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// LLMBackend specifies the LLM provider.
	// Valid values: "openai", "ollama", "claude", "anthropic"
	// Default: "openai"
	LLMBackend string

	// Model labels token metrics with the active model name. Informative
	// only; the LLM clients resolve their own model from the environment.
	Model string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// Version is reported by the health endpoint. Default: "dev"
	Version string

	// MaxIterations caps model calls per agent turn. Default: 10
	MaxIterations int

	// StreamTimeout bounds one streaming chat turn. Default: 300s
	StreamTimeout time.Duration

	// ToolTimeout bounds each individual tool execution. Default: 120s
	ToolTimeout time.Duration

	// RetentionInterval is how often the background sweeper removes
	// expired refresh grants and stale failed uploads. Default: 1 hour
	RetentionInterval time.Duration

	// FailedFileRetention is how long failed uploads are kept before
	// the sweeper removes them. Default: 24 hours
	FailedFileRetention time.Duration

	// RetentionEnabled enables the background retention sweeper.
	// Default: true
	RetentionEnabled bool

	// RateLimitRPS is the sustained per-client rate for the chat
	// endpoints. Negative disables rate limiting. Default: 2
	RateLimitRPS float64

	// RateLimitBurst is the rate limiter burst size. Default: 5
	RateLimitBurst int
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - LLM client and embedder management
//   - The agent graph and its tool registry
//   - SQLite store and background indexing
//   - Optional Weaviate integration
//   - OpenTelemetry tracing and Prometheus metrics
//   - Background retention sweeps
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
//
// # Assumptions
//
//   - All external services (LLM, Weaviate, OTel) are reachable if
//     configured
type service struct {
	config         Config
	router         *gin.Engine
	db             *store.DB
	weaviateClient *weaviate.Client
	vectors        *vector.Store
	llmClient      llm.LLMClient
	embedder       llm.Embedder
	tokens         *auth.TokenManager
	graph          *agent.Graph
	indexer        *indexer.Indexer
	sweeper        *retention.Sweeper
	limiter        *middleware.RateLimiter
	tracerCleanup  func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Opens the SQLite store and runs migrations
//  5. Creates the Weaviate client if a URL is configured
//  6. Creates the LLM client and embedder for the backend type
//  7. Builds the tool registry and agent graph
//  8. Starts the background retention sweeper
//  9. Sets up HTTP routes
//
// A missing or unreachable Weaviate is not fatal; the service runs with
// vector features disabled and reports degraded health instead.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - Environment variables are set for the LLM provider and JWT secret
//   - Network is available for external service connections
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics
	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for streaming")
	}

	// Open the SQLite store (runs migrations)
	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Initialize Weaviate client (optional)
	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, vector features disabled",
			"error", err)
		// Not fatal - continue without Weaviate
	}

	// Initialize LLM client and embedder
	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	// Initialize the token manager (reads JWT_SECRET)
	s.tokens, err = auth.NewTokenManager()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize token manager: %w", err)
	}

	// Build the agent graph and the background indexer
	s.initAgent()
	s.initIndexer()

	// Start the retention sweeper
	if s.config.RetentionEnabled {
		if err := s.initRetention(); err != nil {
			slog.Warn("Retention sweeper initialization failed",
				"error", err)
			// Not fatal - continue without retention sweeps
		}
	}

	// Per-client throttle for the chat endpoints
	if s.config.RateLimitRPS > 0 {
		s.limiter = middleware.NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)
	}

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// # Description
//
// Starts the HTTP server on the configured port and blocks until a
// fatal server error or a SIGINT/SIGTERM. On signal, in-flight requests
// get shutdownTimeout to finish before the listener closes. Cleanup is
// automatic on return.
//
// # Outputs
//
//   - error: Non-nil if the server fails to start or shutdown fails
func (s *service) Run() error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("Shutdown signal received, draining connections", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("Server stopped")
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/app.db"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "data/uploads"
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "openai"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	// EnableMetrics defaults to true; the zero value cannot distinguish
	// unset from false.
	cfg.EnableMetrics = true

	// Agent knobs
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = agent.DefaultMaxIterations
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = handlers.DefaultStreamTimeout
	}
	if cfg.ToolTimeout == 0 {
		cfg.ToolTimeout = agent.DefaultToolTimeout
	}

	// Retention defaults
	if cfg.RetentionInterval == 0 {
		cfg.RetentionInterval = 1 * time.Hour
	}
	if cfg.FailedFileRetention == 0 {
		cfg.FailedFileRetention = 24 * time.Hour
	}
	// RetentionEnabled defaults to true, same zero-value caveat as
	// EnableMetrics.
	cfg.RetentionEnabled = true

	// Rate limiting defaults; negative RPS disables the limiter.
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 2
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 5
	}

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Sets up an OTLP trace exporter sending spans to the configured
// collector over insecure gRPC (appropriate for internal networks).
// Returns the cleanup function to call on shutdown.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("orchestrator-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore opens the SQLite store and runs migrations.
func (s *service) initStore() error {
	db, err := store.Open(s.config.DBPath)
	if err != nil {
		return err
	}
	s.db = db
	slog.Info("SQLite store opened", "path", s.config.DBPath)
	return nil
}

// initWeaviate initializes the Weaviate vector store client.
//
// Creates a client if WeaviateURL is configured, probes readiness, and
// ensures the schema exists. Returns nil without a client when the URL
// is empty (optional dependency).
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, vector features disabled")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	client, err := weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	vectors := vector.NewStore(client)

	// Probe before touching the schema. EnsureWeaviateSchema aborts the
	// process when it cannot create a class; an unreachable server
	// should degrade instead.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := vectors.Ready(ctx); err != nil {
		return fmt.Errorf("weaviate not ready: %w", err)
	}

	datatypes.EnsureWeaviateSchema(client)
	s.weaviateClient = client
	s.vectors = vectors
	slog.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// initLLMClient initializes the LLM provider client and the embedder.
//
// Creates the appropriate client based on the configured backend type.
// The OpenAI and Ollama clients double as embedders; Anthropic has no
// embeddings API, so an OpenAI embedder is used alongside it when a key
// is available.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		var client *llm.OpenAIClient
		client, err = llm.NewOpenAIClient()
		if err == nil {
			s.llmClient = client
			s.embedder = client
		}
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		var client *llm.OllamaClient
		client, err = llm.NewOllamaClient()
		if err == nil {
			s.llmClient = client
			s.embedder = client
		}
		slog.Info("Using Ollama LLM backend")
	case "claude", "anthropic":
		var client *llm.AnthropicClient
		client, err = llm.NewAnthropicClient()
		if err == nil {
			s.llmClient = client
		}
		slog.Info("Using Anthropic (Claude) LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to openai", "backend", s.config.LLMBackend)
		var client *llm.OpenAIClient
		client, err = llm.NewOpenAIClient()
		if err == nil {
			s.llmClient = client
			s.embedder = client
		}
	}
	if err != nil {
		return err
	}

	if s.embedder == nil {
		if client, embErr := llm.NewOpenAIClient(); embErr == nil {
			s.embedder = client
			slog.Info("Using OpenAI embeddings alongside the chat backend")
		} else {
			slog.Warn("No embedder available, document search and semantic memory disabled",
				"error", embErr)
		}
	}

	return nil
}

// initAgent builds the tool registry and the agent graph.
//
// Web search and the episodic memory tools are always available. The
// vector-backed tools (document search, semantic memory) require both a
// Weaviate store and an embedder.
func (s *service) initAgent() {
	registry := tools.NewRegistry()
	register := func(t tools.Tool) {
		if err := registry.Register(t); err != nil {
			slog.Error("Tool registration failed", "tool", t.GetName(), "error", err)
		}
	}

	register(tools.NewWebSearchTool())
	register(tools.NewSaveEpisodeTool(s.db.DB()))
	register(tools.NewRecallEpisodesTool(s.db.DB()))

	if s.vectors != nil && s.embedder != nil {
		register(tools.NewDocumentSearchTool(s.vectors, s.embedder))
		register(tools.NewSaveMemoryTool(s.vectors, s.embedder))
		register(tools.NewRecallMemoriesTool(s.vectors, s.embedder))
	}

	s.graph = agent.NewGraph(s.llmClient, registry, agent.GraphConfig{
		MaxIterations: s.config.MaxIterations,
		ToolTimeout:   s.config.ToolTimeout,
	})

	slog.Info("Agent graph initialized",
		"tools", registry.Names(),
		"max_iterations", s.config.MaxIterations)
}

// initIndexer builds the background file ingestion pipeline. Without
// vectors or an embedder it runs in SQLite-only mode.
func (s *service) initIndexer() {
	var vs indexer.VectorStore
	if s.vectors != nil {
		vs = s.vectors
	}
	s.indexer = indexer.New(s.db.DB(), vs, s.embedder)
}

// initRetention starts the background retention sweeper.
func (s *service) initRetention() error {
	s.sweeper = retention.New(s.db.DB(), retention.Config{
		Interval:            s.config.RetentionInterval,
		FailedFileRetention: s.config.FailedFileRetention,
	})
	if err := s.sweeper.Start(context.Background()); err != nil {
		return err
	}

	slog.Info("Retention sweeper started",
		"interval", s.config.RetentionInterval.String(),
		"failed_file_retention", s.config.FailedFileRetention.String(),
	)
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("orchestrator-service"))

	titles := handlers.NewTitleGenerator(s.db.DB(), s.llmClient)
	chat := handlers.NewChatHandler(s.db.DB(), s.graph, titles, handlers.ChatHandlerConfig{
		StreamTimeout: s.config.StreamTimeout,
		Model:         s.config.Model,
	})

	var prober handlers.ReadinessProber
	if s.vectors != nil {
		prober = s.vectors
	}

	routes.Setup(s.router, routes.Deps{
		Auth:      handlers.NewAuthHandler(s.db.DB(), s.tokens),
		Chat:      chat,
		Sessions:  handlers.NewSessionHandler(s.db.DB()),
		Files:     handlers.NewFileHandler(s.db.DB(), s.indexer, s.config.UploadDir),
		Health:    handlers.NewHealthHandler(s.db.DB(), prober, s.config.Version),
		Tokens:    s.tokens,
		RateLimit: s.limiter,
		Metrics:   s.config.EnableMetrics,
	})
}

// cleanup releases all resources held by the service.
//
// Called when Run() exits or on initialization failure. Stops the
// retention sweeper, shuts down the tracer, closes the store, and wipes
// memguard-backed streaming buffers.
func (s *service) cleanup() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("Store close error", "error", err)
		}
	}

	handlers.PurgeAllSecureMemory()
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
