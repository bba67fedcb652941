// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helpers: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates a StreamingMetrics instance with a custom registry.
// This avoids conflicts with the global Prometheus registry and allows
// parallel testing.
func newTestMetrics(t *testing.T) *StreamingMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "requests_total",
			Help:      "Total number of streaming requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "tokens_total",
			Help:      "Total tokens processed by direction and model",
		},
		[]string{"direction", "model"},
	)

	timeToFirstTokenSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "time_to_first_token_seconds",
			Help:      "Time from request to first token in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"endpoint"},
	)

	streamDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "stream_duration_seconds",
			Help:      "Total stream duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"endpoint", "status"},
	)

	activeStreams := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "active_streams",
			Help:      "Number of currently active streaming connections",
		},
		[]string{"endpoint"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "errors_total",
			Help:      "Total streaming errors by type and endpoint",
		},
		[]string{"endpoint", "error_code"},
	)

	keepAlivesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "keepalives_total",
			Help:      "Total keepalive pings sent",
		},
		[]string{"endpoint"},
	)

	clientDisconnectsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "client_disconnects_total",
			Help:      "Total client disconnections during streaming",
		},
		[]string{"endpoint"},
	)

	// Register all metrics with the test registry
	reg.MustRegister(
		requestsTotal,
		tokensTotal,
		timeToFirstTokenSeconds,
		streamDurationSeconds,
		activeStreams,
		errorsTotal,
		keepAlivesTotal,
		clientDisconnectsTotal,
	)

	return &StreamingMetrics{
		RequestsTotal:           requestsTotal,
		TokensTotal:             tokensTotal,
		TimeToFirstTokenSeconds: timeToFirstTokenSeconds,
		StreamDurationSeconds:   streamDurationSeconds,
		ActiveStreams:           activeStreams,
		ErrorsTotal:             errorsTotal,
		KeepAlivesTotal:         keepAlivesTotal,
		ClientDisconnectsTotal:  clientDisconnectsTotal,
	}
}

// newTestAgentMetrics creates an AgentMetrics instance with a custom registry.
func newTestAgentMetrics(t *testing.T) *AgentMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	toolExecutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "tool_executions_total",
			Help:      "Total tool executions by tool name and status",
		},
		[]string{"tool", "status"},
	)

	toolDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"tool"},
	)

	iterationsPerTurn := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "iterations_per_turn",
			Help:      "Model-call iterations consumed per agent turn",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
	)

	reg.MustRegister(
		toolExecutionsTotal,
		toolDurationSeconds,
		iterationsPerTurn,
	)

	return &AgentMetrics{
		ToolExecutionsTotal: toolExecutionsTotal,
		ToolDurationSeconds: toolDurationSeconds,
		IterationsPerTurn:   iterationsPerTurn,
	}
}

// ============================================================================
// InitMetrics Tests
// ============================================================================

// Note: InitMetrics uses promauto which registers with the default Prometheus
// registry. This test must only run once per test binary execution since
// duplicate registration will panic. We use a sync.Once to ensure this.
var initMetricsTestOnce bool

func TestInitMetrics(t *testing.T) {
	if initMetricsTestOnce {
		t.Skip("InitMetrics can only be called once per test run (promauto restriction)")
	}
	initMetricsTestOnce = true

	// Call InitMetrics
	result := InitMetrics()

	// Verify it returns a valid StreamingMetrics
	if result == nil {
		t.Fatal("InitMetrics() returned nil")
	}

	// Verify DefaultMetrics is set
	if DefaultMetrics == nil {
		t.Fatal("DefaultMetrics should be set after InitMetrics()")
	}

	// Verify DefaultMetrics is the same as the returned value
	if DefaultMetrics != result {
		t.Error("DefaultMetrics should equal the returned value")
	}

	// Verify all fields are set
	if result.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if result.TokensTotal == nil {
		t.Error("TokensTotal should not be nil")
	}
	if result.TimeToFirstTokenSeconds == nil {
		t.Error("TimeToFirstTokenSeconds should not be nil")
	}
	if result.StreamDurationSeconds == nil {
		t.Error("StreamDurationSeconds should not be nil")
	}
	if result.ActiveStreams == nil {
		t.Error("ActiveStreams should not be nil")
	}
	if result.ErrorsTotal == nil {
		t.Error("ErrorsTotal should not be nil")
	}
	if result.KeepAlivesTotal == nil {
		t.Error("KeepAlivesTotal should not be nil")
	}
	if result.ClientDisconnectsTotal == nil {
		t.Error("ClientDisconnectsTotal should not be nil")
	}

	// Verify DefaultAgentMetrics is set alongside the streaming metrics
	if DefaultAgentMetrics == nil {
		t.Fatal("DefaultAgentMetrics should be set after InitMetrics()")
	}
	if DefaultAgentMetrics.ToolExecutionsTotal == nil {
		t.Error("ToolExecutionsTotal should not be nil")
	}
	if DefaultAgentMetrics.ToolDurationSeconds == nil {
		t.Error("ToolDurationSeconds should not be nil")
	}
	if DefaultAgentMetrics.IterationsPerTurn == nil {
		t.Error("IterationsPerTurn should not be nil")
	}

	// Verify metrics can be used
	result.RecordRequest(EndpointChatStream, true)
	result.RecordError(EndpointChat, ErrorCodeTimeout)
	result.RecordTokens(100, 50, "gpt-4o")
	result.StreamStarted(EndpointChatStream)
	result.StreamEnded(EndpointChatStream)
	DefaultAgentMetrics.RecordToolExecution("web_search", 0.5, true)
	DefaultAgentMetrics.RecordIterations(2)
}

// ============================================================================
// Constants Tests
// ============================================================================

func TestConstants(t *testing.T) {
	if metricsNamespace != "aleutian" {
		t.Errorf("metricsNamespace = %q, want %q", metricsNamespace, "aleutian")
	}
	if streamingSubsystem != "streaming" {
		t.Errorf("streamingSubsystem = %q, want %q", streamingSubsystem, "streaming")
	}
	if agentSubsystem != "agent" {
		t.Errorf("agentSubsystem = %q, want %q", agentSubsystem, "agent")
	}
}

func TestEndpointConstants(t *testing.T) {
	if EndpointChatStream != "chat_stream" {
		t.Errorf("EndpointChatStream = %q, want %q", EndpointChatStream, "chat_stream")
	}
	if EndpointChat != "chat" {
		t.Errorf("EndpointChat = %q, want %q", EndpointChat, "chat")
	}
}

func TestErrorCodeConstants(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrorCodeValidation, "validation"},
		{ErrorCodeLLMError, "llm_error"},
		{ErrorCodeTimeout, "timeout"},
		{ErrorCodePersistence, "persistence"},
		{ErrorCodeInternal, "internal"},
		{ErrorCodeClientDisconnect, "client_disconnect"},
	}

	for _, tt := range tests {
		if string(tt.code) != tt.want {
			t.Errorf("ErrorCode = %q, want %q", tt.code, tt.want)
		}
	}
}

// ============================================================================
// StreamingMetrics Struct Tests
// ============================================================================

func TestStreamingMetrics_Fields(t *testing.T) {
	m := newTestMetrics(t)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if m.TokensTotal == nil {
		t.Error("TokensTotal should not be nil")
	}
	if m.TimeToFirstTokenSeconds == nil {
		t.Error("TimeToFirstTokenSeconds should not be nil")
	}
	if m.StreamDurationSeconds == nil {
		t.Error("StreamDurationSeconds should not be nil")
	}
	if m.ActiveStreams == nil {
		t.Error("ActiveStreams should not be nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal should not be nil")
	}
	if m.KeepAlivesTotal == nil {
		t.Error("KeepAlivesTotal should not be nil")
	}
	if m.ClientDisconnectsTotal == nil {
		t.Error("ClientDisconnectsTotal should not be nil")
	}
}

// ============================================================================
// RecordRequest Tests
// ============================================================================

func TestStreamingMetrics_RecordRequest_Success(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(EndpointChatStream, true)

	val := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_stream", "success"))
	if val != 1 {
		t.Errorf("RequestsTotal[chat_stream,success] = %f, want 1", val)
	}
}

func TestStreamingMetrics_RecordRequest_Error(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(EndpointChat, false)

	val := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "error"))
	if val != 1 {
		t.Errorf("RequestsTotal[chat,error] = %f, want 1", val)
	}
}

func TestStreamingMetrics_RecordRequest_Multiple(t *testing.T) {
	m := newTestMetrics(t)

	// Record multiple requests
	m.RecordRequest(EndpointChatStream, true)
	m.RecordRequest(EndpointChatStream, true)
	m.RecordRequest(EndpointChatStream, false)
	m.RecordRequest(EndpointChat, true)

	successVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_stream", "success"))
	if successVal != 2 {
		t.Errorf("RequestsTotal[chat_stream,success] = %f, want 2", successVal)
	}

	errorVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_stream", "error"))
	if errorVal != 1 {
		t.Errorf("RequestsTotal[chat_stream,error] = %f, want 1", errorVal)
	}

	chatVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "success"))
	if chatVal != 1 {
		t.Errorf("RequestsTotal[chat,success] = %f, want 1", chatVal)
	}
}

// ============================================================================
// RecordError Tests
// ============================================================================

func TestStreamingMetrics_RecordError(t *testing.T) {
	m := newTestMetrics(t)

	tests := []struct {
		endpoint Endpoint
		code     ErrorCode
	}{
		{EndpointChatStream, ErrorCodeValidation},
		{EndpointChatStream, ErrorCodeLLMError},
		{EndpointChatStream, ErrorCodeClientDisconnect},
		{EndpointChat, ErrorCodeTimeout},
		{EndpointChat, ErrorCodePersistence},
		{EndpointChat, ErrorCodeInternal},
	}

	for _, tt := range tests {
		m.RecordError(tt.endpoint, tt.code)

		val := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(string(tt.endpoint), string(tt.code)))
		if val != 1 {
			t.Errorf("ErrorsTotal[%s,%s] = %f, want 1", tt.endpoint, tt.code, val)
		}
	}
}

func TestStreamingMetrics_RecordError_Multiple(t *testing.T) {
	m := newTestMetrics(t)

	// Record same error multiple times
	m.RecordError(EndpointChatStream, ErrorCodeLLMError)
	m.RecordError(EndpointChatStream, ErrorCodeLLMError)
	m.RecordError(EndpointChatStream, ErrorCodeLLMError)

	val := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("chat_stream", "llm_error"))
	if val != 3 {
		t.Errorf("ErrorsTotal[chat_stream,llm_error] = %f, want 3", val)
	}
}

// ============================================================================
// RecordTokens Tests
// ============================================================================

func TestStreamingMetrics_RecordTokens(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTokens(100, 50, "gpt-4o")

	inputVal := testutil.ToFloat64(m.TokensTotal.WithLabelValues("input", "gpt-4o"))
	if inputVal != 100 {
		t.Errorf("TokensTotal[input,gpt-4o] = %f, want 100", inputVal)
	}

	outputVal := testutil.ToFloat64(m.TokensTotal.WithLabelValues("output", "gpt-4o"))
	if outputVal != 50 {
		t.Errorf("TokensTotal[output,gpt-4o] = %f, want 50", outputVal)
	}
}

func TestStreamingMetrics_RecordTokens_ZeroTokens(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTokens(0, 0, "qwen2.5")

	inputVal := testutil.ToFloat64(m.TokensTotal.WithLabelValues("input", "qwen2.5"))
	if inputVal != 0 {
		t.Errorf("TokensTotal[input,qwen2.5] = %f, want 0", inputVal)
	}

	outputVal := testutil.ToFloat64(m.TokensTotal.WithLabelValues("output", "qwen2.5"))
	if outputVal != 0 {
		t.Errorf("TokensTotal[output,qwen2.5] = %f, want 0", outputVal)
	}
}

func TestStreamingMetrics_RecordTokens_Multiple(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTokens(100, 50, "gpt-4o")
	m.RecordTokens(200, 100, "gpt-4o")
	m.RecordTokens(50, 25, "qwen2.5")

	gptInput := testutil.ToFloat64(m.TokensTotal.WithLabelValues("input", "gpt-4o"))
	if gptInput != 300 {
		t.Errorf("TokensTotal[input,gpt-4o] = %f, want 300", gptInput)
	}

	gptOutput := testutil.ToFloat64(m.TokensTotal.WithLabelValues("output", "gpt-4o"))
	if gptOutput != 150 {
		t.Errorf("TokensTotal[output,gpt-4o] = %f, want 150", gptOutput)
	}

	qwenInput := testutil.ToFloat64(m.TokensTotal.WithLabelValues("input", "qwen2.5"))
	if qwenInput != 50 {
		t.Errorf("TokensTotal[input,qwen2.5] = %f, want 50", qwenInput)
	}
}

// ============================================================================
// StreamStarted/StreamEnded Tests
// ============================================================================

func TestStreamingMetrics_StreamStarted(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted(EndpointChatStream)

	val := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream"))
	if val != 1 {
		t.Errorf("ActiveStreams[chat_stream] = %f, want 1", val)
	}
}

func TestStreamingMetrics_StreamEnded(t *testing.T) {
	m := newTestMetrics(t)

	// Start then end
	m.StreamStarted(EndpointChatStream)
	m.StreamEnded(EndpointChatStream)

	val := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream"))
	if val != 0 {
		t.Errorf("ActiveStreams[chat_stream] = %f, want 0", val)
	}
}

func TestStreamingMetrics_StreamLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	// Simulate realistic stream lifecycle
	m.StreamStarted(EndpointChatStream)
	m.StreamStarted(EndpointChatStream)
	m.StreamStarted(EndpointChatStream)

	val := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream"))
	if val != 3 {
		t.Errorf("After 3 starts: ActiveStreams = %f, want 3", val)
	}

	m.StreamEnded(EndpointChatStream)

	val = testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream"))
	if val != 2 {
		t.Errorf("After 1 end: ActiveStreams = %f, want 2", val)
	}

	m.StreamEnded(EndpointChatStream)
	m.StreamEnded(EndpointChatStream)

	val = testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream"))
	if val != 0 {
		t.Errorf("After all ends: ActiveStreams = %f, want 0", val)
	}
}

// ============================================================================
// RecordTimeToFirstToken Tests
// ============================================================================

func TestStreamingMetrics_RecordTimeToFirstToken(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTimeToFirstToken(EndpointChatStream, 0.5)

	// For histograms, we verify by collecting and checking count
	// The histogram itself should have observations recorded
	// We use CollectAndCount to verify the metric exists and was updated
	count := testutil.CollectAndCount(m.TimeToFirstTokenSeconds)
	if count == 0 {
		t.Error("Expected at least one metric to be collected")
	}
}

func TestStreamingMetrics_RecordTimeToFirstToken_MultipleBuckets(t *testing.T) {
	m := newTestMetrics(t)

	// Record values in different buckets
	m.RecordTimeToFirstToken(EndpointChatStream, 0.05) // bucket 0.1
	m.RecordTimeToFirstToken(EndpointChatStream, 0.3)  // bucket 0.5
	m.RecordTimeToFirstToken(EndpointChatStream, 2.0)  // bucket 2.5
	m.RecordTimeToFirstToken(EndpointChatStream, 15.0) // bucket 30.0
	m.RecordTimeToFirstToken(EndpointChat, 1.0)        // bucket 1.0

	// Just verify no panics - histogram testing is done via prometheus testutil
}

// ============================================================================
// RecordStreamDuration Tests
// ============================================================================

func TestStreamingMetrics_RecordStreamDuration_Success(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordStreamDuration(EndpointChatStream, 10.5, true)

	// Just verify no panic
}

func TestStreamingMetrics_RecordStreamDuration_Error(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordStreamDuration(EndpointChat, 5.0, false)

	// Just verify no panic
}

func TestStreamingMetrics_RecordStreamDuration_MultipleBuckets(t *testing.T) {
	m := newTestMetrics(t)

	// Record values in different buckets: 1, 5, 10, 30, 60, 120, 300
	m.RecordStreamDuration(EndpointChatStream, 0.5, true)   // bucket 1
	m.RecordStreamDuration(EndpointChatStream, 3.0, true)   // bucket 5
	m.RecordStreamDuration(EndpointChatStream, 8.0, true)   // bucket 10
	m.RecordStreamDuration(EndpointChatStream, 45.0, true)  // bucket 60
	m.RecordStreamDuration(EndpointChatStream, 200.0, true) // bucket 300
	m.RecordStreamDuration(EndpointChat, 100.0, false)      // bucket 120

	// Just verify no panics
}

// ============================================================================
// RecordKeepAlive Tests
// ============================================================================

func TestStreamingMetrics_RecordKeepAlive(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordKeepAlive(EndpointChatStream)

	val := testutil.ToFloat64(m.KeepAlivesTotal.WithLabelValues("chat_stream"))
	if val != 1 {
		t.Errorf("KeepAlivesTotal[chat_stream] = %f, want 1", val)
	}
}

func TestStreamingMetrics_RecordKeepAlive_Multiple(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordKeepAlive(EndpointChatStream)
	m.RecordKeepAlive(EndpointChatStream)
	m.RecordKeepAlive(EndpointChatStream)
	m.RecordKeepAlive(EndpointChat)

	streamVal := testutil.ToFloat64(m.KeepAlivesTotal.WithLabelValues("chat_stream"))
	if streamVal != 3 {
		t.Errorf("KeepAlivesTotal[chat_stream] = %f, want 3", streamVal)
	}

	chatVal := testutil.ToFloat64(m.KeepAlivesTotal.WithLabelValues("chat"))
	if chatVal != 1 {
		t.Errorf("KeepAlivesTotal[chat] = %f, want 1", chatVal)
	}
}

// ============================================================================
// RecordClientDisconnect Tests
// ============================================================================

func TestStreamingMetrics_RecordClientDisconnect(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordClientDisconnect(EndpointChatStream)

	val := testutil.ToFloat64(m.ClientDisconnectsTotal.WithLabelValues("chat_stream"))
	if val != 1 {
		t.Errorf("ClientDisconnectsTotal[chat_stream] = %f, want 1", val)
	}
}

// ============================================================================
// Agent Metrics Tests
// ============================================================================

func TestAgentMetrics_RecordToolExecution_Success(t *testing.T) {
	m := newTestAgentMetrics(t)

	m.RecordToolExecution("web_search", 1.2, true)

	val := testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("web_search", "success"))
	if val != 1 {
		t.Errorf("ToolExecutionsTotal[web_search,success] = %f, want 1", val)
	}
}

func TestAgentMetrics_RecordToolExecution_Error(t *testing.T) {
	m := newTestAgentMetrics(t)

	m.RecordToolExecution("search_user_documents", 0.3, false)

	val := testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("search_user_documents", "error"))
	if val != 1 {
		t.Errorf("ToolExecutionsTotal[search_user_documents,error] = %f, want 1", val)
	}

	// Duration is recorded regardless of outcome
	count := testutil.CollectAndCount(m.ToolDurationSeconds)
	if count == 0 {
		t.Error("Expected tool duration to be observed")
	}
}

func TestAgentMetrics_RecordToolExecution_Multiple(t *testing.T) {
	m := newTestAgentMetrics(t)

	m.RecordToolExecution("web_search", 0.5, true)
	m.RecordToolExecution("web_search", 0.7, true)
	m.RecordToolExecution("web_search", 0.1, false)
	m.RecordToolExecution("save_user_memory", 0.05, true)

	successVal := testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("web_search", "success"))
	if successVal != 2 {
		t.Errorf("ToolExecutionsTotal[web_search,success] = %f, want 2", successVal)
	}

	errorVal := testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("web_search", "error"))
	if errorVal != 1 {
		t.Errorf("ToolExecutionsTotal[web_search,error] = %f, want 1", errorVal)
	}

	memoryVal := testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("save_user_memory", "success"))
	if memoryVal != 1 {
		t.Errorf("ToolExecutionsTotal[save_user_memory,success] = %f, want 1", memoryVal)
	}
}

func TestAgentMetrics_RecordIterations(t *testing.T) {
	m := newTestAgentMetrics(t)

	m.RecordIterations(1)
	m.RecordIterations(3)
	m.RecordIterations(10)

	count := testutil.CollectAndCount(m.IterationsPerTurn)
	if count == 0 {
		t.Error("Expected iterations histogram to be collected")
	}
}

// ============================================================================
// Integration / Scenario Tests
// ============================================================================

func TestStreamingMetrics_CompleteStreamScenario(t *testing.T) {
	m := newTestMetrics(t)

	// Simulate a complete successful stream
	m.StreamStarted(EndpointChatStream)
	m.RecordTimeToFirstToken(EndpointChatStream, 0.5)
	m.RecordKeepAlive(EndpointChatStream)
	m.RecordKeepAlive(EndpointChatStream)
	m.RecordTokens(150, 200, "gpt-4o")
	m.RecordStreamDuration(EndpointChatStream, 30.0, true)
	m.StreamEnded(EndpointChatStream)
	m.RecordRequest(EndpointChatStream, true)

	// Verify final state
	activeVal := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream"))
	if activeVal != 0 {
		t.Errorf("ActiveStreams should be 0 after stream ended, got %f", activeVal)
	}

	requestsVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_stream", "success"))
	if requestsVal != 1 {
		t.Errorf("RequestsTotal[success] should be 1, got %f", requestsVal)
	}

	keepAliveVal := testutil.ToFloat64(m.KeepAlivesTotal.WithLabelValues("chat_stream"))
	if keepAliveVal != 2 {
		t.Errorf("KeepAlivesTotal should be 2, got %f", keepAliveVal)
	}
}

func TestStreamingMetrics_FailedStreamScenario(t *testing.T) {
	m := newTestMetrics(t)

	// Simulate a failed stream
	m.StreamStarted(EndpointChatStream)
	m.RecordTimeToFirstToken(EndpointChatStream, 0.3)
	m.RecordError(EndpointChatStream, ErrorCodeLLMError)
	m.RecordStreamDuration(EndpointChatStream, 5.0, false)
	m.StreamEnded(EndpointChatStream)
	m.RecordRequest(EndpointChatStream, false)

	// Verify final state
	activeVal := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream"))
	if activeVal != 0 {
		t.Errorf("ActiveStreams should be 0 after stream ended, got %f", activeVal)
	}

	requestsVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_stream", "error"))
	if requestsVal != 1 {
		t.Errorf("RequestsTotal[error] should be 1, got %f", requestsVal)
	}

	errorsVal := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("chat_stream", "llm_error"))
	if errorsVal != 1 {
		t.Errorf("ErrorsTotal[llm_error] should be 1, got %f", errorsVal)
	}
}

func TestStreamingMetrics_ClientDisconnectScenario(t *testing.T) {
	m := newTestMetrics(t)

	// Simulate client disconnect
	m.StreamStarted(EndpointChatStream)
	m.RecordKeepAlive(EndpointChatStream)
	m.RecordClientDisconnect(EndpointChatStream)
	m.RecordError(EndpointChatStream, ErrorCodeClientDisconnect)
	m.StreamEnded(EndpointChatStream)
	m.RecordRequest(EndpointChatStream, false)

	disconnectVal := testutil.ToFloat64(m.ClientDisconnectsTotal.WithLabelValues("chat_stream"))
	if disconnectVal != 1 {
		t.Errorf("ClientDisconnectsTotal should be 1, got %f", disconnectVal)
	}
}

// ============================================================================
// Concurrent Safety Tests
// ============================================================================

func TestStreamingMetrics_ConcurrentSafety(t *testing.T) {
	m := newTestMetrics(t)

	done := make(chan bool, 100)

	// Run multiple goroutines performing various metric operations
	for i := 0; i < 20; i++ {
		go func() {
			m.RecordRequest(EndpointChatStream, true)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordError(EndpointChat, ErrorCodeTimeout)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordTokens(10, 5, "test-model")
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.StreamStarted(EndpointChatStream)
			m.StreamEnded(EndpointChatStream)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordTimeToFirstToken(EndpointChat, 0.5)
			m.RecordStreamDuration(EndpointChat, 10.0, true)
			m.RecordKeepAlive(EndpointChatStream)
			m.RecordClientDisconnect(EndpointChat)
			done <- true
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 100; i++ {
		<-done
	}

	// Verify expected values
	requestsVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_stream", "success"))
	if requestsVal != 20 {
		t.Errorf("RequestsTotal[chat_stream,success] = %f, want 20", requestsVal)
	}

	errorsVal := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("chat", "timeout"))
	if errorsVal != 20 {
		t.Errorf("ErrorsTotal[chat,timeout] = %f, want 20", errorsVal)
	}
}
