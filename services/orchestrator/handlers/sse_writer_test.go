// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the SSE writer and its event hash chain

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
)

// =============================================================================
// Helpers
// =============================================================================

// noFlushWriter is a ResponseWriter without http.Flusher support.
type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header         { return w.header }
func (w *noFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *noFlushWriter) WriteHeader(statusCode int)  {}

// parseSSEEvents decodes every "event:"/"data:" block in an SSE body, in
// stream order. Comment lines are skipped.
func parseSSEEvents(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()

	var events []datatypes.StreamEvent
	for _, block := range strings.Split(body, "\n\n") {
		if !strings.HasPrefix(block, "event: ") {
			continue
		}
		lines := strings.SplitN(block, "\n", 2)
		require.Len(t, lines, 2, "event block missing data line: %q", block)
		require.True(t, strings.HasPrefix(lines[1], "data: "))

		var event datatypes.StreamEvent
		err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &event)
		require.NoError(t, err)
		events = append(events, event)
	}
	return events
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	writer, err := NewSSEWriter(&noFlushWriter{header: http.Header{}})

	assert.Error(t, err)
	assert.Nil(t, writer)
	assert.Contains(t, err.Error(), "http.Flusher")
}

func TestNewSSEWriter_AcceptsRecorder(t *testing.T) {
	writer, err := NewSSEWriter(httptest.NewRecorder())

	require.NoError(t, err)
	assert.NotNil(t, writer)
}

// =============================================================================
// WriteEvent Tests
// =============================================================================

func TestWriteEvent_PopulatesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	event := datatypes.NewStreamEvent(datatypes.EventToken).WithContent("hello").WithToken(0)
	err = writer.WriteEvent(event)
	require.NoError(t, err)

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 1)

	got := events[0]
	assert.NotEmpty(t, got.Id)
	assert.Greater(t, got.CreatedAt, int64(0))
	assert.Len(t, got.Hash, 64, "hash should be hex-encoded SHA-256")
	assert.Empty(t, got.PrevHash, "first event has no predecessor")
	assert.Equal(t, "hello", got.Content)
	require.NotNil(t, got.Token)
	assert.Equal(t, 0, *got.Token)
}

func TestWriteEvent_HashChainLinksEvents(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteEvent(datatypes.NewStreamEvent(datatypes.EventToken).WithContent("a").WithToken(0)))
	require.NoError(t, writer.WriteEvent(datatypes.NewStreamEvent(datatypes.EventToken).WithContent("b").WithToken(1)))
	require.NoError(t, writer.WriteEvent(datatypes.NewStreamEvent(datatypes.EventDone).WithTotalTokens(2).WithSessionId("sess-1")))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 3)

	assert.Empty(t, events[0].PrevHash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash)
	assert.Equal(t, events[1].Hash, events[2].PrevHash)

	// Every hash is distinct; identical content still hashes differently
	// because the envelope differs.
	assert.NotEqual(t, events[0].Hash, events[1].Hash)
	assert.NotEqual(t, events[1].Hash, events[2].Hash)
}

func TestWriteEvent_WireFormat(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteEvent(datatypes.NewStreamEvent(datatypes.EventToolThinking).WithToolName("rag_search")))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: tool_thinking\ndata: "))
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Contains(t, body, `"tool_name":"rag_search"`)
}

func TestWriteEvent_NilEvent(t *testing.T) {
	writer, err := NewSSEWriter(httptest.NewRecorder())
	require.NoError(t, err)

	assert.Error(t, writer.WriteEvent(nil))
}

func TestWriteEvent_AssignsFreshIds(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	event := datatypes.NewStreamEvent(datatypes.EventStatus).WithMessage("working")
	staleID := event.Id
	require.NoError(t, writer.WriteEvent(event))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 1)
	assert.NotEqual(t, staleID, events[0].Id, "writer should overwrite caller-set ids")
}

func TestWriteEvent_ConcurrentWritesKeepChainIntact(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			_ = writer.WriteEvent(datatypes.NewStreamEvent(datatypes.EventToken).WithContent("x").WithToken(seq))
		}(i)
	}
	wg.Wait()

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 20)

	// Regardless of goroutine scheduling, events on the wire must form one
	// unbroken chain in write order.
	assert.Empty(t, events[0].PrevHash)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Hash, events[i].PrevHash, "chain broken at event %d", i)
	}
}

// =============================================================================
// Comment Line Tests
// =============================================================================

func TestWriteConnected_EmitsComment(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteConnected())

	assert.Equal(t, ": connected\n\n", w.Body.String())
	assert.True(t, w.Flushed)
}

func TestWriteKeepAlive_EmitsComment(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteKeepAlive())

	assert.Equal(t, ": ping\n\n", w.Body.String())
}

func TestComments_DoNotJoinHashChain(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteConnected())
	require.NoError(t, writer.WriteEvent(datatypes.NewStreamEvent(datatypes.EventToken).WithContent("a").WithToken(0)))
	require.NoError(t, writer.WriteKeepAlive())
	require.NoError(t, writer.WriteEvent(datatypes.NewStreamEvent(datatypes.EventToken).WithContent("b").WithToken(1)))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 2)
	assert.Empty(t, events[0].PrevHash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash, "keepalive must not advance the chain")
}

// =============================================================================
// Convenience Method Tests
// =============================================================================

func TestWriteStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteStatus("Generating response..."))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventStatus, events[0].Type)
	assert.Equal(t, "Generating response...", events[0].Message)
}

func TestWriteSources(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	sources := []datatypes.SourceInfo{
		{Source: "handbook.md", Score: 0.92},
		{Source: "faq.txt", Score: 0.71},
	}
	require.NoError(t, writer.WriteSources(sources))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventSources, events[0].Type)
	require.Len(t, events[0].Sources, 2)
	assert.Equal(t, "handbook.md", events[0].Sources[0].Source)
	assert.NotEmpty(t, events[0].Hash, "sources are part of the hash chain")
}

// =============================================================================
// Header Tests
// =============================================================================

func TestSetSSEHeaders(t *testing.T) {
	w := httptest.NewRecorder()

	SetSSEHeaders(w)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}
