package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
)

// fakeMemoryStore records saves and returns canned search results.
type fakeMemoryStore struct {
	saved    []datatypes.UserMemoryProperties
	memories []datatypes.UserMemoryResult
	err      error
}

func (f *fakeMemoryStore) SaveMemory(ctx context.Context, props datatypes.UserMemoryProperties, vec []float32) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, props)
	return "obj-1", nil
}

func (f *fakeMemoryStore) SearchMemories(ctx context.Context, userID string, vec []float32, limit int) ([]datatypes.UserMemoryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.memories, nil
}

func TestSaveMemory(t *testing.T) {
	store := &fakeMemoryStore{}
	tool := NewSaveMemoryTool(store, &fakeEmbedder{vec: []float32{0.5}})

	rc := RunContext{UserID: "user-1", SessionID: "sess-1"}
	args := json.RawMessage(`{"memory_type":"fact","memory_id":"user_name","content":"Name is John"}`)
	result, err := tool.Execute(context.Background(), rc, args)
	require.NoError(t, err)

	assert.Equal(t, "Saved fact memory: user_name - 'Name is John'", result)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "user-1", store.saved[0].UserID)
	assert.Equal(t, "sess-1", store.saved[0].SessionID)
	assert.Equal(t, "user_name", store.saved[0].MemoryID)
	assert.Equal(t, "fact", store.saved[0].MemoryType)
	assert.NotZero(t, store.saved[0].CreatedAt)
}

func TestSaveMemoryRejectsBadArguments(t *testing.T) {
	tool := NewSaveMemoryTool(&fakeMemoryStore{}, &fakeEmbedder{vec: []float32{0.5}})
	rc := RunContext{UserID: "user-1"}

	tests := []struct {
		name string
		args string
	}{
		{"invalid type", `{"memory_type":"opinion","memory_id":"x","content":"y"}`},
		{"missing id", `{"memory_type":"fact","content":"y"}`},
		{"missing content", `{"memory_type":"fact","memory_id":"x"}`},
		{"malformed json", `{"memory_type"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), rc, json.RawMessage(tt.args))
			assert.Error(t, err)
		})
	}
}

func TestSaveMemoryWithoutUser(t *testing.T) {
	tool := NewSaveMemoryTool(&fakeMemoryStore{}, &fakeEmbedder{vec: []float32{0.5}})

	args := json.RawMessage(`{"memory_type":"fact","memory_id":"user_name","content":"Name is John"}`)
	result, err := tool.Execute(context.Background(), RunContext{}, args)
	require.NoError(t, err)
	assert.Contains(t, result, "User ID not available")
	assert.Contains(t, result, "Would save")
}

func TestRecallMemoriesFormatsResults(t *testing.T) {
	store := &fakeMemoryStore{
		memories: []datatypes.UserMemoryResult{
			{Content: "Name is John", MemoryID: "user_name", MemoryType: "fact"},
			{Content: "Prefers Go over Python", MemoryID: "lang_pref", MemoryType: "preference"},
		},
	}
	tool := NewRecallMemoriesTool(store, &fakeEmbedder{vec: []float32{0.5}})

	result, err := tool.Execute(context.Background(), RunContext{UserID: "user-1"}, json.RawMessage(`{"query":"who am I"}`))
	require.NoError(t, err)

	assert.Contains(t, result, "## Relevant Memories")
	assert.Contains(t, result, "[fact] user_name: Name is John")
	assert.Contains(t, result, "[preference] lang_pref: Prefers Go over Python")
}

func TestRecallMemoriesEmpty(t *testing.T) {
	tool := NewRecallMemoriesTool(&fakeMemoryStore{}, &fakeEmbedder{vec: []float32{0.5}})

	result, err := tool.Execute(context.Background(), RunContext{UserID: "user-1"}, json.RawMessage(`{"query":"anything"}`))
	require.NoError(t, err)
	assert.Equal(t, "No relevant memories found.", result)
}

func TestRecallMemoriesTypeFilter(t *testing.T) {
	store := &fakeMemoryStore{
		memories: []datatypes.UserMemoryResult{
			{Content: "Name is John", MemoryID: "user_name", MemoryType: "fact"},
			{Content: "Prefers Go", MemoryID: "lang_pref", MemoryType: "preference"},
		},
	}
	tool := NewRecallMemoriesTool(store, &fakeEmbedder{vec: []float32{0.5}})
	rc := RunContext{UserID: "user-1"}

	result, err := tool.Execute(context.Background(), rc, json.RawMessage(`{"query":"x","memory_type":"preference"}`))
	require.NoError(t, err)
	assert.Contains(t, result, "lang_pref")
	assert.NotContains(t, result, "user_name")

	// Filter that matches nothing names the type in its message.
	store.memories = []datatypes.UserMemoryResult{
		{Content: "Name is John", MemoryID: "user_name", MemoryType: "fact"},
	}
	result, err = tool.Execute(context.Background(), rc, json.RawMessage(`{"query":"x","memory_type":"relationship"}`))
	require.NoError(t, err)
	assert.Equal(t, "No memories found matching type 'relationship'.", result)
}

func TestRecallMemoriesWithoutUser(t *testing.T) {
	tool := NewRecallMemoriesTool(&fakeMemoryStore{}, &fakeEmbedder{vec: []float32{0.5}})

	result, err := tool.Execute(context.Background(), RunContext{}, json.RawMessage(`{"query":"anything"}`))
	require.NoError(t, err)
	assert.Equal(t, "User ID not available. Cannot recall memories.", result)
}
