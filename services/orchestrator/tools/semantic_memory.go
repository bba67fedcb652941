package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonschema "github.com/swaggest/jsonschema-go"

	"github.com/AleutianAI/aleutian-agent/services/llm"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
)

const (
	saveMemoryToolName   = "save_user_memory"
	recallMemoryToolName = "recall_user_memories"

	saveMemoryDescription = `Store important information about the user for future conversations.

Use when the user shares:
- fact: Personal info (name: John, location: NYC, job: engineer)
- preference: Likes/dislikes (prefers Python, dislikes verbose code)
- context: Current situation (working on AI chatbot, deadline next week)
- relationship: People/places (manager: Sarah, team: AI Lab)

Saving the same memory_id again replaces the earlier memory.`

	recallMemoryDescription = `Search the user's stored memories for relevant information.
Call this before responding to check what you know about the user.

Returns relevant memories as formatted text.`

	recallMemoryLimit = 5
)

// MemoryStore persists and searches the agent's per-user memories.
// Implemented by vector.Store.
type MemoryStore interface {
	SaveMemory(ctx context.Context, props datatypes.UserMemoryProperties, vec []float32) (string, error)
	SearchMemories(ctx context.Context, userID string, vec []float32, limit int) ([]datatypes.UserMemoryResult, error)
}

// SaveMemoryInput is the model-decided argument payload for
// save_user_memory.
type SaveMemoryInput struct {
	MemoryType string `json:"memory_type" required:"true" enum:"fact,preference,context,relationship" description:"Type of memory"`
	MemoryID   string `json:"memory_id" required:"true" description:"Unique identifier (e.g. \"user_name\", \"programming_pref\")"`
	Content    string `json:"content" required:"true" description:"The actual memory text"`
}

// RecallMemoriesInput is the model-decided argument payload for
// recall_user_memories.
type RecallMemoriesInput struct {
	Query      string `json:"query" required:"true" description:"What to search for"`
	MemoryType string `json:"memory_type,omitempty" enum:"fact,preference,context,relationship" description:"Optional filter by memory type"`
}

// SaveMemoryTool writes a keyed personal fact to the user's memory store.
type SaveMemoryTool struct {
	store    MemoryStore
	embedder llm.Embedder
	schema   *jsonschema.Schema
}

// NewSaveMemoryTool creates the save_user_memory tool.
func NewSaveMemoryTool(store MemoryStore, embedder llm.Embedder) *SaveMemoryTool {
	return &SaveMemoryTool{
		store:    store,
		embedder: embedder,
		schema:   mustSchema(SaveMemoryInput{}),
	}
}

func (t *SaveMemoryTool) GetName() string        { return saveMemoryToolName }
func (t *SaveMemoryTool) GetDescription() string { return saveMemoryDescription }

func (t *SaveMemoryTool) GetParameters() *jsonschema.Schema {
	return t.schema
}

func (t *SaveMemoryTool) Execute(ctx context.Context, rc RunContext, args json.RawMessage) (string, error) {
	var input SaveMemoryInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(input.Content) == "" {
		return "", fmt.Errorf("content is required")
	}
	if strings.TrimSpace(input.MemoryID) == "" {
		return "", fmt.Errorf("memory_id is required")
	}
	if !validMemoryType(input.MemoryType) {
		return "", fmt.Errorf("memory_type must be one of: fact, preference, context, relationship")
	}

	if rc.UserID == "" {
		return fmt.Sprintf("User ID not available. Would save: %s memory: %s - '%s'", input.MemoryType, input.MemoryID, input.Content), nil
	}
	if t.store == nil || t.embedder == nil {
		return fmt.Sprintf("Memory store not available. Would save: %s memory: %s - '%s'", input.MemoryType, input.MemoryID, input.Content), nil
	}

	vec, err := t.embedder.Embed(ctx, input.Content)
	if err != nil {
		return "", fmt.Errorf("failed to embed memory: %w", err)
	}

	props := datatypes.UserMemoryProperties{
		Content:    input.Content,
		MemoryID:   input.MemoryID,
		UserID:     rc.UserID,
		SessionID:  rc.SessionID,
		MemoryType: input.MemoryType,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if _, err := t.store.SaveMemory(ctx, props, vec); err != nil {
		return "", fmt.Errorf("failed to save memory: %w", err)
	}

	return fmt.Sprintf("Saved %s memory: %s - '%s'", input.MemoryType, input.MemoryID, input.Content), nil
}

// RecallMemoriesTool searches the user's saved facts by semantic
// similarity to the query.
type RecallMemoriesTool struct {
	store    MemoryStore
	embedder llm.Embedder
	schema   *jsonschema.Schema
}

// NewRecallMemoriesTool creates the recall_user_memories tool.
func NewRecallMemoriesTool(store MemoryStore, embedder llm.Embedder) *RecallMemoriesTool {
	return &RecallMemoriesTool{
		store:    store,
		embedder: embedder,
		schema:   mustSchema(RecallMemoriesInput{}),
	}
}

func (t *RecallMemoriesTool) GetName() string        { return recallMemoryToolName }
func (t *RecallMemoriesTool) GetDescription() string { return recallMemoryDescription }

func (t *RecallMemoriesTool) GetParameters() *jsonschema.Schema {
	return t.schema
}

func (t *RecallMemoriesTool) Execute(ctx context.Context, rc RunContext, args json.RawMessage) (string, error) {
	var input RecallMemoriesInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	if input.MemoryType != "" && !validMemoryType(input.MemoryType) {
		return "", fmt.Errorf("memory_type must be one of: fact, preference, context, relationship")
	}

	if rc.UserID == "" {
		return "User ID not available. Cannot recall memories.", nil
	}
	if t.store == nil || t.embedder == nil {
		return "Memory store not available. Cannot recall memories.", nil
	}

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to embed query: %w", err)
	}

	memories, err := t.store.SearchMemories(ctx, rc.UserID, vec, recallMemoryLimit)
	if err != nil {
		return "", fmt.Errorf("memory search failed: %w", err)
	}
	if len(memories) == 0 {
		return "No relevant memories found.", nil
	}

	var lines []string
	for _, mem := range memories {
		if input.MemoryType != "" && mem.MemoryType != input.MemoryType {
			continue
		}
		if mem.MemoryType != "" {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", mem.MemoryType, mem.MemoryID, mem.Content))
		} else {
			lines = append(lines, fmt.Sprintf("%s: %s", mem.MemoryID, mem.Content))
		}
	}
	if len(lines) == 0 {
		if input.MemoryType != "" {
			return fmt.Sprintf("No memories found matching type '%s'.", input.MemoryType), nil
		}
		return "No relevant memories found.", nil
	}

	return "## Relevant Memories\n" + strings.Join(lines, "\n"), nil
}

func validMemoryType(t string) bool {
	switch t {
	case "fact", "preference", "context", "relationship":
		return true
	}
	return false
}

var (
	_ Tool = (*SaveMemoryTool)(nil)
	_ Tool = (*RecallMemoriesTool)(nil)
)
