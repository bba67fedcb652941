package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/swaggest/jsonschema-go"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
)

const (
	saveEpisodeToolName   = "save_successful_approach"
	recallEpisodeToolName = "recall_similar_experiences"

	saveEpisodeDescription = `Save a successful approach for future reference.
Use after completing a task successfully.

Provide a unique episode_id (e.g. "api_integration_2024_01"), what the task
was, how it was done, and the result.`

	recallEpisodeDescription = `Find similar past experiences to learn from.
Use when starting a new task.

Returns similar past experiences as formatted text.`

	recallEpisodeLimit = 5

	// Keywords shorter than this are noise words for matching purposes.
	episodeKeywordMinLength = 4
	episodeKeywordMax       = 8
)

// SaveEpisodeInput is the model-decided argument payload for
// save_successful_approach.
type SaveEpisodeInput struct {
	EpisodeID string `json:"episode_id" required:"true" description:"Unique identifier (e.g. \"api_integration_2024_01\")"`
	Task      string `json:"task" required:"true" description:"What was being accomplished"`
	Approach  string `json:"approach" required:"true" description:"How it was done"`
	Outcome   string `json:"outcome" required:"true" description:"The result"`
}

// RecallEpisodesInput is the model-decided argument payload for
// recall_similar_experiences.
type RecallEpisodesInput struct {
	TaskDescription string `json:"task_description" required:"true" description:"Description of the current task"`
}

// SaveEpisodeTool records a completed task in the relational store.
type SaveEpisodeTool struct {
	db     *sql.DB
	schema *jsonschema.Schema
}

// NewSaveEpisodeTool creates the save_successful_approach tool.
func NewSaveEpisodeTool(db *sql.DB) *SaveEpisodeTool {
	return &SaveEpisodeTool{db: db, schema: mustSchema(SaveEpisodeInput{})}
}

func (t *SaveEpisodeTool) GetName() string        { return saveEpisodeToolName }
func (t *SaveEpisodeTool) GetDescription() string { return saveEpisodeDescription }

func (t *SaveEpisodeTool) GetParameters() *jsonschema.Schema {
	return t.schema
}

func (t *SaveEpisodeTool) Execute(ctx context.Context, rc RunContext, args json.RawMessage) (string, error) {
	var input SaveEpisodeInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(input.EpisodeID) == "" {
		return "", fmt.Errorf("episode_id is required")
	}
	if strings.TrimSpace(input.Task) == "" {
		return "", fmt.Errorf("task is required")
	}

	if rc.UserID == "" {
		return "User ID not available. Episode not saved.", nil
	}
	if t.db == nil {
		return "Episode store not available. Episode not saved.", nil
	}

	content := fmt.Sprintf("Episode: %s\nTask: %s\nApproach: %s\nOutcome: %s",
		input.EpisodeID, input.Task, input.Approach, input.Outcome)

	memory := &store.EpisodicMemory{
		UserID:  rc.UserID,
		Content: content,
	}
	if rc.SessionID != "" {
		memory.SessionID = &rc.SessionID
	}
	if err := store.CreateEpisodicMemory(ctx, t.db, memory); err != nil {
		return "", fmt.Errorf("failed to save episode: %w", err)
	}

	return fmt.Sprintf("Saved episode: %s", input.EpisodeID), nil
}

// RecallEpisodesTool finds past episodes whose text matches keywords from
// the task description. Plain substring matching; recency is the only
// ordering.
type RecallEpisodesTool struct {
	db     *sql.DB
	schema *jsonschema.Schema
}

// NewRecallEpisodesTool creates the recall_similar_experiences tool.
func NewRecallEpisodesTool(db *sql.DB) *RecallEpisodesTool {
	return &RecallEpisodesTool{db: db, schema: mustSchema(RecallEpisodesInput{})}
}

func (t *RecallEpisodesTool) GetName() string        { return recallEpisodeToolName }
func (t *RecallEpisodesTool) GetDescription() string { return recallEpisodeDescription }

func (t *RecallEpisodesTool) GetParameters() *jsonschema.Schema {
	return t.schema
}

func (t *RecallEpisodesTool) Execute(ctx context.Context, rc RunContext, args json.RawMessage) (string, error) {
	var input RecallEpisodesInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(input.TaskDescription) == "" {
		return "", fmt.Errorf("task_description is required")
	}

	if rc.UserID == "" {
		return "User ID not available. Cannot recall experiences.", nil
	}
	if t.db == nil {
		return "Episode store not available. Cannot recall experiences.", nil
	}

	keywords := extractKeywords(input.TaskDescription)
	episodes, err := store.SearchEpisodicMemories(ctx, t.db, rc.UserID, keywords, recallEpisodeLimit)
	if err != nil {
		return "", fmt.Errorf("episode search failed: %w", err)
	}
	if len(episodes) == 0 {
		return "No similar past experiences found.", nil
	}

	var sb strings.Builder
	sb.WriteString("## Similar Past Experiences\n")
	for i, ep := range episodes {
		sb.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, ep.Content))
	}
	return sb.String(), nil
}

// extractKeywords pulls the significant words out of a task description
// for substring matching.
func extractKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	seen := make(map[string]bool)
	var keywords []string
	for _, f := range fields {
		if len(f) < episodeKeywordMinLength || seen[f] {
			continue
		}
		seen[f] = true
		keywords = append(keywords, f)
		if len(keywords) >= episodeKeywordMax {
			break
		}
	}
	return keywords
}

var (
	_ Tool = (*SaveEpisodeTool)(nil)
	_ Tool = (*RecallEpisodesTool)(nil)
)
