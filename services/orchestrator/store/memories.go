package store

import (
	"context"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
)

// CreateEpisodicMemory inserts an event record.
func CreateEpisodicMemory(ctx context.Context, db Execer, memory *EpisodicMemory) error {
	if memory.ID == "" {
		memory.ID = uuid.New().String()
	}
	if memory.MemoryType == "" {
		memory.MemoryType = "episodic"
	}
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO episodic_memories (id, user_id, session_id, memory_type, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, memory.ID, memory.UserID, memory.SessionID, memory.MemoryType, memory.Content, memory.CreatedAt)
	return err
}

// ListRecentEpisodicMemories retrieves a user's newest memories, newest first.
func ListRecentEpisodicMemories(ctx context.Context, db sqlscan.Querier, userID string, limit int) ([]EpisodicMemory, error) {
	query := `SELECT id, user_id, session_id, memory_type, content, created_at FROM episodic_memories WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	var memories []EpisodicMemory
	err := sqlscan.Select(ctx, db, &memories, query, userID, limit)
	if err != nil {
		return nil, err
	}
	return memories, nil
}

// SearchEpisodicMemories finds a user's memories whose content matches any
// of the given keywords (case-insensitive substring match), newest first.
// An empty keyword list falls back to the most recent memories.
func SearchEpisodicMemories(ctx context.Context, db sqlscan.Querier, userID string, keywords []string, limit int) ([]EpisodicMemory, error) {
	if len(keywords) == 0 {
		return ListRecentEpisodicMemories(ctx, db, userID, limit)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, user_id, session_id, memory_type, content, created_at FROM episodic_memories WHERE user_id = ? AND (`)
	args := []any{userID}
	for i, kw := range keywords {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("content LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLikePattern(kw)+"%")
	}
	sb.WriteString(`) ORDER BY created_at DESC LIMIT ?`)
	args = append(args, limit)

	var memories []EpisodicMemory
	err := sqlscan.Select(ctx, db, &memories, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return memories, nil
}

// escapeLikePattern escapes LIKE metacharacters so keywords match literally.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
