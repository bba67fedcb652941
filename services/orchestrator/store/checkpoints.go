package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
)

// SaveAgentCheckpoint inserts a new checkpoint snapshot and prunes older
// ones for the same session, keeping only the latest.
func SaveAgentCheckpoint(ctx context.Context, db Execer, checkpoint *AgentCheckpoint) error {
	if checkpoint.ID == "" {
		checkpoint.ID = uuid.New().String()
	}
	if checkpoint.CreatedAt.IsZero() {
		checkpoint.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO agent_checkpoints (id, session_id, state, created_at) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, query, checkpoint.ID, checkpoint.SessionID, checkpoint.State, checkpoint.CreatedAt); err != nil {
		return err
	}
	prune := `DELETE FROM agent_checkpoints WHERE session_id = ? AND id != ?`
	_, err := db.ExecContext(ctx, prune, checkpoint.SessionID, checkpoint.ID)
	return err
}

// GetLatestAgentCheckpoint retrieves the newest checkpoint for a session.
// Returns (nil, nil) when the session has none.
func GetLatestAgentCheckpoint(ctx context.Context, db sqlscan.Querier, sessionID string) (*AgentCheckpoint, error) {
	query := `SELECT id, session_id, state, created_at FROM agent_checkpoints WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	var c AgentCheckpoint
	err := sqlscan.Get(ctx, db, &c, query, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return &c, nil
}
