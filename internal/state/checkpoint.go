package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// SQLiteCheckpointer persists conversation snapshots as JSON rows keyed by
// session. One row per session; every save overwrites the previous
// snapshot.
type SQLiteCheckpointer struct {
	db *sql.DB
}

var _ ports.Checkpointer = (*SQLiteCheckpointer)(nil)

// NewSQLiteCheckpointer opens (and if needed creates) the checkpoint
// database at path.
func NewSQLiteCheckpointer(path string) (*SQLiteCheckpointer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	db.SetMaxOpenConns(1)
	c := &SQLiteCheckpointer{db: db}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCheckpointer) init() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT PRIMARY KEY,
			state      BLOB NOT NULL,
			saved_at   INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("init checkpoint schema: %w", err)
	}
	return nil
}

func (c *SQLiteCheckpointer) Save(ctx context.Context, state domain.ConversationState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO checkpoints(session_id, state, saved_at) VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, saved_at = excluded.saved_at`,
		state.SessionID, blob, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (c *SQLiteCheckpointer) Load(ctx context.Context, sessionID string) (domain.ConversationState, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE session_id = ?`, sessionID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return domain.ConversationState{}, false, nil
	}
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	var state domain.ConversationState
	if err := json.Unmarshal(blob, &state); err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return state, true, nil
}

func (c *SQLiteCheckpointer) Delete(ctx context.Context, sessionID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *SQLiteCheckpointer) Close() error { return c.db.Close() }
