// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session summary persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			context_ids TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_summaries_updated
			ON session_summaries(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// LoadSummaries returns all stored summaries, most recently updated
// first. A row whose context column fails to decode is logged and
// skipped so one corrupt row never blocks startup.
func (s *SQLiteStore) LoadSummaries(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, title, context_ids, created_at, updated_at
		FROM session_summaries
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying session summaries: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var contextJSON string
		if err := rows.Scan(&sum.SessionID, &sum.Title, &contextJSON, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		if err := json.Unmarshal([]byte(contextJSON), &sum.ContextDocumentIDs); err != nil {
			s.logger.Warn("skipping summary with corrupt context column",
				"session_id", sum.SessionID, "error", err)
			continue
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session summaries: %w", err)
	}

	return summaries, nil
}

// SaveSummary inserts or replaces one summary.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sum Summary) error {
	contextJSON, err := json.Marshal(contextOrEmpty(sum.ContextDocumentIDs))
	if err != nil {
		return fmt.Errorf("encoding context ids: %w", err)
	}

	now := time.Now()
	createdAt := sum.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := sum.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_summaries (session_id, title, context_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			title = excluded.title,
			context_ids = excluded.context_ids,
			updated_at = excluded.updated_at
	`, sum.SessionID, sum.Title, string(contextJSON), createdAt, updatedAt)
	if err != nil {
		return fmt.Errorf("saving session summary: %w", err)
	}
	return nil
}

// DeleteSummary removes a summary. Deleting an unknown id is a no-op.
func (s *SQLiteStore) DeleteSummary(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM session_summaries WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("deleting session summary: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// contextOrEmpty keeps the stored JSON an array, never null.
func contextOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
