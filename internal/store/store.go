// ABOUTME: Store interface and types for persisted session summaries
// ABOUTME: Summaries hold identity and context, never message transcripts

package store

import (
	"context"
	"time"
)

// Summary is the persisted shape of a session: its identity, title, and
// context document ids. Transcripts live server-side and are not stored.
type Summary struct {
	SessionID          string
	Title              string
	ContextDocumentIDs []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Store persists session summaries across restarts.
type Store interface {
	// LoadSummaries returns every stored summary, most recently updated
	// first. Rows that cannot be decoded are skipped, not fatal.
	LoadSummaries(ctx context.Context) ([]Summary, error)

	// SaveSummary inserts or replaces one summary.
	SaveSummary(ctx context.Context, sum Summary) error

	// DeleteSummary removes a summary. Deleting an unknown id is a no-op.
	DeleteSummary(ctx context.Context, sessionID string) error

	// Close releases the underlying resources.
	Close() error
}
