// ABOUTME: Package documentation for the persistence layer
// ABOUTME: Documents what is stored and the corrupt-row recovery rule

// Package store persists session summaries so the session list and each
// session's context set survive restarts.
//
// Only summaries are stored: session id, title, context document ids,
// and timestamps. Message transcripts are owned by the backend and are
// never written locally.
//
// The SQLite implementation creates its schema on open and runs in WAL
// mode. Loading tolerates corrupt rows: a summary whose context column
// does not decode is logged and skipped rather than failing startup.
package store
