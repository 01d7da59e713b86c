// ABOUTME: Package doc for the conversation layer
// ABOUTME: Explains sessions, exchanges, the assembler and the registry

// Package conversation manages chat sessions and their in-flight
// streaming exchanges.
//
// # Overview
//
// The conversation package sits between the UI layer and the transport
// adapter. It owns message history, the per-session context set of paper
// ids, and the lifecycle of at most one streaming exchange per session.
//
// # Session state machine
//
// A session moves through named states with guarded transitions:
//
//	Idle --Send--> Sending --first chunk--> Streaming --completed--> Idle
//	Sending|Streaming --error--> Failed --(auto)--> Idle
//	Sending|Streaming --Cancel--> Idle
//
// Send rejects empty input (ErrEmptyMessage) and concurrent sends
// (ErrExchangeActive) synchronously, before any network call. After a
// failure the session always returns to Idle so a new send is possible.
//
// # Exchanges and the assembler
//
// Each send creates one Exchange: a pending assistant message plus an
// accumulation buffer. A single pump goroutine reads transport events in
// arrival order and folds them through the Assembler; no other goroutine
// writes exchange state. Chunk text is append-only; once finalized the
// message is immutable. Failure retains whatever partial text had
// accumulated - partial output is user-visible and never discarded.
//
// # Snapshots
//
// External readers never touch live session state. Snapshot() returns a
// deep copy, and the UpdateBroadcaster fans immutable snapshots out to
// subscribers after every visible change.
//
// # Registry
//
// The Registry owns all sessions, tracks the current one, and persists
// lightweight summaries (session id, title, context set - never
// transcripts) through a store. Summaries are restored at startup;
// entries that fail to parse are skipped with a warning, not a startup
// failure.
package conversation
