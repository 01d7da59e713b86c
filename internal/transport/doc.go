// ABOUTME: Package doc for the transport layer
// ABOUTME: Explains the stream adapter contract and the wire protocol

// Package transport turns the backend's chunked chat responses into an
// ordered sequence of typed events.
//
// # Wire protocol
//
// POST /api/chat/stream accepts a JSON SendRequest and answers with a
// stream of line-delimited frames:
//
//	data: {"chunk": "Pap", "done": false}
//	data: {"chunk": "er X ", "done": false}
//	data: {"chunk": "", "done": true, "session_id": "...", "sources": [...], "suggested_followups": [...]}
//
// A non-streaming backend may instead answer with a single JSON object
// (the full ChatResponse); the adapter synthesizes one chunk and a
// completion from it so callers never see the difference.
//
// # Event contract
//
// Stream opens exactly one network exchange and returns a channel of
// Events. The channel carries zero or more EventChunk events followed by
// exactly one terminal event (EventCompleted or EventFailed), then closes.
// Events are delivered strictly in arrival order.
//
// Frames that fail to decode are dropped individually; a single corrupt
// frame never aborts the rest of the stream. If every frame in an
// exchange is malformed the exchange ends with a generic decoding
// failure.
//
// # Cancellation
//
// Cancellation is the caller's context. Once cancellation is observed the
// adapter stops emitting: no event is ever delivered after the channel
// closes, and no terminal event is synthesized for a cancelled exchange.
//
// The adapter performs network I/O only. It holds no conversation state.
package transport
