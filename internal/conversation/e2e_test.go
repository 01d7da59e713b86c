// ABOUTME: End-to-end tests wiring a real HTTP stream into a session
// ABOUTME: Covers the full send-stream-finalize path against a test server

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suchun-sv/LavenderSentinel/internal/transport"
)

func TestEndToEnd_SummarizePaper(t *testing.T) {
	var gotRequest transport.SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"chunk": "Pap", "done": false}`)
		fmt.Fprintln(w, `data: {"chunk": "er X ", "done": false}`)
		fmt.Fprintln(w, `data: {"chunk": "is about...", "done": false}`)
		fmt.Fprintln(w, `data: {"chunk": "", "done": true, "session_id": "srv-1", "sources": [{"paper_id": "X", "title": "Paper X", "excerpt": "passage", "score": 0.9}]}`)
	}))
	defer srv.Close()

	client := transport.NewClient(srv.URL, nil, nil)
	s := newSession("local", NewContextSet("X"), client, slog.Default(), nil, true)

	require.NoError(t, s.Send(context.Background(), "Summarize paper X"))
	waitForState(t, s, StateIdle)

	assert.Equal(t, []string{"X"}, gotRequest.ContextDocumentIDs)
	assert.Equal(t, "Summarize paper X", gotRequest.Message)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, RoleUser, snap.Messages[0].Role)
	assert.Equal(t, RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, "Paper X is about...", snap.Messages[1].Content)
	assert.Equal(t, []string{"X"}, snap.Messages[1].PaperIDs)
	assert.Equal(t, "srv-1", snap.ID)
}

func TestEndToEnd_CorruptFrameThenDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"chunk": "valid text", "done": false}`)
		fmt.Fprintln(w, `data: {corrupt frame!!`)
		fmt.Fprintln(w, `data: {"chunk": "", "done": true}`)
	}))
	defer srv.Close()

	client := transport.NewClient(srv.URL, nil, nil)
	s := newSession("local", NewContextSet(), client, slog.Default(), nil, false)

	require.NoError(t, s.Send(context.Background(), "hello"))
	waitForState(t, s, StateIdle)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "valid text", snap.Messages[1].Content)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, StateIdle, snap.State)
}
