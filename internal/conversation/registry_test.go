// ABOUTME: Tests for the session registry
// ABOUTME: Covers create/switch/delete, persistence flushes, restore, and id adoption

package conversation

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suchun-sv/LavenderSentinel/internal/store"
	"github.com/Suchun-sv/LavenderSentinel/internal/transport"
)

func newTestRegistry(t *testing.T, ms *mockStreamer) (*Registry, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.Default()
	return NewRegistry(ms, st, NewUpdateBroadcaster(logger), logger, true), st
}

func TestCreateSession_BecomesCurrent(t *testing.T) {
	r, _ := newTestRegistry(t, &mockStreamer{})

	s := r.CreateSession()
	require.NotNil(t, s)
	assert.Same(t, s, r.Current())

	got, err := r.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestCreateSession_SeedsContext(t *testing.T) {
	r, _ := newTestRegistry(t, &mockStreamer{})

	s := r.CreateSession("2301.00002", "2301.00001")
	assert.Equal(t, []string{"2301.00001", "2301.00002"}, s.Context().Snapshot())
}

func TestGet_UnknownSession(t *testing.T) {
	r, _ := newTestRegistry(t, &mockStreamer{})

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSetCurrent(t *testing.T) {
	r, _ := newTestRegistry(t, &mockStreamer{})

	a := r.CreateSession()
	b := r.CreateSession()
	assert.Same(t, b, r.Current())

	require.NoError(t, r.SetCurrent(a.ID()))
	assert.Same(t, a, r.Current())

	assert.ErrorIs(t, r.SetCurrent("nope"), ErrSessionNotFound)
	assert.Same(t, a, r.Current())
}

func TestDeleteSession_CancelsInFlightExchange(t *testing.T) {
	ms := &mockStreamer{}
	r, _ := newTestRegistry(t, ms)

	s := r.CreateSession()
	require.NoError(t, s.Send(context.Background(), "question"))

	ch := ms.lastStream()
	ch <- transport.Event{Kind: transport.EventChunk, Text: "partial"}
	require.Eventually(t, func() bool {
		return len(s.Snapshot().Messages) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.DeleteSession(context.Background(), s.ID()))
	_, err := r.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Nil(t, r.Current())

	// Chunks arriving after the delete must not be applied
	ch <- transport.Event{Kind: transport.EventChunk, Text: " more"}
	close(ch)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "partial", s.Snapshot().Messages[1].Content)
}

func TestDeleteSession_UnknownIDIsNoOp(t *testing.T) {
	r, _ := newTestRegistry(t, &mockStreamer{})
	assert.NoError(t, r.DeleteSession(context.Background(), "never-existed"))
}

func TestDeleteSession_RemovesSummaryFromStore(t *testing.T) {
	r, st := newTestRegistry(t, &mockStreamer{})

	s := r.CreateSession()
	summaries, err := st.LoadSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	require.NoError(t, r.DeleteSession(context.Background(), s.ID()))
	summaries, err = st.LoadSummaries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestList_MostRecentlyUpdatedFirst(t *testing.T) {
	ms := &mockStreamer{}
	r, _ := newTestRegistry(t, ms)

	a := r.CreateSession()
	time.Sleep(5 * time.Millisecond)
	b := r.CreateSession()
	time.Sleep(5 * time.Millisecond)

	// Activity on a makes it most recent again
	require.NoError(t, a.Send(context.Background(), "bump"))
	ch := ms.lastStream()
	ch <- transport.Event{Kind: transport.EventCompleted}
	close(ch)
	waitForState(t, a, StateIdle)

	snaps := r.List()
	require.Len(t, snaps, 2)
	assert.Equal(t, a.ID(), snaps[0].ID)
	assert.Equal(t, b.ID(), snaps[1].ID)
}

func TestContextChange_FlushesSummary(t *testing.T) {
	r, st := newTestRegistry(t, &mockStreamer{})

	s := r.CreateSession()
	s.Context().Add("2301.00001")

	summaries, err := st.LoadSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, []string{"2301.00001"}, summaries[0].ContextDocumentIDs)
}

func TestRestore_RecreatesIdleSessions(t *testing.T) {
	ms := &mockStreamer{}
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.Default()
	first := NewRegistry(ms, st, NewUpdateBroadcaster(logger), logger, true)
	s := first.CreateSession("2301.00001")

	second := NewRegistry(ms, st, NewUpdateBroadcaster(logger), logger, true)
	require.NoError(t, second.Restore(context.Background()))

	snaps := second.List()
	require.Len(t, snaps, 1)
	assert.Equal(t, s.ID(), snaps[0].ID)
	assert.Equal(t, []string{"2301.00001"}, snaps[0].Context)
	assert.Equal(t, StateIdle, snaps[0].State)

	// Restored sessions already carry the persisted id on sends
	restored, err := second.Get(s.ID())
	require.NoError(t, err)
	require.NoError(t, restored.Send(context.Background(), "hello again"))
	assert.Equal(t, s.ID(), ms.lastRequest().SessionID)
	close(ms.lastStream())
}

func TestAdoption_RekeysRegistry(t *testing.T) {
	ms := &mockStreamer{}
	r, st := newTestRegistry(t, ms)

	s := r.CreateSession()
	provisional := s.ID()
	require.NoError(t, s.Send(context.Background(), "hello"))

	ch := ms.lastStream()
	ch <- transport.Event{Kind: transport.EventCompleted, SessionID: "server-1"}
	close(ch)
	waitForState(t, s, StateIdle)

	// Lookup works under the adopted id, not the provisional one
	got, err := r.Get("server-1")
	require.NoError(t, err)
	assert.Same(t, s, got)
	_, err = r.Get(provisional)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Same(t, s, r.Current())

	// The store holds exactly one summary, under the adopted id
	require.Eventually(t, func() bool {
		summaries, err := st.LoadSummaries(context.Background())
		return err == nil && len(summaries) == 1 && summaries[0].SessionID == "server-1"
	}, time.Second, 5*time.Millisecond)
}

func TestAdoption_CollidingServerIDKeepsFirstSession(t *testing.T) {
	ms := &mockStreamer{}
	r, _ := newTestRegistry(t, ms)

	first := r.CreateSession()
	require.NoError(t, first.Send(context.Background(), "one"))
	ch := ms.lastStream()
	ch <- transport.Event{Kind: transport.EventCompleted, SessionID: "server-1"}
	close(ch)
	waitForState(t, first, StateIdle)

	// A second session handed the same server id must not displace the
	// first; it stays reachable under its provisional key.
	second := r.CreateSession()
	provisional := second.ID()
	require.NoError(t, second.Send(context.Background(), "two"))
	ch = ms.lastStream()
	ch <- transport.Event{Kind: transport.EventCompleted, SessionID: "server-1"}
	close(ch)
	waitForState(t, second, StateIdle)

	got, err := r.Get("server-1")
	require.NoError(t, err)
	assert.Same(t, first, got)

	got, err = r.Get(provisional)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestReset_DropsEverything(t *testing.T) {
	r, st := newTestRegistry(t, &mockStreamer{})

	r.CreateSession()
	r.CreateSession()

	require.NoError(t, r.Reset(context.Background()))
	assert.Empty(t, r.List())
	assert.Nil(t, r.Current())

	summaries, err := st.LoadSummaries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
