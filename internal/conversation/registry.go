// ABOUTME: Registry of live sessions: create, look up, switch, delete, restore
// ABOUTME: Flushes session summaries to the store and rekeys on server id adoption

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Suchun-sv/LavenderSentinel/internal/store"
	"github.com/Suchun-sv/LavenderSentinel/internal/transport"
)

// ErrSessionNotFound is returned when a session id is unknown to the
// registry.
var ErrSessionNotFound = errors.New("session not found")

// Registry owns every live session and the notion of a current one.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	current  string

	streamer    transport.Streamer
	store       store.Store
	updates     *UpdateBroadcaster
	logger      *slog.Logger
	baseLogger  *slog.Logger
	wantSources bool
}

// NewRegistry creates an empty registry. The store may be nil, in which
// case summaries are not persisted.
func NewRegistry(streamer transport.Streamer, st store.Store, updates *UpdateBroadcaster, logger *slog.Logger, wantSources bool) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		streamer:    streamer,
		store:       st,
		updates:     updates,
		logger:      logger.With("component", "registry"),
		baseLogger:  logger,
		wantSources: wantSources,
	}
}

// Restore loads persisted session summaries and recreates them as idle
// sessions. Summaries the store could not decode were already skipped
// there; restore itself never fails the whole startup for one bad row.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	summaries, err := r.store.LoadSummaries(ctx)
	if err != nil {
		return fmt.Errorf("loading session summaries: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sum := range summaries {
		if sum.SessionID == "" {
			r.logger.Warn("skipping summary without session id")
			continue
		}
		if _, exists := r.sessions[sum.SessionID]; exists {
			r.logger.Warn("skipping duplicate session summary", "session_id", sum.SessionID)
			continue
		}

		s := newSession(sum.SessionID, NewContextSet(sum.ContextDocumentIDs...), r.streamer, r.baseLogger, r.updates, r.wantSources)
		s.title = sum.Title
		s.createdAt = sum.CreatedAt
		s.updatedAt = sum.UpdatedAt
		// A persisted id is by definition the server's id.
		s.adopted = true
		r.wireLocked(s)
		r.sessions[sum.SessionID] = s
	}

	r.logger.Info("sessions restored", "count", len(r.sessions))
	return nil
}

// CreateSession makes a new idle session, optionally seeded with context
// document ids, and makes it current.
func (r *Registry) CreateSession(contextIDs ...string) *Session {
	id := uuid.New().String()
	s := newSession(id, NewContextSet(contextIDs...), r.streamer, r.baseLogger, r.updates, r.wantSources)

	r.mu.Lock()
	r.wireLocked(s)
	r.sessions[id] = s
	r.current = id
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", id)
	r.flush(s)
	return s
}

// wireLocked installs the registry hooks on a session. Caller holds r.mu.
func (r *Registry) wireLocked(s *Session) {
	s.onAdopt = func(oldID, newID string) { r.adopt(oldID, newID) }
	s.onDirty = func() { r.flush(s) }
	s.context.setOnChange(func() { r.flush(s) })
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Current returns the current session, or nil if none is selected.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[r.current]
}

// SetCurrent switches the current session.
func (r *Registry) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	r.current = id
	return nil
}

// DeleteSession removes a session, cancelling any in-flight exchange
// first so no late event touches a deleted session. Deleting an unknown
// id is a no-op.
func (r *Registry) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		if r.current == id {
			r.current = ""
		}
	}
	r.mu.Unlock()

	if ok {
		s.Cancel()
		r.logger.Info("session deleted", "session_id", id)
	}

	if r.store != nil {
		if err := r.store.DeleteSummary(ctx, id); err != nil {
			return fmt.Errorf("deleting session summary: %w", err)
		}
	}
	return nil
}

// List returns snapshots of every session, most recently updated first.
func (r *Registry) List() []SessionSnapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	snaps := make([]SessionSnapshot, len(sessions))
	for i, s := range sessions {
		snaps[i] = s.Snapshot()
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].UpdatedAt.After(snaps[j].UpdatedAt)
	})
	return snaps
}

// Reset cancels every exchange and drops all sessions, in memory and in
// the store.
func (r *Registry) Reset(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		ids = append(ids, id)
	}
	r.sessions = make(map[string]*Session)
	r.current = ""
	r.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}

	if r.store != nil {
		for _, id := range ids {
			if err := r.store.DeleteSummary(ctx, id); err != nil {
				return fmt.Errorf("deleting session summary: %w", err)
			}
		}
	}

	r.logger.Info("registry reset", "deleted", len(ids))
	return nil
}

// adopt rekeys a session after the server assigned its permanent id.
func (r *Registry) adopt(oldID, newID string) {
	r.mu.Lock()
	s, ok := r.sessions[oldID]
	if ok {
		if _, taken := r.sessions[newID]; taken {
			// Another session already holds the server id; the first
			// one keeps it and the latecomer stays under its own key.
			r.mu.Unlock()
			r.logger.Warn("server session id already registered", "old_id", oldID, "new_id", newID)
			return
		}
		delete(r.sessions, oldID)
		r.sessions[newID] = s
		if r.current == oldID {
			r.current = newID
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if r.updates != nil {
		r.updates.Rekey(oldID, newID)
	}
	if r.store != nil {
		if err := r.store.DeleteSummary(context.Background(), oldID); err != nil {
			r.logger.Warn("failed to drop provisional summary", "session_id", oldID, "error", err)
		}
	}
	r.logger.Debug("session id adopted", "old_id", oldID, "new_id", newID)
}

// flush persists one session's summary.
func (r *Registry) flush(s *Session) {
	if r.store == nil {
		return
	}
	snap := s.Snapshot()
	sum := store.Summary{
		SessionID:          snap.ID,
		Title:              snap.Title,
		ContextDocumentIDs: snap.Context,
		CreatedAt:          snap.CreatedAt,
		UpdatedAt:          snap.UpdatedAt,
	}
	if err := r.store.SaveSummary(context.Background(), sum); err != nil {
		r.logger.Warn("failed to persist session summary", "session_id", snap.ID, "error", err)
	}
}
