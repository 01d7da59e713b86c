// ABOUTME: ContextSet holds the paper ids a session treats as retrieval scope
// ABOUTME: Mutations are idempotent and snapshots are atomic copies

package conversation

import (
	"sort"
	"sync"
)

// ContextSet is the mutable collection of document ids attached to a
// session. Duplicates are impossible and insertion order is irrelevant.
// All operations are non-blocking; Snapshot never observes a torn copy.
type ContextSet struct {
	mu  sync.Mutex
	ids map[string]struct{}

	// onChange, when set, fires after every mutating call that changed
	// the set. The registry uses it to flush summaries.
	onChange func()
}

// NewContextSet creates a ContextSet seeded with the given ids.
func NewContextSet(ids ...string) *ContextSet {
	s := &ContextSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

// Add inserts a document id and reports whether the set changed.
// Adding an id already present is a no-op.
func (s *ContextSet) Add(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	_, exists := s.ids[id]
	if !exists {
		s.ids[id] = struct{}{}
	}
	notify := s.onChange
	s.mu.Unlock()

	if !exists && notify != nil {
		notify()
	}
	return !exists
}

// Remove deletes a document id and reports whether the set changed.
// Removing an absent id is a no-op.
func (s *ContextSet) Remove(id string) bool {
	s.mu.Lock()
	_, exists := s.ids[id]
	if exists {
		delete(s.ids, id)
	}
	notify := s.onChange
	s.mu.Unlock()

	if exists && notify != nil {
		notify()
	}
	return exists
}

// Clear removes every document id and reports whether any were present.
func (s *ContextSet) Clear() bool {
	s.mu.Lock()
	changed := len(s.ids) > 0
	s.ids = make(map[string]struct{})
	notify := s.onChange
	s.mu.Unlock()

	if changed && notify != nil {
		notify()
	}
	return changed
}

// Contains reports whether the id is in the set.
func (s *ContextSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids in the set.
func (s *ContextSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Snapshot returns an immutable sorted copy for embedding into an
// outgoing message.
func (s *ContextSet) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// setOnChange installs the mutation hook. Internal to the package so
// only the registry wires it.
func (s *ContextSet) setOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}
