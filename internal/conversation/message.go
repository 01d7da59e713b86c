// ABOUTME: Message and role types for conversation transcripts
// ABOUTME: Messages snapshot the context set at send time and carry citations

package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/Suchun-sv/LavenderSentinel/internal/transport"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a session transcript.
//
// A user message's content is immutable after creation. An assistant
// message's content grows append-only while its exchange streams and is
// immutable after finalization.
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time

	// ContextSnapshot is the context set captured at send time. Later
	// context edits never alter it.
	ContextSnapshot []string

	// PaperIDs and Citations are derived from the sources reported with
	// the completed exchange.
	PaperIDs  []string
	Citations []string
}

// newUserMessage creates an immutable user message.
func newUserMessage(content string, contextSnapshot []string) Message {
	return Message{
		ID:              uuid.New().String(),
		Role:            RoleUser,
		Content:         content,
		CreatedAt:       time.Now(),
		ContextSnapshot: contextSnapshot,
	}
}

// clone returns a deep copy safe to hand to other goroutines.
func (m Message) clone() Message {
	c := m
	c.ContextSnapshot = append([]string(nil), m.ContextSnapshot...)
	c.PaperIDs = append([]string(nil), m.PaperIDs...)
	c.Citations = append([]string(nil), m.Citations...)
	return c
}

// derivePaperIDs extracts the unique paper ids from sources, first
// occurrence order preserved.
func derivePaperIDs(sources []transport.Source) []string {
	if len(sources) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(sources))
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.PaperID == "" || seen[src.PaperID] {
			continue
		}
		seen[src.PaperID] = true
		ids = append(ids, src.PaperID)
	}
	return ids
}

// deriveCitations extracts the excerpt of every source, in order.
func deriveCitations(sources []transport.Source) []string {
	if len(sources) == 0 {
		return nil
	}
	citations := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.Excerpt != "" {
			citations = append(citations, src.Excerpt)
		}
	}
	return citations
}
