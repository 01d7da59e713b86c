// ABOUTME: Conversation session state machine owning at most one in-flight exchange
// ABOUTME: Guards sends, pumps stream events in order, finalizes or cancels exchanges

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Suchun-sv/LavenderSentinel/internal/transport"
)

// ErrEmptyMessage is returned when a send contains no visible text.
var ErrEmptyMessage = errors.New("message is empty")

// ErrExchangeActive is returned when a send is attempted while a prior
// exchange is still streaming.
var ErrExchangeActive = errors.New("an exchange is already active for this session")

// State names a session's position in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateFailed    State = "failed"
)

// ExchangeStatus names the phase of an in-flight exchange.
type ExchangeStatus string

const (
	ExchangeStreaming  ExchangeStatus = "streaming"
	ExchangeFinalizing ExchangeStatus = "finalizing"
	ExchangeFailed     ExchangeStatus = "failed"
)

// Exchange is one in-flight request/response cycle. It owns the
// accumulation buffer; only the session's pump goroutine writes it.
type Exchange struct {
	pendingMessageID string
	buf              strings.Builder
	status           ExchangeStatus
	cancel           context.CancelFunc
}

// maxTitleLen bounds the lazily derived session title.
const maxTitleLen = 60

// Session is an ordered message history plus its context set and
// lifecycle metadata. All mutation happens under mu; external readers
// use Snapshot.
type Session struct {
	mu        sync.Mutex
	id        string
	title     string
	createdAt time.Time
	updatedAt time.Time
	messages  []Message
	context   *ContextSet
	followups []string
	sources   []transport.Source
	state     State
	exchange  *Exchange
	lastErr   string

	// adopted is set once the server-assigned session id has been
	// observed; from then on sends carry the id.
	adopted bool

	wantSources bool
	streamer    transport.Streamer
	logger      *slog.Logger
	updates     *UpdateBroadcaster

	// Registry hooks. onAdopt rekeys the session map when the server
	// assigns the permanent id; onDirty flushes the session summary.
	onAdopt func(oldID, newID string)
	onDirty func()
}

// newSession creates a session owned by a registry.
func newSession(id string, ctxSet *ContextSet, streamer transport.Streamer, logger *slog.Logger, updates *UpdateBroadcaster, wantSources bool) *Session {
	now := time.Now()
	if ctxSet == nil {
		ctxSet = NewContextSet()
	}
	return &Session{
		id:          id,
		createdAt:   now,
		updatedAt:   now,
		context:     ctxSet,
		state:       StateIdle,
		wantSources: wantSources,
		streamer:    streamer,
		logger:      logger.With("component", "session", "session_id", id),
		updates:     updates,
	}
}

// ID returns the session's current id. The id changes at most once, when
// the server-assigned id is adopted.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Context returns the session's context set. The set itself is safe for
// concurrent use.
func (s *Session) Context() *ContextSet {
	return s.context
}

// Send validates the text, records the user message with a context
// snapshot, and opens one streaming exchange. It rejects empty input and
// concurrent sends synchronously, before any network call.
func (s *Session) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.exchange != nil {
		s.mu.Unlock()
		return ErrExchangeActive
	}

	snapshot := s.context.Snapshot()
	s.messages = append(s.messages, newUserMessage(text, snapshot))
	if s.title == "" {
		s.title = deriveTitle(text)
	}
	s.followups = nil
	s.sources = nil
	s.lastErr = ""
	s.updatedAt = time.Now()

	exCtx, cancel := context.WithCancel(ctx)
	ex := &Exchange{
		pendingMessageID: uuid.New().String(),
		status:           ExchangeStreaming,
		cancel:           cancel,
	}
	s.exchange = ex
	s.state = StateSending

	req := &transport.SendRequest{
		Message:            text,
		ContextDocumentIDs: snapshot,
		WantSources:        s.wantSources,
	}
	if s.adopted {
		req.SessionID = s.id
	}
	s.mu.Unlock()

	s.publish()

	events, err := s.streamer.Stream(exCtx, req)
	if err != nil {
		cancel()
		s.logger.Warn("exchange failed to open", "error", err)
		s.failExchange(ex, err.Error())
		return fmt.Errorf("opening exchange: %w", err)
	}

	go s.pump(ex, events)
	return nil
}

// Cancel terminates the in-flight exchange, finalizing the pending
// message with whatever text had accumulated. Reports whether an
// exchange was cancelled. No event mutates the session after Cancel
// returns.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	ex := s.exchange
	if ex == nil {
		s.mu.Unlock()
		return false
	}

	ex.cancel()
	ex.status = ExchangeFinalizing
	// The pending message already holds the accumulated text; leaving it
	// in the history finalizes it.
	s.state = StateIdle
	s.updatedAt = time.Now()
	s.exchange = nil
	s.mu.Unlock()

	s.logger.Debug("exchange cancelled")
	s.publish()
	s.markDirty()
	return true
}

// pump applies transport events in arrival order. It is the single
// writer of exchange state.
func (s *Session) pump(ex *Exchange, events <-chan transport.Event) {
	asm := newAssembler(s, ex)
	for ev := range events {
		asm.OnEvent(ev)
	}
	s.streamEnded(ex)
}

// streamEnded handles the event channel closing without a terminal
// event, which happens when the transport acknowledged a cancellation.
// The pending message keeps its accumulated text.
func (s *Session) streamEnded(ex *Exchange) {
	s.mu.Lock()
	if s.exchange != ex {
		s.mu.Unlock()
		return
	}
	ex.cancel()
	ex.status = ExchangeFinalizing
	s.state = StateIdle
	s.updatedAt = time.Now()
	s.exchange = nil
	s.mu.Unlock()

	s.logger.Debug("stream ended without terminal event")
	s.publish()
	s.markDirty()
}

// applyChunk appends one increment of assistant text. The first chunk
// makes the pending assistant message visible.
func (s *Session) applyChunk(ex *Exchange, text string) {
	s.mu.Lock()
	if s.exchange != ex || ex.status != ExchangeStreaming {
		// The exchange was torn down; orphaned events must not mutate.
		s.mu.Unlock()
		return
	}

	if s.state == StateSending {
		s.state = StateStreaming
		s.messages = append(s.messages, Message{
			ID:        ex.pendingMessageID,
			Role:      RoleAssistant,
			CreatedAt: time.Now(),
		})
	}

	ex.buf.WriteString(text)
	last := &s.messages[len(s.messages)-1]
	last.Content = ex.buf.String()
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.publish()
}

// applyCompleted finalizes the pending message and stores the exchange's
// final sources and followups on the session.
func (s *Session) applyCompleted(ex *Exchange, ev transport.Event) {
	s.mu.Lock()
	if s.exchange != ex {
		s.mu.Unlock()
		return
	}
	ex.status = ExchangeFinalizing

	if s.state == StateSending {
		// Completion without chunks (for example a non-streaming backend
		// that answered with empty content). Keep the transcript paired.
		s.messages = append(s.messages, Message{
			ID:        ex.pendingMessageID,
			Role:      RoleAssistant,
			Content:   ex.buf.String(),
			CreatedAt: time.Now(),
		})
	}

	last := &s.messages[len(s.messages)-1]
	last.PaperIDs = derivePaperIDs(ev.Sources)
	last.Citations = deriveCitations(ev.Sources)

	s.sources = append([]transport.Source(nil), ev.Sources...)
	s.followups = append([]string(nil), ev.Followups...)

	var oldID string
	adopt := ev.SessionID != "" && !s.adopted
	if adopt {
		oldID = s.id
		s.id = ev.SessionID
		s.adopted = true
		s.logger = s.logger.With("adopted_session_id", ev.SessionID)
	}

	ex.cancel()
	s.state = StateIdle
	s.updatedAt = time.Now()
	s.exchange = nil
	adoptFn := s.onAdopt
	s.mu.Unlock()

	if adopt && adoptFn != nil {
		adoptFn(oldID, ev.SessionID)
	}
	s.publish()
	s.markDirty()
}

// applyFailed surfaces the failure, retains any partial text, and
// returns the session to Idle so a new send is always possible.
func (s *Session) applyFailed(ex *Exchange, reason string) {
	s.failExchange(ex, reason)
}

func (s *Session) failExchange(ex *Exchange, reason string) {
	s.mu.Lock()
	if s.exchange != ex {
		s.mu.Unlock()
		return
	}
	ex.status = ExchangeFailed
	ex.cancel()

	// Partial output stays in the transcript; a truncated answer is
	// still useful.
	s.lastErr = reason
	s.followups = nil
	s.state = StateFailed
	s.updatedAt = time.Now()
	s.exchange = nil
	s.mu.Unlock()

	s.logger.Warn("exchange failed", "reason", reason)
	s.publish()

	// A new Send may have won the lock while the Failed snapshot was
	// published; only reset to Idle if no exchange took over.
	s.mu.Lock()
	if s.exchange == nil && s.state == StateFailed {
		s.state = StateIdle
	}
	s.mu.Unlock()
	s.markDirty()
}

// SessionSnapshot is an immutable copy of session state for readers.
type SessionSnapshot struct {
	ID        string
	Title     string
	State     State
	Messages  []Message
	Context   []string
	Followups []string
	Sources   []transport.Source
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot returns a deep copy of the session's visible state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]Message, len(s.messages))
	for i, m := range s.messages {
		messages[i] = m.clone()
	}

	return SessionSnapshot{
		ID:        s.id,
		Title:     s.title,
		State:     s.state,
		Messages:  messages,
		Context:   s.context.Snapshot(),
		Followups: append([]string(nil), s.followups...),
		Sources:   append([]transport.Source(nil), s.sources...),
		LastError: s.lastErr,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

func (s *Session) publish() {
	if s.updates == nil {
		return
	}
	snap := s.Snapshot()
	s.updates.Publish(snap.ID, snap)
}

func (s *Session) markDirty() {
	s.mu.Lock()
	dirty := s.onDirty
	s.mu.Unlock()
	if dirty != nil {
		dirty()
	}
}

// deriveTitle takes the first line of the first user message, truncated.
func deriveTitle(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	runes := []rune(line)
	if len(runes) <= maxTitleLen {
		return line
	}
	return string(runes[:maxTitleLen-3]) + "..."
}
