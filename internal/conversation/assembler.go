// ABOUTME: Folds the transport event stream into the session's pending message
// ABOUTME: One assembler per exchange; events apply strictly in arrival order

package conversation

import "github.com/Suchun-sv/LavenderSentinel/internal/transport"

// Assembler applies one exchange's events to its session. It carries the
// exchange pointer so events arriving after the exchange was torn down
// are recognized and dropped rather than mutating a later exchange.
type Assembler struct {
	session  *Session
	exchange *Exchange
	done     bool
}

func newAssembler(s *Session, ex *Exchange) *Assembler {
	return &Assembler{session: s, exchange: ex}
}

// OnEvent folds a single event. Events after a terminal event are
// ignored; a well-behaved transport never produces them, but a slow
// channel drain must not corrupt the transcript.
func (a *Assembler) OnEvent(ev transport.Event) {
	if a.done {
		return
	}

	switch ev.Kind {
	case transport.EventChunk:
		a.session.applyChunk(a.exchange, ev.Text)
	case transport.EventCompleted:
		a.done = true
		a.session.applyCompleted(a.exchange, ev)
	case transport.EventFailed:
		a.done = true
		a.session.applyFailed(a.exchange, ev.Reason)
	}
}
