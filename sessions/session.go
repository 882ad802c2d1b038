package sessions

import (
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-sse-go/eventstream"
)

// Session is a registry-owned record binding a session id to its stream.
type Session struct {
	id        string
	createdAt time.Time
	stream    *eventstream.Stream
	closed    atomic.Bool
	ready     atomic.Bool
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Stream returns the session's event stream. Only the stream may write to the
// underlying sink.
func (s *Session) Stream() *eventstream.Stream { return s.stream }

// Closed reports whether the session has been torn down. Closed sessions
// never reopen.
func (s *Session) Closed() bool { return s.closed.Load() }

// MarkReady records that the push connection is attached and the session id
// has been announced to the client. Broadcasts only reach ready sessions.
func (s *Session) MarkReady() { s.ready.Store(true) }

// Ready reports whether MarkReady has been called and the session is still
// open.
func (s *Session) Ready() bool { return s.ready.Load() && !s.closed.Load() }

// Age returns how long the session has existed as of now.
func (s *Session) Age(now time.Time) time.Duration { return now.Sub(s.createdAt) }

func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	return s.Age(now) > ttl
}
