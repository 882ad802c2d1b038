package sessions

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ggoodman/mcp-sse-go/eventstream"
	"github.com/google/uuid"
)

// DefaultTTL is the maximum age of a session before the sweeper reclaims it.
const DefaultTTL = 30 * time.Minute

var (
	// ErrSessionNotFound is returned when a session id does not resolve.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotReady is returned when writing to a session whose push
	// connection has not finished opening.
	ErrSessionNotReady = errors.New("session not ready")
)

// Registry is a concurrency-safe store of live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	newID func() string
	now   func() time.Time
	log   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIDGenerator overrides session id generation. The default is a random
// UUID.
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithClock overrides the time source used to stamp new sessions.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
		now:      time.Now,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new session with an open, sink-less stream. If the
// stream later closes on its own (write failure, heartbeat failure) the
// session is removed from the registry.
func (r *Registry) Create() *Session {
	s := &Session{
		createdAt: r.now(),
		stream:    eventstream.New(),
	}

	r.mu.Lock()
	id := r.newID()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = r.newID()
	}
	s.id = id
	r.sessions[id] = s
	r.mu.Unlock()

	s.stream.OnClose(func() { r.remove(s, "stream_closed") })

	r.log.Info("session.create", slog.String("session_id", id))
	return s
}

// Get resolves a session id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Lookup resolves a session id, returning ErrSessionNotFound on a miss.
func (r *Registry) Lookup(id string) (*Session, error) {
	if s, ok := r.Get(id); ok {
		return s, nil
	}
	return nil, ErrSessionNotFound
}

// Remove deletes the session and completes its stream. Removing an unknown or
// already removed id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		r.teardown(s, "remove")
	}
}

// remove deletes s only if it is still the entry registered under its id.
func (r *Registry) remove(s *Session, reason string) {
	r.mu.Lock()
	cur, ok := r.sessions[s.id]
	if ok && cur == s {
		delete(r.sessions, s.id)
	}
	r.mu.Unlock()
	if ok && cur == s {
		r.teardown(s, reason)
	}
}

// teardown runs for exactly one caller per session: the one that deleted the
// map entry.
func (r *Registry) teardown(s *Session, reason string) {
	s.closed.Store(true)
	s.stream.Complete()
	r.log.Info("session.remove", slog.String("session_id", s.id), slog.String("reason", reason))
}

// SweepExpired removes every session whose age exceeds ttl and returns the
// number removed.
func (r *Registry) SweepExpired(now time.Time, ttl time.Duration) int {
	var expired []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.expired(now, ttl) {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.teardown(s, "expired")
	}
	return len(expired)
}

// CloseAll completes every stream and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		r.teardown(s, "shutdown")
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the ids of live sessions in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Range calls fn for a snapshot of live sessions. fn runs without the
// registry lock held, so it may call back into the registry.
func (r *Registry) Range(fn func(*Session) bool) {
	r.mu.RLock()
	snap := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snap = append(snap, s)
	}
	r.mu.RUnlock()
	for _, s := range snap {
		if !fn(s) {
			return
		}
	}
}
