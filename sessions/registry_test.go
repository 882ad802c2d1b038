package sessions_test

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-go/sessions"
	"pgregory.net/rapid"
)

type closeCounter struct {
	closes atomic.Int32
	fail   bool
}

func (c *closeCounter) Write(p []byte) (int, error) {
	if c.fail {
		return 0, errors.New("connection reset")
	}
	return len(p), nil
}

func (c *closeCounter) Close() error {
	c.closes.Add(1)
	return nil
}

func TestCreateGetRemove(t *testing.T) {
	reg := sessions.NewRegistry()
	s := reg.Create()
	if s.ID() == "" {
		t.Fatalf("expected non-empty session id")
	}
	got, ok := reg.Get(s.ID())
	if !ok || got != s {
		t.Fatalf("expected Get to return the created session")
	}
	if s.Closed() || s.Stream().Closed() {
		t.Fatalf("new session must be open")
	}

	reg.Remove(s.ID())
	if _, ok := reg.Get(s.ID()); ok {
		t.Fatalf("expected session to be gone after Remove")
	}
	if !s.Closed() || !s.Stream().Closed() {
		t.Fatalf("expected session and stream to be closed after Remove")
	}
	if _, err := reg.Lookup(s.ID()); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg := sessions.NewRegistry()
	s := reg.Create()
	sink := &closeCounter{}
	if err := s.Stream().Attach(sink); err != nil {
		t.Fatalf("attach: %v", err)
	}

	reg.Remove(s.ID())
	reg.Remove(s.ID())
	reg.Remove("never-existed")

	if want, got := int32(1), sink.closes.Load(); want != got {
		t.Fatalf("sink released %d times, want %d", got, want)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
}

func TestCreateRegeneratesOnCollision(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	var n int
	reg := sessions.NewRegistry(sessions.WithIDGenerator(func() string {
		id := ids[n%len(ids)]
		n++
		return id
	}))
	a := reg.Create()
	b := reg.Create()
	if a.ID() != "dup" || b.ID() != "fresh" {
		t.Fatalf("unexpected ids %q %q", a.ID(), b.ID())
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg := sessions.NewRegistry()
		n := rapid.IntRange(1, 200).Draw(rt, "sessions")
		seen := make(map[string]bool, n)
		for i := 0; i < n; i++ {
			id := reg.Create().ID()
			if seen[id] {
				rt.Fatalf("duplicate session id %q", id)
			}
			seen[id] = true
		}
		if reg.Len() != n {
			rt.Fatalf("expected %d live sessions, got %d", n, reg.Len())
		}
		reg.CloseAll()
	})
}

func TestWriteFailureRacesWithRemoval(t *testing.T) {
	for i := 0; i < 50; i++ {
		reg := sessions.NewRegistry()
		s := reg.Create()
		sink := &closeCounter{fail: true}
		if err := s.Stream().Attach(sink); err != nil {
			t.Fatalf("attach: %v", err)
		}
		var hooks atomic.Int32
		s.Stream().OnClose(func() { hooks.Add(1) })

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); _ = s.Stream().Emit("message", "a") }()
		go func() { defer wg.Done(); _ = s.Stream().Emit("message", "b") }()
		go func() { defer wg.Done(); reg.Remove(s.ID()) }()
		wg.Wait()

		if _, ok := reg.Get(s.ID()); ok {
			t.Fatalf("iteration %d: session still registered", i)
		}
		if want, got := int32(1), sink.closes.Load(); want != got {
			t.Fatalf("iteration %d: sink released %d times", i, got)
		}
		if want, got := int32(1), hooks.Load(); want != got {
			t.Fatalf("iteration %d: close hooks ran %d times", i, got)
		}
	}
}

func TestWriteFailureRemovesSession(t *testing.T) {
	reg := sessions.NewRegistry()
	s := reg.Create()
	sink := &closeCounter{fail: true}
	if err := s.Stream().Attach(sink); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := s.Stream().Emit("message", "x"); err == nil {
		t.Fatalf("expected emit to fail")
	}
	if _, ok := reg.Get(s.ID()); ok {
		t.Fatalf("expected session removed after write failure")
	}
	if !s.Closed() {
		t.Fatalf("expected session marked closed")
	}
	if want, got := int32(1), sink.closes.Load(); want != got {
		t.Fatalf("sink released %d times, want %d", got, want)
	}
}

func TestConcurrentTeardownReleasesOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		now := time.Now()
		reg := sessions.NewRegistry(sessions.WithClock(func() time.Time { return now.Add(-time.Hour) }))
		s := reg.Create()
		// Every write fails, so the Emit leg tears down through the stream's
		// OnClose hook rather than through the registry.
		sink := &closeCounter{fail: true}
		if err := s.Stream().Attach(sink); err != nil {
			t.Fatalf("attach: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(4)
		go func() { defer wg.Done(); reg.Remove(s.ID()) }()
		go func() { defer wg.Done(); reg.SweepExpired(now, time.Minute) }()
		go func() { defer wg.Done(); _ = s.Stream().Emit("message", "x") }()
		go func() { defer wg.Done(); reg.CloseAll() }()
		wg.Wait()

		if !s.Closed() {
			t.Fatalf("iteration %d: session not marked closed", i)
		}

		if want, got := int32(1), sink.closes.Load(); want != got {
			t.Fatalf("iteration %d: sink released %d times", i, got)
		}
		if reg.Len() != 0 {
			t.Fatalf("iteration %d: registry not empty", i)
		}
	}
}

func TestSweepExpiredIsAgeBased(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	reg := sessions.NewRegistry(sessions.WithClock(func() time.Time { return clock }))

	old := reg.Create()
	clock = base.Add(20 * time.Minute)
	young := reg.Create()

	// Activity does not extend a session's life.
	if err := old.Stream().Attach(&closeCounter{}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := old.Stream().Emit("message", "still here"); err != nil {
		t.Fatalf("emit: %v", err)
	}

	removed := reg.SweepExpired(base.Add(31*time.Minute), 30*time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 expired session, got %d", removed)
	}
	if _, ok := reg.Get(old.ID()); ok {
		t.Fatalf("expected old session to be swept")
	}
	if !old.Stream().Closed() {
		t.Fatalf("expected swept session's stream to be closed")
	}
	if _, ok := reg.Get(young.ID()); !ok {
		t.Fatalf("expected young session to survive")
	}
}

func TestSweepTerminatesRetainedSession(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	reg := sessions.NewRegistry(sessions.WithClock(func() time.Time { return clock }))

	s := reg.Create()
	retained := s.Stream()

	if n := reg.SweepExpired(base.Add(time.Hour), 30*time.Minute); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	select {
	case <-retained.Done():
	default:
		t.Fatalf("retained stream was not terminated")
	}
	if _, ok := reg.Get(s.ID()); ok {
		t.Fatalf("expected lookup to miss after sweep")
	}
}

func TestCloseAll(t *testing.T) {
	reg := sessions.NewRegistry()
	var all []*sessions.Session
	for i := 0; i < 5; i++ {
		all = append(all, reg.Create())
	}
	reg.CloseAll()
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry after CloseAll")
	}
	for _, s := range all {
		if !s.Stream().Closed() {
			t.Fatalf("session %s stream still open", s.ID())
		}
	}
	// Creating after CloseAll still works.
	if s := reg.Create(); s.Closed() {
		t.Fatalf("expected new session to be open")
	}
}

func TestIDsAndRange(t *testing.T) {
	var n int
	reg := sessions.NewRegistry(sessions.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}))
	for i := 0; i < 3; i++ {
		reg.Create()
	}
	ids := reg.IDs()
	if len(ids) != 3 || ids[0] != "s1" || ids[2] != "s3" {
		t.Fatalf("unexpected ids %v", ids)
	}

	// Range must tolerate re-entrant removal.
	var visited int
	reg.Range(func(s *sessions.Session) bool {
		visited++
		reg.Remove(s.ID())
		return true
	})
	if visited != 3 || reg.Len() != 0 {
		t.Fatalf("visited %d, left %d", visited, reg.Len())
	}
}
