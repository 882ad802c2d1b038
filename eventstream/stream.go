package eventstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrStreamClosed is returned by every emit once the stream has closed,
	// including the emit whose write failure caused the closure.
	ErrStreamClosed = errors.New("event stream closed")
	// ErrNoSink is returned when emitting before a sink has been attached.
	ErrNoSink = errors.New("event stream has no sink attached")
	// ErrSinkAttached is returned by Attach when a sink is already bound.
	ErrSinkAttached = errors.New("event stream sink already attached")
)

// Stream is a single-writer event-stream emitter bound to one sink.
type Stream struct {
	// mu guards the sink and is held only for the duration of a frame write.
	mu       sync.Mutex
	w        io.Writer
	released int

	closed atomic.Bool
	done   chan struct{}

	hookMu sync.Mutex
	hooks  []func()
}

// New returns an open stream without a sink. Attach must be called before
// anything can be emitted.
func New() *Stream {
	return &Stream{done: make(chan struct{})}
}

// NewWithSink returns an open stream bound to w.
func NewWithSink(w io.Writer) *Stream {
	s := New()
	s.w = w
	return s
}

// Attach binds the sink. If w implements Flush() or Flush() error it is
// flushed after every frame; if it implements io.Closer it is closed when the
// stream completes.
func (s *Stream) Attach(w io.Writer) error {
	if w == nil {
		return fmt.Errorf("attach: nil writer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if s.w != nil {
		return ErrSinkAttached
	}
	s.w = w
	return nil
}

// Emit writes a named event. Each newline-delimited segment of data becomes
// its own data line. An empty event name omits the event line.
func (s *Stream) Emit(event, data string) error {
	frame, err := formatEvent(event, data)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// EmitJSON marshals v and emits it as the data of the named event.
func (s *Stream) EmitJSON(event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return s.Emit(event, string(b))
}

// EmitError emits an "error" event carrying msg.
func (s *Stream) EmitError(msg string) error {
	return s.Emit("error", msg)
}

// EmitRetry writes a retry control frame advising the client how long to
// wait before reconnecting.
func (s *Stream) EmitRetry(ms int) error {
	if ms < 0 {
		return fmt.Errorf("retry interval must be non-negative, got %d", ms)
	}
	return s.write([]byte("retry: " + strconv.Itoa(ms) + "\n\n"))
}

// EmitComment writes a comment frame. Clients ignore comments; they are
// useful for padding or diagnostics.
func (s *Stream) EmitComment(text string) error {
	var b bytes.Buffer
	for _, line := range splitLines(text) {
		b.WriteString(": ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return s.write(b.Bytes())
}

func (s *Stream) write(frame []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if s.w == nil {
		s.mu.Unlock()
		return ErrNoSink
	}
	_, err := s.w.Write(frame)
	if err == nil {
		err = flush(s.w)
	}
	s.mu.Unlock()

	if err != nil {
		s.Complete()
		return fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return nil
}

// Complete closes the stream. The first call wins: it releases the sink, then
// wakes waiters and runs OnClose hooks. Later calls block until the sink has
// been released, so no caller returns while a frame is still being written.
func (s *Stream) Complete() {
	if !s.closed.CompareAndSwap(false, true) {
		<-s.done
		return
	}
	s.release()
	close(s.done)
	s.runHooks()
}

// release drops the sink, closing it if it is an io.Closer. Taking mu waits
// out any frame currently being written so nothing touches the sink after
// release returns.
func (s *Stream) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return
	}
	if c, ok := s.w.(io.Closer); ok {
		_ = c.Close()
	}
	s.w = nil
	s.released++
}

// Released reports how many times a sink has been released. It is at most 1.
func (s *Stream) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// OnClose registers fn to run once after the stream closes. If the stream is
// already closed fn runs immediately on the calling goroutine.
func (s *Stream) OnClose(fn func()) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	if s.closed.Load() && s.hooks == nil {
		s.hookMu.Unlock()
		fn()
		return
	}
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

func (s *Stream) runHooks() {
	s.hookMu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Done returns a channel that is closed once the stream has completed and its
// sink has been released.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Closed reports whether the stream has completed.
func (s *Stream) Closed() bool { return s.closed.Load() }

// Wait blocks until the stream completes or ctx ends. It returns nil when the
// stream completed and ctx.Err() otherwise.
func (s *Stream) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func flush(w io.Writer) error {
	switch f := w.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Flush() }:
		f.Flush()
	}
	return nil
}

func formatEvent(event, data string) ([]byte, error) {
	if strings.ContainsAny(event, "\r\n") {
		return nil, fmt.Errorf("invalid event name %q", event)
	}
	var b bytes.Buffer
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range splitLines(data) {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// splitLines splits on any SSE line terminator and drops trailing empty
// segments, always returning at least one line.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
