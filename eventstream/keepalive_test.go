package eventstream_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-go/eventstream"
)

func TestKeepAliveEmitsPings(t *testing.T) {
	sink := &syncBuffer{}
	s := eventstream.NewWithSink(sink)
	k := eventstream.NewKeepAlive(s, eventstream.WithInterval(5*time.Millisecond))

	exited := k.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for k.Beats() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 heartbeats, got %d", k.Beats())
		case <-time.After(time.Millisecond):
		}
	}

	s.Complete()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatalf("keepalive did not exit after stream close")
	}

	out := sink.String()
	if !strings.HasPrefix(out, "event: ping\ndata: {}\n\n") {
		t.Fatalf("unexpected heartbeat frame: %q", out)
	}
}

func TestKeepAliveStopsOnWriteFailure(t *testing.T) {
	w := &failingWriter{}
	s := eventstream.NewWithSink(w)
	k := eventstream.NewKeepAlive(s, eventstream.WithInterval(time.Millisecond))

	exited := k.Start(context.Background())
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatalf("keepalive did not exit after write failure")
	}
	if !s.Closed() {
		t.Fatalf("failed heartbeat should close the stream")
	}
	if want, got := int32(1), w.calls.Load(); want != got {
		t.Fatalf("heartbeat retried: %d writes", got)
	}
	if k.Beats() != 0 {
		t.Fatalf("no heartbeat should count as delivered")
	}
}

func TestKeepAliveStopsOnContext(t *testing.T) {
	s := eventstream.NewWithSink(&syncBuffer{})
	ctx, cancel := context.WithCancel(context.Background())
	k := eventstream.NewKeepAlive(s, eventstream.WithInterval(time.Hour))
	exited := k.Start(ctx)
	cancel()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatalf("keepalive did not exit on cancel")
	}
	if s.Closed() {
		t.Fatalf("cancelling the heartbeat must not close the stream")
	}
}

func TestKeepAliveDefaultInterval(t *testing.T) {
	if eventstream.DefaultHeartbeatInterval != 30*time.Second {
		t.Fatalf("unexpected default heartbeat interval %v", eventstream.DefaultHeartbeatInterval)
	}
}
