package sessions_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-go/sessions"
)

func TestSweeperIntervalDefaults(t *testing.T) {
	reg := sessions.NewRegistry()
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{name: "default ttl clamps to a minute", ttl: 0, want: time.Minute},
		{name: "short ttl clamps to a second", ttl: 3 * time.Second, want: time.Second},
		{name: "mid ttl uses a sixth", ttl: 3 * time.Minute, want: 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := sessions.NewSweeper(reg, sessions.WithTTL(tt.ttl))
			if got := sw.Interval(); got != tt.want {
				t.Fatalf("interval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSweeperRunExpiresSessions(t *testing.T) {
	var now atomic.Int64
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()).UTC() }

	reg := sessions.NewRegistry(sessions.WithClock(clock))
	s := reg.Create()

	sw := sessions.NewSweeper(reg,
		sessions.WithTTL(time.Minute),
		sessions.WithSweepInterval(5*time.Millisecond),
		sessions.WithSweeperClock(clock),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	now.Store(start.Add(2 * time.Minute).UnixNano())

	select {
	case <-s.Stream().Done():
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not expire session")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected registry empty")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestSweepOnceLeavesYoungSessions(t *testing.T) {
	reg := sessions.NewRegistry()
	reg.Create()
	sw := sessions.NewSweeper(reg, sessions.WithTTL(time.Hour))
	if n := sw.SweepOnce(context.Background()); n != 0 {
		t.Fatalf("expected nothing swept, got %d", n)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected session to survive")
	}
}
