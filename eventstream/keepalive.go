package eventstream

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// DefaultHeartbeatInterval is the interval between heartbeat frames.
	DefaultHeartbeatInterval = 30 * time.Second

	heartbeatEvent = "ping"
	heartbeatData  = "{}"
)

// KeepAlive emits heartbeat frames on a stream until the stream closes.
type KeepAlive struct {
	stream   *Stream
	interval time.Duration
	log      *slog.Logger
	beats    atomic.Int64
}

// KeepAliveOption configures a KeepAlive.
type KeepAliveOption func(*KeepAlive)

// WithInterval overrides the heartbeat interval. Non-positive values are ignored.
func WithInterval(d time.Duration) KeepAliveOption {
	return func(k *KeepAlive) {
		if d > 0 {
			k.interval = d
		}
	}
}

// WithLogger sets the logger used for heartbeat diagnostics.
func WithLogger(l *slog.Logger) KeepAliveOption {
	return func(k *KeepAlive) {
		if l != nil {
			k.log = l
		}
	}
}

// NewKeepAlive builds a heartbeat task for s.
func NewKeepAlive(s *Stream, opts ...KeepAliveOption) *KeepAlive {
	k := &KeepAlive{
		stream:   s,
		interval: DefaultHeartbeatInterval,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Run blocks, emitting a heartbeat every interval. It returns nil when the
// stream closes, when a heartbeat write fails (which has already closed the
// stream), or when ctx ends.
func (k *KeepAlive) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.log.DebugContext(ctx, "keepalive.stop", slog.String("reason", "context"))
			return nil
		case <-k.stream.Done():
			k.log.DebugContext(ctx, "keepalive.stop", slog.String("reason", "stream_closed"))
			return nil
		case <-ticker.C:
			if k.stream.Closed() {
				return nil
			}
			if err := k.stream.Emit(heartbeatEvent, heartbeatData); err != nil {
				k.log.InfoContext(ctx, "keepalive.write.fail", slog.String("err", err.Error()))
				return nil
			}
			k.beats.Add(1)
		}
	}
}

// Start runs the heartbeat on a new goroutine. The returned channel is closed
// once Run has returned.
func (k *KeepAlive) Start(ctx context.Context) <-chan struct{} {
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		_ = k.Run(ctx)
	}()
	return exited
}

// Beats reports how many heartbeats were written successfully.
func (k *KeepAlive) Beats() int64 { return k.beats.Load() }
