package sessions

import (
	"context"
	"log/slog"
	"time"
)

const (
	minSweepInterval = time.Second
	maxSweepInterval = time.Minute
)

// Sweeper periodically removes sessions older than its TTL.
type Sweeper struct {
	reg      *Registry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithTTL sets the maximum session age. Non-positive values are ignored.
func WithTTL(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithSweepInterval sets how often the registry is scanned. When unset the
// interval is a sixth of the TTL, clamped to [1s, 1m].
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweeperClock overrides the time source used to judge expiry.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweeperLogger sets the logger for sweep results.
func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSweeper builds a sweeper for reg.
func NewSweeper(reg *Registry, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		reg: reg,
		ttl: DefaultTTL,
		now: time.Now,
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = min(max(s.ttl/6, minSweepInterval), maxSweepInterval)
	}
	return s
}

// Interval reports the effective sweep interval.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// SweepOnce runs a single sweep and returns the number of sessions removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n := s.reg.SweepExpired(s.now(), s.ttl)
	if n > 0 {
		s.log.InfoContext(ctx, "session.sweep", slog.Int("expired", n), slog.Int("live", s.reg.Len()))
	}
	return n
}

// Run sweeps every interval until ctx ends. It always returns ctx.Err().
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}
