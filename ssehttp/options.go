package ssehttp

import (
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-sse-go/broker"
	"github.com/ggoodman/mcp-sse-go/sessions"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. It is wrapped so records carry request,
// session and rpc groups from context.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithRegistry shares an existing session registry.
func WithRegistry(r *sessions.Registry) Option {
	return func(h *Handler) { h.reg = r }
}

// WithHeartbeatInterval sets the keepalive interval for push connections.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithSessionTTL sets the maximum session age enforced by Run.
func WithSessionTTL(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.sessionTTL = d
		}
	}
}

// WithSweepInterval sets how often Run sweeps expired sessions. By default it
// is derived from the TTL.
func WithSweepInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.sweepInterval = d
		}
	}
}

// WithRetry makes every push connection start with a retry frame advising
// clients to wait ms milliseconds before reconnecting.
func WithRetry(ms int) Option {
	return func(h *Handler) {
		if ms > 0 {
			h.retryMS = ms
		}
	}
}

// WithStrictSessionHeader requires the X-MCP-Session-ID header on every
// request call. Missing ids are rejected with 400 and unknown ids with 404
// before dispatch.
func WithStrictSessionHeader() Option {
	return func(h *Handler) { h.strict = true }
}

// WithBroker fans Broadcast notifications through b instead of the default
// in-memory broker.
func WithBroker(b broker.Broker) Option {
	return func(h *Handler) { h.broker = b }
}

// WithNamespace sets the broker namespace used for broadcasts.
func WithNamespace(ns string) Option {
	return func(h *Handler) {
		if ns != "" {
			h.namespace = ns
		}
	}
}

// WithPaths sets the push and message endpoint paths.
func WithPaths(stream, message string) Option {
	return func(h *Handler) {
		if stream != "" {
			h.streamPath = stream
		}
		if message != "" {
			h.messagePath = message
		}
	}
}

// WithMaxBodyBytes limits the size of request call bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}
