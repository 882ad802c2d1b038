// Package broker fans server-initiated notifications out to every process
// holding live sessions.
//
// A publisher hands an encoded JSON-RPC notification to Publish; every
// subscriber of the same namespace receives it, in publish order, through its
// MessageHandler. Subscriptions start at the next published message; there is
// no replay of messages published before Subscribe was called.
package broker

import (
	"context"
	"errors"

	"github.com/ggoodman/mcp-sse-go/internal/jsonrpc"
)

// ErrClosed is returned by Publish and Subscribe once the broker, or the
// namespace, has been shut down.
var ErrClosed = errors.New("broker closed")

// Broker delivers messages to every subscriber of a namespace.
type Broker interface {
	// Publish stores message in namespace and returns its event id. Event ids
	// increase monotonically within a namespace.
	Publish(ctx context.Context, namespace string, message jsonrpc.Message) (eventID string, err error)

	// Subscribe calls handler for every message published to namespace after
	// the call. It blocks until ctx ends (returning ctx.Err()), handler
	// returns an error (returning that error) or the namespace is cleaned up
	// (returning nil).
	Subscribe(ctx context.Context, namespace string, handler MessageHandler) error

	// Cleanup removes the namespace and ends its subscriptions.
	Cleanup(ctx context.Context, namespace string) error
}

// MessageHandler consumes one delivered message.
type MessageHandler func(ctx context.Context, envelope MessageEnvelope) error

// MessageEnvelope wraps a message with its event id.
type MessageEnvelope struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}
