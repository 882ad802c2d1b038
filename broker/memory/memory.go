// Package memory provides an in-process implementation of broker.Broker
// built on channels. It is the default fan-out for single-node deployments
// and the reference implementation for tests.
package memory

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-sse-go/broker"
	"github.com/ggoodman/mcp-sse-go/internal/jsonrpc"
)

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 256

// Broker implements broker.Broker with in-memory state. Messages are not
// retained once delivered to the subscribers present at publish time.
type Broker struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	closed     bool

	buffer       int
	eventCounter atomic.Int64
	dropped      atomic.Int64
}

type namespace struct {
	subscribers map[*subscription]struct{}
}

type subscription struct {
	ch   chan broker.MessageEnvelope
	done chan struct{}
	once sync.Once
}

func (s *subscription) end() { s.once.Do(func() { close(s.done) }) }

// Option configures a Broker.
type Option func(*Broker)

// WithBuffer sets the per-subscriber queue depth. Messages published while a
// subscriber's queue is full are dropped for that subscriber.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		namespaces: make(map[string]*namespace),
		buffer:     DefaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, ns string, message jsonrpc.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", broker.ErrClosed
	}

	env := broker.MessageEnvelope{
		ID:   strconv.FormatInt(b.eventCounter.Add(1), 10),
		Data: append([]byte(nil), message...),
	}
	if n, ok := b.namespaces[ns]; ok {
		for sub := range n.subscribers {
			select {
			case sub.ch <- env:
			default:
				b.dropped.Add(1)
			}
		}
	}
	return env.ID, nil
}

// Subscribe implements broker.Broker.
func (b *Broker) Subscribe(ctx context.Context, ns string, handler broker.MessageHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sub := &subscription{
		ch:   make(chan broker.MessageEnvelope, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	n, ok := b.namespaces[ns]
	if !ok {
		n = &namespace{subscribers: make(map[*subscription]struct{})}
		b.namespaces[ns] = n
	}
	n.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	defer b.unsubscribe(ns, sub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.done:
			return nil
		case env := <-sub.ch:
			if err := handler(ctx, env); err != nil {
				return err
			}
		}
	}
}

func (b *Broker) unsubscribe(ns string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.namespaces[ns]
	if !ok {
		return
	}
	delete(n.subscribers, sub)
	if len(n.subscribers) == 0 {
		delete(b.namespaces, ns)
	}
}

// Cleanup implements broker.Broker.
func (b *Broker) Cleanup(ctx context.Context, ns string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	n, ok := b.namespaces[ns]
	delete(b.namespaces, ns)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	for sub := range n.subscribers {
		sub.end()
	}
	return nil
}

// Close ends every subscription. Later calls to Publish and Subscribe fail
// with broker.ErrClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, n := range b.namespaces {
		for sub := range n.subscribers {
			sub.end()
		}
	}
	b.namespaces = make(map[string]*namespace)
	return nil
}

// Dropped reports how many deliveries were skipped because a subscriber's
// queue was full.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

// Subscribers reports the number of live subscriptions to ns.
func (b *Broker) Subscribers(ns string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.namespaces[ns]; ok {
		return len(n.subscribers)
	}
	return 0
}

var _ broker.Broker = (*Broker)(nil)
