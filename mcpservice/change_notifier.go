package mcpservice

import (
	"context"
	"sync"
)

// ChangeNotifier is a small in-process pub-sub for "this list changed"
// signals. The zero value is ready to use.
type ChangeNotifier struct {
	mu     sync.RWMutex
	subs   []chan struct{}
	closed bool
}

// Notify signals every subscriber. Delivery is best-effort: a subscriber that
// already has a pending signal is skipped, since one pending signal is as
// good as many. The error is always nil.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.mu.RLock()
	defer cn.mu.RUnlock()
	if cn.closed {
		return nil
	}
	for _, ch := range cn.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscriber returns a channel (buffer 1) that receives a value whenever
// Notify is called. After Close the returned channel is already closed.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	ch := make(chan struct{}, 1)
	if cn.closed {
		close(ch)
		return ch
	}
	cn.subs = append(cn.subs, ch)
	return ch
}

// Close closes every subscriber channel. Further Notify calls are no-ops.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subs
	cn.subs = nil
	cn.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// notifyAsync signals subscribers without holding the caller's lock.
func (cn *ChangeNotifier) notifyAsync() {
	go func() { _ = cn.Notify(context.Background()) }()
}
