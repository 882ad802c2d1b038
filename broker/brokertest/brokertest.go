// Package brokertest is a conformance suite for broker.Broker
// implementations.
package brokertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-go/broker"
	"github.com/ggoodman/mcp-sse-go/internal/jsonrpc"
)

// BrokerFactory creates a new broker instance for one test.
type BrokerFactory func(t *testing.T) broker.Broker

// RunBrokerTests runs the complete broker test suite against factory.
func RunBrokerTests(t *testing.T, factory BrokerFactory) {
	t.Run("PublishDelivers", func(t *testing.T) {
		testPublishDelivers(t, factory)
	})
	t.Run("OrderedDelivery", func(t *testing.T) {
		testOrderedDelivery(t, factory)
	})
	t.Run("NoReplayBeforeSubscribe", func(t *testing.T) {
		testNoReplay(t, factory)
	})
	t.Run("MultipleSubscribersToSameNamespace", func(t *testing.T) {
		testMultipleSubscribers(t, factory)
	})
	t.Run("NamespaceIsolation", func(t *testing.T) {
		testNamespaceIsolation(t, factory)
	})
	t.Run("SubscriptionContextCancellation", func(t *testing.T) {
		testContextCancellation(t, factory)
	})
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) {
		testHandlerError(t, factory)
	})
	t.Run("CleanupUnknownNamespace", func(t *testing.T) {
		b := factory(t)
		if err := b.Cleanup(context.Background(), uniqueNamespace(t, "unknown")); err != nil {
			t.Fatalf("Cleanup of unknown namespace: %v", err)
		}
	})
}

const probeMethod = "test/probe"

func message(t *testing.T, method string, n int) jsonrpc.Message {
	t.Helper()
	note, err := jsonrpc.NewNotification(method, map[string]int{"n": n})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	b, err := json.Marshal(note)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return jsonrpc.Message(b)
}

func uniqueNamespace(t *testing.T, base string) string {
	return fmt.Sprintf("%s-%s-%d", base, t.Name(), time.Now().UnixNano())
}

// collector records every non-probe message a subscription receives.
type collector struct {
	mu     sync.Mutex
	got    []broker.MessageEnvelope
	probed chan struct{}
	once   sync.Once
	notify chan struct{}
	done   chan error
}

func (c *collector) handle(_ context.Context, env broker.MessageEnvelope) error {
	var note jsonrpc.Notification
	if err := json.Unmarshal(env.Data, &note); err == nil && note.Method == probeMethod {
		c.once.Do(func() { close(c.probed) })
		return nil
	}
	c.mu.Lock()
	c.got = append(c.got, env)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *collector) messages() []broker.MessageEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broker.MessageEnvelope(nil), c.got...)
}

// waitFor blocks until at least n messages arrived.
func (c *collector) waitFor(t *testing.T, n int) []broker.MessageEnvelope {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if got := c.messages(); len(got) >= n {
			return got
		}
		select {
		case <-c.notify:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %d", n, len(c.messages()))
		}
	}
}

// subscribe starts a subscription and returns once it is known to be
// receiving, established by publishing probes until one arrives.
func subscribe(ctx context.Context, t *testing.T, b broker.Broker, ns string) *collector {
	t.Helper()
	c := &collector{
		probed: make(chan struct{}),
		notify: make(chan struct{}, 1),
		done:   make(chan error, 1),
	}
	go func() { c.done <- b.Subscribe(ctx, ns, c.handle) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := b.Publish(ctx, ns, message(t, probeMethod, 0)); err != nil {
			t.Fatalf("publish probe: %v", err)
		}
		select {
		case <-c.probed:
			return c
		case err := <-c.done:
			t.Fatalf("subscription ended before becoming ready: %v", err)
		case <-tick.C:
		case <-deadline:
			t.Fatal("subscription never became ready")
		}
	}
}

func testPublishDelivers(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "deliver")
	defer func() { _ = b.Cleanup(context.Background(), ns) }()

	c := subscribe(ctx, t, b, ns)
	msg := message(t, "test/msg", 1)
	eventID, err := b.Publish(ctx, ns, msg)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if eventID == "" {
		t.Fatal("expected non-empty event id")
	}

	got := c.waitFor(t, 1)
	if got[0].ID != eventID {
		t.Fatalf("expected event id %s, got %s", eventID, got[0].ID)
	}
	if string(got[0].Data) != string(msg) {
		t.Fatalf("expected data %s, got %s", msg, got[0].Data)
	}
}

func testOrderedDelivery(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "order")
	defer func() { _ = b.Cleanup(context.Background(), ns) }()

	c := subscribe(ctx, t, b, ns)
	const n = 20
	for i := 0; i < n; i++ {
		if _, err := b.Publish(ctx, ns, message(t, "test/msg", i)); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	got := c.waitFor(t, n)
	for i, env := range got[:n] {
		if string(env.Data) != string(message(t, "test/msg", i)) {
			t.Fatalf("message %d out of order: %s", i, env.Data)
		}
	}
}

func testNoReplay(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "noreplay")
	defer func() { _ = b.Cleanup(context.Background(), ns) }()

	if _, err := b.Publish(ctx, ns, message(t, "test/old", 0)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	c := subscribe(ctx, t, b, ns)
	if _, err := b.Publish(ctx, ns, message(t, "test/new", 1)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got := c.waitFor(t, 1)
	if len(got) != 1 || string(got[0].Data) != string(message(t, "test/new", 1)) {
		t.Fatalf("expected only the new message, got %d messages: %s", len(got), got[0].Data)
	}
}

func testMultipleSubscribers(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "multi")
	defer func() { _ = b.Cleanup(context.Background(), ns) }()

	c1 := subscribe(ctx, t, b, ns)
	c2 := subscribe(ctx, t, b, ns)
	msg := message(t, "test/msg", 1)
	if _, err := b.Publish(ctx, ns, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for i, c := range []*collector{c1, c2} {
		got := c.waitFor(t, 1)
		if string(got[0].Data) != string(msg) {
			t.Fatalf("subscriber %d got %s", i, got[0].Data)
		}
	}
}

func testNamespaceIsolation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ns1 := uniqueNamespace(t, "iso1")
	ns2 := uniqueNamespace(t, "iso2")
	defer func() {
		_ = b.Cleanup(context.Background(), ns1)
		_ = b.Cleanup(context.Background(), ns2)
	}()

	c1 := subscribe(ctx, t, b, ns1)
	c2 := subscribe(ctx, t, b, ns2)
	if _, err := b.Publish(ctx, ns1, message(t, "test/one", 1)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := b.Publish(ctx, ns2, message(t, "test/two", 2)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got1 := c1.waitFor(t, 1)
	got2 := c2.waitFor(t, 1)
	if len(got1) != 1 || string(got1[0].Data) != string(message(t, "test/one", 1)) {
		t.Fatalf("namespace 1 received %d messages", len(got1))
	}
	if len(got2) != 1 || string(got2[0].Data) != string(message(t, "test/two", 2)) {
		t.Fatalf("namespace 2 received %d messages", len(got2))
	}
}

func testContextCancellation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	ns := uniqueNamespace(t, "cancel")
	defer func() { _ = b.Cleanup(context.Background(), ns) }()

	c := subscribe(ctx, t, b, ns)
	cancel()
	select {
	case err := <-c.done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end after cancellation")
	}
}

func testHandlerError(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "handlererr")
	defer func() { _ = b.Cleanup(context.Background(), ns) }()

	boom := errors.New("boom")
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, ns, func(context.Context, broker.MessageEnvelope) error { return boom })
	}()

	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := b.Publish(ctx, ns, message(t, "test/msg", 1)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case err := <-done:
			if !errors.Is(err, boom) {
				t.Fatalf("expected handler error, got %v", err)
			}
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("handler error did not stop the subscription")
		}
	}
}
