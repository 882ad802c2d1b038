package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-go/broker"
	"github.com/ggoodman/mcp-sse-go/broker/brokertest"
	"github.com/ggoodman/mcp-sse-go/internal/jsonrpc"
)

func TestMemoryBroker(t *testing.T) {
	brokertest.RunBrokerTests(t, func(t *testing.T) broker.Broker {
		b := New()
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func waitSubscribers(t *testing.T, b *Broker, ns string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers(ns) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers on %s, have %d", n, ns, b.Subscribers(ns))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCleanupEndsSubscriptions(t *testing.T) {
	b := New()
	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, "ns", func(context.Context, broker.MessageEnvelope) error { return nil })
	}()
	waitSubscribers(t, b, "ns", 1)

	if err := b.Cleanup(ctx, "ns"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after cleanup, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end after cleanup")
	}
	if b.Subscribers("ns") != 0 {
		t.Fatalf("expected no subscribers after cleanup")
	}
}

func TestCloseRejectsLaterCalls(t *testing.T) {
	b := New()
	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, "ns", func(context.Context, broker.MessageEnvelope) error { return nil })
	}()
	waitSubscribers(t, b, "ns", 1)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("expected nil from ended subscription, got %v", err)
	}
	if _, err := b.Publish(ctx, "ns", jsonrpc.Message(`{}`)); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("expected ErrClosed from Publish, got %v", err)
	}
	if err := b.Subscribe(ctx, "ns", nil); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("expected ErrClosed from Subscribe, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New(WithBuffer(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	go func() {
		_ = b.Subscribe(ctx, "ns", func(context.Context, broker.MessageEnvelope) error {
			<-release
			return nil
		})
	}()
	waitSubscribers(t, b, "ns", 1)

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < 10; i++ {
			if _, err := b.Publish(ctx, "ns", jsonrpc.Message(`{}`)); err != nil {
				t.Errorf("Publish: %v", err)
				return
			}
		}
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)
	if b.Dropped() == 0 {
		t.Fatal("expected some deliveries to be dropped")
	}
}

func TestPublishCopiesMessage(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan broker.MessageEnvelope, 1)
	go func() {
		_ = b.Subscribe(ctx, "ns", func(_ context.Context, env broker.MessageEnvelope) error {
			got <- env
			return nil
		})
	}()
	waitSubscribers(t, b, "ns", 1)

	msg := jsonrpc.Message(`{"a":1}`)
	if _, err := b.Publish(ctx, "ns", msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msg[2] = 'b'
	env := <-got
	if string(env.Data) != `{"a":1}` {
		t.Fatalf("delivered data aliased the caller's buffer: %s", env.Data)
	}
}
