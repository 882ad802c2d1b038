package ssehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mcp-sse-go/broker"
	"github.com/ggoodman/mcp-sse-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-go/mcp"
	"github.com/ggoodman/mcp-sse-go/mcpservice"
	"github.com/ggoodman/mcp-sse-go/sessions"
)

// notificationEvent names the event carrying server-initiated messages.
const notificationEvent = "message"

// resubscribeDelay is the pause before resubscribing after a broker failure.
var resubscribeDelay = time.Second

// Notify pushes a notification onto one session's stream. It fails with
// sessions.ErrSessionNotFound for unknown ids, sessions.ErrSessionNotReady
// before the session's connected frame has been written, and
// eventstream.ErrStreamClosed if the session is closing.
func (h *Handler) Notify(ctx context.Context, sessionID string, method mcp.Method, params any) error {
	sess, err := h.reg.Lookup(sessionID)
	if err != nil {
		return err
	}
	if !sess.Ready() && !sess.Closed() {
		return fmt.Errorf("notify session %s: %w", sessionID, sessions.ErrSessionNotReady)
	}
	msg, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	if err := sess.Stream().Emit(notificationEvent, string(msg)); err != nil {
		return fmt.Errorf("notify session %s: %w", sessionID, err)
	}
	return nil
}

// Broadcast publishes a notification for every live session. Delivery
// happens in Run, on every process subscribed to the same broker namespace.
func (h *Handler) Broadcast(ctx context.Context, method mcp.Method, params any) error {
	msg, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	if _, err := h.broker.Publish(ctx, h.namespace, msg); err != nil {
		return fmt.Errorf("broadcast %s: %w", method, err)
	}
	return nil
}

func encodeNotification(method mcp.Method, params any) (jsonrpc.Message, error) {
	note, err := jsonrpc.NewNotification(string(method), params)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	b, err := json.Marshal(note)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	return jsonrpc.Message(b), nil
}

// Run drives the handler's background work until ctx ends: it delivers
// broadcasts from the broker to every live session, sweeps sessions older
// than the session TTL and turns catalogue change signals into list_changed
// broadcasts. It returns ctx.Err().
func (h *Handler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// Change subscriptions are taken before anything is spawned so that no
	// signal raised after Run starts delivering is lost.
	for kind, method := range map[string]mcp.Method{
		"resources": mcp.ResourcesListChangedNotificationMethod,
		"tools":     mcp.ToolsListChangedNotificationMethod,
		"prompts":   mcp.PromptsListChangedNotificationMethod,
	} {
		sub, ok := h.changeSubscriber(ctx, kind)
		if !ok {
			continue
		}
		ch := sub.Subscriber()
		spawn(func() { h.forwardChanges(ctx, ch, method) })
	}

	sweepOpts := []sessions.SweeperOption{
		sessions.WithTTL(h.sessionTTL),
		sessions.WithSweeperLogger(h.log),
	}
	if h.sweepInterval > 0 {
		sweepOpts = append(sweepOpts, sessions.WithSweepInterval(h.sweepInterval))
	}
	sweeper := sessions.NewSweeper(h.reg, sweepOpts...)
	spawn(func() { _ = sweeper.Run(ctx) })
	spawn(func() { h.consume(ctx) })

	h.log.InfoContext(ctx, "handler.run.start", slog.String("namespace", h.namespace))
	<-ctx.Done()
	wg.Wait()
	h.log.InfoContext(ctx, "handler.run.stop")
	return ctx.Err()
}

func (h *Handler) changeSubscriber(ctx context.Context, kind string) (mcpservice.ChangeSubscriber, bool) {
	var (
		v   any
		ok  bool
		err error
	)
	switch kind {
	case "resources":
		v, ok, err = h.srv.GetResourcesCapability(ctx)
	case "tools":
		v, ok, err = h.srv.GetToolsCapability(ctx)
	case "prompts":
		v, ok, err = h.srv.GetPromptsCapability(ctx)
	}
	if err != nil {
		h.log.WarnContext(ctx, "capability.load.fail", slog.String("kind", kind), slog.String("err", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	sub, ok := v.(mcpservice.ChangeSubscriber)
	return sub, ok
}

// consume keeps a broker subscription alive, resubscribing after failures.
func (h *Handler) consume(ctx context.Context) {
	for {
		err := h.broker.Subscribe(ctx, h.namespace, func(ctx context.Context, env broker.MessageEnvelope) error {
			_ = h.deliver(ctx, env)
			return nil
		})
		if ctx.Err() != nil || errors.Is(err, broker.ErrClosed) {
			return
		}
		if err != nil {
			h.log.WarnContext(ctx, "broker.subscribe.fail", slog.String("err", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

type deliveryStats struct {
	sent, skipped, failed int
}

// deliver emits one broadcast on every ready session. Sessions still opening
// their push connection are skipped: like any subscriber that joins after a
// publish, they do not see it. Sessions whose write fails close themselves
// and drop out of the registry.
func (h *Handler) deliver(ctx context.Context, env broker.MessageEnvelope) deliveryStats {
	var st deliveryStats
	h.reg.Range(func(s *sessions.Session) bool {
		if !s.Ready() {
			st.skipped++
			return true
		}
		if err := s.Stream().Emit(notificationEvent, string(env.Data)); err != nil {
			st.failed++
		} else {
			st.sent++
		}
		return true
	})
	h.log.DebugContext(ctx, "broadcast.deliver",
		slog.String("event_id", env.ID),
		slog.Int("sent", st.sent),
		slog.Int("skipped", st.skipped),
		slog.Int("failed", st.failed),
	)
	return st
}

func (h *Handler) forwardChanges(ctx context.Context, ch <-chan struct{}, method mcp.Method) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := h.Broadcast(ctx, method, nil); err != nil && ctx.Err() == nil {
				h.log.WarnContext(ctx, "list_changed.broadcast.fail", slog.String("method", string(method)), slog.String("err", err.Error()))
			}
		}
	}
}
