package ssehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-sse-go/broker"
	"github.com/ggoodman/mcp-sse-go/broker/memory"
	"github.com/ggoodman/mcp-sse-go/dispatch"
	"github.com/ggoodman/mcp-sse-go/eventstream"
	"github.com/ggoodman/mcp-sse-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-go/internal/logctx"
	"github.com/ggoodman/mcp-sse-go/mcpservice"
	"github.com/ggoodman/mcp-sse-go/sessions"
	"github.com/google/uuid"
)

// SessionHeader carries the session id on request calls.
const SessionHeader = "X-MCP-Session-ID"

// Defaults applied by New.
const (
	DefaultStreamPath   = "/sse"
	DefaultMessagePath  = "/message"
	DefaultMaxBodyBytes = 4 << 20
	DefaultNamespace    = "notifications"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// Handler is the HTTP frontend: a push endpoint that opens sessions and a
// message endpoint that dispatches request calls against them.
type Handler struct {
	mux  *http.ServeMux
	log  *slog.Logger
	srv  mcpservice.ServerCapabilities
	reg  *sessions.Registry
	disp *dispatch.Dispatcher

	broker    broker.Broker
	ownBroker *memory.Broker
	namespace string

	heartbeat     time.Duration
	retryMS       int
	strict        bool
	streamPath    string
	messagePath   string
	maxBody       int64
	sessionTTL    time.Duration
	sweepInterval time.Duration

	closed atomic.Bool
}

// New builds a Handler serving srv. Unless WithRegistry or WithBroker are
// given, it owns a fresh registry and an in-memory broker.
func New(srv mcpservice.ServerCapabilities, opts ...Option) (*Handler, error) {
	if srv == nil {
		return nil, errors.New("ssehttp: server capabilities are required")
	}
	h := &Handler{
		log:         slog.New(slog.DiscardHandler),
		srv:         srv,
		namespace:   DefaultNamespace,
		heartbeat:   eventstream.DefaultHeartbeatInterval,
		streamPath:  DefaultStreamPath,
		messagePath: DefaultMessagePath,
		maxBody:     DefaultMaxBodyBytes,
		sessionTTL:  sessions.DefaultTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.streamPath == h.messagePath {
		return nil, fmt.Errorf("ssehttp: stream and message paths must differ (both %q)", h.streamPath)
	}
	h.log = logctx.Wrap(h.log)
	if h.reg == nil {
		h.reg = sessions.NewRegistry(sessions.WithLogger(h.log))
	}
	if h.broker == nil {
		h.ownBroker = memory.New()
		h.broker = h.ownBroker
	}
	h.disp = dispatch.New(srv, h.reg, dispatch.WithLogger(h.log))

	h.mux = http.NewServeMux()
	h.mux.HandleFunc(h.streamPath, h.handleStream)
	h.mux.HandleFunc(h.messagePath, h.handleMessage)
	return h, nil
}

// Registry exposes the session registry backing the handler.
func (h *Handler) Registry() *sessions.Registry { return h.reg }

// Dispatcher exposes the dispatcher used for request calls.
func (h *Handler) Dispatcher() *dispatch.Dispatcher { return h.disp }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// Close ends every session. Open push connections return once their stream
// closes. New push connections are refused with 503.
func (h *Handler) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.reg.CloseAll()
	if h.ownBroker != nil {
		return h.ownBroker.Close()
	}
	return nil
}

// handleStream opens a session and holds the push connection until the
// session's stream closes or the client goes away.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		h.log.InfoContext(ctx, "http.stream.method_not_allowed")
		return
	}
	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
			return
		}
	}
	if _, ok := w.(http.Flusher); !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	if h.closed.Load() {
		writeJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	sess := h.reg.Create()
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Source: "stream"})
	defer h.reg.Remove(sess.ID())
	// Close may have swept the registry between the check above and Create.
	if h.closed.Load() {
		writeJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// Push connections outlive any server-wide write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	stream := sess.Stream()
	if err := stream.Attach(newSink(w)); err != nil {
		h.log.ErrorContext(ctx, "sse.attach.fail", slog.String("err", err.Error()))
		return
	}
	if h.retryMS > 0 {
		if err := stream.EmitRetry(h.retryMS); err != nil {
			h.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
	}
	if err := stream.EmitJSON("connected", connectedEvent{SessionID: sess.ID()}); err != nil {
		h.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	sess.MarkReady()
	h.log.InfoContext(ctx, "sse.stream.start")

	keepalive := eventstream.NewKeepAlive(stream,
		eventstream.WithInterval(h.heartbeat),
		eventstream.WithLogger(h.log),
	)
	kaCtx, stopKeepAlive := context.WithCancel(ctx)
	kaDone := keepalive.Start(kaCtx)
	defer func() {
		stopKeepAlive()
		<-kaDone
	}()

	reason := "stream_closed"
	if err := stream.Wait(ctx); err != nil {
		reason = "client_gone"
	}
	h.log.InfoContext(ctx, "sse.stream.end",
		slog.String("reason", reason),
		slog.Int64("beats", keepalive.Beats()),
		slog.Duration("dur", time.Since(start)),
	)
}

type connectedEvent struct {
	SessionID string `json:"sessionId"`
}

// handleMessage accepts one request call and answers it synchronously.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeRPCError(w, http.StatusMethodNotAllowed, jsonrpc.ErrorCodeInvalidRequest, "method not allowed")
		h.log.InfoContext(ctx, "http.message.method_not_allowed")
		return
	}
	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			writeRPCError(w, http.StatusUnsupportedMediaType, jsonrpc.ErrorCodeInvalidRequest, "content-type must be application/json")
			h.log.WarnContext(ctx, "content_type.unsupported")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeRPCError(w, http.StatusRequestEntityTooLarge, jsonrpc.ErrorCodeInvalidRequest, "payload too large")
			h.log.WarnContext(ctx, "http.message.too_large", slog.Int64("limit", tooLarge.Limit))
			return
		}
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "invalid payload")
		h.log.WarnContext(ctx, "http.message.read.fail", slog.String("err", err.Error()))
		return
	}

	header := r.Header.Get(SessionHeader)
	if h.strict {
		if header == "" {
			writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "missing session id")
			h.log.InfoContext(ctx, "session.id.missing")
			return
		}
		if _, ok := h.reg.Get(header); !ok {
			writeRPCError(w, http.StatusNotFound, jsonrpc.ErrorCodeInvalidRequest, "invalid session id")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
	}

	out := h.disp.DispatchJSON(ctx, dispatch.Call{Body: body, HeaderSessionID: header})
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.log.InfoContext(ctx, "http.message.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.DebugContext(ctx, "http.message.ok", slog.Duration("dur", time.Since(start)))
}

// writeJSONError emits a minimal transport-level JSON body for rejections on
// the push endpoint, before any event has been written.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// writeRPCError emits a JSON-RPC shaped error with a null id for rejections
// on the message endpoint that happen before dispatch.
func writeRPCError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, code, msg, nil))
}
