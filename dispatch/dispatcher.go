package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ggoodman/mcp-sse-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-go/internal/logctx"
	"github.com/ggoodman/mcp-sse-go/mcp"
	"github.com/ggoodman/mcp-sse-go/mcpservice"
	"github.com/ggoodman/mcp-sse-go/sessions"
)

// Session id sources, as recorded in logs.
const (
	SourceHeader = "header"
	SourceBody   = "body"
)

// SessionResolver resolves session ids. *sessions.Registry satisfies it.
type SessionResolver interface {
	Get(id string) (*sessions.Session, bool)
}

// Call is one inbound request call as seen by the dispatcher: the raw body
// plus the session id supplied out of band (the X-MCP-Session-ID header), if
// any.
type Call struct {
	Body            []byte
	HeaderSessionID string
}

// Dispatcher validates request envelopes, resolves their session and routes
// them to the capability catalogues.
//
// A Dispatcher holds no mutable state of its own. Given the same catalogues,
// the same set of live sessions and the same call, it produces the same
// response.
type Dispatcher struct {
	srv      mcpservice.ServerCapabilities
	sessions SessionResolver
	log      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Records carry rpc and session groups when the
// logger's handler is wrapped by logctx.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// New returns a dispatcher routing to srv and resolving sessions through
// resolver.
func New(srv mcpservice.ServerCapabilities, resolver SessionResolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		srv:      srv,
		sessions: resolver,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logctx.Wrap(d.log)
	return d
}

// Dispatch runs the full pipeline for one call and always returns a response
// envelope; protocol failures are reported inside it.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) *jsonrpc.Response {
	req, err := jsonrpc.DecodeRequest(call.Body)
	if err != nil {
		var id *jsonrpc.RequestID
		if req != nil {
			id = req.ID
		}
		rpcErr := asRPCError(err, jsonrpc.ErrorCodeParseError)
		d.log.InfoContext(ctx, "dispatch.decode.fail", slog.String("code", rpcErr.Code.String()), slog.String("err", rpcErr.Message))
		return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, ID: id, Error: rpcErr}
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String()})

	sessionID, source, rpcErr := resolveSessionID(call.HeaderSessionID, req.SessionID)
	if rpcErr != nil {
		d.log.InfoContext(ctx, "dispatch.session.invalid", slog.String("err", rpcErr.Message))
		return errorResponse(req.ID, rpcErr)
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessionID, Source: source})
	if _, ok := d.sessions.Get(sessionID); !ok {
		d.log.InfoContext(ctx, "dispatch.session.unknown")
		return errorResponse(req.ID, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "invalid session id"))
	}

	return d.Handle(mcpservice.WithSessionID(ctx, sessionID), req)
}

// DispatchJSON is Dispatch followed by encoding. Encoding failures degrade to
// an internal-error envelope.
func (d *Dispatcher) DispatchJSON(ctx context.Context, call Call) []byte {
	return Encode(d.Dispatch(ctx, call))
}

// Encode marshals a response envelope.
func Encode(res *jsonrpc.Response) []byte {
	b, err := json.Marshal(res)
	if err != nil {
		b, _ = json.Marshal(jsonrpc.NewErrorResponse(res.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil))
	}
	return b
}

// Handle routes an already validated request whose session has been
// resolved. Panics and unexpected errors from handlers become INTERNAL_ERROR
// responses carrying a short message.
func (d *Dispatcher) Handle(ctx context.Context, req *jsonrpc.Request) (res *jsonrpc.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.log.ErrorContext(ctx, "dispatch.handle.panic",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		}
	}()

	result, err := d.route(ctx, req)
	if err != nil {
		rpcErr := d.classify(ctx, err)
		d.log.InfoContext(ctx, "dispatch.handle.error",
			slog.String("code", rpcErr.Code.String()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
		return errorResponse(req.ID, rpcErr)
	}

	res, err = jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		d.log.ErrorContext(ctx, "dispatch.handle.encode_fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	d.log.DebugContext(ctx, "dispatch.handle.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return res
}

func (d *Dispatcher) route(ctx context.Context, req *jsonrpc.Request) (any, error) {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return d.handleInitialize(ctx, req)
	case mcp.PingMethod:
		return &mcp.EmptyResult{}, nil
	case mcp.ResourcesListMethod:
		return d.handleResourcesList(ctx, req)
	case mcp.ResourcesReadMethod:
		return d.handleResourcesRead(ctx, req)
	case mcp.ResourcesTemplatesListMethod:
		return d.handleResourcesTemplatesList(ctx, req)
	case mcp.ToolsListMethod:
		return d.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return d.handleToolsCall(ctx, req)
	case mcp.PromptsListMethod:
		return d.handlePromptsList(ctx, req)
	case mcp.PromptsGetMethod:
		return d.handlePromptsGet(ctx, req)
	}
	return nil, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "Method not found")
}

// classify maps handler errors onto the fixed error taxonomy. Catalogue
// errors are reported by category only; internal detail stays in the logs.
func (d *Dispatcher) classify(ctx context.Context, err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, mcpservice.ErrNotFound), errors.Is(err, mcpservice.ErrInvalidParams):
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "cancelled")
	default:
		d.log.ErrorContext(ctx, "dispatch.handle.fail", slog.String("err", err.Error()))
		return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "internal error")
	}
}

// resolveSessionID picks the session id for a call. The header is the primary
// contract; the body field is accepted as an alternate. When both are present
// they must agree.
func resolveSessionID(header, body string) (id, source string, err *jsonrpc.Error) {
	switch {
	case header != "" && body != "" && header != body:
		return "", "", jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "session id mismatch")
	case header != "":
		return header, SourceHeader, nil
	case body != "":
		return body, SourceBody, nil
	}
	return "", "", jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "missing session id")
}

func asRPCError(err error, fallback jsonrpc.ErrorCode) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return jsonrpc.NewError(fallback, err.Error())
}

func errorResponse(id *jsonrpc.RequestID, e *jsonrpc.Error) *jsonrpc.Response {
	return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, ID: id, Error: e}
}
