package mcpservice

import (
	"context"
	"errors"

	"github.com/ggoodman/mcp-sse-go/mcp"
)

var (
	// ErrNotFound is wrapped by catalogues when a named resource, tool or
	// prompt does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidParams is wrapped by catalogues when a request is malformed
	// (missing uri, missing name).
	ErrInvalidParams = errors.New("invalid params")
)

// ServerCapabilities is the top-level description of a server: its identity
// and the catalogues it exposes. A false ok from one of the Get*Capability
// methods means the capability is absent; err is reserved for failures while
// determining support.
type ServerCapabilities interface {
	// GetServerInfo returns implementation information surfaced in the
	// initialize result.
	GetServerInfo(ctx context.Context) (mcp.ImplementationInfo, error)

	// GetInstructions returns optional human-readable usage instructions.
	GetInstructions(ctx context.Context) (instructions string, ok bool, err error)

	GetResourcesCapability(ctx context.Context) (cap ResourcesCapability, ok bool, err error)
	GetToolsCapability(ctx context.Context) (cap ToolsCapability, ok bool, err error)
	GetPromptsCapability(ctx context.Context) (cap PromptsCapability, ok bool, err error)
}

// ResourcesCapability lists and reads resources. A nil cursor requests the
// first page.
type ResourcesCapability interface {
	ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error)
	ListResourceTemplates(ctx context.Context, cursor *string) (Page[mcp.ResourceTemplate], error)
	// ReadResource returns the contents for uri, or an error wrapping
	// ErrNotFound when no such resource exists.
	ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error)
}

// ToolsCapability lists and invokes tools. Tool-level failures should be
// reported as a result with IsError set; a returned error means the call
// itself could not be carried out.
type ToolsCapability interface {
	ListTools(ctx context.Context, cursor *string) (Page[mcp.Tool], error)
	CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}

// PromptsCapability lists and renders prompts.
type PromptsCapability interface {
	ListPrompts(ctx context.Context, cursor *string) (Page[mcp.Prompt], error)
	GetPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
}

// ChangeSubscriber is implemented by catalogues whose contents can change at
// runtime.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

type sessionIDKey struct{}

// WithSessionID returns a context carrying the caller's session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session id of the request being served,
// if any.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok && id != ""
}
