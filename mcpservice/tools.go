package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-sse-go/mcp"
	"github.com/invopop/jsonschema"
)

// ToolHandler handles one tool invocation.
type ToolHandler func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest carries the decoded arguments of a typed tool call.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown argument fields
// are accepted. By default the schema sets additionalProperties=false and
// decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a StaticTool from a typed argument struct A. The input schema
// is reflected from A with invopop/jsonschema; arguments that fail to decode
// produce an IsError result rather than a protocol error.
func NewTool[A any](name string, fn func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	var cfg toolConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 && !bytes.Equal(req.Arguments, []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(req.Arguments))
			if !cfg.allowAdditionalProperties {
				dec.DisallowUnknownFields()
			}
			if err := dec.Decode(&a); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		w := newToolResponseWriter(ctx)
		if err := fn(ctx, w, &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}
	return StaticTool{Descriptor: desc, Handler: handler}
}

// reflectInputSchema reflects A into a JSON schema and down-converts it to the
// simplified mcp.ToolInputSchema. Non-object types yield an empty object
// schema.
func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	out := mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           map[string]mcp.SchemaProperty{},
		AdditionalProperties: allowAdditional,
	}
	if s == nil || s.Type != "object" {
		return out
	}
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			out.Properties[el.Key] = toSchemaProperty(el.Value)
		}
	}
	out.Required = append(out.Required, s.Required...)
	return out
}

func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Enum:        s.Enum,
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		p.Properties = make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			p.Properties[el.Key] = toSchemaProperty(el.Value)
		}
	}
	return p
}

// ToolsContainer owns a mutable, threadsafe set of tools.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler

	notifier ChangeNotifier

	pageSize int
}

var (
	_ ToolsCapability  = (*ToolsContainer)(nil)
	_ ChangeSubscriber = (*ToolsContainer)(nil)
)

// NewToolsContainer constructs a container with the given tools.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	tc := &ToolsContainer{pageSize: DefaultPageSize}
	tc.Replace(context.Background(), defs...)
	return tc
}

// SetPageSize sets the listing page size. Non-positive values are ignored.
func (tc *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	tc.mu.Lock()
	tc.pageSize = n
	tc.mu.Unlock()
}

// Snapshot returns a copy of the current tool descriptors.
func (tc *ToolsContainer) Snapshot() []mcp.Tool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return append([]mcp.Tool(nil), tc.tools...)
}

// Replace atomically replaces the entire tool set. On duplicate names the
// last definition wins.
func (tc *ToolsContainer) Replace(_ context.Context, defs ...StaticTool) {
	tc.mu.Lock()
	tc.tools = make([]mcp.Tool, 0, len(defs))
	tc.handlers = make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		name := d.Descriptor.Name
		if _, dup := tc.handlers[name]; dup {
			for i := range tc.tools {
				if tc.tools[i].Name == name {
					tc.tools[i] = d.Descriptor
				}
			}
		} else {
			tc.tools = append(tc.tools, d.Descriptor)
		}
		tc.handlers[name] = d.Handler
	}
	tc.mu.Unlock()
	tc.notifier.notifyAsync()
}

// Add registers def unless a tool with the same name exists.
func (tc *ToolsContainer) Add(_ context.Context, def StaticTool) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	name := def.Descriptor.Name
	if _, exists := tc.handlers[name]; exists || name == "" {
		return false
	}
	tc.tools = append(tc.tools, def.Descriptor)
	tc.handlers[name] = def.Handler
	tc.notifier.notifyAsync()
	return true
}

// Remove removes a tool by name. Returns true if removed.
func (tc *ToolsContainer) Remove(_ context.Context, name string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if _, exists := tc.handlers[name]; !exists {
		return false
	}
	n := 0
	for _, t := range tc.tools {
		if t.Name != name {
			tc.tools[n] = t
			n++
		}
	}
	tc.tools = tc.tools[:n]
	delete(tc.handlers, name)
	tc.notifier.notifyAsync()
	return true
}

// Subscriber implements ChangeSubscriber.
func (tc *ToolsContainer) Subscriber() <-chan struct{} { return tc.notifier.Subscriber() }

// ListTools implements ToolsCapability.
func (tc *ToolsContainer) ListTools(ctx context.Context, cursor *string) (Page[mcp.Tool], error) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return pageSlice(tc.tools, tc.pageSize, cursor), nil
}

// CallTool implements ToolsCapability.
func (tc *ToolsContainer) CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%w: missing tool name", ErrInvalidParams)
	}
	tc.mu.RLock()
	h, ok := tc.handlers[req.Name]
	tc.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tool %s", ErrNotFound, req.Name)
	}
	if h == nil {
		return Errorf("tool %s has no handler", req.Name), nil
	}
	return h(ctx, req)
}

// TextResult builds a CallToolResult holding a single text block.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an IsError CallToolResult with a single text block.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	res := TextResult(fmt.Sprintf(format, a...))
	res.IsError = true
	return res
}
