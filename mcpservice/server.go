package mcpservice

import (
	"context"

	"github.com/ggoodman/mcp-sse-go/mcp"
)

// ServerOption configures a concrete ServerCapabilities implementation.
type ServerOption func(*server)

type server struct {
	info         mcp.ImplementationInfo
	instructions *string

	resources ResourcesCapability
	tools     ToolsCapability
	prompts   PromptsCapability
}

// NewServer builds a ServerCapabilities using functional options. Without
// options it reports a generic server identity and no catalogues.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{
		info: mcp.ImplementationInfo{Name: "mcp-sse-go", Version: "dev"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the implementation info reported by initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *server) { s.info = info }
}

// WithInstructions sets human-readable instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.instructions = &instr }
}

// WithResourcesCapability registers the resources catalogue.
func WithResourcesCapability(c ResourcesCapability) ServerOption {
	return func(s *server) { s.resources = c }
}

// WithToolsCapability registers the tools catalogue.
func WithToolsCapability(c ToolsCapability) ServerOption {
	return func(s *server) { s.tools = c }
}

// WithPromptsCapability registers the prompts catalogue.
func WithPromptsCapability(c PromptsCapability) ServerOption {
	return func(s *server) { s.prompts = c }
}

func (s *server) GetServerInfo(ctx context.Context) (mcp.ImplementationInfo, error) {
	return s.info, nil
}

func (s *server) GetInstructions(ctx context.Context) (string, bool, error) {
	if s.instructions == nil {
		return "", false, nil
	}
	return *s.instructions, true, nil
}

func (s *server) GetResourcesCapability(ctx context.Context) (ResourcesCapability, bool, error) {
	return s.resources, s.resources != nil, nil
}

func (s *server) GetToolsCapability(ctx context.Context) (ToolsCapability, bool, error) {
	return s.tools, s.tools != nil, nil
}

func (s *server) GetPromptsCapability(ctx context.Context) (PromptsCapability, bool, error) {
	return s.prompts, s.prompts != nil, nil
}
