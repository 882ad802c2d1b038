package mcpservice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ggoodman/mcp-sse-go/mcp"
)

// PromptHandler renders a prompt for the given arguments.
type PromptHandler func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with its renderer.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// PromptsContainer owns a mutable, threadsafe set of prompts.
type PromptsContainer struct {
	mu       sync.RWMutex
	prompts  []mcp.Prompt
	handlers map[string]PromptHandler

	notifier ChangeNotifier

	pageSize int
}

var (
	_ PromptsCapability = (*PromptsContainer)(nil)
	_ ChangeSubscriber  = (*PromptsContainer)(nil)
)

// NewPromptsContainer constructs a container with the given prompts.
func NewPromptsContainer(defs ...StaticPrompt) *PromptsContainer {
	pc := &PromptsContainer{pageSize: DefaultPageSize}
	pc.Replace(context.Background(), defs...)
	return pc
}

// Replace atomically replaces the prompt set.
func (pc *PromptsContainer) Replace(_ context.Context, defs ...StaticPrompt) {
	pc.mu.Lock()
	pc.prompts = make([]mcp.Prompt, 0, len(defs))
	pc.handlers = make(map[string]PromptHandler, len(defs))
	for _, d := range defs {
		if _, dup := pc.handlers[d.Descriptor.Name]; !dup {
			pc.prompts = append(pc.prompts, d.Descriptor)
		}
		pc.handlers[d.Descriptor.Name] = d.Handler
	}
	pc.mu.Unlock()
	pc.notifier.notifyAsync()
}

// Add registers def unless a prompt with the same name exists.
func (pc *PromptsContainer) Add(_ context.Context, def StaticPrompt) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	name := def.Descriptor.Name
	if _, exists := pc.handlers[name]; exists || name == "" {
		return false
	}
	pc.prompts = append(pc.prompts, def.Descriptor)
	pc.handlers[name] = def.Handler
	pc.notifier.notifyAsync()
	return true
}

// Remove removes a prompt by name. Returns true if removed.
func (pc *PromptsContainer) Remove(_ context.Context, name string) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if _, exists := pc.handlers[name]; !exists {
		return false
	}
	n := 0
	for _, p := range pc.prompts {
		if p.Name != name {
			pc.prompts[n] = p
			n++
		}
	}
	pc.prompts = pc.prompts[:n]
	delete(pc.handlers, name)
	pc.notifier.notifyAsync()
	return true
}

// Subscriber implements ChangeSubscriber.
func (pc *PromptsContainer) Subscriber() <-chan struct{} { return pc.notifier.Subscriber() }

// ListPrompts implements PromptsCapability.
func (pc *PromptsContainer) ListPrompts(ctx context.Context, cursor *string) (Page[mcp.Prompt], error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pageSlice(pc.prompts, pc.pageSize, cursor), nil
}

// GetPrompt implements PromptsCapability. Required arguments declared on the
// descriptor are checked before the handler runs.
func (pc *PromptsContainer) GetPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%w: missing prompt name", ErrInvalidParams)
	}
	pc.mu.RLock()
	h, ok := pc.handlers[req.Name]
	var desc mcp.Prompt
	for _, p := range pc.prompts {
		if p.Name == req.Name {
			desc = p
			break
		}
	}
	pc.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: prompt %s", ErrNotFound, req.Name)
	}
	for _, arg := range desc.Arguments {
		if arg.Required && req.Arguments[arg.Name] == "" {
			return nil, fmt.Errorf("%w: missing required argument %q", ErrInvalidParams, arg.Name)
		}
	}
	if h == nil {
		return &mcp.GetPromptResult{Description: desc.Description, Messages: []mcp.PromptMessage{}}, nil
	}
	return h(ctx, req)
}

// TemplatePrompt builds a StaticPrompt whose single user message is text with
// every {{name}} placeholder replaced by the matching argument.
func TemplatePrompt(desc mcp.Prompt, text string) StaticPrompt {
	return StaticPrompt{
		Descriptor: desc,
		Handler: func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			out := text
			for k, v := range req.Arguments {
				out = strings.ReplaceAll(out, "{{"+k+"}}", v)
			}
			return &mcp.GetPromptResult{
				Description: desc.Description,
				Messages: []mcp.PromptMessage{{
					Role:    mcp.RoleUser,
					Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: out},
				}},
			}, nil
		},
	}
}
