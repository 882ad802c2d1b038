package mcpservice

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/mcp-sse-go/mcp"
)

func TestPromptsContainer(t *testing.T) {
	ctx := context.Background()
	pc := NewPromptsContainer(TemplatePrompt(
		mcp.Prompt{
			Name:        "greet",
			Description: "Greets someone",
			Arguments:   []mcp.PromptArgument{{Name: "name", Required: true}},
		},
		"Say hello to {{name}}.",
	))

	page, err := pc.ListPrompts(ctx, nil)
	if err != nil || len(page.Items) != 1 || page.Items[0].Name != "greet" {
		t.Fatalf("unexpected list %+v err=%v", page, err)
	}

	res, err := pc.GetPrompt(ctx, &mcp.GetPromptRequest{Name: "greet", Arguments: map[string]string{"name": "Ada"}})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Content.Text != "Say hello to Ada." || res.Messages[0].Role != mcp.RoleUser {
		t.Fatalf("unexpected result %+v", res)
	}

	tests := []struct {
		name string
		req  *mcp.GetPromptRequest
		want error
	}{
		{name: "missing name", req: &mcp.GetPromptRequest{}, want: ErrInvalidParams},
		{name: "unknown prompt", req: &mcp.GetPromptRequest{Name: "nope"}, want: ErrNotFound},
		{name: "missing required argument", req: &mcp.GetPromptRequest{Name: "greet"}, want: ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := pc.GetPrompt(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPromptsContainer_AddRemove(t *testing.T) {
	ctx := context.Background()
	pc := NewPromptsContainer()
	sub := pc.Subscriber()
	if !pc.Add(ctx, StaticPrompt{Descriptor: mcp.Prompt{Name: "p"}}) {
		t.Fatalf("expected add")
	}
	if pc.Add(ctx, StaticPrompt{Descriptor: mcp.Prompt{Name: "p"}}) || pc.Add(ctx, StaticPrompt{}) {
		t.Fatalf("duplicate or unnamed add must fail")
	}
	waitSignal(t, sub)

	res, err := pc.GetPrompt(ctx, &mcp.GetPromptRequest{Name: "p"})
	if err != nil || res.Messages == nil {
		t.Fatalf("handler-less prompt should render empty, got %+v err=%v", res, err)
	}
	if !pc.Remove(ctx, "p") || pc.Remove(ctx, "p") {
		t.Fatalf("expected exactly one successful remove")
	}
}

func TestChangeNotifier(t *testing.T) {
	var cn ChangeNotifier
	a := cn.Subscriber()
	b := cn.Subscriber()

	_ = cn.Notify(context.Background())
	_ = cn.Notify(context.Background()) // coalesced
	waitSignal(t, a)
	waitSignal(t, b)
	select {
	case <-a:
		t.Fatal("expected coalesced signals")
	default:
	}

	cn.Close()
	cn.Close()
	if _, ok := <-a; ok {
		t.Fatal("expected closed channel")
	}
	late := cn.Subscriber()
	if _, ok := <-late; ok {
		t.Fatal("expected subscriber after close to be closed")
	}
	_ = cn.Notify(context.Background())
}

func TestServerCapabilities(t *testing.T) {
	ctx := context.Background()
	srv := NewServer(
		WithServerInfo(mcp.ImplementationInfo{Name: "n", Version: "1"}),
		WithInstructions("be nice"),
		WithToolsCapability(NewToolsContainer()),
	)
	info, _ := srv.GetServerInfo(ctx)
	if info.Name != "n" {
		t.Fatalf("unexpected info %+v", info)
	}
	if instr, ok, _ := srv.GetInstructions(ctx); !ok || instr != "be nice" {
		t.Fatalf("unexpected instructions %q %v", instr, ok)
	}
	if _, ok, _ := srv.GetToolsCapability(ctx); !ok {
		t.Fatalf("expected tools capability")
	}
	if _, ok, _ := srv.GetResourcesCapability(ctx); ok {
		t.Fatalf("expected resources capability to be absent")
	}
	if _, ok, _ := srv.GetPromptsCapability(ctx); ok {
		t.Fatalf("expected prompts capability to be absent")
	}
}
