package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ggoodman/mcp-sse-go/mcp"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Text to echo"`
	Times   int    `json:"times,omitempty"`
}

func newEchoTool() StaticTool {
	return NewTool("echo", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[echoArgs]) error {
		n := max(r.Args().Times, 1)
		for i := 0; i < n; i++ {
			if err := w.AppendText(r.Args().Message); err != nil {
				return err
			}
		}
		return nil
	}, WithToolDescription("echo tool"))
}

func TestNewTool_ReflectsInputSchema(t *testing.T) {
	tool := newEchoTool()
	schema := tool.Descriptor.InputSchema
	if schema.Type != "object" {
		t.Fatalf("expected object schema, got %q", schema.Type)
	}
	if schema.AdditionalProperties {
		t.Fatalf("expected additionalProperties=false by default")
	}
	msg, ok := schema.Properties["message"]
	if !ok || msg.Type != "string" || msg.Description != "Text to echo" {
		b, _ := json.Marshal(schema)
		t.Fatalf("unexpected message property: %s", b)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "message" {
		t.Fatalf("expected message to be required, got %v", schema.Required)
	}
	if tool.Descriptor.Description != "echo tool" {
		t.Fatalf("description not applied")
	}
}

func TestToolsContainer_Call(t *testing.T) {
	ctx := context.Background()
	c := NewToolsContainer(newEchoTool())

	res, err := c.CallTool(ctx, &mcp.CallToolRequestReceived{Name: "echo", Arguments: json.RawMessage(`{"message":"hi","times":2}`)})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || len(res.Content) != 2 || res.Content[1].Text != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = c.CallTool(ctx, &mcp.CallToolRequestReceived{Name: "echo", Arguments: json.RawMessage(`{"message":"hi","bogus":true}`)})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected unknown field to produce an error result")
	}

	if _, err := c.CallTool(ctx, &mcp.CallToolRequestReceived{Name: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.CallTool(ctx, &mcp.CallToolRequestReceived{}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestToolsContainer_AllowAdditionalProperties(t *testing.T) {
	tool := NewTool("lenient", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[echoArgs]) error {
		return w.AppendText(r.Args().Message)
	}, WithToolAllowAdditionalProperties(true))
	if !tool.Descriptor.InputSchema.AdditionalProperties {
		t.Fatalf("expected additionalProperties=true")
	}
	res, err := tool.Handler(context.Background(), &mcp.CallToolRequestReceived{Name: "lenient", Arguments: json.RawMessage(`{"message":"ok","extra":1}`)})
	if err != nil || res.IsError {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestToolsContainer_Mutations(t *testing.T) {
	ctx := context.Background()
	c := NewToolsContainer()
	sub := c.Subscriber()
	// Drain the signal from construction, if it arrived.
	select {
	case <-sub:
	default:
	}

	if !c.Add(ctx, newEchoTool()) {
		t.Fatalf("expected add to succeed")
	}
	if c.Add(ctx, newEchoTool()) {
		t.Fatalf("expected duplicate add to fail")
	}
	waitSignal(t, sub)

	page, err := c.ListTools(ctx, nil)
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("unexpected list: %+v err=%v", page, err)
	}
	if !c.Remove(ctx, "echo") || c.Remove(ctx, "echo") {
		t.Fatalf("expected exactly one successful remove")
	}
	if len(c.Snapshot()) != 0 {
		t.Fatalf("expected empty container")
	}
}

func TestToolsContainer_ReplaceLastWins(t *testing.T) {
	a := StaticTool{Descriptor: mcp.Tool{Name: "t", Description: "first"}}
	b := StaticTool{Descriptor: mcp.Tool{Name: "t", Description: "second"}}
	c := NewToolsContainer(a, b)
	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].Description != "second" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestToolResponseWriter(t *testing.T) {
	w := newToolResponseWriter(context.Background())
	_ = w.AppendText("a")
	w.SetError(true)
	w.SetMeta("k", "v")
	res := w.Result()
	if !res.IsError || len(res.Content) != 1 || res.Meta["k"] != "v" {
		t.Fatalf("unexpected result %+v", res)
	}
	if err := w.AppendText("b"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w = newToolResponseWriter(ctx)
	if err := w.AppendText("x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
