package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ggoodman/mcp-sse-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-go/mcp"
	"github.com/ggoodman/mcp-sse-go/mcpservice"
)

// decodeParams unmarshals params into dst. Absent or null params leave dst
// at its zero value.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid params")
	}
	return nil
}

func cursorOf(c string) *string {
	if c == "" {
		return nil
	}
	return &c
}

func unsupported(what string) error {
	return jsonrpc.Errorf(jsonrpc.ErrorCodeMethodNotFound, "%s capability not supported", what)
}

func (d *Dispatcher) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*mcp.InitializeResult, error) {
	var params mcp.InitializeRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, err
	}

	info, err := d.srv.GetServerInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}
	res := &mcp.InitializeResult{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ServerInfo:      info,
	}
	if slices.Contains(mcp.SupportedProtocolVersions, params.ProtocolVersion) {
		res.ProtocolVersion = params.ProtocolVersion
	}
	if instr, ok, err := d.srv.GetInstructions(ctx); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		res.Instructions = instr
	}

	if rc, ok, err := d.srv.GetResourcesCapability(ctx); err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	} else if ok {
		res.Capabilities.Resources = &mcp.ResourcesFeature{ListChanged: subscribes(rc)}
	}
	if tc, ok, err := d.srv.GetToolsCapability(ctx); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok {
		res.Capabilities.Tools = &mcp.ListChangedFeature{ListChanged: subscribes(tc)}
	}
	if pc, ok, err := d.srv.GetPromptsCapability(ctx); err != nil {
		return nil, fmt.Errorf("get prompts capability: %w", err)
	} else if ok {
		res.Capabilities.Prompts = &mcp.ListChangedFeature{ListChanged: subscribes(pc)}
	}
	return res, nil
}

func subscribes(v any) bool {
	_, ok := v.(mcpservice.ChangeSubscriber)
	return ok
}

func (d *Dispatcher) resources(ctx context.Context) (mcpservice.ResourcesCapability, error) {
	rc, ok, err := d.srv.GetResourcesCapability(ctx)
	if err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	}
	if !ok || rc == nil {
		return nil, unsupported("resources")
	}
	return rc, nil
}

func (d *Dispatcher) handleResourcesList(ctx context.Context, req *jsonrpc.Request) (*mcp.ListResourcesResult, error) {
	var params mcp.ListResourcesRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	rc, err := d.resources(ctx)
	if err != nil {
		return nil, err
	}
	page, err := rc.ListResources(ctx, cursorOf(params.Cursor))
	if err != nil {
		return nil, err
	}
	res := &mcp.ListResourcesResult{Resources: page.Items}
	res.NextCursor = page.Cursor()
	return res, nil
}

func (d *Dispatcher) handleResourcesTemplatesList(ctx context.Context, req *jsonrpc.Request) (*mcp.ListResourceTemplatesResult, error) {
	var params mcp.ListResourceTemplatesRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	rc, err := d.resources(ctx)
	if err != nil {
		return nil, err
	}
	page, err := rc.ListResourceTemplates(ctx, cursorOf(params.Cursor))
	if err != nil {
		return nil, err
	}
	res := &mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items}
	res.NextCursor = page.Cursor()
	return res, nil
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) (*mcp.ReadResourceResult, error) {
	var params mcp.ReadResourceRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "missing uri")
	}
	rc, err := d.resources(ctx)
	if err != nil {
		return nil, err
	}
	contents, err := rc.ReadResource(ctx, params.URI)
	if err != nil {
		return nil, err
	}
	if contents == nil {
		contents = []mcp.ResourceContents{}
	}
	return &mcp.ReadResourceResult{Contents: contents}, nil
}

func (d *Dispatcher) tools(ctx context.Context) (mcpservice.ToolsCapability, error) {
	tc, ok, err := d.srv.GetToolsCapability(ctx)
	if err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	}
	if !ok || tc == nil {
		return nil, unsupported("tools")
	}
	return tc, nil
}

func (d *Dispatcher) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*mcp.ListToolsResult, error) {
	var params mcp.ListToolsRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	tc, err := d.tools(ctx)
	if err != nil {
		return nil, err
	}
	page, err := tc.ListTools(ctx, cursorOf(params.Cursor))
	if err != nil {
		return nil, err
	}
	res := &mcp.ListToolsResult{Tools: page.Items}
	res.NextCursor = page.Cursor()
	return res, nil
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *jsonrpc.Request) (*mcp.CallToolResult, error) {
	var params mcp.CallToolRequestReceived
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "missing tool name")
	}
	tc, err := d.tools(ctx)
	if err != nil {
		return nil, err
	}
	res, err := tc.CallTool(ctx, &params)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &mcp.CallToolResult{}
	}
	if res.Content == nil {
		res.Content = []mcp.ContentBlock{}
	}
	return res, nil
}

func (d *Dispatcher) prompts(ctx context.Context) (mcpservice.PromptsCapability, error) {
	pc, ok, err := d.srv.GetPromptsCapability(ctx)
	if err != nil {
		return nil, fmt.Errorf("get prompts capability: %w", err)
	}
	if !ok || pc == nil {
		return nil, unsupported("prompts")
	}
	return pc, nil
}

func (d *Dispatcher) handlePromptsList(ctx context.Context, req *jsonrpc.Request) (*mcp.ListPromptsResult, error) {
	var params mcp.ListPromptsRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	pc, err := d.prompts(ctx)
	if err != nil {
		return nil, err
	}
	page, err := pc.ListPrompts(ctx, cursorOf(params.Cursor))
	if err != nil {
		return nil, err
	}
	res := &mcp.ListPromptsResult{Prompts: page.Items}
	res.NextCursor = page.Cursor()
	return res, nil
}

func (d *Dispatcher) handlePromptsGet(ctx context.Context, req *jsonrpc.Request) (*mcp.GetPromptResult, error) {
	var params mcp.GetPromptRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "missing prompt name")
	}
	pc, err := d.prompts(ctx)
	if err != nil {
		return nil, err
	}
	res, err := pc.GetPrompt(ctx, &params)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &mcp.GetPromptResult{}
	}
	if res.Messages == nil {
		res.Messages = []mcp.PromptMessage{}
	}
	return res, nil
}
