package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ggoodman/mcp-sse-go/config"
	"github.com/ggoodman/mcp-sse-go/mcp"
	"github.com/ggoodman/mcp-sse-go/mcpservice"
)

const readmeURI = "mcp-sse://readme"

func serverInfo() mcp.ImplementationInfo {
	return mcp.ImplementationInfo{Name: "mcp-sse-server", Version: version}
}

// newResources serves cfg.ResourcesDir when set, with a watcher that signals
// list changes. Otherwise it serves a single in-memory readme.
func newResources(cfg config.Config, log *slog.Logger) (mcpservice.ResourcesCapability, func(context.Context) error, error) {
	if cfg.ResourcesDir == "" {
		readme := mcp.Resource{URI: readmeURI, Name: "readme", MimeType: "text/plain"}
		return mcpservice.NewResourcesContainer(
			[]mcp.Resource{readme},
			nil,
			map[string][]mcp.ResourceContents{
				readmeURI: {{URI: readmeURI, MimeType: "text/plain", Text: "Open " + cfg.StreamPath + " and POST request calls to " + cfg.MessagePath + "."}},
			},
		), nil, nil
	}
	fi, err := os.Stat(cfg.ResourcesDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resources dir: %w", err)
	}
	if !fi.IsDir() {
		return nil, nil, fmt.Errorf("resources dir %s is not a directory", cfg.ResourcesDir)
	}
	fsr := mcpservice.NewFSResources(
		mcpservice.WithOSDir(cfg.ResourcesDir),
		mcpservice.WithBaseURI(cfg.BaseURI),
		mcpservice.WithFSLogger(log),
	)
	return fsr, fsr.Watch, nil
}

type echoArgs struct {
	Message string `json:"message" jsonschema:"minLength=1,description=Text to echo back"`
}

type timeArgs struct {
	Zone string `json:"zone,omitempty" jsonschema:"description=IANA time zone such as Europe/Paris; defaults to UTC"`
}

func newTools() *mcpservice.ToolsContainer {
	echo := mcpservice.NewTool("echo", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
		return w.AppendText("you said: " + r.Args().Message)
	}, mcpservice.WithToolDescription("Echo a message back to the caller"))

	now := mcpservice.NewTool("time", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[timeArgs]) error {
		zone := r.Args().Zone
		if zone == "" {
			zone = "UTC"
		}
		loc, err := time.LoadLocation(zone)
		if err != nil {
			w.SetError(true)
			return w.AppendText(fmt.Sprintf("unknown zone %q", zone))
		}
		return w.AppendText(time.Now().In(loc).Format(time.RFC3339))
	}, mcpservice.WithToolDescription("Report the current time"))

	return mcpservice.NewToolsContainer(echo, now)
}

func newPrompts() *mcpservice.PromptsContainer {
	greet := mcpservice.StaticPrompt{
		Descriptor: mcp.Prompt{
			Name:        "greet",
			Description: "Greet someone by name",
			Arguments:   []mcp.PromptArgument{{Name: "name", Required: true}},
		},
		Handler: func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			name := req.Arguments["name"]
			if name == "" {
				name = "there"
			}
			return &mcp.GetPromptResult{
				Description: "Greeting",
				Messages: []mcp.PromptMessage{{
					Role:    mcp.RoleUser,
					Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: "Say hello to " + name + "."},
				}},
			}, nil
		},
	}
	return mcpservice.NewPromptsContainer(greet)
}
