// Package mcpservice provides the capability catalogues the dispatcher routes
// requests to: resources, tools and prompts. It exposes capability interfaces
// consumed by the dispatch package plus ready-made containers for servers that
// want to advertise a fixed or occasionally changing set of entries.
//
// Catalogues know nothing about transports or sessions. The dispatcher places
// the caller's session id on the context (see SessionIDFromContext) for
// handlers that need to address the caller's push stream.
//
// Errors returned by catalogues are classified by the dispatcher: anything
// wrapping ErrNotFound or ErrInvalidParams becomes an invalid-params error,
// everything else an internal error.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool("echo", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText("you said: " + r.Args().Message)
//	    }, mcpservice.WithToolDescription("Echo a message back to the caller")),
//	)
//	res := mcpservice.NewResourcesContainer(
//	    []mcp.Resource{{URI: "res://hello.txt", Name: "hello.txt"}},
//	    nil,
//	    map[string][]mcp.ResourceContents{
//	        "res://hello.txt": {{URI: "res://hello.txt", Text: "hello"}},
//	    },
//	)
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithResourcesCapability(res),
//	    mcpservice.WithToolsCapability(tools),
//	)
//
// Containers implement ChangeSubscriber. When a catalogue implements it the
// initialize result advertises listChanged and the transport forwards change
// signals to connected clients as list_changed notifications.
package mcpservice
