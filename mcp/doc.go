// Package mcp contains the protocol payload types and method names carried
// inside JSON-RPC envelopes by the SSE transport. It mirrors the wire
// representation of the Model Context Protocol while keeping the surface
// Go-friendly (exported structs with json tags, string constants for method
// names and enumerations).
//
// The package holds no transport logic. Framing and session correlation live
// in ssehttp and eventstream; envelopes live in internal/jsonrpc; the
// dispatcher decodes params into these types and encodes results from them.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Method.IsNotification distinguishes server-push
// notifications from request methods.
//
// # Capabilities
//
// ServerCapabilities is returned from initialize. A nil member means the
// capability is absent; the dispatcher derives it from which catalogues are
// registered.
//
// # Pagination
//
// List operations use cursor-based pagination. PaginatedRequest and
// PaginatedResult are embedded in request and result envelopes.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
package mcp
