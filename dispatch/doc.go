// Package dispatch turns one inbound request call into one response
// envelope.
//
// The pipeline is fixed:
//
//  1. parse the body as a JSON-RPC request (PARSE_ERROR "invalid payload")
//  2. validate jsonrpc, method and id (INVALID_REQUEST)
//  3. pick the session id from the X-MCP-Session-ID header or the body
//     sessionId field and resolve it (INVALID_REQUEST "missing session id" /
//     "invalid session id")
//  4. route the method to a capability catalogue (METHOD_NOT_FOUND)
//  5. decode params and invoke the catalogue (INVALID_PARAMS / INTERNAL_ERROR)
//
// The response is always returned to the caller; nothing is written to the
// session's event stream. Catalogue lookups that miss (mcpservice.ErrNotFound)
// and malformed arguments (mcpservice.ErrInvalidParams) are reported as
// INVALID_PARAMS. Any other catalogue error, including a panic, becomes
// INTERNAL_ERROR with a short message and is logged with full detail.
package dispatch
