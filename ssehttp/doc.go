// Package ssehttp is the HTTP frontend of the SSE transport. It mounts as a
// standard net/http handler exposing two endpoints:
//
//   - GET /sse opens a push connection. A session is created, the first
//     frame is "event: connected" carrying {"sessionId": "<id>"}, and a
//     heartbeat ("event: ping") runs until the connection ends. Leaving the
//     handler always removes the session.
//   - POST /message accepts one JSON-RPC request. The session id comes from
//     the X-MCP-Session-ID header or the body's sessionId field. The
//     response is written synchronously on the POST, never on the push
//     connection, and is always 200 application/json once dispatch runs.
//
// Server-initiated messages travel on the push connection as
// "event: message" frames: Notify targets one session, Broadcast goes
// through a broker.Broker so every process serving sessions delivers it.
// Run consumes the broker, sweeps expired sessions and forwards catalogue
// change signals as list_changed notifications.
//
// Example:
//
//	h, err := ssehttp.New(server, ssehttp.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	go h.Run(ctx)
//	defer h.Close()
//	http.ListenAndServe(":8080", h)
package ssehttp
