// Package eventstream implements the server side of a text/event-stream push
// channel.
//
// A Stream owns exactly one sink (normally an http.ResponseWriter) and
// serializes every frame written to it. It moves from open to closed exactly
// once; closing releases the sink, wakes every goroutine parked in Wait or
// selecting on Done, and runs registered OnClose hooks. A failed write is
// treated as a dead connection and closes the stream.
//
// Frame format
//
//	event: <name>\n        (omitted when name is empty)
//	data: <line 1>\n
//	data: <line n>\n
//	\n
//
// plus retry frames ("retry: <ms>\n\n") and comment frames (": text\n\n").
//
// KeepAlive runs alongside a stream and emits "event: ping" frames at a fixed
// interval. It exits as soon as the stream closes or a heartbeat write fails;
// heartbeats are never retried.
//
// Example:
//
//	s := eventstream.New()
//	if err := s.Attach(w); err != nil { return err }
//	go eventstream.NewKeepAlive(s, eventstream.WithInterval(30*time.Second)).Run(ctx)
//	_ = s.EmitJSON("connected", map[string]string{"sessionId": id})
//	_ = s.Wait(ctx)
package eventstream
