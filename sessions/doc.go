// Package sessions owns the lifecycle of push-channel sessions.
//
// A Session correlates one open event stream with the request calls a client
// makes afterwards. Sessions are identified by an opaque token issued when the
// stream opens and live in a Registry until one of four things happens:
//
//   - the push connection goes away (the transport removes it on exit)
//   - a write to the stream fails, including a heartbeat
//   - the Sweeper finds it older than the configured TTL
//   - the process shuts down and calls CloseAll
//
// Whichever path runs first removes the registry entry and completes the
// stream; every other path then observes a no-op. The registry map is the
// only structure shared across goroutines and is guarded by a RWMutex, so
// Create, Get and Remove are linearizable.
//
// Layers & Roles
//
//	Transport  -> creates sessions on GET, resolves them on POST
//	Registry   -> id -> *Session map, exactly-once teardown
//	Session    -> id, creation time, stream, closed flag
//	Sweeper    -> periodic expiry of sessions older than the TTL
//
// Example:
//
//	reg := sessions.NewRegistry()
//	sess := reg.Create()
//	_ = sess.Stream().Attach(w)
//	go sessions.NewSweeper(reg, sessions.WithTTL(30*time.Minute)).Run(ctx)
//	defer reg.Remove(sess.ID())
package sessions
