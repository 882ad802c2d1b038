package ssehttp

import (
	"io"
	"net/http"
)

// flushWriter is the sink bound to a push connection's stream. The stream
// already serializes writes, so no locking happens here.
type flushWriter struct {
	io.Writer
	f http.Flusher
}

func newSink(w http.ResponseWriter) *flushWriter {
	f, _ := w.(http.Flusher)
	return &flushWriter{Writer: w, f: f}
}

func (fw *flushWriter) Flush() {
	if fw.f != nil {
		fw.f.Flush()
	}
}
