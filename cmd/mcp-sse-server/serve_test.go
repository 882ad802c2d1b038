package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-go/config"
	"github.com/ggoodman/mcp-sse-go/ssehttp"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

func startServe(t *testing.T, cfg config.Config) (base string, stop func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, slog.New(slog.DiscardHandler), ln) }()
	stopped := false
	stop = func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatalf("serve did not return")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return "http://" + ln.Addr().String(), stop
}

func readSessionID(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	var event string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "connected":
			var payload struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
				t.Fatalf("decode connected: %v", err)
			}
			return payload.SessionID
		}
	}
}

func TestServeRoundTripAndShutdown(t *testing.T) {
	base, stop := startServe(t, testConfig(t))

	resp, err := http.Get(base + "/sse")
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	defer resp.Body.Close()
	sid := readSessionID(t, bufio.NewReader(resp.Body))

	req, _ := http.NewRequest(http.MethodPost, base+"/message", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ssehttp.SessionHeader, sid)
	post, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /message: %v", err)
	}
	body, _ := io.ReadAll(post.Body)
	post.Body.Close()
	if !bytes.Contains(body, []byte("you said: hi")) {
		t.Fatalf("unexpected tools/call response: %s", body)
	}

	if err := stop(); err != nil {
		t.Fatalf("serve returned %v", err)
	}
	// Shutdown ends the push connection, so draining returns.
	_, _ = io.Copy(io.Discard, resp.Body)
}

func TestServeResourcesDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := testConfig(t)
	cfg.ResourcesDir = dir
	base, _ := startServe(t, cfg)

	resp, err := http.Get(base + "/sse")
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	defer resp.Body.Close()
	sid := readSessionID(t, bufio.NewReader(resp.Body))

	post, err := http.Post(base+"/message", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"resources/list","params":{},"sessionId":"`+sid+`"}`))
	if err != nil {
		t.Fatalf("POST /message: %v", err)
	}
	body, _ := io.ReadAll(post.Body)
	post.Body.Close()
	if !bytes.Contains(body, []byte("notes.txt")) {
		t.Fatalf("expected notes.txt in listing: %s", body)
	}
}

func TestServeRejectsMissingResourcesDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.ResourcesDir = filepath.Join(t.TempDir(), "missing")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if err := serve(context.Background(), cfg, slog.New(slog.DiscardHandler), ln); err == nil {
		t.Fatalf("expected error for missing resources dir")
	}
}

func TestNewLoggerFormats(t *testing.T) {
	cfg := testConfig(t)
	var buf bytes.Buffer
	cfg.LogFormat = "json"
	log, err := newLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("probe")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"
	log, err = newLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "msg=shown") {
		t.Fatalf("unexpected text output %q", buf.String())
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand("1.2.3", "abc", "today")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "1.2.3 (commit: abc") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}
