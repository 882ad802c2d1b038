package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.StreamPath != "/sse" || cfg.MessagePath != "/message" {
		t.Fatalf("unexpected endpoints: %+v", cfg)
	}
	if cfg.Heartbeat != 30*time.Second {
		t.Fatalf("expected 30s heartbeat, got %s", cfg.Heartbeat)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", cfg.SessionTTL)
	}
	if cfg.MaxBodyBytes != 4<<20 {
		t.Fatalf("expected 4MiB body limit, got %d", cfg.MaxBodyBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MCP_SSE_ADDR", "127.0.0.1:9000")
	t.Setenv("MCP_SSE_HEARTBEAT", "5s")
	t.Setenv("MCP_SSE_STRICT_SESSION_HEADER", "true")
	t.Setenv("MCP_SSE_REDIS_ADDR", "redis:6379")
	t.Setenv("MCP_SSE_LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.Heartbeat != 5*time.Second || !cfg.StrictSessionHeader || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if lvl, err := cfg.Level(); err != nil || lvl.String() != "DEBUG" {
		t.Fatalf("expected DEBUG, got %v (%v)", lvl, err)
	}
}

func TestFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("MCP_SSE_HEARTBEAT", "soon")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestLoadFileOverlaysDefinedKeys(t *testing.T) {
	base, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	path := writeFile(t, `
addr = ":7070"
heartbeat_ms = 1500
session_ttl = "10m"
strict_session_header = true
resources_dir = " ./docs "
log_format = "json"
`)
	cfg, err := LoadFile(base, path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("addr not overlaid: %q", cfg.Addr)
	}
	if cfg.Heartbeat != 1500*time.Millisecond {
		t.Fatalf("heartbeat not overlaid: %s", cfg.Heartbeat)
	}
	if cfg.SessionTTL != 10*time.Minute || !cfg.StrictSessionHeader {
		t.Fatalf("ttl or strict not overlaid: %+v", cfg)
	}
	if cfg.ResourcesDir != "./docs" || cfg.LogFormat != "json" {
		t.Fatalf("strings not overlaid: %+v", cfg)
	}
	// Keys absent from the file keep their prior values.
	if cfg.StreamPath != base.StreamPath || cfg.MaxBodyBytes != base.MaxBodyBytes {
		t.Fatalf("undefined keys changed: %+v", cfg)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown key", body: `colour = "blue"`, want: "unknown key"},
		{name: "bad duration", body: `session_ttl = "forever"`, want: "parse session_ttl"},
		{name: "bad syntax", body: `addr = `, want: "load"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(Config{}, writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := LoadFile(Config{}, filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadValidates(t *testing.T) {
	path := writeFile(t, `message_path = "/sse"`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected path clash, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"relative stream path", func(c *Config) { c.StreamPath = "sse" }},
		{"relative message path", func(c *Config) { c.MessagePath = "message" }},
		{"zero heartbeat", func(c *Config) { c.Heartbeat = 0 }},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"negative sweep", func(c *Config) { c.SweepInterval = -time.Second }},
		{"negative retry", func(c *Config) { c.RetryMS = -1 }},
		{"zero body", func(c *Config) { c.MaxBodyBytes = 0 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
