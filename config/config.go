// Package config loads server settings from the environment and an optional
// TOML file.
//
// Environment variables are read with envdecode and carry the MCP_SSE_ prefix.
// Keys present in a TOML file passed to LoadFile override them.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
)

// Config holds the settings of the mcp-sse-server command.
type Config struct {
	Addr        string `env:"MCP_SSE_ADDR,default=:8080"`
	StreamPath  string `env:"MCP_SSE_STREAM_PATH,default=/sse"`
	MessagePath string `env:"MCP_SSE_MESSAGE_PATH,default=/message"`

	Heartbeat     time.Duration `env:"MCP_SSE_HEARTBEAT,default=30s"`
	SessionTTL    time.Duration `env:"MCP_SSE_SESSION_TTL,default=30m"`
	SweepInterval time.Duration `env:"MCP_SSE_SWEEP_INTERVAL"`
	RetryMS       int           `env:"MCP_SSE_RETRY_MS"`

	StrictSessionHeader bool  `env:"MCP_SSE_STRICT_SESSION_HEADER,default=false"`
	MaxBodyBytes        int64 `env:"MCP_SSE_MAX_BODY_BYTES,default=4194304"`

	// RedisAddr enables the Redis broker for broadcasts when set.
	RedisAddr   string `env:"MCP_SSE_REDIS_ADDR"`
	RedisPrefix string `env:"MCP_SSE_REDIS_PREFIX,default=mcp:sse:broker:"`

	// ResourcesDir serves a directory tree as resources when set.
	ResourcesDir string `env:"MCP_SSE_RESOURCES_DIR"`
	BaseURI      string `env:"MCP_SSE_BASE_URI,default=file:///"`

	LogLevel  string `env:"MCP_SSE_LOG_LEVEL,default=info"`
	LogFormat string `env:"MCP_SSE_LOG_FORMAT,default=text"`
}

// FromEnv decodes a Config from MCP_SSE_* variables, applying defaults for
// unset ones.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("config: decode env: %w", err)
	}
	return cfg, nil
}

type fileConfig struct {
	Addr                string `toml:"addr"`
	StreamPath          string `toml:"stream_path"`
	MessagePath         string `toml:"message_path"`
	Heartbeat           string `toml:"heartbeat"`
	HeartbeatMS         int64  `toml:"heartbeat_ms"`
	SessionTTL          string `toml:"session_ttl"`
	SweepInterval       string `toml:"sweep_interval"`
	RetryMS             int    `toml:"retry_ms"`
	StrictSessionHeader bool   `toml:"strict_session_header"`
	MaxBodyBytes        int64  `toml:"max_body_bytes"`
	RedisAddr           string `toml:"redis_addr"`
	RedisPrefix         string `toml:"redis_prefix"`
	ResourcesDir        string `toml:"resources_dir"`
	BaseURI             string `toml:"base_uri"`
	LogLevel            string `toml:"log_level"`
	LogFormat           string `toml:"log_format"`
}

// LoadFile overlays the keys defined in the TOML file at path onto cfg.
func LoadFile(cfg Config, path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	str := func(key, v string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key, v string, dst *time.Duration) error {
		if !meta.IsDefined(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("addr", raw.Addr, &cfg.Addr)
	str("stream_path", raw.StreamPath, &cfg.StreamPath)
	str("message_path", raw.MessagePath, &cfg.MessagePath)
	str("redis_addr", raw.RedisAddr, &cfg.RedisAddr)
	str("redis_prefix", raw.RedisPrefix, &cfg.RedisPrefix)
	str("resources_dir", raw.ResourcesDir, &cfg.ResourcesDir)
	str("base_uri", raw.BaseURI, &cfg.BaseURI)
	str("log_level", raw.LogLevel, &cfg.LogLevel)
	str("log_format", raw.LogFormat, &cfg.LogFormat)

	if err := dur("heartbeat", raw.Heartbeat, &cfg.Heartbeat); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("heartbeat_ms") {
		cfg.Heartbeat = time.Duration(raw.HeartbeatMS) * time.Millisecond
	}
	if err := dur("session_ttl", raw.SessionTTL, &cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if err := dur("sweep_interval", raw.SweepInterval, &cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("retry_ms") {
		cfg.RetryMS = raw.RetryMS
	}
	if meta.IsDefined("strict_session_header") {
		cfg.StrictSessionHeader = raw.StrictSessionHeader
	}
	if meta.IsDefined("max_body_bytes") {
		cfg.MaxBodyBytes = raw.MaxBodyBytes
	}
	return cfg, nil
}

// Load reads the environment and, when path is not empty, overlays the file.
func Load(path string) (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if cfg, err = LoadFile(cfg, path); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("config: addr is required")
	case !strings.HasPrefix(c.StreamPath, "/"):
		return fmt.Errorf("config: stream path %q must start with /", c.StreamPath)
	case !strings.HasPrefix(c.MessagePath, "/"):
		return fmt.Errorf("config: message path %q must start with /", c.MessagePath)
	case c.StreamPath == c.MessagePath:
		return fmt.Errorf("config: stream and message paths must differ (both %q)", c.StreamPath)
	case c.Heartbeat <= 0:
		return fmt.Errorf("config: heartbeat must be positive, got %s", c.Heartbeat)
	case c.SessionTTL <= 0:
		return fmt.Errorf("config: session ttl must be positive, got %s", c.SessionTTL)
	case c.SweepInterval < 0:
		return fmt.Errorf("config: sweep interval must not be negative, got %s", c.SweepInterval)
	case c.RetryMS < 0:
		return fmt.Errorf("config: retry must not be negative, got %d", c.RetryMS)
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("config: max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return lvl, nil
}
