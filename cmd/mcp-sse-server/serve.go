package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ggoodman/mcp-sse-go/broker/redis"
	"github.com/ggoodman/mcp-sse-go/config"
	"github.com/ggoodman/mcp-sse-go/mcpservice"
	"github.com/ggoodman/mcp-sse-go/ssehttp"
	"github.com/spf13/cobra"
)

const shutdownGrace = 10 * time.Second

type serveFlags struct {
	configPath string
	addr       string
	logLevel   string
	resources  string
}

func newServeCommand() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SSE transport",
		Example: `  mcp-sse-server serve --addr :8080
  mcp-sse-server serve --config server.toml --resources ./docs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = flags.addr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = flags.logLevel
			}
			if cmd.Flags().Changed("resources") {
				cfg.ResourcesDir = flags.resources
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Addr, err)
			}
			return serve(ctx, cfg, log, ln)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "TOML config file overlaid on MCP_SSE_* settings")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	cmd.Flags().StringVar(&flags.resources, "resources", "", "directory served as resources (overrides config)")
	return cmd
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// serve runs the transport on ln until ctx ends, then closes every session
// and drains the HTTP server.
func serve(ctx context.Context, cfg config.Config, log *slog.Logger, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		opts     []ssehttp.Option
		watchers []func(context.Context) error
	)

	resources, watch, err := newResources(cfg, log)
	if err != nil {
		return err
	}
	if watch != nil {
		watchers = append(watchers, watch)
	}
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(serverInfo()),
		mcpservice.WithInstructions("Read resources, call the echo and time tools, or render the greet prompt."),
		mcpservice.WithResourcesCapability(resources),
		mcpservice.WithToolsCapability(newTools()),
		mcpservice.WithPromptsCapability(newPrompts()),
	)

	if cfg.RedisAddr != "" {
		b := redis.New(redis.Config{Addr: cfg.RedisAddr, KeyPrefix: cfg.RedisPrefix})
		defer func() { _ = b.Close() }()
		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		err := b.Ping(pingCtx)
		cancelPing()
		if err != nil {
			return fmt.Errorf("redis broker %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, ssehttp.WithBroker(b))
		log.InfoContext(ctx, "broker.redis", slog.String("addr", cfg.RedisAddr))
	}

	opts = append(opts,
		ssehttp.WithLogger(log),
		ssehttp.WithPaths(cfg.StreamPath, cfg.MessagePath),
		ssehttp.WithHeartbeatInterval(cfg.Heartbeat),
		ssehttp.WithSessionTTL(cfg.SessionTTL),
		ssehttp.WithSweepInterval(cfg.SweepInterval),
		ssehttp.WithRetry(cfg.RetryMS),
		ssehttp.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	if cfg.StrictSessionHeader {
		opts = append(opts, ssehttp.WithStrictSessionHeader())
	}
	h, err := ssehttp.New(srv, opts...)
	if err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = h.Run(ctx)
	}()
	for _, watch := range watchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watch(ctx); err != nil {
				log.WarnContext(ctx, "resources.watch.fail", slog.String("err", err.Error()))
			}
		}()
	}

	httpSrv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()
	log.InfoContext(ctx, "server.start",
		slog.String("addr", ln.Addr().String()),
		slog.String("stream", cfg.StreamPath),
		slog.String("message", cfg.MessagePath),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http serve: %w", err)
		}
	}

	// Push connections only return once their session closes, so sessions
	// end before the HTTP server drains.
	_ = h.Close()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	cancel()
	wg.Wait()
	log.Info("server.stop")
	return runErr
}
