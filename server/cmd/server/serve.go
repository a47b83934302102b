package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rubistv/viewertrack/server/internal/admin"
	"github.com/rubistv/viewertrack/server/internal/api"
	"github.com/rubistv/viewertrack/server/internal/config"
	"github.com/rubistv/viewertrack/server/internal/metrics"
	"github.com/rubistv/viewertrack/server/internal/registry"
	"github.com/rubistv/viewertrack/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	configPath     string
	configExplicit bool
	addr           string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the viewer tracker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.configExplicit = cmd.Flags().Changed("config")
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (host:port), overrides server.host/port")
	return cmd
}

func serve(ctx context.Context, opts serveOptions) error {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("viewertrack-server starting", "version", version, "config", opts.configPath)

	load := config.LoadOptional
	if opts.configExplicit {
		load = config.Load
	}
	cfg, err := load(opts.configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return err
	}
	level.Set(cfg.Log.SlogLevel())

	addr := cfg.Server.Addr()
	if opts.addr != "" {
		addr = opts.addr
	}
	slog.Info("config loaded",
		"addr", addr,
		"admin_port", cfg.Server.AdminPort,
		"send_buffer", cfg.Server.SendBuffer,
		"channel_idle_ttl", cfg.Server.ChannelIdleTTL,
		"log_level", cfg.Log.Level,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(cfg.Server.ChannelIdleTTL)
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	hub := ws.New(reg, ws.Options{
		SendBuffer:     cfg.Server.SendBuffer,
		WelcomeMessage: cfg.Server.WelcomeMessage,
		Recorder:       m.Recorder,
	})

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("failed to listen", "addr", addr, "err", err)
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	httpSrv := &http.Server{
		Handler:           newRouter(reg, hub, m, time.Now()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reg.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", lis.Addr().String())
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are closed by hub.Run, not here.
		return httpSrv.Shutdown(shutdownCtx)
	})

	if cfg.Server.AdminPort != 0 {
		adminLis, err := net.Listen("tcp", cfg.Server.AdminAddr())
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("listen admin %s: %w", cfg.Server.AdminAddr(), err)
		}
		adm := admin.New(cfg.Server.AdminAuth.EffectiveHeader(), cfg.Server.AdminAuth.Key())
		g.Go(func() error { return adm.Serve(gctx, adminLis) })
	}

	g.Go(func() error {
		err := config.Watch(gctx, opts.configPath, func(updated *config.Config) {
			level.Set(updated.Log.SlogLevel())
			hub.SetWelcomeMessage(updated.Server.WelcomeMessage)
			slog.Info("config hot-reloaded", "log_level", updated.Log.Level)
		})
		if err != nil {
			// Hot reload is optional; keep serving with the loaded config.
			slog.Warn("config watcher stopped", "err", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("viewertrack-server shut down")
	return err
}

// newRouter mounts the viewer WebSocket, the reporting API and /metrics.
// WebSocket upgrades are accepted on /ws and on any other path, so clients
// that dial the bare host keep working.
func newRouter(reg *registry.Registry, hub *ws.Hub, m *metrics.Metrics, started time.Time) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(reg, api.Info{
		Name:      serverName,
		Version:   version,
		StartedAt: started,
	}))
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/ws", hub)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			hub.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
	return mux
}
