package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"web-tunnel-go/internal/client"
	"web-tunnel-go/internal/config"
	"web-tunnel-go/internal/handler"
	"web-tunnel-go/internal/metrics"
	"web-tunnel-go/internal/middleware"
	"web-tunnel-go/internal/tunnel"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("web-tunnel"),
		kong.Description("Transparent TCP tunnel with optional in-flight HTTP header rewriting."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.NopLogger,
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			client.NewUpstreamDialer,
			func(d *client.UpstreamDialer) tunnel.Dialer { return d },
			tunnel.NewEngine,
			func(e *tunnel.Engine) handler.PairLister { return e },
			tunnel.NewListener,
			newEcho,
			handler.NewHealthHandler,
			handler.NewPairsHandler,
		),
		fx.Invoke(handler.RegisterRoutes, startTunnel, startAdmin),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	default:
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 10 * time.Second
	e.Server.IdleTimeout = 60 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger.With("component", "admin"), "/healthz", cfg.Metrics.Path))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.MetricsMiddleware(m))

	if limiter := middleware.RateLimiter(cfg.Admin.RateLimit); limiter != nil {
		e.Use(limiter)
		logger.Info("admin rate limiter enabled", "rps", cfg.Admin.RateLimit.RequestsPerSecond)
	}

	return e
}

func startTunnel(lc fx.Lifecycle, l *tunnel.Listener, engine *tunnel.Engine, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if path := cfg.FilePath(); path != "" {
				logger.Debug("loaded config", "path", path)
			}
			return l.Start()
		},
		OnStop: func(ctx context.Context) error {
			lerr := l.Close()

			// The relay gets its own budget; fx's stop timeout still bounds it.
			sctx, cancel := context.WithTimeout(ctx, cfg.Relay.ShutdownTimeout())
			defer cancel()
			if err := engine.Shutdown(sctx); err != nil {
				logger.Warn("relay shutdown incomplete", "err", err, "pairs", engine.Len())
				return err
			}
			return lerr
		},
	})
}

func startAdmin(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Admin.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind admin %s: %w", addr, err)
			}
			logger.Info("starting admin server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("admin server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down admin server")
			return e.Shutdown(ctx)
		},
	})
}
