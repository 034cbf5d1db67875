package main

import (
	"context"
	"errors"
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

	"origin-relay/internal/cache"
	"origin-relay/internal/client"
	"origin-relay/internal/config"
	"origin-relay/internal/handler"
	"origin-relay/internal/metrics"
	"origin-relay/internal/middleware"
	"origin-relay/internal/rewrite"
	"origin-relay/internal/service"
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
		kong.Name("origin-relay"),
		kong.Description("Single-origin relay that rewrites origin URLs back onto its own path prefix."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			newCache,
			newRewriter,
			client.NewOriginClient,
			client.NewGatewayClient,
			service.NewProxyService,
			service.NewFetchService,
			handler.NewProxyHandler,
			handler.NewFetchHandler,
			handler.NewHealthHandler,
			handler.NewLandingHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, watchRules, startServer),
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
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.Origin.Prefix, cfg.Gateway.Path, cfg.Metrics.Path)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// Responses are buffered and written in one piece; the write deadline
	// only has to cover the origin timeout plus the copy to the client.
	e.Server.WriteTimeout = cfg.Origin.Timeout() + 30*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// newCache returns nil when gateway caching is disabled; consumers treat a
// nil cache as "always miss".
func newCache(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *cache.TTLCache {
	if !cfg.Gateway.CachesResponses() {
		logger.Info("gateway cache disabled")
		return nil
	}

	c := cache.New(cfg.Gateway.CacheTTL())
	log := logger.With("component", "cache_janitor")
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			c.StartJanitor(cfg.Gateway.CacheSweepInterval(), func(removed int) {
				m.CacheEvictions.Add(float64(removed))
				if removed > 0 {
					log.Debug("swept expired gateway entries", "removed", removed, "remaining", c.Len())
				}
			})
			return nil
		},
		OnStop: func(_ context.Context) error {
			c.StopJanitor()
			return nil
		},
	})
	return c
}

func newRewriter(cfg *config.Config) (*rewrite.Rewriter, error) {
	return rewrite.New(rewrite.Options{
		Origin:     cfg.Origin.OriginURL(),
		Prefix:     cfg.Origin.Prefix,
		FetchPath:  cfg.Gateway.Path,
		AuxHosts:   cfg.Gateway.AllowedHosts,
		InjectShim: cfg.Rewrite.ShimEnabled(),
	})
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// watchRules loads the optional extra rules file and keeps it hot-reloaded.
func watchRules(lc fx.Lifecycle, cfg *config.Config, rw *rewrite.Rewriter, logger *slog.Logger) error {
	if cfg.Rewrite.RulesFile == "" {
		return nil
	}

	w, err := rewrite.NewWatcher(cfg.Rewrite.RulesFile, rw, logger)
	if err != nil {
		return fmt.Errorf("rewrite rules: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return w.Close()
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"origin", cfg.Origin.BaseURL,
				"prefix", cfg.Origin.Prefix,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
