package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"origin-relay/internal/config"
	"origin-relay/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// m may be nil; the metrics endpoint is only mounted when enabled in cfg.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	proxy *ProxyHandler,
	fetch *FetchHandler,
	health *HealthHandler,
	landing *LandingHandler,
	m *metrics.Metrics,
) {
	e.GET("/", landing.Handle)
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET(cfg.Gateway.Path, fetch.Handle)

	prefix := cfg.Origin.Prefix
	e.Any(prefix, proxy.Handle)
	e.Any(prefix+"/*", proxy.Handle)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
