package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"origin-relay/internal/cache"
	"origin-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	cache   *cache.TTLCache
	version Version
}

// NewHealthHandler creates a HealthHandler. cache may be nil when the
// gateway cache is disabled.
func NewHealthHandler(cfg *config.Config, c *cache.TTLCache, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, cache: c, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	OriginURL    string   `json:"origin_url"`
	Prefix       string   `json:"prefix"`
	GatewayPath  string   `json:"gateway_path"`
	AllowedHosts []string `json:"allowed_hosts"`
	CacheEnabled bool     `json:"cache_enabled"`
	CacheEntries int      `json:"cache_entries"`
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	res := statusResponse{
		Status:       "ok",
		Version:      string(h.version),
		OriginURL:    h.cfg.Origin.BaseURL,
		Prefix:       h.cfg.Origin.Prefix,
		GatewayPath:  h.cfg.Gateway.Path,
		AllowedHosts: h.cfg.Gateway.AllowedHosts,
	}
	if h.cache != nil {
		res.CacheEnabled = true
		res.CacheEntries = h.cache.Len()
	}
	return c.JSON(http.StatusOK, res)
}
