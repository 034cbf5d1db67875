package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"origin-relay/internal/cache"
	"origin-relay/internal/metrics"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer origin.Close()

	cfg := testConfig(origin.URL, "fonts.gstatic.com")
	cfg.Metrics.Enabled = true
	ttl := cache.New(time.Hour)
	m := metrics.New(cfg.Origin.Prefix, cfg.Gateway.Path)

	e := echo.New()
	RegisterRoutes(e, cfg,
		newTestProxyHandler(t, cfg),
		newTestFetchHandler(cfg, ttl),
		NewHealthHandler(cfg, ttl, "test"),
		NewLandingHandler(cfg),
		m,
	)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /", http.MethodGet, "/", http.StatusOK},
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"GET /app", http.MethodGet, "/app", http.StatusOK},
		{"GET /app/deep/path", http.MethodGet, "/app/deep/path?x=1", http.StatusOK},
		{"POST /app/api", http.MethodPost, "/app/api", http.StatusOK},
		{"DELETE /app/api/1", http.MethodDelete, "/app/api/1", http.StatusOK},
		{"GET /fetch without url", http.MethodGet, "/fetch", http.StatusBadRequest},
		{"GET /fetch forbidden", http.MethodGet, "/fetch?url=https%3A%2F%2Fevil.example.net%2F", http.StatusForbidden},
		{"GET /application is not the prefix", http.MethodGet, "/application", http.StatusNotFound},
		{"GET /unknown", http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	cfg := testConfig("https://app.example.com")
	ttl := cache.New(time.Hour)

	e := echo.New()
	RegisterRoutes(e, cfg,
		newTestProxyHandler(t, cfg),
		newTestFetchHandler(cfg, ttl),
		NewHealthHandler(cfg, ttl, "test"),
		NewLandingHandler(cfg),
		nil,
	)

	for _, r := range e.Routes() {
		if strings.HasPrefix(r.Path, "/metrics") {
			t.Errorf("unexpected metrics route %s %s", r.Method, r.Path)
		}
	}
}
