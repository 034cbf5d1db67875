package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"origin-relay/internal/cache"
	"origin-relay/internal/client"
	"origin-relay/internal/codec"
	"origin-relay/internal/config"
	"origin-relay/internal/model"
	"origin-relay/internal/rewrite"
	"origin-relay/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(originURL string, allowedHosts ...string) *config.Config {
	return &config.Config{
		Origin: config.OriginConfig{
			BaseURL:         originURL,
			Prefix:          "/app",
			UserAgent:       config.DefaultUserAgent,
			TimeoutSeconds:  10,
			IdleConnections: 10,
			MaxBodyBytes:    1 << 20,
		},
		Gateway: config.GatewayConfig{
			Path:           "/fetch",
			AllowedHosts:   allowedHosts,
			TimeoutSeconds: 10,
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
}

func newTestProxyHandler(t *testing.T, cfg *config.Config) *ProxyHandler {
	t.Helper()
	u, err := url.Parse(cfg.Origin.BaseURL)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	rw, err := rewrite.New(rewrite.Options{
		Origin:     u,
		Prefix:     cfg.Origin.Prefix,
		FetchPath:  cfg.Gateway.Path,
		AuxHosts:   cfg.Gateway.AllowedHosts,
		InjectShim: true,
	})
	if err != nil {
		t.Fatalf("rewrite.New: %v", err)
	}
	svc, err := service.NewProxyService(client.NewOriginClient(cfg, testLogger(), nil), rw, cfg, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return NewProxyHandler(svc, testLogger())
}

func newTestFetchHandler(cfg *config.Config, c *cache.TTLCache) *FetchHandler {
	svc := service.NewFetchService(client.NewGatewayClient(cfg, testLogger(), nil), c, cfg, testLogger(), nil)
	return NewFetchHandler(svc, testLogger())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return body["error"]
}

func TestProxyHandler_Handle_RewritesCompressedHTML(t *testing.T) {
	var originURL string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := `<html><head></head><body><a href="` + originURL + `/app/x">x</a>` +
			`<script src="https://cdn.jsdelivr.net/npm/a.js" integrity="sha384-x"></script></body></html>`
		b, _ := codec.Encode(model.DecodedPayload{Encoding: model.EncodingBrotli, Bytes: []byte(page)})
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "br")
		w.Header().Set("X-Frame-Options", "DENY")
		_, _ = w.Write(b)
	}))
	defer origin.Close()
	originURL = origin.URL

	h := newTestProxyHandler(t, testConfig(origin.URL, "cdn.jsdelivr.net"))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/app/", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if cl := rec.Header().Get("Content-Length"); cl != strconv.Itoa(rec.Body.Len()) {
		t.Errorf("Content-Length = %s, body is %d bytes", cl, rec.Body.Len())
	}
	if rec.Header().Get("X-Frame-Options") != "" {
		t.Error("X-Frame-Options should be stripped")
	}

	decoded, err := codec.Decode(rec.Body.Bytes(), rec.Header().Get("Content-Encoding"), 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	page := string(decoded.Bytes)
	if !strings.Contains(page, `href="/app/x"`) {
		t.Errorf("origin link not rewritten: %s", page)
	}
	if !strings.Contains(page, `src="/fetch?url=https%3A%2F%2Fcdn.jsdelivr.net%2Fnpm%2Fa.js"`) {
		t.Errorf("aux script not routed through gateway: %s", page)
	}
	if strings.Contains(page, "integrity") {
		t.Errorf("integrity attribute not stripped: %s", page)
	}
}

func TestProxyHandler_Handle_POST(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":"` + string(body) + `"}`))
	}))
	defer origin.Close()

	h := newTestProxyHandler(t, testConfig(origin.URL))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/app/api/echo", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `{"received":"hello"}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestProxyHandler_Handle_HEAD(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("origin method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", "5000")
	}))
	defer origin.Close()

	h := newTestProxyHandler(t, testConfig(origin.URL))

	e := echo.New()
	req := httptest.NewRequest(http.MethodHead, "/app/ping", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD body = %q, want empty", rec.Body.String())
	}
	if cl := rec.Header().Get("Content-Length"); cl != "5000" {
		t.Errorf("Content-Length = %q, want 5000", cl)
	}
	if ce := rec.Header().Get("Content-Encoding"); ce != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", ce)
	}
}

func TestProxyHandler_Handle_Errors(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer slow.Close()

	huge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer huge.Close()

	tests := []struct {
		name       string
		cfg        func() *config.Config
		wantStatus int
	}{
		{
			name: "unreachable",
			cfg: func() *config.Config {
				return testConfig("http://127.0.0.1:1")
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "timeout",
			cfg: func() *config.Config {
				cfg := testConfig(slow.URL)
				cfg.Origin.TimeoutSeconds = 1
				return cfg
			},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name: "too large",
			cfg: func() *config.Config {
				cfg := testConfig(huge.URL)
				cfg.Origin.MaxBodyBytes = 1024
				return cfg
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestProxyHandler(t, tt.cfg())

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/app/", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.Handle(c); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if decodeError(t, rec) == "" {
				t.Error("expected non-empty error message in response")
			}
		})
	}
}
