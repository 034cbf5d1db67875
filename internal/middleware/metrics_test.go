package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"

	"origin-relay/internal/metrics"
)

type series struct {
	labels map[string]string
	metric *dto.Metric
}

// gather returns every series of the named family.
func gather(t *testing.T, m *metrics.Metrics, name string) []series {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var out []series
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out = append(out, series{labels: labels, metric: metric})
		}
	}
	return out
}

func newMetricsEcho(m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/app/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "rewritten page")
	})
	e.GET("/fetch", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "host not allowed")
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestMetricsMiddleware_RequestLabels(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		wantMethod string
		wantStatus string
		wantPath   string
	}{
		{"relayed page", http.MethodGet, "/app/login", "GET", "200", "/app"},
		{"relayed post", http.MethodPost, "/app/api/items", "POST", "200", "/app"},
		{"gateway http error", http.MethodGet, "/fetch?url=x", "GET", "403", "/fetch"},
		{"health", http.MethodGet, "/healthz", "GET", "200", "/healthz"},
		{"unknown method", "XYZZY", "/app/login", "other", "200", "/app"},
		{"unrouted", http.MethodGet, "/elsewhere", "GET", "404", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New("/app", "/fetch")
			e := newMetricsEcho(m)

			req := httptest.NewRequest(tt.method, tt.target, http.NoBody)
			e.ServeHTTP(httptest.NewRecorder(), req)

			got := gather(t, m, "origin_relay_http_requests_total")
			if len(got) != 1 {
				t.Fatalf("series = %d, want 1", len(got))
			}
			l := got[0].labels
			if l["method"] != tt.wantMethod || l["status_code"] != tt.wantStatus || l["path_prefix"] != tt.wantPath {
				t.Errorf("labels = %v, want method=%s status_code=%s path_prefix=%s",
					l, tt.wantMethod, tt.wantStatus, tt.wantPath)
			}
			if v := got[0].metric.GetCounter().GetValue(); v != 1 {
				t.Errorf("counter = %v, want 1", v)
			}
		})
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New("/app", "/fetch")
	e := newMetricsEcho(m)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	got := gather(t, m, "origin_relay_http_request_duration_seconds")
	if len(got) != 1 || got[0].metric.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one duration sample, got %d series", len(got))
	}
}

func TestMetricsMiddleware_CountsResponseBytes(t *testing.T) {
	m := metrics.New("/app", "/fetch")
	e := newMetricsEcho(m)

	for i := 0; i < 2; i++ {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/app/page", http.NoBody))
	}

	got := gather(t, m, "origin_relay_http_response_bytes_total")
	if len(got) != 1 {
		t.Fatalf("series = %d, want 1", len(got))
	}
	if got[0].labels["path_prefix"] != "/app" {
		t.Errorf("path_prefix = %q, want /app", got[0].labels["path_prefix"])
	}
	want := float64(2 * len("rewritten page"))
	if v := got[0].metric.GetCounter().GetValue(); v != want {
		t.Errorf("bytes = %v, want %v", v, want)
	}
}

func TestMetricsMiddleware_InFlightReturnsToZero(t *testing.T) {
	m := metrics.New("/app", "/fetch")
	e := newMetricsEcho(m)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/app/", http.NoBody))

	got := gather(t, m, "origin_relay_http_requests_in_flight")
	if len(got) != 1 {
		t.Fatalf("series = %d, want 1", len(got))
	}
	if v := got[0].metric.GetGauge().GetValue(); v != 0 {
		t.Errorf("in flight = %v, want 0", v)
	}
}

func TestStatusOf(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", http.NoBody), rec)
	_ = c.String(http.StatusAccepted, "queued")

	if got := statusOf(c, nil); got != http.StatusAccepted {
		t.Errorf("statusOf(nil) = %d, want %d", got, http.StatusAccepted)
	}
	if got := statusOf(c, echo.NewHTTPError(http.StatusTooManyRequests)); got != http.StatusTooManyRequests {
		t.Errorf("statusOf(HTTPError) = %d, want %d", got, http.StatusTooManyRequests)
	}
	if got := statusOf(c, errors.ErrUnsupported); got != http.StatusAccepted {
		t.Errorf("statusOf(plain error) = %d, want %d", got, http.StatusAccepted)
	}
}
