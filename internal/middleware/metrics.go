package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"origin-relay/internal/metrics"
)

// MetricsMiddleware records inbound request counts, latency and the number
// of body bytes handed back to the client.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()

			path := m.NormalizePath(c.Request().URL.Path)
			method := metrics.NormalizeMethod(c.Request().Method)
			status := strconv.Itoa(statusOf(c, err))

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(elapsed)
			if size := c.Response().Size; size > 0 {
				m.ResponseBytes.WithLabelValues(path).Add(float64(size))
			}
			return err
		}
	}
}

// statusOf reports the status the client will see. An *echo.HTTPError is
// written later by the central error handler, so its code wins.
func statusOf(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}
