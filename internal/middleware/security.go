package middleware

import (
	"github.com/labstack/echo/v4"

	"origin-relay/internal/headers"
)

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from requests and marks responses nosniff. X-Frame-Options is deliberately
// not set: relayed apps may embed themselves.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			headers.StripHopByHop(c.Request().Header)

			// Handlers write buffered responses themselves, so the header
			// must be in place before the status line goes out.
			res := c.Response()
			res.Before(func() {
				res.Header().Set("X-Content-Type-Options", "nosniff")
			})

			return next(c)
		}
	}
}
