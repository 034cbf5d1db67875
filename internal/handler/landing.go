package handler

import (
	"fmt"
	"html"
	"net/http"

	"github.com/labstack/echo/v4"

	"origin-relay/internal/config"
)

const landingTemplate = `<!doctype html>
<html><head><meta charset="utf-8"><title>origin-relay</title></head>
<body><p>This relay serves <code>%s</code> under <a href="%s/">%s/</a>.</p></body></html>
`

// LandingHandler serves the static root page.
type LandingHandler struct {
	page []byte
}

// NewLandingHandler renders the landing page once.
func NewLandingHandler(cfg *config.Config) *LandingHandler {
	prefix := html.EscapeString(cfg.Origin.Prefix)
	return &LandingHandler{
		page: []byte(fmt.Sprintf(landingTemplate, html.EscapeString(cfg.Origin.BaseURL), prefix, prefix)),
	}
}

// Handle writes the landing page.
func (h *LandingHandler) Handle(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, h.page)
}
