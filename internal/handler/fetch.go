package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"origin-relay/internal/client"
	"origin-relay/internal/model"
	"origin-relay/internal/service"
)

// FetchHandler serves the allow-listed auxiliary asset gateway.
type FetchHandler struct {
	service *service.FetchService
	logger  *slog.Logger
}

// NewFetchHandler creates a FetchHandler.
func NewFetchHandler(svc *service.FetchService, logger *slog.Logger) *FetchHandler {
	return &FetchHandler{
		service: svc,
		logger:  logger.With("component", "fetch_handler"),
	}
}

// Handle relays the asset named by the url query parameter.
func (h *FetchHandler) Handle(c echo.Context) error {
	res, err := h.service.Fetch(&model.FetchRequest{
		Ctx:    c.Request().Context(),
		RawURL: c.QueryParam("url"),
	})
	if err != nil {
		return h.mapError(c, err)
	}

	if res.CacheHit {
		res.Header.Set("X-Cache", "HIT")
	} else {
		res.Header.Set("X-Cache", "MISS")
	}

	return writeResponse(c, res.StatusCode, res.Header, res.Body, h.logger)
}

func (h *FetchHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrMissingURL):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "url query parameter is required",
		})
	case errors.Is(err, service.ErrInvalidURL):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "url must be an absolute http or https URL",
		})
	case errors.Is(err, service.ErrHostNotAllowed), errors.Is(err, client.ErrRedirectNotAllowed):
		h.logger.Warn("gateway host rejected", "err", err)
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "host not allowed",
		})
	}

	h.logger.Error("fetch error", "err", err)

	if isTimeout(err) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "asset request timed out",
		})
	}
	if errors.Is(err, service.ErrBodyTooLarge) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "asset too large",
		})
	}
	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "asset request failed",
	})
}
