// Package service implements the forwarding core, the content pipeline and
// the fetch gateway.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"origin-relay/internal/client"
	"origin-relay/internal/config"
	"origin-relay/internal/metrics"
	"origin-relay/internal/model"
	"origin-relay/internal/rewrite"
)

// acceptEncoding is sent to the origin regardless of what the browser asked
// for: the pipeline can decode and re-encode exactly these.
const acceptEncoding = "gzip, deflate, br"

// ProxyService forwards prefix requests to the origin and runs the responses
// through the content pipeline.
type ProxyService struct {
	client    *client.OriginClient
	rewriter  *rewrite.Rewriter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	origin    *url.URL
	root      string // scheme://host of the origin
	userAgent string
	forwardUA bool
	maxBody   int64
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable outcome counting.
func NewProxyService(c *client.OriginClient, rw *rewrite.Rewriter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.Origin.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin base_url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin base_url %q has no host", cfg.Origin.BaseURL)
	}

	return &ProxyService{
		client:    c,
		rewriter:  rw,
		logger:    logger.With("component", "proxy_service"),
		metrics:   m,
		origin:    u,
		root:      u.Scheme + "://" + u.Host,
		userAgent: cfg.Origin.UserAgent,
		forwardUA: cfg.Origin.ForwardsUserAgent(),
		maxBody:   cfg.Origin.MaxBodyBytes,
	}, nil
}

// Forward sends a ProxyRequest to the origin, buffers the response and returns
// the assembled client response.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*Result, error) {
	target := s.buildOriginURL(pr.Path, pr.RawQuery)
	header := s.outboundHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, s.origin.Host, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to origin: %w", err)
	}

	up, err := intercept(resp, s.maxBody)
	if err != nil {
		return nil, err
	}

	return s.Process(pr.Method, up), nil
}

// buildOriginURL keeps the inbound path as is: origin paths already carry the prefix.
func (s *ProxyService) buildOriginURL(path, rawQuery string) string {
	u := s.root + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func (s *ProxyService) outboundHeaders(src http.Header) http.Header {
	dst := copyHeaders(src)
	dst.Del("Host")

	if !s.forwardUA || dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", s.userAgent)
	}
	dst.Set("Referer", s.root+"/")
	if dst.Get("Origin") != "" {
		dst.Set("Origin", s.root)
	}
	dst.Set("Accept-Encoding", acceptEncoding)
	return dst
}
