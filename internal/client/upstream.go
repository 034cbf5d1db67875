// Package client provides the outbound HTTP clients for the origin and the fetch gateway.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"origin-relay/internal/config"
	"origin-relay/internal/metrics"
	"origin-relay/internal/model"
)

// ErrRedirectNotAllowed is returned when a gateway fetch is redirected to a host
// outside the allow-list.
var ErrRedirectNotAllowed = errors.New("redirect target not allowed")

const maxRedirects = 10

// Upstream sends requests to one outbound target with connection pooling and timeouts.
type Upstream struct {
	target     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// OriginClient talks to the relayed origin. It never follows redirects: the
// redirect response itself is relayed with its Location rewritten.
type OriginClient struct {
	*Upstream
}

// GatewayClient fetches auxiliary assets. Redirects are followed only while
// they stay on allow-listed hosts.
type GatewayClient struct {
	*Upstream
}

// NewOriginClient creates the origin client.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewOriginClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *OriginClient {
	hc := &http.Client{
		Transport: newTransport(cfg.Origin.IdleConnections, true),
		Timeout:   cfg.Origin.Timeout(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &OriginClient{newUpstream(metrics.TargetOrigin, hc, logger, m)}
}

// NewGatewayClient creates the gateway client.
func NewGatewayClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *GatewayClient {
	allowed := make(map[string]bool, len(cfg.Gateway.AllowedHosts))
	for _, h := range cfg.Gateway.AllowedHosts {
		allowed[strings.ToLower(h)] = true
	}

	hc := &http.Client{
		Transport: newTransport(cfg.Origin.IdleConnections, false),
		Timeout:   cfg.Gateway.Timeout(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if !allowed[strings.ToLower(req.URL.Hostname())] {
				return fmt.Errorf("%w: %s", ErrRedirectNotAllowed, req.URL.Hostname())
			}
			return nil
		},
	}
	return &GatewayClient{newUpstream(metrics.TargetGateway, hc, logger, m)}
}

func newTransport(idle int, rawEncoding bool) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        idle,
		MaxIdleConnsPerHost: idle,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  rawEncoding,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

func newUpstream(target string, hc *http.Client, logger *slog.Logger, m *metrics.Metrics) *Upstream {
	return &Upstream{
		target:     target,
		httpClient: hc,
		logger:     logger.With("component", target+"_client"),
		metrics:    m,
	}
}

// Do executes an HTTP request against the target and returns the raw response.
// The caller is responsible for closing the response body.
func (c *Upstream) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(c.target, method).Observe(duration)
		}
		return nil, fmt.Errorf("%s request: %w", c.target, err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(c.target, method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(c.target, method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
// The provided context controls the lifetime of the outbound request:
// when the context is canceled (e.g. client disconnects), the outbound
// request is also canceled.
//
// host, when non-empty, overrides the Host header sent on the wire.
func (c *Upstream) DoStream(ctx context.Context, method, url, host string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.target, err)
	}
	req.Header = header
	if body != nil && req.ContentLength == 0 {
		// Inbound bodies are opaque readers; keep the declared length so the
		// request is not sent chunked.
		if n, perr := strconv.ParseInt(header.Get("Content-Length"), 10, 64); perr == nil && n > 0 {
			req.ContentLength = n
		}
	}
	if host != "" {
		req.Host = host
	}

	return c.Do(req)
}
