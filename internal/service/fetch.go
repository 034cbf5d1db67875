package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang/gddo/httputil/header"

	"origin-relay/internal/cache"
	"origin-relay/internal/client"
	"origin-relay/internal/config"
	"origin-relay/internal/metrics"
	"origin-relay/internal/model"
)

var (
	// ErrMissingURL is returned when the gateway request has no url parameter.
	ErrMissingURL = errors.New("missing url parameter")
	// ErrInvalidURL is returned when the url parameter is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url parameter")
	// ErrHostNotAllowed is returned when the target host is not allow-listed.
	ErrHostNotAllowed = errors.New("host not allowed")
)

// FetchResult is an auxiliary asset ready to be written to the client.
type FetchResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	CacheHit   bool
}

// FetchService relays allow-listed auxiliary assets, optionally through a TTL cache.
type FetchService struct {
	client    *client.GatewayClient
	cache     *cache.TTLCache
	allowed   map[string]bool
	userAgent string
	maxBody   int64
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewFetchService creates a FetchService. A nil cache disables caching; a nil
// metrics disables counting.
func NewFetchService(c *client.GatewayClient, ttl *cache.TTLCache, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *FetchService {
	allowed := make(map[string]bool, len(cfg.Gateway.AllowedHosts))
	for _, h := range cfg.Gateway.AllowedHosts {
		allowed[strings.ToLower(h)] = true
	}
	return &FetchService{
		client:    c,
		cache:     ttl,
		allowed:   allowed,
		userAgent: cfg.Origin.UserAgent,
		maxBody:   cfg.Origin.MaxBodyBytes,
		logger:    logger.With("component", "fetch_service"),
		metrics:   m,
	}
}

// Fetch validates the target against the allow-list and returns the asset,
// from cache when possible. No network call is made for a rejected target.
func (s *FetchService) Fetch(fr *model.FetchRequest) (*FetchResult, error) {
	target, err := s.validate(fr.RawURL)
	if err != nil {
		return nil, err
	}
	key := target.String()

	if s.cache != nil {
		if e, ok := s.cache.Get(key); ok {
			s.countCache("hit")
			return &FetchResult{
				StatusCode: e.StatusCode,
				Header:     e.Header.Clone(),
				Body:       e.Body,
				CacheHit:   true,
			}, nil
		}
		s.countCache("miss")
	}

	header := http.Header{}
	header.Set("User-Agent", s.userAgent)
	header.Set("Accept", "*/*")

	resp, err := s.client.DoStream(fr.Ctx, http.MethodGet, key, "", header, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target.Host, err)
	}
	up, err := intercept(resp, s.maxBody)
	if err != nil {
		return nil, err
	}

	res := &FetchResult{
		StatusCode: up.StatusCode,
		Header:     responseHeaders(up.Header, len(up.Body), "Set-Cookie"),
		Body:       up.Body,
	}

	if s.cache != nil && cacheable(res.StatusCode, res.Header) {
		s.cache.Set(key, cache.Entry{
			StatusCode: res.StatusCode,
			Header:     res.Header.Clone(),
			Body:       res.Body,
		})
	}
	return res, nil
}

func (s *FetchService) validate(raw string) (*url.URL, error) {
	if raw == "" {
		s.reject("missing_url")
		return nil, ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		s.reject("invalid_url")
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		s.reject("invalid_url")
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if !s.allowed[strings.ToLower(u.Hostname())] {
		s.reject("host_not_allowed")
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return u, nil
}

func (s *FetchService) reject(reason string) {
	if s.metrics != nil {
		s.metrics.GatewayRejections.WithLabelValues(reason).Inc()
	}
}

func (s *FetchService) countCache(result string) {
	if s.metrics != nil {
		s.metrics.GatewayCache.WithLabelValues(result).Inc()
	}
}

// cacheable reports whether a gateway response may be stored: a 200 that is
// either an image or carries a positive max-age, and is not marked no-store.
func cacheable(status int, h http.Header) bool {
	if status != http.StatusOK {
		return false
	}
	age := 0
	for _, d := range header.ParseList(h, "Cache-Control") {
		name, value, _ := strings.Cut(d, "=")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "no-store":
			return false
		case "max-age":
			n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"`))
			if err == nil {
				age = n
			}
		}
	}
	if strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "image/") {
		return true
	}
	return age > 0
}
