// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/origin-relay/config.toml",
	"configs/config.toml",
}

// DefaultUserAgent is a realistic desktop browser string sent to the origin
// when the inbound request does not supply one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// defaultAllowedHosts are the auxiliary asset hosts the fetch gateway may contact
// when the config file does not list any.
var defaultAllowedHosts = []string{
	"fonts.googleapis.com",
	"fonts.gstatic.com",
	"cdn.jsdelivr.net",
	"cdnjs.cloudflare.com",
	"unpkg.com",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Origin    string `kong:"help='Origin base URL (overrides config).',env='ORIGIN_URL'"`
	Prefix    string `kong:"help='Path prefix exposed by the relay (overrides config).',env='ORIGIN_PREFIX'"`
	RulesFile string `kong:"name='rules',help='YAML file with extra rewrite rules (overrides config).',env='REWRITE_RULES_FILE'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Origin  OriginConfig  `toml:"origin"`
	Gateway GatewayConfig `toml:"gateway"`
	Rewrite RewriteConfig `toml:"rewrite"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// OriginConfig describes the single upstream application being relayed.
type OriginConfig struct {
	BaseURL          string `toml:"base_url"`
	Prefix           string `toml:"prefix"`
	UserAgent        string `toml:"user_agent"`
	ForwardUserAgent *bool  `toml:"forward_user_agent"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	IdleConnections  int    `toml:"idle_connections"`
	MaxBodyBytes     int64  `toml:"max_body_bytes"`
}

// GatewayConfig controls the allow-listed auxiliary fetch endpoint.
type GatewayConfig struct {
	Path              string   `toml:"path"`
	AllowedHosts      []string `toml:"allowed_hosts"`
	TimeoutSeconds    int      `toml:"timeout_seconds"`
	CacheEnabled      *bool    `toml:"cache_enabled"`
	CacheTTLSeconds   int      `toml:"cache_ttl_seconds"`
	CacheSweepSeconds int      `toml:"cache_sweep_seconds"`
}

// RewriteConfig tunes the content rewriter.
type RewriteConfig struct {
	RulesFile  string `toml:"rules_file"`
	InjectShim *bool  `toml:"inject_shim"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/origin-relay/config.toml then configs/config.toml. Running without a
// config file is allowed as long as the origin is supplied on the command line.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Origin != "" {
		c.Origin.BaseURL = cli.Origin
	}
	if cli.Prefix != "" {
		c.Origin.Prefix = cli.Prefix
	}
	if cli.RulesFile != "" {
		c.Rewrite.RulesFile = cli.RulesFile
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Origin URL: required, absolute, http(s), no path (the prefix carries the path).
	if c.Origin.BaseURL == "" {
		return fmt.Errorf("origin.base_url is required")
	}
	u, err := url.Parse(c.Origin.BaseURL)
	if err != nil {
		return fmt.Errorf("origin.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("origin.base_url must use http or https; got %q", c.Origin.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("origin.base_url must include a host; got %q", c.Origin.BaseURL)
	}
	if strings.Trim(u.Path, "/") != "" {
		return fmt.Errorf("origin.base_url must not carry a path, use origin.prefix; got %q", c.Origin.BaseURL)
	}

	if p := c.Origin.Prefix; p != "" {
		if p[0] != '/' {
			return fmt.Errorf("origin.prefix must start with '/'; got %q", p)
		}
		if p == "/" || strings.HasSuffix(p, "/") {
			return fmt.Errorf("origin.prefix must be a non-root path without trailing slash; got %q", p)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Origin.TimeoutSeconds < 0 {
		return fmt.Errorf("origin.timeout_seconds must be non-negative; got %d", c.Origin.TimeoutSeconds)
	}
	if c.Origin.IdleConnections < 0 {
		return fmt.Errorf("origin.idle_connections must be non-negative; got %d", c.Origin.IdleConnections)
	}
	if c.Origin.MaxBodyBytes < 0 {
		return fmt.Errorf("origin.max_body_bytes must be non-negative; got %d", c.Origin.MaxBodyBytes)
	}
	if c.Gateway.TimeoutSeconds < 0 {
		return fmt.Errorf("gateway.timeout_seconds must be non-negative; got %d", c.Gateway.TimeoutSeconds)
	}
	if c.Gateway.CacheTTLSeconds < 0 {
		return fmt.Errorf("gateway.cache_ttl_seconds must be non-negative; got %d", c.Gateway.CacheTTLSeconds)
	}
	if c.Gateway.CacheSweepSeconds < 0 {
		return fmt.Errorf("gateway.cache_sweep_seconds must be non-negative; got %d", c.Gateway.CacheSweepSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	for _, h := range c.Gateway.AllowedHosts {
		if h == "" || strings.ContainsAny(h, "/:?# ") {
			return fmt.Errorf("gateway.allowed_hosts entries must be bare hostnames; got %q", h)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if p := c.Gateway.Path; p != "" {
		if p[0] != '/' {
			return fmt.Errorf("gateway.path must start with '/'; got %q", p)
		}
		if c.conflictsWithPrefix(p) {
			return fmt.Errorf("gateway.path %q conflicts with origin.prefix %q", p, c.Origin.Prefix)
		}
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status", c.gatewayPath()} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
		if c.conflictsWithPrefix(p) {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, c.Origin.Prefix)
		}
	}

	return nil
}

func (c *Config) conflictsWithPrefix(p string) bool {
	prefix := c.Origin.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func (c *Config) gatewayPath() string {
	if c.Gateway.Path == "" {
		return defaultGatewayPath
	}
	return c.Gateway.Path
}

const (
	defaultPrefix      = "/app"
	defaultGatewayPath = "/fetch"
)

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	c.Origin.BaseURL = strings.TrimRight(c.Origin.BaseURL, "/")
	if c.Origin.Prefix == "" {
		c.Origin.Prefix = defaultPrefix
	}
	if c.Origin.UserAgent == "" {
		c.Origin.UserAgent = DefaultUserAgent
	}
	if c.Origin.ForwardUserAgent == nil {
		c.Origin.ForwardUserAgent = boolPtr(true)
	}
	if c.Origin.TimeoutSeconds == 0 {
		c.Origin.TimeoutSeconds = 30
	}
	if c.Origin.IdleConnections == 0 {
		c.Origin.IdleConnections = 100
	}
	if c.Origin.MaxBodyBytes == 0 {
		c.Origin.MaxBodyBytes = 50 * 1024 * 1024 // 50 MB
	}
	if c.Gateway.Path == "" {
		c.Gateway.Path = defaultGatewayPath
	}
	if len(c.Gateway.AllowedHosts) == 0 {
		c.Gateway.AllowedHosts = append([]string(nil), defaultAllowedHosts...)
	}
	for i, h := range c.Gateway.AllowedHosts {
		c.Gateway.AllowedHosts[i] = strings.ToLower(h)
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 30
	}
	if c.Gateway.CacheEnabled == nil {
		c.Gateway.CacheEnabled = boolPtr(true)
	}
	if c.Gateway.CacheTTLSeconds == 0 {
		c.Gateway.CacheTTLSeconds = 3600
	}
	if c.Gateway.CacheSweepSeconds == 0 {
		c.Gateway.CacheSweepSeconds = 600
	}
	if c.Rewrite.InjectShim == nil {
		c.Rewrite.InjectShim = boolPtr(true)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func boolPtr(b bool) *bool { return &b }

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OriginURL returns the parsed origin base URL. Load guarantees it parses.
func (c *OriginConfig) OriginURL() *url.URL {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// Timeout returns the outbound origin request timeout.
func (c *OriginConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ForwardsUserAgent reports whether the inbound User-Agent is sent to the origin.
func (c *OriginConfig) ForwardsUserAgent() bool {
	return c.ForwardUserAgent == nil || *c.ForwardUserAgent
}

// Timeout returns the outbound gateway request timeout.
func (c *GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns the lifetime of a cached gateway response.
func (c *GatewayConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// CacheSweepInterval returns how often expired cache entries are swept.
func (c *GatewayConfig) CacheSweepInterval() time.Duration {
	return time.Duration(c.CacheSweepSeconds) * time.Second
}

// CachesResponses reports whether cacheable gateway responses are stored.
func (c *GatewayConfig) CachesResponses() bool {
	return c.CacheEnabled == nil || *c.CacheEnabled
}

// ShimEnabled reports whether the navigation shim is injected into HTML.
func (c *RewriteConfig) ShimEnabled() bool {
	return c.InjectShim == nil || *c.InjectShim
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
