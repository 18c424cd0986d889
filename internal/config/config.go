// Package config handles CLI parsing targets and optional TOML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/web-tunnel/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Address         string `kong:"arg,optional,help='Address of remote machine to forward to.'"`
	Port            int    `kong:"arg,optional,help='Port of remote machine to forward to.'"`
	LocalAddress    string `kong:"short='a',help='Local interface to bind to (overrides config).',env='LOCAL_ADDRESS'"`
	LocalPort       int    `kong:"short='p',help='Local port to open (overrides config).',env='LOCAL_PORT'"`
	ReplaceHostname string `kong:"short='r',help='Replace hostname in HTTP requests.'"`
	DowngradeHTTP   bool   `kong:"short='d',name='downgrade-http',help='Downgrade HTTP responses to version 1.0.'"`
	Verbose         int    `kong:"short='v',type='counter',help='Increase output verbosity (repeatable).'"`
	Config          string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	LogLevel        string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	LogFormat       string `kong:"help='Log format: json|text (overrides config).',env='LOG_FORMAT'"`
	AdminAddr       string `kong:"help='Serve the admin HTTP API on host:port.',env='ADMIN_ADDR'"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen   ListenConfig   `toml:"listen"`
	Upstream UpstreamConfig `toml:"upstream"`
	Rewrite  RewriteConfig  `toml:"rewrite"`
	Relay    RelayConfig    `toml:"relay"`
	Log      LogConfig      `toml:"log"`
	Admin    AdminConfig    `toml:"admin"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path, empty when running from CLI only
}

// ListenConfig holds the local bind settings.
type ListenConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"` // 0 means "use default" (8880)
	SocketBufferBytes int    `toml:"socket_buffer_bytes"`
}

// UpstreamConfig holds the fixed upstream endpoint.
type UpstreamConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
}

// RewriteConfig holds the in-flight HTTP rewrite settings.
type RewriteConfig struct {
	ReplaceHostname string `toml:"replace_hostname"`
	DowngradeHTTP   bool   `toml:"downgrade_http"`
	MaxHeaderBytes  int    `toml:"max_header_bytes"`
}

// RelayConfig tunes the relay engine.
type RelayConfig struct {
	BufferSize             int `toml:"buffer_size"`
	IdleTimeoutSeconds     int `toml:"idle_timeout_seconds"` // 0 disables
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	Verbosity int    `toml:"verbosity"`
}

// AdminConfig holds the admin HTTP API settings.
type AdminConfig struct {
	Enabled   bool            `toml:"enabled"`
	Host      string          `toml:"host"`
	Port      int             `toml:"port"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting on the admin API.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

const (
	minBufferSize = 4096
	maxBufferSize = 65536
)

// Load reads the optional TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/web-tunnel/config.toml then configs/config.toml; if neither exists the
// command line alone configures the tunnel.
func Load(cli *CLI) (*Config, error) {
	// Metrics are on unless the file says otherwise.
	cfg := Config{Metrics: MetricsConfig{Enabled: true}}

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
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

	if err := cfg.applyCLI(cli); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) error {
	if cli.Address != "" {
		c.Upstream.Host = cli.Address
	}
	if cli.Port != 0 {
		c.Upstream.Port = cli.Port
	}
	if cli.LocalAddress != "" {
		c.Listen.Host = cli.LocalAddress
	}
	if cli.LocalPort != 0 {
		c.Listen.Port = cli.LocalPort
	}
	if cli.ReplaceHostname != "" {
		c.Rewrite.ReplaceHostname = cli.ReplaceHostname
	}
	if cli.DowngradeHTTP {
		c.Rewrite.DowngradeHTTP = true
	}
	if cli.Verbose > 0 {
		c.Log.Verbosity = cli.Verbose
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		c.Log.Format = cli.LogFormat
	}
	if cli.AdminAddr != "" {
		host, port, err := net.SplitHostPort(cli.AdminAddr)
		if err != nil {
			return fmt.Errorf("admin address %q: %w", cli.AdminAddr, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("admin address %q: invalid port", cli.AdminAddr)
		}
		c.Admin.Enabled = true
		c.Admin.Host = host
		c.Admin.Port = p
	}
	return nil
}

func (c *Config) validate() error {
	// Upstream endpoint: required.
	if c.Upstream.Host == "" {
		return fmt.Errorf("upstream.host is required")
	}
	if c.Upstream.Port < 1 || c.Upstream.Port > 65535 {
		return fmt.Errorf("upstream.port must be 1–65535; got %d", c.Upstream.Port)
	}

	// Numeric bounds.
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port must be 0–65535; got %d", c.Listen.Port)
	}
	if c.Listen.SocketBufferBytes < 0 {
		return fmt.Errorf("listen.socket_buffer_bytes must be non-negative; got %d", c.Listen.SocketBufferBytes)
	}
	if c.Upstream.DialTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.dial_timeout_seconds must be non-negative; got %d", c.Upstream.DialTimeoutSeconds)
	}
	if c.Rewrite.MaxHeaderBytes < 0 {
		return fmt.Errorf("rewrite.max_header_bytes must be non-negative; got %d", c.Rewrite.MaxHeaderBytes)
	}
	if b := c.Relay.BufferSize; b != 0 && (b < minBufferSize || b > maxBufferSize) {
		return fmt.Errorf("relay.buffer_size must be %d–%d; got %d", minBufferSize, maxBufferSize, b)
	}
	if c.Relay.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("relay.idle_timeout_seconds must be non-negative; got %d", c.Relay.IdleTimeoutSeconds)
	}
	if c.Relay.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("relay.shutdown_timeout_seconds must be non-negative; got %d", c.Relay.ShutdownTimeoutSeconds)
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("log.verbosity must be non-negative; got %d", c.Log.Verbosity)
	}

	// The replacement hostname is spliced into a header line verbatim.
	if h := c.Rewrite.ReplaceHostname; strings.ContainsFunc(h, isHeaderUnsafe) {
		return fmt.Errorf("rewrite.replace_hostname must not contain whitespace or control characters; got %q", h)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Admin API.
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be 0–65535; got %d", c.Admin.Port)
	}
	if c.Admin.RateLimit.Enabled && c.Admin.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("admin.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Admin.RateLimit.RequestsPerSecond)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/status", "/pairs"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func isHeaderUnsafe(r rune) bool {
	return r <= ' ' || r == 0x7f
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish between
// an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Listen.Host == "" {
		c.Listen.Host = "localhost"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8880
	}
	if c.Upstream.DialTimeoutSeconds == 0 {
		c.Upstream.DialTimeoutSeconds = 10
	}
	if c.Rewrite.MaxHeaderBytes == 0 {
		c.Rewrite.MaxHeaderBytes = 8192
	}
	if c.Relay.BufferSize == 0 {
		c.Relay.BufferSize = 32 * 1024
	}
	if c.Relay.ShutdownTimeoutSeconds == 0 {
		c.Relay.ShutdownTimeoutSeconds = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9880
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

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

// FilePath returns the config file that was loaded, or "" when none was used.
func (c *Config) FilePath() string { return c.filePath }

// Addr returns the local listen address as host:port.
func (c *ListenConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Addr returns the upstream address as host:port.
func (c *UpstreamConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DialTimeout returns the upstream connect timeout.
func (c *UpstreamConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// Addr returns the admin API listen address as host:port.
func (c *AdminConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IdleTimeout returns the per-read idle timeout, zero when disabled.
func (c *RelayConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds how long shutdown waits for live pairs to drain.
func (c *RelayConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
