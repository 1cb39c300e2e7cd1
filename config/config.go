// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/mcp-sse-server/sessionstore"
	"github.com/ggoodman/mcp-sse-server/sessionstore/redisstore"
	"github.com/ggoodman/mcp-sse-server/ssehttp"
	"github.com/joeshaw/envdecode"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	LogFormatJSON = "json"
	LogFormatText = "text"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the full server configuration.
type Config struct {
	// ENV: MCP_LISTEN_ADDR
	ListenAddr string `env:"MCP_LISTEN_ADDR,default=:8080"`
	// LogFormat is "json" or "text". ENV: MCP_LOG_FORMAT
	LogFormat string `env:"MCP_LOG_FORMAT,default=json"`
	// ENV: MCP_LOG_LEVEL
	LogLevel string `env:"MCP_LOG_LEVEL,default=info"`

	ServerName    string `env:"MCP_SERVER_NAME,default=WordPress MCP Server"`
	ServerVersion string `env:"MCP_SERVER_VERSION,default=1.0.0"`

	// SessionStore is "memory" or "redis". ENV: MCP_SESSION_STORE
	SessionStore string `env:"MCP_SESSION_STORE,default=memory"`
	Redis        redisstore.Config

	// AbsoluteTimeout of zero uses the session store's expiration.
	AbsoluteTimeout   time.Duration `env:"MCP_ABSOLUTE_TIMEOUT"`
	InactivityTimeout time.Duration `env:"MCP_INACTIVITY_TIMEOUT,default=60s"`
	CheckInterval     time.Duration `env:"MCP_CHECK_INTERVAL,default=1s"`

	// ToolManifest is an optional path to a YAML tool manifest.
	ToolManifest string `env:"MCP_TOOL_MANIFEST"`
	// RouteNamespaces are separated by ";" in the environment.
	RouteNamespaces    []string `env:"MCP_ROUTE_NAMESPACES,default=wp/v2"`
	GenerateRouteTools bool     `env:"MCP_GENERATE_ROUTE_TOOLS,default=true"`

	Auth Auth
	Site Site
}

// Auth configures bearer-token authentication. It is disabled when Issuer
// is empty.
type Auth struct {
	Issuer string `env:"MCP_AUTH_ISSUER"`
	// Audiences are separated by ";". ENV: MCP_AUTH_AUDIENCE
	Audiences  []string `env:"MCP_AUTH_AUDIENCE"`
	JWKSURL    string   `env:"MCP_AUTH_JWKS_URL"`
	Required   bool     `env:"MCP_AUTH_REQUIRED,default=false"`
	ReadScope  string   `env:"MCP_AUTH_READ_SCOPE"`
	WriteScope string   `env:"MCP_AUTH_WRITE_SCOPE,default=content:write"`
	// ResourceURL is the public URL of the SSE endpoint advertised in
	// protected resource metadata. Defaults to Site.URL + "/sse".
	ResourceURL string `env:"MCP_AUTH_RESOURCE_URL"`
}

// Enabled reports whether an issuer is configured.
func (a Auth) Enabled() bool { return a.Issuer != "" }

// AuthResourceURL resolves the advertised resource URL.
func (c *Config) AuthResourceURL() string {
	if c.Auth.ResourceURL != "" {
		return c.Auth.ResourceURL
	}
	return strings.TrimRight(c.Site.URL, "/") + "/sse"
}

// Site describes the content site exposed by the built-in tools.
type Site struct {
	Name        string `env:"MCP_SITE_NAME,default=My Site"`
	URL         string `env:"MCP_SITE_URL,default=http://localhost:8080"`
	Description string `env:"MCP_SITE_DESCRIPTION"`
	AdminEmail  string `env:"MCP_SITE_ADMIN_EMAIL"`
	Version     string `env:"MCP_SITE_VERSION,default=6.5"`
}

// Load decodes Config from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EffectiveAbsoluteTimeout resolves a zero AbsoluteTimeout to the session
// store's expiration.
func (c *Config) EffectiveAbsoluteTimeout() time.Duration {
	if c.AbsoluteTimeout > 0 {
		return c.AbsoluteTimeout
	}
	if c.SessionStore == StoreRedis && c.Redis.Expiration > 0 {
		return c.Redis.Expiration
	}
	return sessionstore.DefaultExpiration
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return lvl, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalid)
	}
	switch c.LogFormat {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.LogFormat)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.SessionStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("%w: unknown session store %q", ErrInvalid, c.SessionStore)
	}
	if c.AbsoluteTimeout < 0 {
		return fmt.Errorf("%w: absolute timeout must be positive", ErrInvalid)
	}
	if err := ssehttp.ValidateTimeouts(c.EffectiveAbsoluteTimeout(), c.InactivityTimeout, c.CheckInterval); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Auth.Enabled() && len(c.Auth.Audiences) == 0 {
		return fmt.Errorf("%w: auth audience is required when an issuer is set", ErrInvalid)
	}
	if c.Auth.Required && !c.Auth.Enabled() {
		return fmt.Errorf("%w: auth cannot be required without an issuer", ErrInvalid)
	}
	return nil
}
