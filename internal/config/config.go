// Package config loads process configuration from the environment, after
// optionally reading a .env file from the working directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the process configuration. CLI flags override individual fields
// after Load returns.
type Config struct {
	Organization string `env:"AZDO_ORGANIZATION"`
	Project      string `env:"AZDO_PROJECT"`

	BaseURL     string        `env:"AZDO_BASE_URL,default=https://dev.azure.com"`
	VSSPSURL    string        `env:"AZDO_VSSPS_URL,default=https://app.vssps.visualstudio.com"`
	HTTPTimeout time.Duration `env:"AZDO_HTTP_TIMEOUT,default=60s"`
	MaxRetries  int           `env:"AZDO_MAX_RETRIES,default=3"`

	Port       int           `env:"MCP_PORT,default=3000"`
	Sessions   string        `env:"MCP_SESSIONS,default=memory"`
	SessionTTL time.Duration `env:"MCP_SESSION_TTL,default=1h"`

	AuthIssuer   string `env:"MCP_AUTH_ISSUER"`
	AuthAudience string `env:"MCP_AUTH_AUDIENCE"`
	AuthJWKSURL  string `env:"MCP_AUTH_JWKS_URL"`
	PublicURL    string `env:"MCP_PUBLIC_URL"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads .env (if present) and decodes the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that envdecode cannot.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid AZDO_MAX_RETRIES %d", c.MaxRetries)
	}
	switch c.Sessions {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid MCP_SESSIONS %q; valid values are memory, redis", c.Sessions)
	}
	if c.AuthIssuer != "" && c.AuthAudience == "" {
		return errors.New("MCP_AUTH_AUDIENCE is required when MCP_AUTH_ISSUER is set")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q; valid values are debug, info, warn, error", s)
}
