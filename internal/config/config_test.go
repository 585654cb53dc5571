package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AZDO_ORGANIZATION", "contoso")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "contoso", cfg.Organization)
	require.Equal(t, "https://dev.azure.com", cfg.BaseURL)
	require.Equal(t, "https://app.vssps.visualstudio.com", cfg.VSSPSURL)
	require.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, "memory", cfg.Sessions)
	require.Equal(t, time.Hour, cfg.SessionTTL)
	require.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AZDO_PROJECT=Fabrikam\nMCP_PORT=8080\n"), 0o600))
	t.Chdir(dir)
	// Registered so cleanup restores the values godotenv writes.
	t.Setenv("AZDO_PROJECT", "")
	t.Setenv("MCP_PORT", "")
	os.Unsetenv("AZDO_PROJECT")
	os.Unsetenv("MCP_PORT")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "Fabrikam", cfg.Project)
	require.Equal(t, 8080, cfg.Port)
}

func TestValidate(t *testing.T) {
	base := Config{Port: 3000, Sessions: "memory", LogLevel: "info", MaxRetries: 3}

	bad := []func(*Config){
		func(c *Config) { c.Port = 0 },
		func(c *Config) { c.Sessions = "etcd" },
		func(c *Config) { c.LogLevel = "verbose" },
		func(c *Config) { c.MaxRetries = -1 },
		func(c *Config) { c.AuthIssuer = "https://issuer.example.com" },
	}
	for i, mutate := range bad {
		c := base
		mutate(&c)
		require.Error(t, c.Validate(), "case %d", i)
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("warn")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}
