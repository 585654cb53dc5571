package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/azdo-boards-mcp/internal/config"
)

func TestApplyFlags(t *testing.T) {
	var f flags
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--organization", "contoso", "--port", "8080"}))

	f.organization, _ = cmd.Flags().GetString("organization")
	f.port, _ = cmd.Flags().GetInt("port")

	cfg := &config.Config{Organization: "env-org", Project: "env-project", Port: 3000, LogLevel: "warn"}
	applyFlags(cmd, cfg, &f)

	assert.Equal(t, "contoso", cfg.Organization)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "env-project", cfg.Project, "unset flags keep the environment value")
	assert.Equal(t, "warn", cfg.LogLevel)
}
