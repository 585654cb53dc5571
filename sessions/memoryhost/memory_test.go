package memoryhost

import (
	"testing"

	"github.com/ggoodman/azdo-boards-mcp/sessions"
	"github.com/ggoodman/azdo-boards-mcp/sessions/sessionhosttest"
)

func TestMemorySessionHost(t *testing.T) {
	sessionhosttest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		return New()
	})
}
