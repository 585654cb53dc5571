package redishost

import (
	"testing"

	"github.com/ggoodman/azdo-boards-mcp/sessions"
	"github.com/ggoodman/azdo-boards-mcp/sessions/sessionhosttest"
)

func TestRedisSessionHost(t *testing.T) {
	// Quick availability check to allow graceful skip in environments without Redis
	h, err := NewFromEnv(t.Context())
	if err != nil {
		t.Skipf("skipping redis session host tests: %v", err)
		return
	}
	_ = h.Close()

	sessionhosttest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		hh, err := NewFromEnv(t.Context())
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		t.Cleanup(func() { _ = hh.Close() })
		return hh
	})
}
