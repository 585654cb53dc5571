// Package memoryhost is an in-process sessions.Store.
package memoryhost

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/azdo-boards-mcp/sessions"
)

// Host keeps session records in a map guarded by a mutex. Expired records
// are dropped lazily on access.
type Host struct {
	mu       sync.Mutex
	sessions map[string]sessions.Metadata
	now      func() time.Time
}

var _ sessions.Store = (*Host)(nil)

// New returns an empty Host.
func New() *Host {
	return &Host{sessions: make(map[string]sessions.Metadata), now: time.Now}
}

func (h *Host) Create(ctx context.Context, meta *sessions.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[meta.SessionID] = *meta
	return nil
}

func (h *Host) Load(ctx context.Context, sessionID string) (*sessions.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.lookupLocked(sessionID)
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	return &m, nil
}

func (h *Host) Mutate(ctx context.Context, sessionID string, fn func(*sessions.Metadata) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.lookupLocked(sessionID)
	if !ok {
		return sessions.ErrSessionNotFound
	}
	if err := fn(&m); err != nil {
		return err
	}
	h.sessions[sessionID] = m
	return nil
}

func (h *Host) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	return nil
}

func (h *Host) lookupLocked(sessionID string) (sessions.Metadata, bool) {
	m, ok := h.sessions[sessionID]
	if !ok {
		return sessions.Metadata{}, false
	}
	if m.Expired(h.now()) {
		delete(h.sessions, sessionID)
		return sessions.Metadata{}, false
	}
	return m, true
}
