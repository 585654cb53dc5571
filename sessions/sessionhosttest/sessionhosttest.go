// Package sessionhosttest is a conformance suite for sessions.Store
// implementations.
package sessionhosttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/azdo-boards-mcp/sessions"
	"github.com/google/uuid"
)

// StoreFactory creates a new Store instance for testing.
type StoreFactory func(t *testing.T) sessions.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("CreateAndLoad", func(t *testing.T) { testCreateAndLoad(t, factory) })
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, factory) })
	t.Run("MutatePersists", func(t *testing.T) { testMutatePersists(t, factory) })
	t.Run("MutateErrorLeavesRecord", func(t *testing.T) { testMutateErrorLeavesRecord(t, factory) })
	t.Run("MutateMissing", func(t *testing.T) { testMutateMissing(t, factory) })
	t.Run("ConcurrentMutate", func(t *testing.T) { testConcurrentMutate(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, factory) })
}

func newMeta(ttl time.Duration) *sessions.Metadata {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &sessions.Metadata{
		SessionID:       uuid.NewString(),
		UserID:          "user-1",
		ProtocolVersion: "2025-06-18",
		ClientName:      "test-client",
		ClientVersion:   "1.0.0",
		State:           sessions.StatePending,
		CreatedAt:       now,
		LastAccess:      now,
		TTL:             ttl,
	}
}

func testCreateAndLoad(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Load(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UserID != meta.UserID || got.ProtocolVersion != meta.ProtocolVersion || got.State != meta.State {
		t.Fatalf("loaded record mismatch: %+v vs %+v", got, meta)
	}
	if !got.CreatedAt.Equal(meta.CreatedAt) {
		t.Fatalf("CreatedAt mismatch: %v vs %v", got.CreatedAt, meta.CreatedAt)
	}
}

func testLoadMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	_, err := s.Load(context.Background(), uuid.NewString())
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func testMutatePersists(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Mutate(ctx, meta.SessionID, func(m *sessions.Metadata) error {
		m.State = sessions.StateOpen
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	got, err := s.Load(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.State != sessions.StateOpen {
		t.Fatalf("want state open, got %q", got.State)
	}
}

func testMutateErrorLeavesRecord(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("Create: %v", err)
	}
	boom := errors.New("boom")
	err := s.Mutate(ctx, meta.SessionID, func(m *sessions.Metadata) error {
		m.State = sessions.StateOpen
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	got, err := s.Load(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.State != sessions.StatePending {
		t.Fatalf("failed mutation must not persist, got %q", got.State)
	}
}

func testMutateMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	err := s.Mutate(context.Background(), uuid.NewString(), func(*sessions.Metadata) error { return nil })
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func testConcurrentMutate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sessions.Touch(ctx, s, meta.SessionID, time.Now().UTC()); err != nil {
				t.Errorf("Touch: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Load(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LastAccess.Before(meta.LastAccess) {
		t.Fatalf("LastAccess went backwards: %v < %v", got.LastAccess, meta.LastAccess)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, meta.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, meta.SessionID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func testExpiry(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	meta := newMeta(150 * time.Millisecond)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Load(ctx, meta.SessionID); err != nil {
		t.Fatalf("Load before expiry: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, err := s.Load(ctx, meta.SessionID)
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return
		}
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("session did not expire")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
