package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session does not exist or expired.
var ErrSessionNotFound = errors.New("session not found")

// State tracks where a session is in the initialize handshake.
type State string

const (
	StatePending State = "pending"
	StateOpen    State = "open"
)

// Metadata is the persisted session record.
type Metadata struct {
	SessionID       string        `json:"sid"`
	UserID          string        `json:"uid"`
	ProtocolVersion string        `json:"pv"`
	ClientName      string        `json:"cn,omitempty"`
	ClientVersion   string        `json:"cv,omitempty"`
	State           State         `json:"st"`
	CreatedAt       time.Time     `json:"ca"`
	LastAccess      time.Time     `json:"la"`
	TTL             time.Duration `json:"ttl"`
}

// Store persists session metadata. Implementations must be safe for
// concurrent use and must treat expired records as absent.
type Store interface {
	// Create stores a new record. The record expires TTL after LastAccess.
	Create(ctx context.Context, meta *Metadata) error
	// Load returns the record or ErrSessionNotFound.
	Load(ctx context.Context, sessionID string) (*Metadata, error)
	// Mutate applies fn to the stored record and persists the result,
	// refreshing the expiry from the record's TTL.
	Mutate(ctx context.Context, sessionID string, fn func(*Metadata) error) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// Touch slides the session expiry forward and marks it accessed.
func Touch(ctx context.Context, store Store, sessionID string, now time.Time) error {
	return store.Mutate(ctx, sessionID, func(m *Metadata) error {
		m.LastAccess = now
		return nil
	})
}

// Expired reports whether the record's TTL has elapsed at now.
func (m *Metadata) Expired(now time.Time) bool {
	return m.TTL > 0 && now.Sub(m.LastAccess) > m.TTL
}
