// Package auth validates bearer tokens presented to the streamable HTTP
// transport. Authentication is optional: when no issuer is configured the
// HTTP transport serves every caller as the anonymous user.
package auth

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// AnonymousUserID is the principal used when authentication is disabled.
const AnonymousUserID = "anonymous"

// UserInfo represents an authenticated principal.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshals the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return errors wrapping ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }

func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Anonymous returns the UserInfo used when authentication is disabled.
func Anonymous() UserInfo {
	return &userInfo{sub: AnonymousUserID, claims: map[string]any{"sub": AnonymousUserID}}
}
