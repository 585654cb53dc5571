package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type mockIssuer struct {
	srv    *httptest.Server
	issuer string
}

func newMockIssuer(t *testing.T, keysJSON []byte) *mockIssuer {
	t.Helper()
	m := &mockIssuer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + "/keys",
			"authorization_endpoint":   m.issuer + "/oauth2/auth",
			"token_endpoint":           m.issuer + "/oauth2/token",
			"response_types_supported": []string{"code"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(mux)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

const testAudience = "api://azdo-boards-mcp"

func validClaims(issuer string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   issuer,
		"sub":   "user-123",
		"aud":   testAudience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "boards.read boards.write",
	}
}

func TestJWT_DiscoveryHappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)

	a, err := NewJWT(t.Context(), JWTConfig{Issuer: iss.issuer, Audiences: []string{testAudience}, RequiredScopes: []string{"boards.read"}})
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}
	ui, err := a.CheckAuthentication(t.Context(), signToken(t, pk, kid, validClaims(iss.issuer)))
	if err != nil {
		t.Fatalf("CheckAuthentication: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("unexpected user %q", ui.UserID())
	}
	var claims struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&claims); err != nil || claims.Scope != "boards.read boards.write" {
		t.Fatalf("claims: %+v %v", claims, err)
	}
}

func TestJWT_StaticJWKS(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)

	a, err := NewJWT(t.Context(), JWTConfig{Issuer: iss.issuer, Audiences: []string{"other", testAudience}, JWKSURL: iss.issuer + "/keys"})
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}
	if _, err := a.CheckAuthentication(t.Context(), signToken(t, pk, kid, validClaims(iss.issuer))); err != nil {
		t.Fatalf("CheckAuthentication: %v", err)
	}
}

func TestJWT_Rejections(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)
	a, err := NewJWT(t.Context(), JWTConfig{Issuer: iss.issuer, Audiences: []string{testAudience}, RequiredScopes: []string{"boards.write"}})
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}

	otherKey, _, _ := genRSA(t)

	cases := []struct {
		name   string
		token  func() string
		wantIs error
	}{
		{"expired", func() string {
			c := validClaims(iss.issuer)
			c["exp"] = time.Now().Add(-time.Hour).Unix()
			return signToken(t, pk, kid, c)
		}, ErrUnauthorized},
		{"wrong audience", func() string {
			c := validClaims(iss.issuer)
			c["aud"] = "someone-else"
			return signToken(t, pk, kid, c)
		}, ErrUnauthorized},
		{"wrong issuer", func() string {
			c := validClaims(iss.issuer)
			c["iss"] = "https://evil.example.com"
			return signToken(t, pk, kid, c)
		}, ErrUnauthorized},
		{"bad signature", func() string {
			return signToken(t, otherKey, kid, validClaims(iss.issuer))
		}, ErrUnauthorized},
		{"missing sub", func() string {
			c := validClaims(iss.issuer)
			delete(c, "sub")
			return signToken(t, pk, kid, c)
		}, ErrUnauthorized},
		{"missing scope", func() string {
			c := validClaims(iss.issuer)
			c["scope"] = "boards.read"
			return signToken(t, pk, kid, c)
		}, ErrInsufficientScope},
		{"empty", func() string { return "" }, ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.CheckAuthentication(t.Context(), tc.token())
			if !errors.Is(err, tc.wantIs) {
				t.Fatalf("want %v, got %v", tc.wantIs, err)
			}
		})
	}
}

func TestJWT_ConfigValidation(t *testing.T) {
	if _, err := NewJWT(t.Context(), JWTConfig{Audiences: []string{"x"}}); err == nil {
		t.Fatalf("expected error without issuer")
	}
	if _, err := NewJWT(t.Context(), JWTConfig{Issuer: "https://issuer.example.com"}); err == nil {
		t.Fatalf("expected error without audience")
	}
}
