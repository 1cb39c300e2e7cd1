package permission

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type fakeAuth map[string]*Principal

func (f fakeAuth) Authenticate(_ context.Context, token string) (*Principal, error) {
	if token == "explode" {
		return nil, errors.New("backend down")
	}
	p, ok := f[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	return p, nil
}

var testAuth = fakeAuth{
	"editor": {Subject: "u1", Scopes: []string{"posts:read", "posts:write"}},
	"reader": {Subject: "u2", Scopes: []string{"posts:read"}},
}

func TestPredicates(t *testing.T) {
	ctxFor := func(token string) context.Context {
		if token == "" {
			return context.Background()
		}
		return WithPrincipal(context.Background(), testAuth[token])
	}

	tests := []struct {
		name  string
		pred  func(context.Context, map[string]any) (bool, error)
		token string
		want  bool
	}{
		{"authenticated anonymous", Authenticated(), "", false},
		{"authenticated reader", Authenticated(), "reader", true},
		{"all scopes editor", RequireScopes("posts:read", "posts:write"), "editor", true},
		{"all scopes reader", RequireScopes("posts:read", "posts:write"), "reader", false},
		{"all scopes anonymous", RequireScopes("posts:read"), "", false},
		{"any scope reader", RequireAnyScope("posts:write", "posts:read"), "reader", true},
		{"any scope none", RequireAnyScope("admin"), "editor", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.pred(ctxFor(tt.token), nil)
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if got != tt.want {
				t.Fatalf("want %v got %v", tt.want, got)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFrom(r.Context()); ok {
			_, _ = w.Write([]byte(p.Subject))
			return
		}
		_, _ = w.Write([]byte("anonymous"))
	})

	tests := []struct {
		name      string
		opts      []MiddlewareOption
		header    string
		status    int
		body      string
		challenge string
	}{
		{"anonymous allowed", nil, "", http.StatusOK, "anonymous", ""},
		{"anonymous required", []MiddlewareOption{Required(), WithRealm("mcp")}, "", http.StatusUnauthorized, "", `Bearer realm="mcp"`},
		{"resource metadata", []MiddlewareOption{Required(), WithResourceMetadata("https://mcp.test/.well-known/oauth-protected-resource/sse")}, "", http.StatusUnauthorized, "", `Bearer resource_metadata="https://mcp.test/.well-known/oauth-protected-resource/sse"`},
		{"valid token", nil, "Bearer editor", http.StatusOK, "u1", ""},
		{"malformed", nil, "Basic abc", http.StatusBadRequest, "", `Bearer error="invalid_request"`},
		{"unknown token", nil, "Bearer nope", http.StatusUnauthorized, "", `Bearer error="invalid_token"`},
		{"backend failure", nil, "Bearer explode", http.StatusInternalServerError, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware(testAuth, tt.opts...)(next)
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.status {
				t.Fatalf("want status %d got %d", tt.status, w.Code)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Fatalf("want body %q got %q", tt.body, w.Body.String())
			}
			if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, tt.challenge) {
				t.Fatalf("want challenge prefix %q got %q", tt.challenge, got)
			}
		})
	}
}

func TestJWTAuthenticator(t *testing.T) {
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	keys, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keys)
	}))
	defer jwks.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewJWTAuthenticator(ctx, "https://issuer.example.com", []string{"mcp"}, WithJWKSURL(jwks.URL))
	if err != nil {
		t.Fatalf("NewJWTAuthenticator: %v", err)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   "https://issuer.example.com",
		"sub":   "alice",
		"aud":   "mcp",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "posts:write",
	})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	p, err := a.Authenticate(ctx, signed)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Subject != "alice" || !p.HasScope("posts:write") {
		t.Fatalf("unexpected principal %+v", p)
	}

	if _, err := a.Authenticate(ctx, signed+"x"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized got %v", err)
	}
}
