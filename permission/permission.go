package permission

import (
	"context"
	"errors"
	"slices"

	"github.com/ggoodman/mcp-sse-server/internal/jwtauth"
	"github.com/ggoodman/mcp-sse-server/registry"
)

// ErrUnauthorized is returned by authenticators for invalid credentials.
var ErrUnauthorized = errors.New("permission: unauthorized")

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Scopes  []string
	Claims  map[string]any
}

// HasScope reports whether p was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return p != nil && slices.Contains(p.Scopes, scope)
}

// Authenticator turns a bearer token into a Principal. It returns an error
// wrapping ErrUnauthorized for invalid tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Authenticated allows any call made by an authenticated principal.
func Authenticated() registry.PermissionFunc {
	return func(ctx context.Context, _ map[string]any) (bool, error) {
		_, ok := PrincipalFrom(ctx)
		return ok, nil
	}
}

// RequireScopes allows a call when the principal holds every scope.
func RequireScopes(scopes ...string) registry.PermissionFunc {
	want := slices.Clone(scopes)
	return func(ctx context.Context, _ map[string]any) (bool, error) {
		p, ok := PrincipalFrom(ctx)
		if !ok {
			return false, nil
		}
		for _, s := range want {
			if !p.HasScope(s) {
				return false, nil
			}
		}
		return true, nil
	}
}

// RequireAnyScope allows a call when the principal holds at least one of
// the scopes.
func RequireAnyScope(scopes ...string) registry.PermissionFunc {
	want := slices.Clone(scopes)
	return func(ctx context.Context, _ map[string]any) (bool, error) {
		p, ok := PrincipalFrom(ctx)
		if !ok {
			return false, nil
		}
		for _, s := range want {
			if p.HasScope(s) {
				return true, nil
			}
		}
		return false, nil
	}
}

// JWTOption tunes NewJWTAuthenticator.
type JWTOption func(*jwtauth.Config)

// WithJWKSURL skips OpenID Connect discovery and reads keys from url.
func WithJWKSURL(url string) JWTOption {
	return func(c *jwtauth.Config) { c.JWKSURL = url }
}

// WithAllowedAlgs restricts the accepted signing algorithms. Defaults to
// RS256.
func WithAllowedAlgs(algs ...string) JWTOption {
	return func(c *jwtauth.Config) { c.AllowedAlgs = slices.Clone(algs) }
}

// WithAccessTokenType requires the RFC 9068 "at+jwt" typ header.
func WithAccessTokenType() JWTOption {
	return func(c *jwtauth.Config) { c.RequireAccessTokenType = true }
}

// NewJWTAuthenticator validates JWTs issued by issuer for any of the
// audiences. Signing keys come from the issuer's discovery document unless
// WithJWKSURL is given.
func NewJWTAuthenticator(ctx context.Context, issuer string, audiences []string, opts ...JWTOption) (Authenticator, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.Audiences = slices.Clone(audiences)
	for _, opt := range opts {
		opt(cfg)
	}
	v, err := jwtauth.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return jwtAdapter{v: v}, nil
}

type jwtAdapter struct{ v *jwtauth.Validator }

func (a jwtAdapter) Authenticate(ctx context.Context, token string) (*Principal, error) {
	c, err := a.v.Validate(ctx, token)
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return &Principal{Subject: c.Subject, Scopes: c.Scopes, Claims: c.Raw}, nil
}
