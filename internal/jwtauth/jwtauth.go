// Package jwtauth validates bearer JWT access tokens against an issuer's
// JWKS, found either through OpenID Connect discovery or configured
// directly.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized wraps every validation failure: bad signature, issuer,
// audience, expiry, token type or a missing subject.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// Config controls token validation.
type Config struct {
	Issuer string
	// Audiences lists the accepted "aud" values; a token must carry at
	// least one of them.
	Audiences []string
	// JWKSURL skips discovery when set.
	JWKSURL     string
	AllowedAlgs []string
	Leeway      time.Duration
	// RequireAccessTokenType enforces the RFC 9068 "at+jwt" typ header.
	RequireAccessTokenType bool
}

// DefaultConfig returns a Config with RS256 and a one minute leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// Claims is the validated content of a token.
type Claims struct {
	Subject string
	Scopes  []string
	Raw     map[string]any
}

// Validator checks tokens for one issuer.
type Validator struct {
	cfg     Config
	keyfunc jwt.Keyfunc
}

// New builds a Validator. When cfg.JWKSURL is empty the issuer's discovery
// document is fetched to find it. Keys are refreshed in the background for
// as long as ctx lives.
func New(ctx context.Context, cfg *Config) (*Validator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.Audiences) == 0 {
		return nil, errors.New("at least one audience is required")
	}

	c := *cfg
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}

	jwksURL := c.JWKSURL
	if jwksURL == "" {
		discovered, err := discoverJWKS(ctx, c.Issuer)
		if err != nil {
			return nil, err
		}
		jwksURL = discovered
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return NewWithKeyfunc(&c, kf.Keyfunc), nil
}

// NewWithKeyfunc builds a Validator that resolves signing keys with kf.
func NewWithKeyfunc(cfg *Config, kf jwt.Keyfunc) *Validator {
	c := *cfg
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	return &Validator{
		cfg: c,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(c.AllowedAlgs, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf(t)
		},
	}
}

func discoverJWKS(ctx context.Context, issuer string) (string, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return "", errors.New("discovery incomplete: missing jwks_uri")
	}
	return meta.JwksURI, nil
}

// Validate verifies tok and returns its claims. Failures wrap
// ErrUnauthorized.
func (v *Validator) Validate(ctx context.Context, tok string) (*Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	if v.cfg.RequireAccessTokenType {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audIntersects(claims["aud"], v.cfg.Audiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	return &Claims{Subject: sub, Scopes: scopesOf(claims), Raw: claims}, nil
}

// scopesOf reads the space-delimited "scope" claim, falling back to an
// "scp" array.
func scopesOf(claims jwt.MapClaims) []string {
	if s, ok := claims["scope"].(string); ok {
		return strings.Fields(s)
	}
	var out []string
	if arr, ok := claims["scp"].([]any); ok {
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
