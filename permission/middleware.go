package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	bearerPrefix          = "Bearer "
)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	required         bool
	realm            string
	resourceMetadata string
	log              *slog.Logger
}

// Required rejects requests that carry no token. By default anonymous
// requests pass through without a principal.
func Required() MiddlewareOption {
	return func(c *middlewareConfig) { c.required = true }
}

// WithRealm sets the realm advertised in Bearer challenges.
func WithRealm(realm string) MiddlewareOption {
	return func(c *middlewareConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithResourceMetadata advertises the RFC 9728 metadata document url in
// every challenge.
func WithResourceMetadata(url string) MiddlewareOption {
	return func(c *middlewareConfig) { c.resourceMetadata = url }
}

// WithMiddlewareLogger sets the logger used for authentication events.
func WithMiddlewareLogger(l *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) { c.log = l }
}

// Middleware authenticates bearer tokens with a and stores the principal in
// the request context. Invalid tokens are rejected with 401 and a Bearer
// challenge; malformed headers with 400.
func Middleware(a Authenticator, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			header := r.Header.Get(authorizationHeader)
			if header == "" {
				if cfg.required {
					cfg.log.InfoContext(ctx, "auth.check.missing")
					challenge(w, cfg, http.StatusUnauthorized, nil)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if !strings.HasPrefix(header, bearerPrefix) || strings.TrimSpace(header[len(bearerPrefix):]) == "" {
				cfg.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
				challenge(w, cfg, http.StatusBadRequest, map[string]string{
					"error":             "invalid_request",
					"error_description": "malformed bearer authorization header",
				})
				return
			}

			p, err := a.Authenticate(ctx, strings.TrimSpace(header[len(bearerPrefix):]))
			if err != nil {
				if errors.Is(err, ErrUnauthorized) {
					cfg.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
					challenge(w, cfg, http.StatusUnauthorized, map[string]string{
						"error":             "invalid_token",
						"error_description": "the access token is invalid",
					})
					return
				}
				cfg.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			cfg.log.DebugContext(ctx, "auth.ok", slog.String("sub", p.Subject))
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
		})
	}
}

// challenge writes a Bearer challenge per RFC 6750 section 3.
func challenge(w http.ResponseWriter, cfg *middlewareConfig, status int, params map[string]string) {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	var pieces []string
	if cfg.realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(cfg.realm)))
	}
	if cfg.resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(cfg.resourceMetadata)))
	}
	for _, k := range []string{"error", "error_description"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	value := "Bearer"
	if len(pieces) > 0 {
		value += " " + strings.Join(pieces, ", ")
	}
	w.Header().Add(wwwAuthenticateHeader, value)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := http.StatusText(status)
	if d, ok := params["error_description"]; ok {
		msg = d
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
