package restroute

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/ggoodman/mcp-sse-server/registry"
)

// DefaultNamespaces are the route namespaces exposed by GenerateTools when
// GenerateOptions.Namespaces is empty.
var DefaultNamespaces = []string{"wp/v2"}

var placeholderPattern = regexp.MustCompile(`\{([^{}:]+)(?::[^{}]*)?\}`)

// GenerateOptions tunes GenerateTools.
type GenerateOptions struct {
	// Namespaces restricts generation to routes whose path, without the
	// leading slash, starts with one of these prefixes.
	Namespaces []string
	// Permission is attached to every generated tool.
	Permission registry.PermissionFunc
	Logger     *slog.Logger
}

// ToolName derives a tool name from a method and route pattern, e.g.
// GET /wp/v2/posts/{id} becomes get_wp_v2_posts_param.
func ToolName(method, route string) string {
	r := strings.Trim(route, "/")
	r = placeholderPattern.ReplaceAllString(r, "param")
	r = strings.ReplaceAll(r, "/", "_")
	return strings.ToLower(method + "_" + r)
}

// GenerateTools registers one RestAliasTool per method and route of m that
// falls under the configured namespaces. Registration failures, such as a
// name already taken by a hand-written tool, are logged and skipped. It
// returns the number of tools registered.
func GenerateTools(m *Mux, reg *registry.Registry, opts GenerateOptions) (int, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	namespaces := opts.Namespaces
	if len(namespaces) == 0 {
		namespaces = DefaultNamespaces
	}

	routes, err := m.Routes()
	if err != nil {
		return 0, fmt.Errorf("walk routes: %w", err)
	}

	n := 0
	for _, rt := range routes {
		if !inNamespace(rt.Pattern, namespaces) || !aliasable(rt.Method) {
			continue
		}
		desc := rt.Description
		if desc == "" {
			desc = fmt.Sprintf("Access the %s endpoint via %s method", rt.Pattern, rt.Method)
		}
		spec := registry.RestAliasTool{
			Name:        ToolName(rt.Method, rt.Pattern),
			Description: desc,
			InputSchema: placeholderSchema(rt.Pattern),
			Permission:  opts.Permission,
			Route:       rt.Pattern,
			Method:      rt.Method,
		}
		if err := reg.RegisterTool(spec); err != nil {
			log.Warn("restroute.generate.skip", slog.String("tool", spec.Name), slog.String("err", err.Error()))
			continue
		}
		log.Debug("restroute.generate.ok", slog.String("tool", spec.Name), slog.String("route", rt.Pattern), slog.String("method", rt.Method))
		n++
	}
	return n, nil
}

func inNamespace(pattern string, namespaces []string) bool {
	p := strings.TrimPrefix(pattern, "/")
	for _, ns := range namespaces {
		ns = strings.Trim(ns, "/")
		if p == ns || strings.HasPrefix(p, ns+"/") {
			return true
		}
	}
	return false
}

func aliasable(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func placeholderSchema(pattern string) json.RawMessage {
	matches := placeholderPattern.FindAllStringSubmatch(pattern, -1)
	if len(matches) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	props := make(map[string]any, len(matches))
	required := make([]string, 0, len(matches))
	for _, m := range matches {
		props[m[1]] = map[string]string{"type": "string"}
		required = append(required, m[1])
	}
	b, err := json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}
