package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-sse-server/mcp"
	"github.com/yosida95/uritemplate/v3"
)

// ResourceReaderFunc returns the contents of the resource at uri.
type ResourceReaderFunc func(ctx context.Context, uri string) ([]mcp.ResourceContents, error)

// TemplateReaderFunc returns the contents of a templated resource. vars
// holds the template variables extracted from uri.
type TemplateReaderFunc func(ctx context.Context, uri string, vars map[string]string) ([]mcp.ResourceContents, error)

// ResourceSpec describes a readable resource. Reader is optional; a reader
// attached with RegisterResourceReader is kept, and Reader must then be nil.
type ResourceSpec struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Reader      ResourceReaderFunc
}

// ResourceTemplateSpec describes a family of resources addressed by an
// RFC 6570 URI template.
type ResourceTemplateSpec struct {
	URITemplate string
	Name        string
	Description string
	MimeType    string
	Reader      TemplateReaderFunc
}

type templateEntry struct {
	desc   mcp.ResourceTemplate
	tmpl   *uritemplate.Template
	reader TemplateReaderFunc
}

// JSONReader adapts fn into a ResourceReaderFunc that encodes its value as
// a single JSON text content item.
func JSONReader(fn func(ctx context.Context) (any, error)) ResourceReaderFunc {
	return func(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode resource %s: %w", uri, err)
		}
		return []mcp.ResourceContents{{URI: uri, MimeType: "application/json", Text: string(b)}}, nil
	}
}

func compileTemplate(spec ResourceTemplateSpec) (*templateEntry, error) {
	if spec.Name == "" {
		return nil, invalidSpec("resource template name is required")
	}
	if spec.Reader == nil {
		return nil, invalidSpec("resource template %q: reader is required", spec.Name)
	}
	tmpl, err := uritemplate.New(spec.URITemplate)
	if err != nil {
		return nil, invalidSpec("resource template %q: %v", spec.Name, err)
	}
	if len(tmpl.Varnames()) == 0 {
		return nil, invalidSpec("resource template %q: %q has no variables", spec.Name, spec.URITemplate)
	}
	return &templateEntry{
		desc: mcp.ResourceTemplate{
			URITemplate: spec.URITemplate,
			Name:        spec.Name,
			Description: spec.Description,
			MimeType:    spec.MimeType,
		},
		tmpl:   tmpl,
		reader: spec.Reader,
	}, nil
}

func (e *templateEntry) match(uri string) (map[string]string, bool) {
	values := e.tmpl.Match(uri)
	if values == nil {
		return nil, false
	}
	vars := make(map[string]string, len(values))
	for _, name := range e.tmpl.Varnames() {
		vars[name] = values.Get(name).String()
	}
	return vars, true
}
