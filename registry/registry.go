package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-sse-server/mcp"
)

// Registry is a threadsafe catalog of tools, resources and resource
// templates. The zero value is not usable; call New.
type Registry struct {
	mu sync.RWMutex

	tools      []mcp.Tool
	executions map[string]*Execution

	resources     []mcp.Resource
	resourceNames map[string]struct{}
	resourceURIs  map[string]struct{}
	readers       map[string]ResourceReaderFunc

	templates     []*templateEntry
	templateNames map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		executions:    make(map[string]*Execution),
		resourceNames: make(map[string]struct{}),
		resourceURIs:  make(map[string]struct{}),
		readers:       make(map[string]ResourceReaderFunc),
		templateNames: make(map[string]struct{}),
	}
}

// RegisterTool validates spec and adds it to the catalog. It fails with a
// *DuplicateNameError when the name is taken, and with ErrInvalidSpec when
// the spec is malformed. The registry is unchanged on failure.
func (r *Registry) RegisterTool(spec ToolSpec) error {
	if spec == nil {
		return invalidSpec("nil tool spec")
	}
	desc, exec, err := spec.compile()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[desc.Name]; exists {
		return &DuplicateNameError{Name: desc.Name}
	}
	r.tools = append(r.tools, desc)
	r.executions[desc.Name] = exec
	return nil
}

// Tools returns the public tool catalog in registration order.
func (r *Registry) Tools() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// ToolExecution returns the execution record of a tool or ErrToolNotFound.
func (r *Registry) ToolExecution(name string) (*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	cp := *exec
	return &cp, nil
}

// RegisterResource adds a resource. Name and URI must each be unused; a
// *DuplicateResourceError names the colliding field otherwise. A spec
// carrying its own Reader fails with ErrInvalidSpec when a reader was
// already attached to the URI with RegisterResourceReader.
func (r *Registry) RegisterResource(spec ResourceSpec) error {
	if spec.URI == "" {
		return invalidSpec("resource uri is required")
	}
	if spec.Name == "" {
		return invalidSpec("resource %q: name is required", spec.URI)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resourceNames[spec.Name]; exists {
		return &DuplicateResourceError{Field: "name", Value: spec.Name}
	}
	if _, exists := r.templateNames[spec.Name]; exists {
		return &DuplicateResourceError{Field: "name", Value: spec.Name}
	}
	if _, exists := r.resourceURIs[spec.URI]; exists {
		return &DuplicateResourceError{Field: "uri", Value: spec.URI}
	}
	if _, attached := r.readers[spec.URI]; attached && spec.Reader != nil {
		return invalidSpec("resource %q: a reader is already attached", spec.URI)
	}
	r.resources = append(r.resources, mcp.Resource{
		URI:         spec.URI,
		Name:        spec.Name,
		Description: spec.Description,
		MimeType:    spec.MimeType,
	})
	r.resourceNames[spec.Name] = struct{}{}
	r.resourceURIs[spec.URI] = struct{}{}
	if spec.Reader != nil {
		r.readers[spec.URI] = spec.Reader
	}
	return nil
}

// RegisterResourceReader attaches a reader to uri, replacing any previous
// reader. The reader may be attached before the URI is listed, but it is
// only served once RegisterResource has listed the URI.
func (r *Registry) RegisterResourceReader(uri string, reader ResourceReaderFunc) error {
	if uri == "" {
		return invalidSpec("reader uri is required")
	}
	if reader == nil {
		return invalidSpec("reader for %q is nil", uri)
	}
	r.mu.Lock()
	r.readers[uri] = reader
	r.mu.Unlock()
	return nil
}

// Resources returns the public resource catalog in registration order.
func (r *Registry) Resources() []mcp.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Resource, len(r.resources))
	copy(out, r.resources)
	return out
}

// RegisterResourceTemplate adds a templated resource family.
func (r *Registry) RegisterResourceTemplate(spec ResourceTemplateSpec) error {
	entry, err := compileTemplate(spec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templateNames[spec.Name]; exists {
		return &DuplicateResourceError{Field: "name", Value: spec.Name}
	}
	if _, exists := r.resourceNames[spec.Name]; exists {
		return &DuplicateResourceError{Field: "name", Value: spec.Name}
	}
	for _, t := range r.templates {
		if t.desc.URITemplate == spec.URITemplate {
			return &DuplicateResourceError{Field: "uriTemplate", Value: spec.URITemplate}
		}
	}
	r.templates = append(r.templates, entry)
	r.templateNames[spec.Name] = struct{}{}
	return nil
}

// ResourceTemplates returns the template catalog in registration order.
func (r *Registry) ResourceTemplates() []mcp.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t.desc)
	}
	return out
}

// ReadResource serves a listed uri from its exact reader, falling back to
// the first matching template. It returns ErrResourceNotFound when neither
// applies.
func (r *Registry) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	r.mu.RLock()
	_, listed := r.resourceURIs[uri]
	reader, ok := r.readers[uri]
	templates := r.templates
	r.mu.RUnlock()

	if listed && ok {
		return reader(ctx, uri)
	}
	for _, t := range templates {
		if vars, ok := t.match(uri); ok {
			return t.reader(ctx, uri, vars)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
}
