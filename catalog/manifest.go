package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ggoodman/mcp-sse-server/registry"
	"gopkg.in/yaml.v3"
)

// Manifest is a declarative list of REST-alias tools.
//
//	tools:
//	  - name: list_drafts
//	    description: List draft posts
//	    method: GET
//	    route: /wp/v2/posts
//	    scope: content:read
//	    inputSchema:
//	      type: object
//	      properties:
//	        search: {type: string}
type Manifest struct {
	Tools []ManifestTool `yaml:"tools"`
}

// ManifestTool declares one REST-alias tool. Scope, when set, is required
// of the caller through the ScopeFunc passed to Register.
type ManifestTool struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Method       string         `yaml:"method"`
	Route        string         `yaml:"route"`
	Scope        string         `yaml:"scope"`
	InputSchema  map[string]any `yaml:"inputSchema"`
	OutputSchema map[string]any `yaml:"outputSchema"`
}

// ScopeFunc turns a required scope into a permission predicate.
type ScopeFunc func(scope string) registry.PermissionFunc

// LoadManifest decodes a manifest. Unknown fields are rejected.
func LoadManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return &m, nil
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// LoadManifestFile reads and decodes the manifest at path.
func LoadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f)
}

// Register adds every tool in m to reg, stopping at the first failure.
// scopes may be nil, in which case declared scopes are ignored.
func (m *Manifest) Register(reg *registry.Registry, scopes ScopeFunc) error {
	for i, t := range m.Tools {
		spec := registry.RestAliasTool{
			Name:        t.Name,
			Description: t.Description,
			Method:      t.Method,
			Route:       t.Route,
		}
		var err error
		if spec.InputSchema, err = schemaJSON(t.InputSchema); err != nil {
			return fmt.Errorf("manifest tool %d (%s): input schema: %w", i, t.Name, err)
		}
		if spec.OutputSchema, err = schemaJSON(t.OutputSchema); err != nil {
			return fmt.Errorf("manifest tool %d (%s): output schema: %w", i, t.Name, err)
		}
		if t.Scope != "" && scopes != nil {
			spec.Permission = scopes(t.Scope)
		}
		if err := reg.RegisterTool(spec); err != nil {
			return fmt.Errorf("manifest tool %d (%s): %w", i, t.Name, err)
		}
	}
	return nil
}

func schemaJSON(v map[string]any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
