// Package catalog registers the server's built-in content tools and
// resources, and loads additional REST-alias tools from a YAML manifest.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ggoodman/mcp-sse-server/internal/contentapi"
	"github.com/ggoodman/mcp-sse-server/mcp"
	"github.com/ggoodman/mcp-sse-server/registry"
)

const (
	SiteInfoURI      = "WordPress://site-info"
	PostTemplateURI  = "WordPress://posts/{id}"
	jsonMimeType     = "application/json"
	siteInfoResource = "site-info"
)

// SiteInfo describes the site the server fronts.
type SiteInfo struct {
	Name        string
	URL         string
	Description string
	AdminEmail  string
	Version     string
}

type options struct {
	read  registry.PermissionFunc
	write registry.PermissionFunc
	posts *contentapi.Store
}

// Option configures RegisterDefaults.
type Option func(*options)

// WithReadPermission guards the read-only tools.
func WithReadPermission(p registry.PermissionFunc) Option {
	return func(o *options) { o.read = p }
}

// WithWritePermission guards tools that modify content.
func WithWritePermission(p registry.PermissionFunc) Option {
	return func(o *options) { o.write = p }
}

// WithPosts exposes posts from s through the WordPress://posts/{id}
// resource template.
func WithPosts(s *contentapi.Store) Option {
	return func(o *options) { o.posts = s }
}

type postsSearchArgs struct {
	Search  string `json:"search,omitempty" jsonschema:"description=Limit results to posts matching this string"`
	Status  string `json:"status,omitempty" jsonschema:"enum=publish,enum=draft,enum=pending,enum=private"`
	PerPage int    `json:"per_page,omitempty" jsonschema:"minimum=1,maximum=100"`
	Page    int    `json:"page,omitempty" jsonschema:"minimum=1"`
}

type getPostArgs struct {
	ID int `json:"id" jsonschema:"required,description=Post ID"`
}

type addPostArgs struct {
	Title   string `json:"title" jsonschema:"required"`
	Content string `json:"content,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
	Status  string `json:"status,omitempty" jsonschema:"enum=publish,enum=draft,enum=pending,enum=private"`
}

type siteInfoResult struct {
	SiteName        string `json:"site_name"`
	SiteURL         string `json:"site_url"`
	SiteDescription string `json:"site_description"`
	SiteAdminEmail  string `json:"site_admin_email"`
}

type siteInfoArgs struct{}

func siteInfoTool(site SiteInfo) registry.DirectCallbackTool {
	tool := registry.NewTypedTool("get_site_info", "Get site info", func(ctx context.Context, _ siteInfoArgs) (any, error) {
		return siteInfoResult{
			SiteName:        site.Name,
			SiteURL:         site.URL,
			SiteDescription: site.Description,
			SiteAdminEmail:  site.AdminEmail,
		}, nil
	})
	tool.OutputSchema = registry.SchemaFor[siteInfoResult]()
	tool.Permission = allowAll
	return tool
}

// RegisterDefaults installs the built-in tools and resources into reg.
func RegisterDefaults(reg *registry.Registry, site SiteInfo, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tools := []registry.ToolSpec{
		registry.RestAliasTool{
			Name:        "posts_search",
			Description: "Search and filter posts",
			InputSchema: registry.SchemaFor[postsSearchArgs](),
			Permission:  o.read,
			Route:       "/wp/v2/posts",
			Method:      http.MethodGet,
		},
		registry.RestAliasTool{
			Name:        "get_post",
			Description: "Get a post by ID",
			InputSchema: registry.SchemaFor[getPostArgs](),
			Permission:  o.read,
			Route:       "/wp/v2/posts/{id}",
			Method:      http.MethodGet,
		},
		registry.RestAliasTool{
			Name:        "add_post",
			Description: "Add a new post",
			InputSchema: registry.SchemaFor[addPostArgs](),
			Permission:  o.write,
			Route:       "/wp/v2/posts",
			Method:      http.MethodPost,
		},
		siteInfoTool(site),
	}
	for _, t := range tools {
		if err := reg.RegisterTool(t); err != nil {
			return err
		}
	}

	err := reg.RegisterResource(registry.ResourceSpec{
		URI:         SiteInfoURI,
		Name:        siteInfoResource,
		Description: "Site Info",
		MimeType:    jsonMimeType,
		Reader: registry.JSONReader(func(context.Context) (any, error) {
			return map[string]string{
				"name":        site.Name,
				"description": site.Description,
				"url":         site.URL,
				"version":     site.Version,
			}, nil
		}),
	})
	if err != nil {
		return err
	}

	if o.posts == nil {
		return nil
	}
	return reg.RegisterResourceTemplate(registry.ResourceTemplateSpec{
		URITemplate: PostTemplateURI,
		Name:        "post",
		Description: "A single post",
		MimeType:    jsonMimeType,
		Reader:      postReader(o.posts),
	})
}

func allowAll(context.Context, map[string]any) (bool, error) { return true, nil }

func postReader(s *contentapi.Store) registry.TemplateReaderFunc {
	return func(ctx context.Context, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
		id, err := strconv.ParseInt(vars["id"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", registry.ErrResourceNotFound, uri)
		}
		p, ok := s.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", registry.ErrResourceNotFound, uri)
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode post %d: %w", id, err)
		}
		return []mcp.ResourceContents{{URI: uri, MimeType: jsonMimeType, Text: string(b)}}, nil
	}
}
