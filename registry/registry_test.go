package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-sse-server/mcp"
	"github.com/ggoodman/mcp-sse-server/registry"
)

func echoTool(name string) registry.DirectCallbackTool {
	return registry.DirectCallbackTool{
		Name:        name,
		Description: "echo " + name,
		Callback: func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func TestToolsListedOnceInRegistrationOrder(t *testing.T) {
	r := registry.New()
	names := []string{"zeta", "alpha", "posts_search", "Alpha"}
	for _, n := range names {
		if err := r.RegisterTool(echoTool(n)); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	if err := r.RegisterTool(registry.RestAliasTool{Name: "get_post", Route: "/wp/v2/posts/{id}", Method: "get"}); err != nil {
		t.Fatalf("register rest alias: %v", err)
	}

	got := r.Tools()
	want := append(append([]string{}, names...), "get_post")
	if len(got) != len(want) {
		t.Fatalf("want %d tools got %d", len(want), len(got))
	}
	for i, tool := range got {
		if tool.Name != want[i] {
			t.Fatalf("position %d: want %q got %q", i, want[i], tool.Name)
		}
	}
}

func TestCatalogDoesNotLeakExecutionFields(t *testing.T) {
	r := registry.New()
	spec := echoTool("secretive")
	spec.Permission = func(ctx context.Context, args map[string]any) (bool, error) { return true, nil }
	if err := r.RegisterTool(spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.RegisterTool(registry.RestAliasTool{Name: "aliased", Route: "/things/{id}", Method: "GET"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	b, err := json.Marshal(mcp.ListToolsResult{Tools: r.Tools()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Tools []map[string]json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	allowed := map[string]bool{"name": true, "description": true, "inputSchema": true, "outputSchema": true}
	for _, tool := range decoded.Tools {
		for k := range tool {
			if !allowed[k] {
				t.Fatalf("unexpected catalog field %q in %s", k, b)
			}
		}
	}
	if strings.Contains(string(b), "/things/") {
		t.Fatalf("route leaked into catalog: %s", b)
	}
}

func TestDuplicateToolIsAtomic(t *testing.T) {
	r := registry.New()
	if err := r.RegisterTool(echoTool("dup")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	before := r.Tools()
	beforeExec, err := r.ToolExecution("dup")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	err = r.RegisterTool(registry.RestAliasTool{Name: "dup", Description: "other", Route: "/x", Method: "POST"})
	var dupErr *registry.DuplicateNameError
	if !errors.As(err, &dupErr) || dupErr.Name != "dup" {
		t.Fatalf("expected DuplicateNameError for dup, got %v", err)
	}
	if !errors.Is(err, registry.ErrDuplicateName) {
		t.Fatalf("expected errors.Is ErrDuplicateName")
	}

	if !reflect.DeepEqual(before, r.Tools()) {
		t.Fatalf("catalog changed after failed registration")
	}
	afterExec, err := r.ToolExecution("dup")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if afterExec.Kind != beforeExec.Kind || afterExec.Kind != registry.KindDirectCallback {
		t.Fatalf("execution record replaced: %v", afterExec.Kind)
	}
}

func TestToolNamesAreCaseSensitive(t *testing.T) {
	r := registry.New()
	if err := r.RegisterTool(echoTool("Tool")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.RegisterTool(echoTool("tool")); err != nil {
		t.Fatalf("names differing in case must both register: %v", err)
	}
}

func TestInvalidToolSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec registry.ToolSpec
	}{
		{name: "empty name", spec: registry.DirectCallbackTool{Callback: echoTool("x").Callback}},
		{name: "missing callback", spec: registry.DirectCallbackTool{Name: "x"}},
		{name: "relative route", spec: registry.RestAliasTool{Name: "x", Route: "wp/v2/posts", Method: "GET"}},
		{name: "bad method", spec: registry.RestAliasTool{Name: "x", Route: "/wp/v2/posts", Method: "FETCH"}},
		{name: "bad schema", spec: registry.RestAliasTool{Name: "x", Route: "/a", Method: "GET", InputSchema: json.RawMessage(`{`)}},
		{name: "nil", spec: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := registry.New()
			if err := r.RegisterTool(tt.spec); !errors.Is(err, registry.ErrInvalidSpec) {
				t.Fatalf("expected ErrInvalidSpec, got %v", err)
			}
			if len(r.Tools()) != 0 {
				t.Fatalf("invalid spec must not be registered")
			}
		})
	}
}

func TestRestAliasMethodNormalized(t *testing.T) {
	r := registry.New()
	if err := r.RegisterTool(registry.RestAliasTool{Name: "add_post", Route: "/wp/v2/posts", Method: "post"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	exec, err := r.ToolExecution("add_post")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if exec.Kind != registry.KindRestAlias || exec.Method != "POST" || exec.Route != "/wp/v2/posts" {
		t.Fatalf("unexpected execution record: %+v", exec)
	}
	tool := r.Tools()[0]
	if string(tool.InputSchema) != `{"type":"object"}` {
		t.Fatalf("expected default input schema, got %s", tool.InputSchema)
	}
}

func TestToolExecutionNotFound(t *testing.T) {
	r := registry.New()
	if _, err := r.ToolExecution("nope"); !errors.Is(err, registry.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestDuplicateResourceURIOrName(t *testing.T) {
	r := registry.New()
	if err := r.RegisterResource(registry.ResourceSpec{URI: "WordPress://site-info", Name: "site-info", MimeType: "application/json"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := r.RegisterResource(registry.ResourceSpec{URI: "WordPress://site-info", Name: "other-name"})
	var dup *registry.DuplicateResourceError
	if !errors.As(err, &dup) || dup.Field != "uri" {
		t.Fatalf("expected duplicate uri error, got %v", err)
	}

	err = r.RegisterResource(registry.ResourceSpec{URI: "WordPress://other", Name: "site-info"})
	if !errors.As(err, &dup) || dup.Field != "name" {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
	if !errors.Is(err, registry.ErrDuplicateResource) {
		t.Fatalf("expected errors.Is ErrDuplicateResource")
	}

	res := r.Resources()
	if len(res) != 1 || res[0].Name != "site-info" {
		t.Fatalf("catalog changed after failed registrations: %+v", res)
	}

	// Neither half of a rejected spec may be reserved.
	if err := r.RegisterResource(registry.ResourceSpec{URI: "WordPress://other", Name: "other-name"}); err != nil {
		t.Fatalf("expected clean registration after rejections, got %v", err)
	}
}

func TestReadResource(t *testing.T) {
	ctx := context.Background()
	r := registry.New()

	if _, err := r.ReadResource(ctx, "WordPress://site-info"); !errors.Is(err, registry.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound before registration, got %v", err)
	}

	if err := r.RegisterResource(registry.ResourceSpec{URI: "WordPress://site-info", Name: "site-info"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.ReadResource(ctx, "WordPress://site-info"); !errors.Is(err, registry.ErrResourceNotFound) {
		t.Fatalf("listed resource without reader should not be readable, got %v", err)
	}

	err := r.RegisterResourceReader("WordPress://site-info", registry.JSONReader(func(ctx context.Context) (any, error) {
		return map[string]string{"site_name": "Demo"}, nil
	}))
	if err != nil {
		t.Fatalf("register reader: %v", err)
	}
	contents, err := r.ReadResource(ctx, "WordPress://site-info")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(contents) != 1 || contents[0].Text != `{"site_name":"Demo"}` || contents[0].URI != "WordPress://site-info" {
		t.Fatalf("unexpected contents: %+v", contents)
	}

	// A reader alone does not make a URI readable.
	if err := r.RegisterResourceReader("WordPress://hidden", registry.JSONReader(func(ctx context.Context) (any, error) { return "secret", nil })); err != nil {
		t.Fatalf("register reader: %v", err)
	}
	if contents, err := r.ReadResource(ctx, "WordPress://hidden"); !errors.Is(err, registry.ErrResourceNotFound) {
		t.Fatalf("want ErrResourceNotFound for unlisted uri, got err=%v contents=%+v", err, contents)
	}

	// Listing it afterwards serves the reader attached earlier.
	if err := r.RegisterResource(registry.ResourceSpec{URI: "WordPress://hidden", Name: "hidden"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	contents, err = r.ReadResource(ctx, "WordPress://hidden")
	if err != nil {
		t.Fatalf("read after listing: %v", err)
	}
	if len(contents) != 1 || contents[0].Text != `"secret"` {
		t.Fatalf("unexpected contents: %+v", contents)
	}
}

func TestRegisterResourceKeepsAttachedReader(t *testing.T) {
	ctx := context.Background()
	r := registry.New()

	if err := r.RegisterResourceReader("WordPress://site-info", registry.JSONReader(func(ctx context.Context) (any, error) { return "first", nil })); err != nil {
		t.Fatalf("register reader: %v", err)
	}
	err := r.RegisterResource(registry.ResourceSpec{
		URI:    "WordPress://site-info",
		Name:   "site-info",
		Reader: registry.JSONReader(func(ctx context.Context) (any, error) { return "second", nil }),
	})
	if !errors.Is(err, registry.ErrInvalidSpec) {
		t.Fatalf("want ErrInvalidSpec for conflicting reader, got %v", err)
	}
	if got := r.Resources(); len(got) != 0 {
		t.Fatalf("rejected spec must not be listed: %+v", got)
	}

	if err := r.RegisterResource(registry.ResourceSpec{URI: "WordPress://site-info", Name: "site-info"}); err != nil {
		t.Fatalf("register without reader: %v", err)
	}
	contents, err := r.ReadResource(ctx, "WordPress://site-info")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(contents) != 1 || contents[0].Text != `"first"` {
		t.Fatalf("want first reader kept, got %+v", contents)
	}
}

func TestResourceTemplates(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	err := r.RegisterResourceTemplate(registry.ResourceTemplateSpec{
		URITemplate: "WordPress://posts/{id}",
		Name:        "post",
		MimeType:    "application/json",
		Reader: func(ctx context.Context, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{{URI: uri, Text: "post " + vars["id"]}}, nil
		},
	})
	if err != nil {
		t.Fatalf("register template: %v", err)
	}

	contents, err := r.ReadResource(ctx, "WordPress://posts/42")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if contents[0].Text != "post 42" {
		t.Fatalf("want %q got %q", "post 42", contents[0].Text)
	}

	if _, err := r.ReadResource(ctx, "WordPress://pages/42"); !errors.Is(err, registry.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound for non-matching uri, got %v", err)
	}

	err = r.RegisterResourceTemplate(registry.ResourceTemplateSpec{
		URITemplate: "WordPress://pages/{id}",
		Name:        "post",
		Reader:      func(context.Context, string, map[string]string) ([]mcp.ResourceContents, error) { return nil, nil },
	})
	if !errors.Is(err, registry.ErrDuplicateResource) {
		t.Fatalf("expected duplicate template name error, got %v", err)
	}
	if got := r.ResourceTemplates(); len(got) != 1 || got[0].URITemplate != "WordPress://posts/{id}" {
		t.Fatalf("unexpected templates: %+v", got)
	}
}

type searchArgs struct {
	Search  string `json:"search" jsonschema:"description=Text to search for"`
	PerPage int    `json:"per_page,omitempty"`
}

func TestNewTypedTool(t *testing.T) {
	var got searchArgs
	spec := registry.NewTypedTool("typed", "typed search", func(ctx context.Context, in searchArgs) (any, error) {
		got = in
		return "ok", nil
	})

	var schema struct {
		Type                 string                     `json:"type"`
		Properties           map[string]json.RawMessage `json:"properties"`
		Required             []string                   `json:"required"`
		AdditionalProperties *bool                      `json:"additionalProperties"`
	}
	if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if schema.Type != "object" {
		t.Fatalf("want object schema got %q", schema.Type)
	}
	if _, ok := schema.Properties["search"]; !ok {
		t.Fatalf("missing search property in %s", spec.InputSchema)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "search" {
		t.Fatalf("want required [search] got %v", schema.Required)
	}
	if schema.AdditionalProperties == nil || *schema.AdditionalProperties {
		t.Fatalf("expected additionalProperties=false in %s", spec.InputSchema)
	}
	if strings.Contains(string(spec.InputSchema), "$schema") {
		t.Fatalf("schema should not carry $schema: %s", spec.InputSchema)
	}

	out, err := spec.Callback(context.Background(), map[string]any{"search": "hello", "per_page": json.Number("5")})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if out != "ok" || got.Search != "hello" || got.PerPage != 5 {
		t.Fatalf("unexpected decode: out=%v in=%+v", out, got)
	}

	if _, err := spec.Callback(context.Background(), map[string]any{"per_page": "many"}); err == nil {
		t.Fatalf("expected decode error for wrong argument type")
	}
}
