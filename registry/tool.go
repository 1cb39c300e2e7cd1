package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ggoodman/mcp-sse-server/mcp"
)

// PermissionFunc decides whether a call with args may proceed. A false
// result or an error denies the call.
type PermissionFunc func(ctx context.Context, args map[string]any) (bool, error)

// CallbackFunc executes a direct callback tool. The returned value becomes
// the JSON-RPC result and must be JSON-marshalable.
type CallbackFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolSpec is the tagged variant accepted by RegisterTool. It is
// implemented only by DirectCallbackTool and RestAliasTool.
type ToolSpec interface {
	toolName() string
	compile() (mcp.Tool, *Execution, error)
}

// DirectCallbackTool is a tool implemented by a Go function.
type DirectCallbackTool struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Permission   PermissionFunc
	Callback     CallbackFunc
}

// RestAliasTool is a tool implemented by a route of the host REST router.
// Route may contain {name} placeholders that are filled from arguments of
// the same name.
type RestAliasTool struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Permission   PermissionFunc
	Route        string
	Method       string
}

// ExecutionKind tags an Execution with its variant.
type ExecutionKind int

const (
	KindDirectCallback ExecutionKind = iota + 1
	KindRestAlias
)

func (k ExecutionKind) String() string {
	switch k {
	case KindDirectCallback:
		return "direct_callback"
	case KindRestAlias:
		return "rest_alias"
	default:
		return "unknown"
	}
}

// Execution is the private half of a registered tool.
type Execution struct {
	Name       string
	Kind       ExecutionKind
	Permission PermissionFunc

	// Set when Kind is KindDirectCallback.
	Callback CallbackFunc

	// Set when Kind is KindRestAlias.
	Route  string
	Method string
}

var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

func (t DirectCallbackTool) toolName() string { return t.Name }

func (t DirectCallbackTool) compile() (mcp.Tool, *Execution, error) {
	desc, err := describe(t.Name, t.Description, t.InputSchema, t.OutputSchema)
	if err != nil {
		return mcp.Tool{}, nil, err
	}
	if t.Callback == nil {
		return mcp.Tool{}, nil, invalidSpec("tool %q: callback is required", t.Name)
	}
	return desc, &Execution{
		Name:       t.Name,
		Kind:       KindDirectCallback,
		Permission: t.Permission,
		Callback:   t.Callback,
	}, nil
}

func (t RestAliasTool) toolName() string { return t.Name }

func (t RestAliasTool) compile() (mcp.Tool, *Execution, error) {
	desc, err := describe(t.Name, t.Description, t.InputSchema, t.OutputSchema)
	if err != nil {
		return mcp.Tool{}, nil, err
	}
	if !strings.HasPrefix(t.Route, "/") {
		return mcp.Tool{}, nil, invalidSpec("tool %q: route %q must start with /", t.Name, t.Route)
	}
	method := strings.ToUpper(t.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return mcp.Tool{}, nil, invalidSpec("tool %q: unsupported method %q", t.Name, t.Method)
	}
	return desc, &Execution{
		Name:       t.Name,
		Kind:       KindRestAlias,
		Permission: t.Permission,
		Route:      t.Route,
		Method:     method,
	}, nil
}

func describe(name, description string, input, output json.RawMessage) (mcp.Tool, error) {
	if name == "" {
		return mcp.Tool{}, invalidSpec("tool name is required")
	}
	if len(input) == 0 {
		input = defaultInputSchema
	} else if !json.Valid(input) {
		return mcp.Tool{}, invalidSpec("tool %q: input schema is not valid JSON", name)
	}
	if len(output) > 0 && !json.Valid(output) {
		return mcp.Tool{}, invalidSpec("tool %q: output schema is not valid JSON", name)
	}
	return mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  append(json.RawMessage(nil), input...),
		OutputSchema: append(json.RawMessage(nil), output...),
	}, nil
}
