package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// NewTypedTool builds a DirectCallbackTool whose input schema is reflected
// from A and whose arguments are decoded into A before fn runs.
// Use jsonschema struct tags on A to document fields.
func NewTypedTool[A any](name, description string, fn func(ctx context.Context, in A) (any, error)) DirectCallbackTool {
	return DirectCallbackTool{
		Name:        name,
		Description: description,
		InputSchema: reflectSchema[A](false),
		Callback: func(ctx context.Context, args map[string]any) (any, error) {
			var in A
			if len(args) > 0 {
				raw, err := json.Marshal(args)
				if err != nil {
					return nil, fmt.Errorf("encode arguments: %w", err)
				}
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			return fn(ctx, in)
		},
	}
}

// SchemaFor reflects T into an object JSON schema suitable for a tool's
// input or output schema.
func SchemaFor[T any]() json.RawMessage {
	return reflectSchema[T](true)
}

func reflectSchema[T any](allowAdditional bool) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(T))
	if s == nil || s.Type != "object" {
		return defaultInputSchema
	}
	s.Version = ""
	s.ID = ""
	b, err := json.Marshal(s)
	if err != nil {
		return defaultInputSchema
	}
	return b
}
