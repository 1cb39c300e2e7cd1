package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-server/internal/logctx"
	"github.com/ggoodman/mcp-sse-server/registry"
	"github.com/ggoodman/mcp-sse-server/restroute"
)

// errNoRouter is reported for REST-alias tools when no router is set.
var errNoRouter = errors.New("no REST router configured")

// Engine executes tools from a registry.
type Engine struct {
	reg    *registry.Registry
	router restroute.Router
	log    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRouter sets the router used by REST-alias tools.
func WithRouter(r restroute.Router) Option {
	return func(e *Engine) { e.router = r }
}

// New returns an Engine over reg.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{reg: reg, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DecodeArguments decodes a tool's arguments object, keeping numbers as
// json.Number. Empty or null input yields an empty map.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// CallTool executes name with the raw arguments object and returns the
// response envelope for id. It never returns nil.
func (e *Engine) CallTool(ctx context.Context, name string, rawArgs json.RawMessage, id *jsonrpc.RequestID) *jsonrpc.Response {
	args, err := DecodeArguments(rawArgs)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, "Invalid params: "+err.Error(), nil)
	}
	return e.Execute(ctx, name, args).Response(id)
}

// Execute runs the named tool with args.
func (e *Engine) Execute(ctx context.Context, name string, args map[string]any) Outcome {
	start := time.Now()

	exec, err := e.reg.ToolExecution(name)
	if err != nil {
		e.log.WarnContext(ctx, "invoke.tool.not_found", slog.String("tool", name))
		return failure(jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+name)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name, Mode: exec.Kind.String()})

	if !e.permitted(ctx, exec, args) {
		e.log.WarnContext(ctx, "invoke.tool.denied")
		return failure(jsonrpc.ErrorCodeServerError, "Permission denied for tool: "+name)
	}

	var out Outcome
	switch exec.Kind {
	case registry.KindRestAlias:
		out = e.runRestAlias(ctx, exec, args)
	case registry.KindDirectCallback:
		out = e.runCallback(ctx, exec, args)
	default:
		out = failure(jsonrpc.ErrorCodeServerError, fmt.Sprintf("Error executing tool: unknown execution kind %d", exec.Kind))
	}

	if out.Err != nil {
		e.log.WarnContext(ctx, "invoke.tool.err", slog.Int("code", int(out.Err.Code)), slog.String("err", out.Err.Message), slog.Duration("dur", time.Since(start)))
	} else {
		e.log.InfoContext(ctx, "invoke.tool.ok", slog.Duration("dur", time.Since(start)))
	}
	return out
}

func (e *Engine) permitted(ctx context.Context, exec *registry.Execution, args map[string]any) (ok bool) {
	if exec.Permission == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "invoke.permission.panic", slog.Any("panic", r))
			ok = false
		}
	}()
	allowed, err := exec.Permission(ctx, args)
	if err != nil {
		e.log.WarnContext(ctx, "invoke.permission.err", slog.String("err", err.Error()))
		return false
	}
	return allowed
}

func (e *Engine) runRestAlias(ctx context.Context, exec *registry.Execution, args map[string]any) (out Outcome) {
	if e.router == nil {
		return failure(jsonrpc.ErrorCodeServerError, "REST API error occurred. "+errNoRouter.Error())
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "invoke.rest.panic", slog.Any("panic", r))
			out = failure(jsonrpc.ErrorCodeServerError, fmt.Sprintf("REST API error occurred. %v", r))
		}
	}()

	route := SubstitutePlaceholders(exec.Route, args)
	e.log.DebugContext(ctx, "invoke.rest.dispatch", slog.String("method", exec.Method), slog.String("route", route))

	res, err := e.router.Dispatch(ctx, &restroute.Request{
		Method: exec.Method,
		Route:  route,
		Params: args,
	})
	if err != nil {
		return failure(jsonrpc.ErrorCodeServerError, "REST API error occurred. "+err.Error())
	}
	return Outcome{Value: asJSON(res.Body)}
}

func (e *Engine) runCallback(ctx context.Context, exec *registry.Execution, args map[string]any) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "invoke.callback.panic", slog.Any("panic", r))
			out = failure(jsonrpc.ErrorCodeServerError, fmt.Sprintf("Error executing tool: %v", r))
		}
	}()

	v, err := exec.Callback(ctx, args)
	if err != nil {
		return failure(jsonrpc.ErrorCodeServerError, "Error executing tool: "+err.Error())
	}
	b, err := json.Marshal(v)
	if err != nil {
		return failure(jsonrpc.ErrorCodeServerError, "Error executing tool: "+err.Error())
	}
	return Outcome{Value: b}
}

// asJSON returns body when it is a JSON document and encodes it as a JSON
// string otherwise.
func asJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return append(json.RawMessage(nil), trimmed...)
	}
	b, _ := json.Marshal(string(body))
	return b
}
