// Package dispatch routes decoded JSON-RPC messages to MCP method handlers.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-server/internal/logctx"
	"github.com/ggoodman/mcp-sse-server/invoke"
	"github.com/ggoodman/mcp-sse-server/mcp"
	"github.com/ggoodman/mcp-sse-server/registry"
)

// ErrEndSession is returned by a handler to end the session after the
// message. No response is sent for it.
var ErrEndSession = errors.New("dispatch: end session")

// HandlerFunc handles one method. A nil response with a nil error sends
// nothing back.
type HandlerFunc func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)

// DefaultServerInfo identifies the server in initialize responses.
var DefaultServerInfo = mcp.ImplementationInfo{Name: "WordPress MCP Server", Version: "1.0.0"}

// Dispatcher maps method names to handlers.
type Dispatcher struct {
	reg    *registry.Registry
	engine *invoke.Engine
	log    *slog.Logger

	serverInfo   mcp.ImplementationInfo
	instructions string
	handlers     map[string]HandlerFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithServerInfo overrides DefaultServerInfo.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(d *Dispatcher) { d.serverInfo = info }
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(s string) Option {
	return func(d *Dispatcher) { d.instructions = s }
}

// New returns a Dispatcher with the built-in MCP handlers installed.
func New(reg *registry.Registry, engine *invoke.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:        reg,
		engine:     engine,
		log:        slog.Default(),
		serverInfo: DefaultServerInfo,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers = map[string]HandlerFunc{
		string(mcp.InitializeMethod):              d.initialize,
		string(mcp.InitializedNotificationMethod): ack,
		string(mcp.CancelledNotificationMethod):   d.cancelled,
		string(mcp.PingMethod):                    ping,
		string(mcp.ToolsListMethod):               d.listTools,
		string(mcp.ToolsCallMethod):               d.callTool,
		string(mcp.ResourcesListMethod):           d.listResources,
		string(mcp.ResourcesTemplatesListMethod):  d.listResourceTemplates,
		string(mcp.ResourcesReadMethod):           d.readResource,
		string(mcp.PromptsListMethod):             listPrompts,
	}
	return d
}

// Handle installs h for method, replacing any existing handler. It must not
// be called concurrently with Dispatch.
func (d *Dispatcher) Handle(method string, h HandlerFunc) {
	d.handlers[method] = h
}

// Dispatch handles req. It returns the response to send, which is nil for
// notifications, and whether the session should end. Handler panics are
// reported as internal errors.
func (d *Dispatcher) Dispatch(ctx context.Context, req *jsonrpc.Request) (resp *jsonrpc.Response, end bool) {
	start := time.Now()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: req.Type()})

	h, ok := d.handlers[req.Method]
	if !ok {
		d.log.WarnContext(ctx, "dispatch.method.unknown")
		if req.IsNotification() {
			return nil, false
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil), false
	}

	resp, err := d.safeCall(ctx, h, req)
	switch {
	case errors.Is(err, ErrEndSession):
		d.log.InfoContext(ctx, "dispatch.session.end")
		return nil, true
	case err != nil:
		d.log.ErrorContext(ctx, "dispatch.handle.err", slog.String("err", err.Error()))
		resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error: "+err.Error(), nil)
	default:
		d.log.DebugContext(ctx, "dispatch.handle.ok", slog.Duration("dur", time.Since(start)))
	}

	if req.IsNotification() {
		return nil, false
	}
	return resp, false
}

func (d *Dispatcher) safeCall(ctx context.Context, h HandlerFunc, req *jsonrpc.Request) (resp *jsonrpc.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.ErrorContext(ctx, "dispatch.handle.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			resp, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, req)
}

func decodeParams(req *jsonrpc.Request, v any) *jsonrpc.Response {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params: "+err.Error(), nil)
	}
	return nil
}

func result(req *jsonrpc.Request, v any) (*jsonrpc.Response, error) {
	return jsonrpc.NewResultResponse(req.ID, v)
}
