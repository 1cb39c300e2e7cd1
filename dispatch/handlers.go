package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-server/mcp"
	"github.com/ggoodman/mcp-sse-server/registry"
)

// Capabilities is what this server advertises in initialize.
func Capabilities() mcp.ServerCapabilities {
	return mcp.ServerCapabilities{
		Logging:   &struct{}{},
		Prompts:   &mcp.ListChangedCapability{},
		Resources: &mcp.ResourcesCapability{Subscribe: true},
		Tools:     &mcp.ListChangedCapability{},
	}
}

// NegotiateVersion echoes a supported client version and otherwise answers
// with the latest one.
func NegotiateVersion(requested string) string {
	if mcp.IsSupportedProtocolVersion(requested) {
		return requested
	}
	return mcp.LatestProtocolVersion
}

func (d *Dispatcher) initialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.InitializeRequest
	if errResp := decodeParams(req, &params); errResp != nil {
		return errResp, nil
	}
	d.log.InfoContext(ctx, "dispatch.initialize",
		slog.String("client", params.ClientInfo.Name),
		slog.String("requested_version", params.ProtocolVersion))

	return result(req, mcp.InitializeResult{
		ProtocolVersion: NegotiateVersion(params.ProtocolVersion),
		Capabilities:    Capabilities(),
		ServerInfo:      d.serverInfo,
		Instructions:    d.instructions,
	})
}

func ack(context.Context, *jsonrpc.Request) (*jsonrpc.Response, error) {
	return nil, nil
}

func (d *Dispatcher) cancelled(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.CancelledNotification
	_ = decodeParams(req, &params)
	d.log.InfoContext(ctx, "dispatch.cancelled", slog.String("reason", params.Reason))
	return nil, ErrEndSession
}

func ping(_ context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return result(req, struct{}{})
}

func (d *Dispatcher) listTools(_ context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return result(req, mcp.ListToolsResult{Tools: d.reg.Tools()})
}

func (d *Dispatcher) callTool(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.CallToolRequest
	if errResp := decodeParams(req, &params); errResp != nil {
		return errResp, nil
	}
	if params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params: missing tool name", nil), nil
	}
	return d.engine.CallTool(ctx, params.Name, params.Arguments, req.ID), nil
}

func (d *Dispatcher) listResources(_ context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return result(req, mcp.ListResourcesResult{Resources: d.reg.Resources()})
}

func (d *Dispatcher) listResourceTemplates(_ context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return result(req, mcp.ListResourceTemplatesResult{ResourceTemplates: d.reg.ResourceTemplates()})
}

func (d *Dispatcher) readResource(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.ReadResourceRequest
	if errResp := decodeParams(req, &params); errResp != nil {
		return errResp, nil
	}
	if params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params: missing uri", nil), nil
	}
	contents, err := d.reg.ReadResource(ctx, params.URI)
	if errors.Is(err, registry.ErrResourceNotFound) {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Resource not found: "+params.URI, nil), nil
	}
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeServerError, "Error reading resource: "+err.Error(), nil), nil
	}
	return result(req, mcp.ReadResourceResult{Contents: contents})
}

func listPrompts(_ context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return result(req, mcp.ListPromptsResult{Prompts: []mcp.Prompt{}})
}
