package proxyhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-sse-server/dispatch"
	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-server/mcp"
	"github.com/ggoodman/mcp-sse-server/registry"
)

func (h *Handler) init(_ context.Context, req *request) (any, error) {
	var version string
	if raw, ok := req.field("protocolVersion"); ok {
		_ = json.Unmarshal(raw, &version)
	}
	return mcp.InitializeResult{
		ProtocolVersion: dispatch.NegotiateVersion(version),
		Capabilities:    dispatch.Capabilities(),
		ServerInfo:      h.serverInfo,
	}, nil
}

func (h *Handler) listTools(context.Context, *request) (any, error) {
	return mcp.ListToolsResult{Tools: h.reg.Tools()}, nil
}

// callTool runs the tool and wraps the whole JSON-RPC envelope of the call
// as a single text content block.
func (h *Handler) callTool(ctx context.Context, req *request) (any, error) {
	name, ok := req.stringField("name")
	if !ok {
		return nil, missingParam("name")
	}
	args, _ := req.field("arguments")

	envelope := h.engine.CallTool(ctx, name, args, req.ID)
	b, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(string(b))},
		IsError: envelope.Error != nil,
	}, nil
}

func (h *Handler) listResources(context.Context, *request) (any, error) {
	return mcp.ListResourcesResult{Resources: h.reg.Resources()}, nil
}

func (h *Handler) listResourceTemplates(context.Context, *request) (any, error) {
	return mcp.ListResourceTemplatesResult{ResourceTemplates: h.reg.ResourceTemplates()}, nil
}

func (h *Handler) readResource(ctx context.Context, req *request) (any, error) {
	uri, ok := req.stringField("uri")
	if !ok {
		return nil, missingParam("uri")
	}
	contents, err := h.reg.ReadResource(ctx, uri)
	if errors.Is(err, registry.ErrResourceNotFound) {
		return nil, &requestError{code: jsonrpc.ErrorCodeInvalidParams, message: "Resource not found: " + uri}
	}
	if err != nil {
		return nil, err
	}
	return mcp.ReadResourceResult{Contents: contents}, nil
}

func subscribe(_ context.Context, req *request) (any, error) {
	if _, ok := req.stringField("uri"); !ok {
		return nil, missingParam("uri")
	}
	return map[string]any{"subscriptionId": nil}, nil
}

func unsubscribe(_ context.Context, req *request) (any, error) {
	if _, ok := req.stringField("uri"); !ok {
		return nil, missingParam("uri")
	}
	return map[string]any{"success": true}, nil
}

func listPrompts(context.Context, *request) (any, error) {
	return mcp.ListPromptsResult{Prompts: []mcp.Prompt{}}, nil
}

func getPrompt(_ context.Context, req *request) (any, error) {
	if _, ok := req.stringField("name"); !ok {
		return nil, missingParam("name")
	}
	return map[string]any{"prompt": nil}, nil
}

func (h *Handler) setLevel(ctx context.Context, req *request) (any, error) {
	raw, ok := req.stringField("level")
	if !ok {
		return nil, missingParam("level")
	}
	level := mcp.LoggingLevel(raw)
	if !mcp.IsValidLoggingLevel(level) {
		return nil, &requestError{code: jsonrpc.ErrorCodeInvalidParams, message: "Invalid logging level: " + raw}
	}
	if h.level != nil {
		h.level.Set(slogLevel(level))
		h.log.InfoContext(ctx, "logging.level.set", slog.String("level", raw))
	}
	return map[string]any{"success": true}, nil
}

// slogLevel maps a syslog-style MCP level onto the closest slog level.
func slogLevel(l mcp.LoggingLevel) slog.Level {
	switch l {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func complete(_ context.Context, req *request) (any, error) {
	if _, ok := req.field("ref"); !ok {
		return nil, missingParam("ref")
	}
	return mcp.CompleteResult{Completion: mcp.Completion{Values: []string{}}}, nil
}

func listRoots(context.Context, *request) (any, error) {
	return mcp.ListRootsResult{Roots: []mcp.Root{}}, nil
}
