// Package proxyhttp serves a synchronous MCP endpoint: each POST carries
// one {method, params, id} request and is answered inline with a JSON-RPC
// response, without a session or an event stream.
package proxyhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-sse-server/dispatch"
	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-server/internal/logctx"
	"github.com/ggoodman/mcp-sse-server/invoke"
	"github.com/ggoodman/mcp-sse-server/mcp"
	"github.com/ggoodman/mcp-sse-server/registry"
	"github.com/google/uuid"
)

var _ http.Handler = (*Handler)(nil)

var jsonMediaType = contenttype.NewMediaType("application/json")

// requestError is a client error answered with HTTP 400.
type requestError struct {
	code    jsonrpc.ErrorCode
	message string
}

func (e *requestError) Error() string { return e.message }

func missingParam(name string) *requestError {
	return &requestError{code: jsonrpc.ErrorCodeInvalidParams, message: "Missing required parameter: " + name}
}

// request is the body of a proxy call. Method parameters may be nested
// under params or given at the top level next to method.
type request struct {
	Method string             `json:"method"`
	Params json.RawMessage    `json:"params,omitempty"`
	ID     *jsonrpc.RequestID `json:"id,omitempty"`

	top map[string]json.RawMessage
}

// field returns a parameter by name, preferring params over the top level.
func (r *request) field(name string) (json.RawMessage, bool) {
	if len(r.Params) > 0 {
		var params map[string]json.RawMessage
		if err := json.Unmarshal(r.Params, &params); err == nil {
			if v, ok := params[name]; ok && !isNull(v) {
				return v, true
			}
		}
	}
	if v, ok := r.top[name]; ok && !isNull(v) {
		return v, true
	}
	return nil, false
}

func (r *request) stringField(name string) (string, bool) {
	raw, ok := r.field(name)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

type methodFunc func(ctx context.Context, req *request) (any, error)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithServerInfo overrides the server identity returned by init.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(h *Handler) { h.serverInfo = info }
}

// WithLevelVar lets logging/setLevel adjust the level of a live logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(h *Handler) { h.level = v }
}

// Handler is the synchronous endpoint.
type Handler struct {
	reg        *registry.Registry
	engine     *invoke.Engine
	log        *slog.Logger
	serverInfo mcp.ImplementationInfo
	level      *slog.LevelVar

	methods map[string]methodFunc
}

// New returns a Handler over reg whose tools/call runs through engine.
func New(reg *registry.Registry, engine *invoke.Engine, opts ...Option) *Handler {
	h := &Handler{
		reg:        reg,
		engine:     engine,
		log:        slog.Default(),
		serverInfo: dispatch.DefaultServerInfo,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)
	h.methods = map[string]methodFunc{
		"init":                                   h.init,
		string(mcp.ToolsListMethod):              h.listTools,
		string(mcp.ToolsCallMethod):              h.callTool,
		string(mcp.ResourcesListMethod):          h.listResources,
		string(mcp.ResourcesTemplatesListMethod): h.listResourceTemplates,
		string(mcp.ResourcesReadMethod):          h.readResource,
		string(mcp.ResourcesSubscribeMethod):     subscribe,
		string(mcp.ResourcesUnsubscribeMethod):   unsubscribe,
		string(mcp.PromptsListMethod):            listPrompts,
		string(mcp.PromptsGetMethod):             getPrompt,
		string(mcp.LoggingSetLevelMethod):        h.setLevel,
		string(mcp.CompletionCompleteMethod):     complete,
		string(mcp.RootsListMethod):              listRoots,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	h.log.InfoContext(ctx, "http.proxy.start")

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeResponse(w, http.StatusMethodNotAllowed, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "method not allowed", nil))
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeResponse(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "Unsupported content-type: "+r.Header.Get("Content-Type"), nil))
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	req, reqErr := decodeRequest(r.Body)
	if reqErr != nil {
		writeResponse(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, reqErr.code, reqErr.message, nil))
		h.log.WarnContext(ctx, "http.proxy.invalid", slog.String("err", reqErr.message))
		return
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	fn, ok := h.methods[req.Method]
	if !ok {
		writeResponse(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Invalid method: "+req.Method, nil))
		h.log.WarnContext(ctx, "http.proxy.method.unknown")
		return
	}

	res, err := fn(ctx, req)
	var rerr *requestError
	switch {
	case errors.As(err, &rerr):
		writeResponse(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(req.ID, rerr.code, rerr.message, nil))
		h.log.WarnContext(ctx, "http.proxy.invalid", slog.String("err", rerr.message))
		return
	case err != nil:
		writeResponse(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error: "+err.Error(), nil))
		h.log.ErrorContext(ctx, "http.proxy.fail", slog.String("err", err.Error()))
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		writeResponse(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error: "+err.Error(), nil))
		h.log.ErrorContext(ctx, "http.proxy.encode.fail", slog.String("err", err.Error()))
		return
	}
	writeResponse(w, http.StatusOK, resp)
	h.log.InfoContext(ctx, "http.proxy.ok", slog.Duration("dur", time.Since(start)))
}

func decodeRequest(body io.Reader) (*request, *requestError) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &requestError{code: jsonrpc.ErrorCodeParseError, message: "Invalid request: " + err.Error()}
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &requestError{code: jsonrpc.ErrorCodeParseError, message: "Invalid request: body must be a JSON object"}
	}
	req := &request{top: top}
	if err := json.Unmarshal(raw, req); err != nil || req.Method == "" {
		return nil, &requestError{code: jsonrpc.ErrorCodeInvalidRequest, message: "Invalid request: method parameter is required"}
	}
	return req, nil
}

func writeResponse(w http.ResponseWriter, status int, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
