package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-server/internal/testlog"
	"github.com/ggoodman/mcp-sse-server/registry"
	"github.com/ggoodman/mcp-sse-server/restroute"
)

type recordingRouter struct {
	last *restroute.Request
	res  *restroute.Response
	err  error
}

func (r *recordingRouter) Dispatch(_ context.Context, req *restroute.Request) (*restroute.Response, error) {
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	return r.res, nil
}

func newEngine(t *testing.T, router restroute.Router, specs ...registry.ToolSpec) *Engine {
	t.Helper()
	reg := registry.New()
	for _, s := range specs {
		if err := reg.RegisterTool(s); err != nil {
			t.Fatalf("RegisterTool: %v", err)
		}
	}
	opts := []Option{WithLogger(testlog.Logger(t))}
	if router != nil {
		opts = append(opts, WithRouter(router))
	}
	return New(reg, opts...)
}

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestUnknownToolIsMethodNotFound(t *testing.T) {
	e := newEngine(t, nil)
	id := jsonrpc.NewRequestID(7)
	resp := e.CallTool(context.Background(), "nope", nil, id)
	if resp.Error == nil {
		t.Fatalf("want error response got %s", mustMarshal(t, resp))
	}
	if resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound || resp.Error.Message != "Method not found: nope" {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.ID.String() != "7" || resp.JSONRPCVersion != "2.0" {
		t.Fatalf("envelope must echo id and version, got %s", mustMarshal(t, resp))
	}
}

func TestPermissionDeniedSkipsExecution(t *testing.T) {
	var called atomic.Bool
	tests := []struct {
		name string
		perm registry.PermissionFunc
	}{
		{"false", func(context.Context, map[string]any) (bool, error) { return false, nil }},
		{"error", func(context.Context, map[string]any) (bool, error) { return true, errors.New("no token") }},
		{"panic", func(context.Context, map[string]any) (bool, error) { panic("bad predicate") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called.Store(false)
			e := newEngine(t, nil, registry.DirectCallbackTool{
				Name:       "guarded",
				Permission: tt.perm,
				Callback: func(context.Context, map[string]any) (any, error) {
					called.Store(true)
					return "ran", nil
				},
			})
			resp := e.CallTool(context.Background(), "guarded", json.RawMessage(`{}`), jsonrpc.NewRequestID("a"))
			if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeServerError {
				t.Fatalf("want -32000 got %s", mustMarshal(t, resp))
			}
			if resp.Error.Message != "Permission denied for tool: guarded" {
				t.Fatalf("unexpected message %q", resp.Error.Message)
			}
			if called.Load() {
				t.Fatalf("callback must not run when permission is denied")
			}
		})
	}
}

func TestDirectCallback(t *testing.T) {
	e := newEngine(t, nil,
		registry.DirectCallbackTool{
			Name: "sum",
			Callback: func(_ context.Context, args map[string]any) (any, error) {
				a, _ := args["a"].(json.Number).Int64()
				b, _ := args["b"].(json.Number).Int64()
				return map[string]int64{"sum": a + b}, nil
			},
		},
		registry.DirectCallbackTool{
			Name: "fails",
			Callback: func(context.Context, map[string]any) (any, error) {
				return nil, errors.New("disk on fire")
			},
		},
		registry.DirectCallbackTool{
			Name: "panics",
			Callback: func(context.Context, map[string]any) (any, error) {
				panic("kaboom")
			},
		},
	)

	resp := e.CallTool(context.Background(), "sum", json.RawMessage(`{"a":2,"b":40}`), jsonrpc.NewRequestID(1))
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	if string(resp.Result) != `{"sum":42}` {
		t.Fatalf("want {\"sum\":42} got %s", resp.Result)
	}

	resp = e.CallTool(context.Background(), "fails", nil, jsonrpc.NewRequestID(2))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeServerError || resp.Error.Message != "Error executing tool: disk on fire" {
		t.Fatalf("unexpected response %s", mustMarshal(t, resp))
	}

	resp = e.CallTool(context.Background(), "panics", nil, jsonrpc.NewRequestID(3))
	if resp.Error == nil || resp.Error.Message != "Error executing tool: kaboom" {
		t.Fatalf("unexpected response %s", mustMarshal(t, resp))
	}

	// The engine keeps working after a failing tool.
	resp = e.CallTool(context.Background(), "sum", json.RawMessage(`{"a":1,"b":1}`), jsonrpc.NewRequestID(4))
	if resp.Error != nil || string(resp.Result) != `{"sum":2}` {
		t.Fatalf("unexpected response %s", mustMarshal(t, resp))
	}
}

func TestRestAliasSubstitutesAndDispatches(t *testing.T) {
	router := &recordingRouter{res: &restroute.Response{Status: 200, Body: []byte(`{"id":42,"title":"Hi"}`)}}
	e := newEngine(t, router, registry.RestAliasTool{
		Name:   "get_thing",
		Route:  "/things/{id}",
		Method: "get",
	})

	resp := e.CallTool(context.Background(), "get_thing", json.RawMessage(`{"id":42}`), jsonrpc.NewRequestID(9))
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	if router.last == nil {
		t.Fatalf("router was not called")
	}
	if router.last.Route != "/things/42" || router.last.Method != http.MethodGet {
		t.Fatalf("want GET /things/42 got %s %s", router.last.Method, router.last.Route)
	}
	if router.last.Params["id"] != json.Number("42") {
		t.Fatalf("arguments must be passed as params, got %#v", router.last.Params)
	}
	if string(resp.Result) != `{"id":42,"title":"Hi"}` {
		t.Fatalf("want raw body as result got %s", resp.Result)
	}
}

func TestRestAliasRouterError(t *testing.T) {
	router := &recordingRouter{err: &restroute.Error{Status: 404, Code: "rest_post_invalid_id", Message: "Invalid post ID."}}
	e := newEngine(t, router, registry.RestAliasTool{Name: "get_post", Route: "/posts/{id}", Method: "GET"})

	resp := e.CallTool(context.Background(), "get_post", json.RawMessage(`{"id":"1"}`), jsonrpc.NewRequestID(1))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeServerError {
		t.Fatalf("want -32000 got %s", mustMarshal(t, resp))
	}
	if resp.Error.Message != "REST API error occurred. Invalid post ID." {
		t.Fatalf("unexpected message %q", resp.Error.Message)
	}
}

func TestRestAliasWithoutRouter(t *testing.T) {
	e := newEngine(t, nil, registry.RestAliasTool{Name: "r", Route: "/r", Method: "GET"})
	resp := e.CallTool(context.Background(), "r", nil, jsonrpc.NewRequestID(1))
	if resp.Error == nil || !strings.HasPrefix(resp.Error.Message, "REST API error occurred.") {
		t.Fatalf("unexpected response %s", mustMarshal(t, resp))
	}
}

func TestRestAliasAgainstMux(t *testing.T) {
	mux := restroute.NewMux()
	mux.Handle(http.MethodGet, "/things/{id}", "", func(w http.ResponseWriter, r *http.Request) {
		params, _ := restroute.Params(r)
		restroute.WriteJSON(w, http.StatusOK, map[string]any{"id": params["id"]})
	})
	e := newEngine(t, mux, registry.RestAliasTool{Name: "get_thing", Route: "/things/{id:[0-9]+}", Method: "GET"})

	resp := e.CallTool(context.Background(), "get_thing", json.RawMessage(`{"id":42}`), jsonrpc.NewRequestID(1))
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	if strings.TrimSpace(string(resp.Result)) != `{"id":"42"}` {
		t.Fatalf("unexpected result %s", resp.Result)
	}
}

func TestInvalidArguments(t *testing.T) {
	e := newEngine(t, nil, registry.DirectCallbackTool{
		Name:     "x",
		Callback: func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	resp := e.CallTool(context.Background(), "x", json.RawMessage(`[1,2]`), jsonrpc.NewRequestID(1))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("want -32602 got %s", mustMarshal(t, resp))
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	tests := []struct {
		route string
		args  map[string]any
		want  string
	}{
		{"/things/{id}", map[string]any{"id": 42}, "/things/42"},
		{"/things/{id}", map[string]any{"id": json.Number("42")}, "/things/42"},
		{"/things/{id:[0-9]+}", map[string]any{"id": "7"}, "/things/7"},
		{"/a/{x}/b/{y}", map[string]any{"x": "1", "y": true}, "/a/1/b/true"},
		{"/a/{missing}", map[string]any{"other": "1"}, "/a/{missing}"},
		{"/a/{x}", nil, "/a/{x}"},
	}
	for _, tt := range tests {
		if got := SubstitutePlaceholders(tt.route, tt.args); got != tt.want {
			t.Fatalf("SubstitutePlaceholders(%q): want %q got %q", tt.route, tt.want, got)
		}
	}
}
