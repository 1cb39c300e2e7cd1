package restroute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Request is an in-process REST request.
type Request struct {
	Method string
	Route  string
	Params map[string]any
}

// Response is the outcome of a successful Dispatch.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Router executes in-process REST requests.
type Router interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// Error is a routing-level failure: an unmatched route or a handler
// response with status >= 400.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Code, e.Status)
}

// RouteInfo describes a registered route.
type RouteInfo struct {
	Method      string
	Pattern     string
	Description string
}

// Mux is a chi-backed Router whose routes can also be served over HTTP.
type Mux struct {
	router *chi.Mux

	mu           sync.RWMutex
	descriptions map[string]string
}

// NewMux returns an empty Mux. Unmatched requests answer 404 with a
// rest_no_route error body.
func NewMux() *Mux {
	m := &Mux{
		router:       chi.NewRouter(),
		descriptions: make(map[string]string),
	}
	m.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "rest_no_route", "No route was found matching the URL and request method.")
	})
	m.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "rest_no_route", "No route was found matching the URL and request method.")
	})
	return m
}

var _ Router = (*Mux)(nil)

// Handle registers h for method and a chi pattern such as
// "/wp/v2/posts/{id}". The description is used by GenerateTools.
func (m *Mux) Handle(method, pattern, description string, h http.HandlerFunc) {
	m.router.MethodFunc(method, pattern, h)
	if description != "" {
		m.mu.Lock()
		m.descriptions[method+" "+pattern] = description
		m.mu.Unlock()
	}
}

// Use appends middleware to the underlying router. It must be called
// before any route is registered.
func (m *Mux) Use(middlewares ...func(http.Handler) http.Handler) {
	m.router.Use(middlewares...)
}

// ServeHTTP serves the routes over HTTP.
func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

// Routes lists every registered route ordered by pattern then method.
func (m *Mux) Routes() ([]RouteInfo, error) {
	var out []RouteInfo
	err := chi.Walk(m.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		m.mu.RLock()
		desc := m.descriptions[method+" "+route]
		m.mu.RUnlock()
		out = append(out, RouteInfo{Method: method, Pattern: route, Description: desc})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
}

// Dispatch runs req through the routes in process. Parameters travel in the
// query string for GET, HEAD and DELETE and as a JSON body otherwise.
func (m *Mux) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	rec := newResponseBuffer()
	m.router.ServeHTTP(rec, httpReq)

	if rec.status >= http.StatusBadRequest {
		return nil, decodeError(rec.status, rec.body.Bytes())
	}
	return &Response{Status: rec.status, Header: rec.header, Body: rec.body.Bytes()}, nil
}

func buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	u := &url.URL{Path: req.Route}
	var body *bytes.Reader

	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		q := url.Values{}
		for k, v := range req.Params {
			for _, s := range queryValues(v) {
				q.Add(k, s)
			}
		}
		u.RawQuery = q.Encode()
		body = bytes.NewReader(nil)
	default:
		params := req.Params
		if params == nil {
			params = map[string]any{}
		}
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body.Len() > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func queryValues(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case json.Number:
		return []string{val.String()}
	case bool:
		return []string{strconv.FormatBool(val)}
	case float64:
		return []string{strconv.FormatFloat(val, 'f', -1, 64)}
	case int:
		return []string{strconv.Itoa(val)}
	case int64:
		return []string{strconv.FormatInt(val, 10)}
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			out = append(out, queryValues(e)...)
		}
		return out
	case []string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return []string{fmt.Sprint(val)}
		}
		return []string{string(b)}
	}
}

func decodeError(status int, body []byte) *Error {
	e := &Error{Status: status}
	if err := json.Unmarshal(body, e); err != nil || (e.Code == "" && e.Message == "") {
		e.Code = "rest_error"
		e.Message = http.StatusText(status)
	}
	return e
}

type responseBuffer struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.status = status
	b.wroteHeader = true
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}
