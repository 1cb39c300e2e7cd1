package ssehttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-server/dispatch"
	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-server/internal/testlog"
	"github.com/ggoodman/mcp-sse-server/invoke"
	"github.com/ggoodman/mcp-sse-server/registry"
	"github.com/ggoodman/mcp-sse-server/sessionstore"
	"github.com/ggoodman/mcp-sse-server/sessionstore/memorystore"
	"github.com/jonboulle/clockwork"
)

type sseEvent struct {
	event string
	data  string
}

func readOneSSE(br *bufio.Reader) (sseEvent, error) {
	var (
		event sseEvent
		data  []string
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return sseEvent{}, io.ErrUnexpectedEOF
			}
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			event.data = strings.Join(data, "\n")
			return event, nil
		}
		if strings.HasPrefix(line, "event: ") {
			event.event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

type testServer struct {
	*httptest.Server
	store *memorystore.Store
	clock clockwork.FakeClock
}

type serverOption func(*[]Option)

func withHandlerOptions(opts ...Option) serverOption {
	return func(o *[]Option) { *o = append(*o, opts...) }
}

func newTestServer(t *testing.T, fake bool, sopts ...serverOption) *testServer {
	t.Helper()
	log := testlog.Logger(t)

	ts := &testServer{}
	storeOpts := []memorystore.Option{memorystore.WithSweepInterval(0)}
	opts := []Option{WithLogger(log)}
	if fake {
		ts.clock = clockwork.NewFakeClock()
		storeOpts = append(storeOpts, memorystore.WithClock(ts.clock))
		opts = append(opts, WithClock(ts.clock))
	}

	reg := registry.New()
	if err := reg.RegisterTool(registry.DirectCallbackTool{
		Name: "explode",
		Callback: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("tool failed")
		},
	}); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}
	if fake {
		// slow stands in for a tool call that takes 90 seconds.
		if err := reg.RegisterTool(registry.DirectCallbackTool{
			Name: "slow",
			Callback: func(context.Context, map[string]any) (any, error) {
				ts.clock.Advance(90 * time.Second)
				return "done", nil
			},
		}); err != nil {
			t.Fatalf("RegisterTool: %v", err)
		}
	}
	disp := dispatch.New(reg, invoke.New(reg, invoke.WithLogger(log)), dispatch.WithLogger(log))
	for _, so := range sopts {
		so(&opts)
	}
	ts.store = memorystore.New(storeOpts...)

	h, err := New(ts.store, disp, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/sse", h)
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Server.Close()
		_ = ts.store.Close()
	})
	return ts
}

type openStream struct {
	resp     *http.Response
	br       *bufio.Reader
	endpoint string
	cancel   context.CancelFunc
}

func (ts *testServer) open(t *testing.T, query string) *openStream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse"+query, nil)
	if err != nil {
		cancel()
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("GET /sse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("want 200 got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		cancel()
		t.Fatalf("want text/event-stream got %q", ct)
	}
	s := &openStream{resp: resp, br: bufio.NewReader(resp.Body), cancel: cancel}
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})

	evt := s.next(t)
	if evt.event != "endpoint" {
		t.Fatalf("want endpoint event got %+v", evt)
	}
	s.endpoint = evt.data
	return s
}

func (s *openStream) next(t *testing.T) sseEvent {
	t.Helper()
	evt, err := readOneSSE(s.br)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	return evt
}

func (s *openStream) sessionID(t *testing.T) string {
	t.Helper()
	_, q, ok := strings.Cut(s.endpoint, "sessionId=")
	if !ok || q == "" {
		t.Fatalf("endpoint %q carries no sessionId", s.endpoint)
	}
	return q
}

func post(t *testing.T, url, contentType, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func decodeResponse(t *testing.T, data string) *jsonrpc.Response {
	t.Helper()
	var resp jsonrpc.Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		t.Fatalf("decode response %q: %v", data, err)
	}
	return &resp
}

func TestStreamRoundTrip(t *testing.T) {
	ts := newTestServer(t, false)
	s := ts.open(t, "")

	if !strings.HasPrefix(s.endpoint, "/sse?sessionId=") {
		t.Fatalf("unexpected endpoint %q", s.endpoint)
	}
	target := ts.URL + s.endpoint

	status, body := post(t, target, "application/json", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`)
	if status != http.StatusAccepted || body != "" {
		t.Fatalf("want 202 with empty body got %d %q", status, body)
	}
	evt := s.next(t)
	if evt.event != "message" {
		t.Fatalf("want message event got %+v", evt)
	}
	resp := decodeResponse(t, evt.data)
	if resp.ID.String() != "1" || resp.Error != nil {
		t.Fatalf("unexpected initialize reply %s", evt.data)
	}

	sess, err := ts.store.Get(context.Background(), s.sessionID(t))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Status != sessionstore.StatusActive {
		t.Fatalf("want status active got %q", sess.Status)
	}

	// Notifications are consumed without a reply; a failing tool answers
	// with an error and the loop keeps serving.
	post(t, target, "application/json", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	post(t, target, "application/json", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"explode"}}`)
	post(t, target, "application/json", `{"jsonrpc":"2.0","id":3,"method":"no/such/method"}`)
	post(t, target, "application/json", `{"jsonrpc":"2.0","id":4,"method":"ping"}`)

	want := []struct {
		id   string
		code jsonrpc.ErrorCode
	}{
		{"2", jsonrpc.ErrorCodeServerError},
		{"3", jsonrpc.ErrorCodeMethodNotFound},
		{"4", 0},
	}
	for _, w := range want {
		resp := decodeResponse(t, s.next(t).data)
		if resp.ID.String() != w.id {
			t.Fatalf("want reply to %s got %s", w.id, resp.ID.String())
		}
		if w.code == 0 {
			if resp.Error != nil {
				t.Fatalf("unexpected error %+v", resp.Error)
			}
			continue
		}
		if resp.Error == nil || resp.Error.Code != w.code {
			t.Fatalf("want code %d got %+v", w.code, resp.Error)
		}
	}
}

func TestClientSuppliedSessionID(t *testing.T) {
	ts := newTestServer(t, false)
	s := ts.open(t, "?sessionId=client-chosen")
	if got := s.sessionID(t); got != "client-chosen" {
		t.Fatalf("want client-chosen got %q", got)
	}
	if _, err := ts.store.Get(context.Background(), "client-chosen"); err != nil {
		t.Fatalf("session not created: %v", err)
	}
}

func TestMessageEndpointOption(t *testing.T) {
	ts := newTestServer(t, false, withHandlerOptions(WithMessageEndpoint("https://example.com/wp-json/wpmcp/v1/sse")))
	s := ts.open(t, "?sessionId=abc")
	if s.endpoint != "https://example.com/wp-json/wpmcp/v1/sse?sessionId=abc" {
		t.Fatalf("unexpected endpoint %q", s.endpoint)
	}
}

func TestPostValidation(t *testing.T) {
	ts := newTestServer(t, false)

	tests := []struct {
		name        string
		query       string
		contentType string
		body        string
		status      int
		message     string
	}{
		{"missing session", "", "application/json", `{"jsonrpc":"2.0","method":"ping","id":1}`, http.StatusInternalServerError, "SSE connection not established"},
		{"wrong content type", "?sessionId=s", "text/plain", `{"jsonrpc":"2.0","method":"ping","id":1}`, http.StatusBadRequest, "Unsupported content-type: text/plain"},
		{"not json", "?sessionId=s", "application/json", `nope`, http.StatusBadRequest, "Invalid message format"},
		{"wrong version", "?sessionId=s", "application/json", `{"jsonrpc":"1.0","method":"ping","id":1}`, http.StatusBadRequest, "Invalid message format"},
		{"missing method", "?sessionId=s", "application/json", `{"jsonrpc":"2.0","id":1}`, http.StatusBadRequest, "Invalid message format"},
		{"batch", "?sessionId=s", "application/json", `[{"jsonrpc":"2.0","method":"ping","id":1}]`, http.StatusBadRequest, "Invalid message format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, ts.URL+"/sse"+tt.query, tt.contentType, tt.body)
			if status != tt.status {
				t.Fatalf("want status %d got %d", tt.status, status)
			}
			var env struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(body), &env); err != nil {
				t.Fatalf("decode body %q: %v", body, err)
			}
			if env.Error.Message != tt.message {
				t.Fatalf("want message %q got %q", tt.message, env.Error.Message)
			}
		})
	}

	// A well-formed message for an unknown session is accepted and dropped.
	status, _ := post(t, ts.URL+"/sse?sessionId=ghost", "application/json", `{"jsonrpc":"2.0","method":"ping","id":1}`)
	if status != http.StatusAccepted {
		t.Fatalf("want 202 got %d", status)
	}
	if _, err := ts.store.Get(context.Background(), "ghost"); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound got %v", err)
	}
}

func TestInactivityTimeout(t *testing.T) {
	ts := newTestServer(t, true)
	s := ts.open(t, "")
	id := s.sessionID(t)

	ts.clock.BlockUntil(1)
	ts.clock.Advance(61 * time.Second)

	evt := s.next(t)
	if evt.event != "close" {
		t.Fatalf("want close event got %+v", evt)
	}
	if evt.data != "Connection closed due to inactivity (no messages for 61 seconds)" {
		t.Fatalf("unexpected close reason %q", evt.data)
	}
	if _, err := readOneSSE(s.br); err == nil {
		t.Fatalf("want stream to end after close")
	}
	if _, err := ts.store.Get(context.Background(), id); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("want session deleted got %v", err)
	}
}

func TestAbsoluteTimeout(t *testing.T) {
	ts := newTestServer(t, true, withHandlerOptions(WithAbsoluteTimeout(2*time.Minute), WithInactivityTimeout(2*time.Minute)))
	s := ts.open(t, "")
	id := s.sessionID(t)

	ts.clock.BlockUntil(1)
	ts.clock.Advance(2 * time.Minute)

	evt := s.next(t)
	if evt.event != "close" || evt.data != "Connection timeout after 120 seconds" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if _, err := ts.store.Get(context.Background(), id); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("want session deleted got %v", err)
	}
}

func TestAbsoluteTimeoutInterruptsBacklog(t *testing.T) {
	ts := newTestServer(t, true, withHandlerOptions(WithAbsoluteTimeout(2*time.Minute), WithInactivityTimeout(2*time.Minute)))
	s := ts.open(t, "")
	id := s.sessionID(t)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"slow"}}`, i)
		if err := ts.store.Enqueue(ctx, id, []byte(msg)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	for _, want := range []string{"1", "2"} {
		evt := s.next(t)
		if evt.event != "message" {
			t.Fatalf("want message event got %+v", evt)
		}
		if got := decodeResponse(t, evt.data).ID.String(); got != want {
			t.Fatalf("want reply to %s got %s", want, got)
		}
	}
	evt := s.next(t)
	if evt.event != "close" || evt.data != "Connection timeout after 120 seconds" {
		t.Fatalf("want close after the second call, got %+v", evt)
	}
	if _, err := readOneSSE(s.br); err == nil {
		t.Fatalf("want stream to end after close")
	}
	if _, err := ts.store.Get(ctx, id); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("want session deleted got %v", err)
	}
}

func TestCancelledNotificationEndsSession(t *testing.T) {
	ts := newTestServer(t, false)
	s := ts.open(t, "")
	id := s.sessionID(t)

	status, _ := post(t, ts.URL+s.endpoint, "application/json", `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`)
	if status != http.StatusAccepted {
		t.Fatalf("want 202 got %d", status)
	}

	rest, err := io.ReadAll(s.br)
	if err != nil {
		t.Fatalf("read rest of stream: %v", err)
	}
	if bytes.Contains(rest, []byte("event: message")) {
		t.Fatalf("cancelled must not produce a frame, got %q", rest)
	}
	if _, err := ts.store.Get(context.Background(), id); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("want session deleted got %v", err)
	}
}

func TestDisconnectDeletesSession(t *testing.T) {
	ts := newTestServer(t, false)
	s := ts.open(t, "")
	id := s.sessionID(t)

	s.cancel()
	s.resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := ts.store.Get(context.Background(), id)
		if errors.Is(err, sessionstore.ErrSessionNotFound) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s still present after disconnect (err=%v)", id, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetRequiresEventStream(t *testing.T) {
	ts := newTestServer(t, false)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/sse", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("want 406 got %d", resp.StatusCode)
	}
}

func TestValidateTimeouts(t *testing.T) {
	tests := []struct {
		name                        string
		absolute, inactivity, check time.Duration
		ok                          bool
	}{
		{"defaults", sessionstore.DefaultExpiration, DefaultInactivityTimeout, DefaultCheckInterval, true},
		{"zero absolute", 0, time.Second, time.Second, false},
		{"negative inactivity", time.Minute, -time.Second, time.Second, false},
		{"zero check", time.Minute, time.Second, 0, false},
		{"inactivity over absolute", time.Minute, 2 * time.Minute, time.Second, false},
		{"check over inactivity", time.Minute, time.Second, 2 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimeouts(tt.absolute, tt.inactivity, tt.check)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTimeouts) {
				t.Fatalf("want ErrInvalidTimeouts got %v", err)
			}
		})
	}

	if _, err := New(memorystore.New(memorystore.WithSweepInterval(0)), stubDispatcher{}, WithCheckInterval(0)); !errors.Is(err, ErrInvalidTimeouts) {
		t.Fatalf("New: want ErrInvalidTimeouts got %v", err)
	}
}

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(context.Context, *jsonrpc.Request) (*jsonrpc.Response, bool) {
	return nil, false
}
