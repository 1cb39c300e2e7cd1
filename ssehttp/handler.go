package ssehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-server/internal/logctx"
	"github.com/ggoodman/mcp-sse-server/sessionstore"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var _ http.Handler = (*Handler)(nil)

const (
	DefaultInactivityTimeout = 60 * time.Second
	DefaultCheckInterval     = time.Second

	sessionIDParam = "sessionId"
)

var (
	ErrInvalidTimeouts = errors.New("ssehttp: invalid timeout configuration")
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// Dispatcher handles one decoded message of a session. It returns the
// reply to stream, if any, and whether the session should end.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, bool)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithClock replaces the real clock, mostly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithAbsoluteTimeout bounds the lifetime of a stream. It defaults to the
// store's expiration.
func WithAbsoluteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.absoluteTimeout = d }
}

// WithInactivityTimeout closes streams that received no message for longer
// than d.
func WithInactivityTimeout(d time.Duration) Option {
	return func(h *Handler) { h.inactivityTimeout = d }
}

// WithCheckInterval sets how often timeouts are evaluated when no message
// arrives.
func WithCheckInterval(d time.Duration) Option {
	return func(h *Handler) { h.checkInterval = d }
}

// WithMessageEndpoint sets the URL advertised in the endpoint event. It
// defaults to the path of the GET request.
func WithMessageEndpoint(endpoint string) Option {
	return func(h *Handler) { h.messageEndpoint = endpoint }
}

// Handler serves both halves of the SSE transport on one path.
type Handler struct {
	store sessionstore.Store
	disp  Dispatcher
	log   *slog.Logger
	clock clockwork.Clock

	absoluteTimeout   time.Duration
	inactivityTimeout time.Duration
	checkInterval     time.Duration
	messageEndpoint   string
}

// New returns a Handler that keeps session state in store and answers
// messages with disp.
func New(store sessionstore.Store, disp Dispatcher, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if disp == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	h := &Handler{
		store:             store,
		disp:              disp,
		log:               slog.Default(),
		clock:             clockwork.NewRealClock(),
		absoluteTimeout:   store.Expiration(),
		inactivityTimeout: DefaultInactivityTimeout,
		checkInterval:     DefaultCheckInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := ValidateTimeouts(h.absoluteTimeout, h.inactivityTimeout, h.checkInterval); err != nil {
		return nil, err
	}
	h.log = logctx.Wrap(h.log)
	return h, nil
}

// ValidateTimeouts checks that all durations are positive, that the
// inactivity timeout does not exceed the absolute one and that the check
// interval does not exceed the inactivity timeout.
func ValidateTimeouts(absolute, inactivity, check time.Duration) error {
	switch {
	case absolute <= 0:
		return fmt.Errorf("%w: absolute timeout must be positive, got %s", ErrInvalidTimeouts, absolute)
	case inactivity <= 0:
		return fmt.Errorf("%w: inactivity timeout must be positive, got %s", ErrInvalidTimeouts, inactivity)
	case check <= 0:
		return fmt.Errorf("%w: check interval must be positive, got %s", ErrInvalidTimeouts, check)
	case inactivity > absolute:
		return fmt.Errorf("%w: inactivity timeout %s exceeds absolute timeout %s", ErrInvalidTimeouts, inactivity, absolute)
	case check > inactivity:
		return fmt.Errorf("%w: check interval %s exceeds inactivity timeout %s", ErrInvalidTimeouts, check, inactivity)
	}
	return nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	r = r.WithContext(ctx)

	switch r.Method {
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// writeJSONError emits a transport-level error body before any SSE output:
// {"error":{"code":<httpStatus>,"message":"<reason>"}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// handlePost validates one client message and queues it for the session's
// stream.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	sessID := r.URL.Query().Get(sessionIDParam)
	if sessID == "" {
		writeJSONError(w, http.StatusInternalServerError, "SSE connection not established")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID})

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusBadRequest, "Unsupported content-type: "+r.Header.Get("Content-Type"))
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid message format")
		h.log.WarnContext(ctx, "http.post.read.fail", slog.String("err", err.Error()))
		return
	}
	msg, err := jsonrpc.ParseRequest(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid message format")
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	if _, err := h.store.Get(ctx, sessID); errors.Is(err, sessionstore.ErrSessionNotFound) {
		// The message is dropped by the store; the client learns about the
		// dead session from its own stream.
		h.log.WarnContext(ctx, "session.load.miss")
	}

	if err := h.store.Enqueue(ctx, sessID, body); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to queue message")
		h.log.ErrorContext(ctx, "http.post.enqueue.fail", slog.String("err", err.Error()))
		return
	}

	w.WriteHeader(http.StatusAccepted)
	h.log.InfoContext(ctx, "http.post.enqueue", slog.Duration("dur", time.Since(start)))
}

// handleStream opens a session and runs its loop until it ends.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	start := h.clock.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	sessID := r.URL.Query().Get(sessionIDParam)
	if sessID == "" {
		sessID = uuid.NewString()
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, State: string(sessionstore.StatusInitializing)})

	if err := h.store.Create(ctx, sessID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}

	watch, stopWatch, err := h.store.Watch(ctx, sessID)
	if err != nil {
		h.deleteSession(ctx, sessID)
		writeJSONError(w, http.StatusInternalServerError, "failed to watch session")
		h.log.ErrorContext(ctx, "session.watch.fail", slog.String("err", err.Error()))
		return
	}
	defer stopWatch()

	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	if err := writeSSEEvent(wf, "endpoint", []byte(h.endpointFor(r, sessID))); err != nil {
		h.deleteSession(ctx, sessID)
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.stream.start")

	s := &stream{h: h, id: sessID, wf: wf, start: start, watch: watch}
	reason := s.run(ctx)
	h.log.InfoContext(ctx, "sse.stream.end", slog.String("reason", reason), slog.Duration("dur", h.clock.Since(start)))
}

func (h *Handler) endpointFor(r *http.Request, sessID string) string {
	base := h.messageEndpoint
	if base == "" {
		base = r.URL.Path
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + sessionIDParam + "=" + url.QueryEscape(sessID)
	}
	q := u.Query()
	q.Set(sessionIDParam, sessID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) deleteSession(ctx context.Context, sessID string) {
	if err := h.store.Delete(context.WithoutCancel(ctx), sessID); err != nil {
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
	}
}

// lockedWriteFlusher serializes writes and flushes and refuses to write
// once ctx is done.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ctx.Err(); err != nil {
		return 0, err
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeSSEEvent writes one named event and flushes it. Multi-line payloads
// are split across data lines.
func writeSSEEvent(wf *lockedWriteFlusher, event string, payload []byte) error {
	if _, err := fmt.Fprintf(wf, "event: %s\n", event); err != nil {
		return fmt.Errorf("failed to write SSE event name: %w", err)
	}
	start := 0
	for i := 0; i <= len(payload); i++ {
		if i < len(payload) && payload[i] != '\n' {
			continue
		}
		if _, err := fmt.Fprintf(wf, "data: %s\n", payload[start:i]); err != nil {
			return fmt.Errorf("failed to write SSE data: %w", err)
		}
		start = i + 1
	}
	if _, err := wf.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
