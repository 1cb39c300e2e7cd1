package ssehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-sse-server/internal/logctx"
	"github.com/ggoodman/mcp-sse-server/sessionstore"
)

// Reasons reported in the sse.stream.end log line.
const (
	endAbsoluteTimeout = "timeout"
	endInactivity      = "inactivity"
	endDisconnect      = "disconnect"
	endCancelled       = "cancelled"
	endExpired         = "expired"
	endWriteFailed     = "write_failed"
	endStoreFailed     = "store_failed"
)

// stream is the loop state of one open GET connection.
type stream struct {
	h      *Handler
	id     string
	wf     *lockedWriteFlusher
	start  time.Time
	watch  <-chan struct{}
	active bool
}

// run loops until the session ends and returns why it ended. The session
// is deleted from the store on every exit path.
func (s *stream) run(ctx context.Context) string {
	ticker := s.h.clock.NewTicker(s.h.checkInterval)
	defer ticker.Stop()

	for {
		if reason, done := s.step(ctx); done {
			s.h.deleteSession(ctx, s.id)
			return reason
		}

		select {
		case <-ctx.Done():
			s.h.deleteSession(ctx, s.id)
			return endDisconnect
		case <-s.watch:
		case <-ticker.Chan():
		}
	}
}

// step checks the timeouts and then drains the queue, rechecking the
// absolute timeout between messages.
func (s *stream) step(ctx context.Context) (string, bool) {
	log := s.h.log

	if ctx.Err() != nil {
		return endDisconnect, true
	}

	if s.pastDeadline(ctx) {
		return endAbsoluteTimeout, true
	}

	idle, err := s.h.store.TimeSinceLastMessage(ctx, s.id)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		s.close(ctx, "Session expired")
		log.InfoContext(ctx, "session.load.miss")
		return endExpired, true
	}
	if err != nil {
		log.ErrorContext(ctx, "session.idle.fail", slog.String("err", err.Error()))
		return endStoreFailed, true
	}
	if idle > s.h.inactivityTimeout {
		s.close(ctx, fmt.Sprintf("Connection closed due to inactivity (no messages for %d seconds)", int(idle/time.Second)))
		log.InfoContext(ctx, "sse.timeout.inactivity", slog.Duration("idle", idle))
		return endInactivity, true
	}

	for first := true; ; first = false {
		// A backlog of slow calls must not outlive the connection.
		if !first && s.pastDeadline(ctx) {
			return endAbsoluteTimeout, true
		}
		raw, ok, err := s.h.store.DequeueFirst(ctx, s.id)
		if err != nil {
			if ctx.Err() != nil {
				return endDisconnect, true
			}
			log.ErrorContext(ctx, "session.dequeue.fail", slog.String("err", err.Error()))
			return endStoreFailed, true
		}
		if !ok {
			return "", false
		}
		if reason, done := s.handle(ctx, raw); done {
			return reason, true
		}
	}
}

// handle dispatches one queued message and streams its reply.
func (s *stream) handle(ctx context.Context, raw []byte) (string, bool) {
	log := s.h.log

	if !s.active {
		s.active = true
		if err := s.h.store.SetStatus(ctx, s.id, sessionstore.StatusActive); err != nil {
			log.WarnContext(ctx, "session.status.fail", slog.String("err", err.Error()))
		}
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: s.id, State: string(sessionstore.StatusActive)})
		log.InfoContext(ctx, "session.active")
	}

	req, err := jsonrpc.ParseRequest(raw)
	if err != nil {
		log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return "", false
	}

	resp, end := s.h.disp.Dispatch(ctx, req)
	if end {
		return endCancelled, true
	}
	if resp == nil {
		return "", false
	}

	b, err := json.Marshal(resp)
	if err != nil {
		log.ErrorContext(ctx, "jsonrpc.response.encode.fail", slog.String("err", err.Error()))
		b, _ = json.Marshal(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error: failed to encode response", nil))
	}
	if err := writeSSEEvent(s.wf, "message", b); err != nil {
		log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return endWriteFailed, true
	}
	log.DebugContext(ctx, "sse.message.deliver", slog.String("rpc_id", req.ID.String()))
	return "", false
}

// pastDeadline reports whether the absolute timeout has elapsed, writing
// the close event when it has.
func (s *stream) pastDeadline(ctx context.Context) bool {
	elapsed := s.h.clock.Since(s.start)
	if elapsed < s.h.absoluteTimeout {
		return false
	}
	s.close(ctx, fmt.Sprintf("Connection timeout after %d seconds", int(s.h.absoluteTimeout/time.Second)))
	s.h.log.InfoContext(ctx, "sse.timeout.absolute", slog.Duration("elapsed", elapsed))
	return true
}

func (s *stream) close(ctx context.Context, reason string) {
	if err := writeSSEEvent(s.wf, "close", []byte(reason)); err != nil {
		s.h.log.DebugContext(ctx, "sse.close.write.fail", slog.String("err", err.Error()))
	}
}
