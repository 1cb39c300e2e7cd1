// Package testlog routes slog output into testing.TB logs.
package testlog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// bridge is a slog.Handler that writes each record through t.Log so output
// is attributed to the test that produced it.
type bridge struct {
	slog.Handler
	t   testing.TB
	buf *bytes.Buffer
	mu  *sync.Mutex
}

func (b *bridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}
	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}
	b.t.Helper()
	b.t.Log(string(bytes.TrimSuffix(output, []byte("\n"))))
	return nil
}

func (b *bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithAttrs(attrs)}
}

func (b *bridge) WithGroup(name string) slog.Handler {
	return &bridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithGroup(name)}
}

// Handler returns a debug-level text handler bound to t.
func Handler(t testing.TB) slog.Handler {
	b := &bridge{t: t, buf: &bytes.Buffer{}, mu: &sync.Mutex{}}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return b
}

// Logger returns a logger whose output goes to t.Log.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(Handler(t))
}
