package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(slog.NewJSONHandler(&buf, nil)).With(slog.String("component", "test"))

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "GET", Path: "/sse"})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "s1", State: "streaming"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "posts_search", Mode: "rest_alias"})
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["component"] != "test" {
		t.Fatalf("expected component attr to survive WithAttrs, got %v", rec["component"])
	}
	sess, ok := rec["sess"].(map[string]any)
	if !ok || sess["id"] != "s1" || sess["state"] != "streaming" {
		t.Fatalf("unexpected sess group: %v", rec["sess"])
	}
	tool, ok := rec["tool"].(map[string]any)
	if !ok || tool["name"] != "posts_search" {
		t.Fatalf("unexpected tool group: %v", rec["tool"])
	}
	if _, ok := rec["rpc"]; ok {
		t.Fatalf("rpc group should be absent when not set")
	}
}

func TestWrapIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	log := Wrap(Wrap(slog.New(slog.NewJSONHandler(&buf, nil))))

	ctx := WithSessionData(context.Background(), &SessionData{SessionID: "s1"})
	log.InfoContext(ctx, "once")

	if n := bytes.Count(buf.Bytes(), []byte(`"sess"`)); n != 1 {
		t.Fatalf("want one sess group got %d in %s", n, buf.String())
	}
}
