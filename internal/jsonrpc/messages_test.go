package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		notif   bool
		method  string
	}{
		{name: "request", input: `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, method: "tools/list"},
		{name: "string id", input: `{"jsonrpc":"2.0","id":"abc","method":"ping"}`, method: "ping"},
		{name: "notification", input: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, notif: true, method: "notifications/initialized"},
		{name: "null id is notification", input: `{"jsonrpc":"2.0","id":null,"method":"notifications/cancelled"}`, notif: true, method: "notifications/cancelled"},
		{name: "wrong version", input: `{"jsonrpc":"1.0","id":1,"method":"ping"}`, wantErr: true},
		{name: "missing version", input: `{"id":1,"method":"ping"}`, wantErr: true},
		{name: "missing method", input: `{"jsonrpc":"2.0","id":1}`, wantErr: true},
		{name: "not json", input: `nope`, wantErr: true},
		{name: "array", input: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMessage) {
					t.Fatalf("expected ErrInvalidMessage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Method != tt.method {
				t.Fatalf("method: want %q got %q", tt.method, req.Method)
			}
			if req.IsNotification() != tt.notif {
				t.Fatalf("notification: want %v got %v", tt.notif, req.IsNotification())
			}
		})
	}
}

func TestResponseAlwaysCarriesID(t *testing.T) {
	resp := NewErrorResponse(nil, ErrorCodeMethodNotFound, "Method not found: x", nil)
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":null,"error":{"code":-32601,"message":"Method not found: x"}}`
	if string(b) != want {
		t.Fatalf("want %s got %s", want, b)
	}

	resp, err = NewResultResponse(NewRequestID(7), map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	b, _ = json.Marshal(resp)
	want = `{"jsonrpc":"2.0","id":7,"result":{"a":1}}`
	if string(b) != want {
		t.Fatalf("want %s got %s", want, b)
	}
}

func TestRequestIDString(t *testing.T) {
	var id RequestID
	if err := json.Unmarshal([]byte(`42`), &id); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if id.String() != "42" {
		t.Fatalf("want 42 got %q", id.String())
	}
	if err := json.Unmarshal([]byte(`"req-1"`), &id); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if id.String() != "req-1" {
		t.Fatalf("want req-1 got %q", id.String())
	}
	if err := json.Unmarshal([]byte(`{}`), &id); err == nil {
		t.Fatalf("expected error for object id")
	}
}
