package invoke

import (
	"encoding/json"

	"github.com/ggoodman/mcp-sse-server/internal/jsonrpc"
)

// ExecutionError is a tool failure that will be sent to the client.
type ExecutionError struct {
	Code    jsonrpc.ErrorCode
	Message string
}

func (e *ExecutionError) Error() string { return e.Message }

// Outcome is the result of executing a tool: exactly one of Value or Err
// is meaningful.
type Outcome struct {
	Value json.RawMessage
	Err   *ExecutionError
}

// OK reports whether the execution succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Response renders o as a JSON-RPC response carrying id.
func (o Outcome) Response(id *jsonrpc.RequestID) *jsonrpc.Response {
	if o.Err != nil {
		return jsonrpc.NewErrorResponse(id, o.Err.Code, o.Err.Message, nil)
	}
	return jsonrpc.NewRawResultResponse(id, o.Value)
}

func failure(code jsonrpc.ErrorCode, msg string) Outcome {
	return Outcome{Err: &ExecutionError{Code: code, Message: msg}}
}
