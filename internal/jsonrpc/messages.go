package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Request is an inbound JSON-RPC request (with an id) or notification
// (without one).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether no reply is expected for r.
func (r *Request) IsNotification() bool {
	return r.ID.IsNil()
}

// Type returns "request" or "notification".
func (r *Request) Type() string {
	if r.IsNotification() {
		return "notification"
	}
	return "request"
}

// ParseRequest decodes data and checks that it is a structurally valid
// JSON-RPC 2.0 request or notification: the version must be "2.0" and a
// method must be present. Failures wrap ErrInvalidMessage.
func ParseRequest(data []byte) (*Request, error) {
	var raw struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         string          `json:"method"`
		Params         json.RawMessage `json:"params,omitempty"`
		ID             *RequestID      `json:"id,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if raw.JSONRPCVersion != ProtocolVersion {
		return nil, fmt.Errorf("%w: expected jsonrpc %q, got %q", ErrInvalidMessage, ProtocolVersion, raw.JSONRPCVersion)
	}
	if raw.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrInvalidMessage)
	}
	return &Request{
		JSONRPCVersion: raw.JSONRPCVersion,
		Method:         raw.Method,
		Params:         raw.Params,
		ID:             raw.ID,
	}, nil
}

// Response is an outbound JSON-RPC response. The id is always emitted,
// as null when the originating request carried none.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	ID             *RequestID      `json:"id"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
}

// NewResultResponse builds a successful response by marshaling result.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return NewRawResultResponse(id, resultBytes), nil
}

// NewRawResultResponse builds a successful response around an already
// encoded result. An empty result is sent as null.
func NewRawResultResponse(id *RequestID, result json.RawMessage) *Response {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         result,
		ID:             id,
	}
}

// NewErrorResponse builds an error response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
