package jsonrpc

import "errors"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the payload is not a valid request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates an unknown method or tool.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
	// ErrorCodeServerError is the implementation-defined code used for
	// permission and execution failures.
	ErrorCodeServerError ErrorCode = -32000
)

// ErrInvalidMessage is returned by ParseRequest when a payload is not a
// structurally valid JSON-RPC request or notification.
var ErrInvalidMessage = errors.New("jsonrpc: invalid message format")
