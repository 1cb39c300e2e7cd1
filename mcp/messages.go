package mcp

import "encoding/json"

// Method is a JSON-RPC method or notification name.
type Method string

const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"
	CancelledNotificationMethod   Method = "notifications/cancelled"
	PingMethod                    Method = "ping"

	ToolsListMethod Method = "tools/list"
	ToolsCallMethod Method = "tools/call"

	ResourcesListMethod          Method = "resources/list"
	ResourcesReadMethod          Method = "resources/read"
	ResourcesTemplatesListMethod Method = "resources/templates/list"
	ResourcesSubscribeMethod     Method = "resources/subscribe"
	ResourcesUnsubscribeMethod   Method = "resources/unsubscribe"

	PromptsListMethod Method = "prompts/list"
	PromptsGetMethod  Method = "prompts/get"

	LoggingSetLevelMethod    Method = "logging/setLevel"
	CompletionCompleteMethod Method = "completion/complete"
	RootsListMethod          Method = "roots/list"
)

// PaginatedRequest carries the cursor of list requests.
type PaginatedRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

// PaginatedResult carries the cursor for the next page. List operations
// return the whole catalog, so it is always empty today.
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitempty"`
}

type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// CancelledNotification is the payload of notifications/cancelled.
type CancelledNotification struct {
	RequestID any    `json:"requestId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
}

// CallToolRequest is the params object of tools/call. Arguments is kept raw
// so that the invocation engine decides how to bind it.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the MCP-shaped result of a tool call, used by the
// synchronous proxy endpoint.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
	PaginatedResult
}

type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	PaginatedResult
}

type ReadResourceRequest struct {
	URI string `json:"uri"`
}

type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

type SubscribeRequest struct {
	URI string `json:"uri"`
}

type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
	PaginatedResult
}

type GetPromptRequest struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type SetLevelRequest struct {
	Level LoggingLevel `json:"level"`
}

type CompleteResult struct {
	Completion Completion `json:"completion"`
}

type ListRootsResult struct {
	Roots []Root `json:"roots"`
}
