// Package registry is the catalog of invocable tools and readable resources
// served over MCP.
//
// A Registry is constructed explicitly and handed to the dispatcher and the
// transports at startup. Tools are described by a tagged variant, ToolSpec,
// with exactly two members:
//
//   - DirectCallbackTool runs a Go function with the call arguments.
//   - RestAliasTool forwards the call to a route of the host's REST router.
//
// Registration splits each spec into a public catalog entry (mcp.Tool) and
// a private Execution record. Only the public entry is ever listed.
//
// Names are unique and case-sensitive. Resource names and URIs are unique
// independently of each other. A failed registration leaves the registry
// untouched.
package registry
