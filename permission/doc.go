// Package permission supplies the permission predicates attached to tools
// and the HTTP middleware that establishes who is calling.
//
// Middleware validates an optional bearer token and stores the resulting
// Principal in the request context. Predicates such as RequireScopes read
// it back when a tool is invoked:
//
//	reg.RegisterTool(registry.RestAliasTool{
//		Name:       "add_post",
//		Route:      "/wp/v2/posts",
//		Method:     "POST",
//		Permission: permission.RequireScopes("posts:write"),
//	})
//
// On the SSE transport tools run on the stream's request, so the principal
// is the one that opened the stream.
package permission
