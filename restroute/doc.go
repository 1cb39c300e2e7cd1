// Package restroute is the host REST routing layer that REST-alias tools
// dispatch into.
//
// Mux wraps a chi router. Routes registered on it are ordinary
// http.Handlers, so the same Mux can be mounted on the public HTTP server
// and driven in process by Dispatch without a network round trip.
//
// GenerateTools walks a Mux and registers one RestAliasTool per route and
// method, which exposes a whole REST namespace to MCP clients at once.
package restroute
