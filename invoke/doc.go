// Package invoke executes registered tools and renders their outcome as a
// JSON-RPC response envelope.
//
// A call resolves the tool in the registry, consults its permission
// predicate and then runs the execution mode: a Go callback, or a REST
// alias that is dispatched through a restroute.Router after the route's
// {name} placeholders are filled from the arguments. Tool failures never
// escape the engine; they become -32000 or -32601 error envelopes.
package invoke
