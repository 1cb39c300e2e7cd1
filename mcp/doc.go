// Package mcp holds the Model Context Protocol wire types and method names
// used by the dispatcher and both HTTP transports.
//
// Schemas on Tool are carried as raw JSON so that catalogs loaded from
// manifests or reflected from Go types are exposed to clients verbatim.
package mcp
