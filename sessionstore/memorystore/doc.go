// Package memorystore implements sessionstore.Store in process memory.
//
// Sessions expire lazily: every operation treats a session older than the
// configured expiration as absent and drops it. A background sweeper
// removes sessions that are abandoned without further access.
//
// Use memorystore for single-instance deployments and tests; use
// redisstore when ingress and streaming may be served by different
// processes.
package memorystore
