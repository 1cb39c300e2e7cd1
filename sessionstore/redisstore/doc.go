// Package redisstore implements sessionstore.Store on Redis so that the
// POST ingress and the streaming GET for one session may be served by
// different processes.
//
// Layout, for a key prefix P and session id S:
//
//	P session:S   hash   status, created_at, last_message_at (unix nanos)
//	P queue:S     list   queued JSON-RPC messages, oldest at the head
//	P notify:S    channel published after every enqueue and delete
//
// Both keys carry the store expiration set at Create. Enqueue copies the
// remaining TTL of the hash onto the queue so the two expire together.
// Watch subscribes to the notify channel; because pub/sub is fire and
// forget, session loops must still re-check the queue periodically.
package redisstore
