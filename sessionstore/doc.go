// Package sessionstore defines the keyed state behind an SSE session: its
// lifecycle status, the FIFO queue of inbound JSON-RPC messages and the
// liveness timestamps used for eviction.
//
// Two implementations ship with the module:
//
//   - memorystore keeps everything in process and is suited to a single
//     server instance.
//   - redisstore keeps state in Redis so that the POST ingress and the
//     streaming GET for the same session may land on different processes.
//
// Every implementation must satisfy the conformance suite in storetest.
//
// # Wait/notify
//
// Session loops do not poll on a fixed sleep. They call Watch once and block
// on the returned channel, which receives a signal after every Enqueue and
// after Delete. Signals coalesce: a single pending signal stands for any
// number of enqueues, so consumers must drain the queue with DequeueFirst
// until it reports empty.
package sessionstore
