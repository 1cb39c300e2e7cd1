// Package ssehttp implements the HTTP+SSE transport of the Model Context
// Protocol: a long-lived GET stream per session and a POST endpoint that
// queues client messages for it.
//
// A client opens the stream with GET and receives an "endpoint" event
// naming the URL to POST messages to. Every POST is validated and appended
// to the session's queue in a sessionstore.Store; it is answered with 202
// and no body. The GET handler runs the session loop: it wakes on the
// store's Watch channel, a check ticker or client disconnect, drains the
// queue in FIFO order, dispatches each message and writes replies as
// "message" events. The loop ends with a "close" event when the absolute
// or inactivity timeout elapses.
//
// Because the queue lives in the store, the POST and GET requests of one
// session may be served by different processes when the store is shared,
// for example with redisstore.
package ssehttp
