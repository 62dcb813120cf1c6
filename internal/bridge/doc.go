// Package bridge implements the event channel between the client and the
// authoritative engine.
//
// ARCHITECTURE:
//
// The engine is reachable only through a one-way, asynchronous, serialized
// event stream. Outgoing events are fire-and-forget; the engine pushes
// broadcasts back, each optionally carrying the mutation id of the event
// whose effect it reflects (the reported id).
//
// Channel owns three pieces of state:
//   - cache: the latest coalesced Broadcast per event name
//   - registrations: handlers per event name, in registration order
//   - outbox: a FIFO of outgoing events awaiting the transport
//
// Inbound flow:
//  1. Run's reader goroutine enqueues raw frames
//  2. Run decodes one frame at a time (internal/wire) and journals it
//  3. Dispatch runs the coalescer for the name and caches the result
//  4. every handler registered for the name is invoked synchronously
//
// Dispatch calls are serialized. The state mutex is never held while
// handlers run, so handlers may register, remove, send, publish and reset.
// A panicking handler is recovered and logged; the others still run.
//
// Session boundary: when the configured session-end event arrives, or the
// transport closes under Run, Reset clears the cache, releases every
// registration and rotates the session id.
package bridge
