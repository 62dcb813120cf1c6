// Package store provides the SQLite-backed journal of a bridge session.
//
// The journal is append-only and holds two kinds of records:
//   - Broadcasts: decoded incoming frames, before coalescing
//   - Sends: outgoing events the transport accepted
//
// Both tables share one logical sequence, so a session's timeline is the
// union of the two ordered by seq. Ordering never uses wall time.
//
// Payloads are stored as RFC 8785 canonical JSON next to a domain-separated
// digest (see ir.PayloadDigest), which lets replays be compared without
// decoding.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: one writer at a time
package store
