// Package transport carries JSON text frames between the bridge and the
// engine. WebSocket is the network implementation; Pipe connects two
// in-process endpoints.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned once either side has closed the connection.
var ErrClosed = errors.New("transport closed")

// Transport is a bidirectional, ordered frame stream.
//
// Send may be called from one goroutine while Receive runs on another.
// Neither method is safe for concurrent calls with itself unless the
// implementation says so.
type Transport interface {
	// Send writes one frame. It returns ErrClosed after Close.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks for the next frame. It returns ErrClosed when the
	// peer closes, or ctx.Err() when ctx is done first.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the connection. It is idempotent.
	Close() error
}
