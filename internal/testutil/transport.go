package testutil

import (
	"context"
	"sync"

	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/transport"
	"github.com/roach88/ghostbridge/internal/wire"
)

// RecordingTransport records every frame sent through it and serves frames
// injected by the test to Receive.
//
// Implements transport.Transport. Safe for concurrent use.
type RecordingTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewRecordingTransport creates an open transport.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{
		inbox:  make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

// Send records frame.
func (r *RecordingTransport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-r.closed:
		return transport.ErrClosed
	default:
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, buf)
	return nil
}

// Receive returns the next injected frame.
func (r *RecordingTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-r.inbox:
		return frame, nil
	case <-r.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close makes further sends fail and wakes Receive.
func (r *RecordingTransport) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

// Inject queues a frame for Receive.
func (r *RecordingTransport) Inject(frame []byte) {
	r.inbox <- frame
}

// Frames returns a copy of the recorded frames in send order.
func (r *RecordingTransport) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.sent))
	copy(out, r.sent)
	return out
}

// Events decodes the recorded frames. Frames that fail to decode are
// skipped.
func (r *RecordingTransport) Events() []ir.OutgoingEvent {
	var out []ir.OutgoingEvent
	for _, f := range r.Frames() {
		ev, err := wire.DecodeOutgoing(f)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear forgets recorded frames.
func (r *RecordingTransport) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
