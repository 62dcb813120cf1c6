package transport

import (
	"context"
	"sync"
)

// PipeBuffer is the number of frames each direction of a Pipe buffers
// before Send blocks.
const PipeBuffer = 256

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

func (s *pipeShared) close() {
	s.once.Do(func() { close(s.done) })
}

type pipeEnd struct {
	in     <-chan []byte
	out    chan<- []byte
	shared *pipeShared
}

// Pipe returns two connected in-memory transports. Frames sent on one are
// received on the other in order. Closing either end closes both; frames
// already buffered can still be received.
func Pipe() (Transport, Transport) {
	ab := make(chan []byte, PipeBuffer)
	ba := make(chan []byte, PipeBuffer)
	shared := &pipeShared{done: make(chan struct{})}
	return &pipeEnd{in: ba, out: ab, shared: shared},
		&pipeEnd{in: ab, out: ba, shared: shared}
}

func (p *pipeEnd) Send(ctx context.Context, frame []byte) error {
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case p.out <- buf:
		return nil
	case <-p.shared.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.shared.done:
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.shared.close()
	return nil
}
