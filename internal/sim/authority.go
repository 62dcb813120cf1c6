package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/roach88/ghostbridge/internal/bridge"
	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/patch"
	"github.com/roach88/ghostbridge/internal/toolui"
	"github.com/roach88/ghostbridge/internal/transport"
	"github.com/roach88/ghostbridge/internal/tree"
	"github.com/roach88/ghostbridge/internal/wire"
)

// PeerBuffer is how many frames may queue for one peer before it is
// disconnected.
const PeerBuffer = 1024

// ErrUnknownPath is returned when no element has the requested pathId.
var ErrUnknownPath = errors.New("unknown pathId")

// ToolEventRecord is one tool event the authority applied.
type ToolEventRecord struct {
	PathID  string
	EventID ir.MutationID
	Event   ir.IRObject
}

type peer struct {
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (p *peer) stop() {
	p.once.Do(func() { close(p.done) })
}

// Authority is the reference engine.
//
// Thread-safety: Authority is safe for concurrent use. Broadcasts are
// queued to each peer in the order the authority produced them.
type Authority struct {
	logger *slog.Logger

	mu      sync.Mutex
	root    ir.IRObject
	peers   map[*peer]struct{}
	applied []ToolEventRecord
}

// Option configures an Authority.
type Option func(*Authority)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authority) { a.logger = l }
}

// WithRoot sets the initial tools tree.
func WithRoot(root ir.IRObject) Option {
	return func(a *Authority) { a.root = root }
}

// New creates an authority with an empty tree unless WithRoot is given.
func New(opts ...Option) *Authority {
	a := &Authority{
		logger: slog.Default(),
		root:   ir.IRObject{},
		peers:  make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Root returns the authoritative tree. Do not mutate it.
func (a *Authority) Root() ir.IRObject {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.root
}

// Applied returns the tool events applied so far, oldest first.
func (a *Authority) Applied() []ToolEventRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ToolEventRecord(nil), a.applied...)
}

// Handle processes one client frame and returns the frames to send back
// to that client only. Tree changes are broadcast to every peer.
func (a *Authority) Handle(frame []byte) ([][]byte, error) {
	ev, err := wire.DecodeOutgoing(frame)
	if err != nil {
		return nil, err
	}

	switch ev.Name {
	case toolui.ToolEvent:
		return nil, a.applyToolEvent(ev.Params)
	case toolui.NeedsSyncEvent:
		reply, err := a.syncFrame()
		if err != nil {
			return nil, err
		}
		return [][]byte{reply}, nil
	default:
		a.logger.Debug("ignoring event", "event", ev.Name)
		return nil, nil
	}
}

func (a *Authority) applyToolEvent(params ir.IRValue) error {
	obj, _ := params.(ir.IRObject)
	pathID, ok := obj.String("pathId")
	if !ok {
		return fmt.Errorf("%s: missing pathId", toolui.ToolEvent)
	}
	event, _ := obj.Object("event")
	id := ir.MutationIDFrom(event["eventId"])

	return a.mutate(id, func(root ir.IRObject) (ir.IRObject, error) {
		next, ok := updateNode(root, pathID, func(node ir.IRObject) ir.IRObject {
			props, _ := node.Object(tree.KeyProps)
			props = props.Clone()
			for k, v := range event {
				if k == "type" || k == "eventId" {
					continue
				}
				props[k] = v
			}
			node = node.With(tree.KeyProps, props)
			if id.Valid() {
				node = node.With(tree.KeyLastReportedEventID, id.Value())
			}
			return node
		})
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownPath, pathID)
		}
		a.applied = append(a.applied, ToolEventRecord{PathID: pathID, EventID: id, Event: event})
		return next, nil
	})
}

// SetProp changes props[key] of the element at pathID as the engine would
// on its own. The element's lastReportedEventId is left alone.
func (a *Authority) SetProp(pathID, key string, value ir.IRValue) error {
	return a.mutate(ir.NoMutation, func(root ir.IRObject) (ir.IRObject, error) {
		next, ok := updateNode(root, pathID, func(node ir.IRObject) ir.IRObject {
			props, _ := node.Object(tree.KeyProps)
			return node.With(tree.KeyProps, props.With(key, value))
		})
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownPath, pathID)
		}
		return next, nil
	})
}

// AppendChild adds node as the newest child of the element at parentPathID.
func (a *Authority) AppendChild(parentPathID, id string, node ir.IRObject) error {
	return a.editChildren(parentPathID, func(arena *tree.Arena) error {
		_, err := arena.Append(id, node)
		return err
	})
}

// RemoveChild unlinks the child id of the element at parentPathID.
func (a *Authority) RemoveChild(parentPathID, id string) error {
	return a.editChildren(parentPathID, func(arena *tree.Arena) error {
		if !arena.Remove(id) {
			return fmt.Errorf("no child %q under %q", id, parentPathID)
		}
		return nil
	})
}

func (a *Authority) editChildren(parentPathID string, edit func(*tree.Arena) error) error {
	return a.mutate(ir.NoMutation, func(root ir.IRObject) (ir.IRObject, error) {
		var editErr error
		next, ok := updateNode(root, parentPathID, func(node ir.IRObject) ir.IRObject {
			arena := tree.NewArena()
			if c, ok := tree.ChildrenOf(node[tree.KeyChildren]); ok {
				arena = tree.FromChildren(c)
			}
			if editErr = edit(arena); editErr != nil {
				return node
			}
			return node.With(tree.KeyChildren, arena.Encode())
		})
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownPath, parentPathID)
		}
		if editErr != nil {
			return nil, editErr
		}
		return next, nil
	})
}

// SetRoot replaces the whole tree.
func (a *Authority) SetRoot(root ir.IRObject) error {
	return a.mutate(ir.NoMutation, func(ir.IRObject) (ir.IRObject, error) {
		return root, nil
	})
}

// EndSession tells every peer the session is over.
func (a *Authority) EndSession() error {
	frame, err := wire.EncodeIncoming(ir.IncomingEvent{Name: bridge.DefaultSessionEndEvent})
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broadcastLocked(frame)
	return nil
}

// mutate applies fn to the root and broadcasts the resulting diff with id
// as its eventId. Nothing is sent when the tree did not change.
func (a *Authority) mutate(id ir.MutationID, fn func(ir.IRObject) (ir.IRObject, error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, err := fn(a.root)
	if err != nil {
		return err
	}
	diff := patch.Diff(a.root, next)
	a.root = next
	if diff.IsNone() {
		return nil
	}

	frame, err := updateFrame(id, patch.Encode(diff))
	if err != nil {
		return err
	}
	a.broadcastLocked(frame)
	return nil
}

func (a *Authority) syncFrame() ([]byte, error) {
	return updateFrame(ir.NoMutation, patch.Encode(patch.Exact(a.Root())))
}

func updateFrame(id ir.MutationID, diff ir.IRValue) ([]byte, error) {
	text, err := ir.MarshalCanonical(diff)
	if err != nil {
		return nil, fmt.Errorf("encode diff: %w", err)
	}
	return wire.EncodeIncoming(ir.IncomingEvent{
		Name:    toolui.UpdateEvent,
		EventID: id,
		Params:  ir.IRString(text),
	})
}

func (a *Authority) broadcastLocked(frame []byte) {
	for p := range a.peers {
		select {
		case p.out <- frame:
		default:
			a.logger.Warn("peer too slow, disconnecting")
			delete(a.peers, p)
			p.stop()
		}
	}
}

// Serve runs one client connection until it closes or ctx is done. The
// client first receives the current tree. Serve returns nil when the
// client disconnects.
func (a *Authority) Serve(ctx context.Context, t transport.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &peer{out: make(chan []byte, PeerBuffer), done: make(chan struct{})}
	initial, err := a.syncFrame()
	if err != nil {
		return err
	}
	p.out <- initial

	a.mu.Lock()
	a.peers[p] = struct{}{}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.peers, p)
		a.mu.Unlock()
		p.stop()
	}()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- a.writeLoop(ctx, t, p)
		cancel()
	}()

	for {
		frame, err := t.Receive(ctx)
		if err != nil {
			cancel()
			werr := <-writeErr
			switch {
			case errors.Is(err, transport.ErrClosed):
				return nil
			case werr != nil && !errors.Is(werr, context.Canceled):
				return werr
			default:
				return err
			}
		}
		replies, err := a.Handle(frame)
		if err != nil {
			a.logger.Warn("rejected client frame", "error", err)
			continue
		}
		for _, r := range replies {
			select {
			case p.out <- r:
			case <-p.done:
			}
		}
	}
}

func (a *Authority) writeLoop(ctx context.Context, t transport.Transport, p *peer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return t.Close()
		case frame := <-p.out:
			if err := t.Send(ctx, frame); err != nil {
				return err
			}
		}
	}
}

// Handler serves the authority over websocket.
func (a *Authority) Handler(opts transport.Options) http.Handler {
	return transport.Handler(func(ctx context.Context, ws *transport.WebSocket) {
		if err := a.Serve(ctx, ws); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("connection ended", "conn", ws.ID(), "error", err)
		}
	}, opts)
}
