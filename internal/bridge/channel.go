package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/transport"
	"github.com/roach88/ghostbridge/internal/wire"
)

// DefaultSessionEndEvent is the broadcast name that ends a session.
const DefaultSessionEndEvent = "GHOST_SESSION_ENDED"

// Broadcast is a coalesced inbound event as cached and delivered to
// handlers. Payload must be treated as immutable.
type Broadcast struct {
	Name       string
	ReportedID ir.MutationID
	Payload    ir.IRValue
}

// Handler receives broadcasts for one event name.
type Handler func(Broadcast)

// Coalescer reshapes raw payloads before caching. Implemented by
// coalesce.Registry.
type Coalescer interface {
	Apply(name string, reported ir.MutationID, raw ir.IRValue) (ir.IRValue, error)
}

// Journal records traffic for later replay. Implemented by store.Store.
type Journal interface {
	RecordBroadcast(ctx context.Context, session string, ev ir.IncomingEvent) error
	RecordSend(ctx context.Context, session string, ev ir.OutgoingEvent) error
}

type registration struct {
	h       Handler
	removed atomic.Bool
}

// Subscription is returned by Register. Remove is idempotent.
type Subscription struct {
	ch   *Channel
	name string
	reg  *registration
}

// Remove deregisters the handler. A handler removed during a fan-out is
// not called for the remainder of that fan-out.
func (s *Subscription) Remove() {
	if s == nil || s.reg == nil {
		return
	}
	s.ch.remove(s.name, s.reg)
}

type inbound struct {
	frame []byte
	err   error
}

// Channel is the bridge event channel. Create one per session owner with
// New and inject it into consumers.
//
// Thread-safety model:
//   - Register, Remove, Send, Publish, GetCached, Reset: safe from any
//     goroutine, including handlers
//   - Dispatch, DispatchFrame: serialized; must not be called from a handler
//   - Run: must be called from exactly one goroutine
type Channel struct {
	logger          *slog.Logger
	transport       transport.Transport
	journal         Journal
	sessions        SessionGenerator
	sessionEndEvent string

	dispatchMu sync.Mutex

	mu         sync.Mutex
	coalescer  Coalescer
	cache      map[string]Broadcast
	handlers   map[string][]*registration
	resetHooks []func()
	minters    map[string]*Minter
	session    string
	closed     bool

	outbox *queue[ir.OutgoingEvent]
	inbox  *queue[inbound]
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

// WithCoalescer sets the coalescer applied in Dispatch.
func WithCoalescer(co Coalescer) Option {
	return func(c *Channel) {
		c.coalescer = co
	}
}

// WithTransport sets the transport used by Flush and Run.
func WithTransport(t transport.Transport) Option {
	return func(c *Channel) {
		c.transport = t
	}
}

// WithJournal records decoded inbound frames and flushed sends.
func WithJournal(j Journal) Option {
	return func(c *Channel) {
		c.journal = j
	}
}

// WithSessionGenerator sets the session id source. Default: UUIDv7Generator.
func WithSessionGenerator(g SessionGenerator) Option {
	return func(c *Channel) {
		c.sessions = g
	}
}

// WithSessionEndEvent sets the broadcast name that triggers Reset.
// An empty name disables the trigger.
func WithSessionEndEvent(name string) Option {
	return func(c *Channel) {
		c.sessionEndEvent = name
	}
}

// New creates a Channel.
func New(opts ...Option) *Channel {
	c := &Channel{
		logger:          slog.Default(),
		sessions:        UUIDv7Generator{},
		sessionEndEvent: DefaultSessionEndEvent,
		cache:           make(map[string]Broadcast),
		handlers:        make(map[string][]*registration),
		minters:         make(map[string]*Minter),
		outbox:          newQueue[ir.OutgoingEvent](),
		inbox:           newQueue[inbound](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.session = c.sessions.Generate()
	return c
}

// Session returns the current session id.
func (c *Channel) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetCoalescer swaps the coalescer, e.g. after a rules reload. It takes
// effect from the next Dispatch.
func (c *Channel) SetCoalescer(co Coalescer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coalescer = co
}

// Register adds h to the fan-out set for name. Handlers for the same name
// run in registration order.
func (c *Channel) Register(name string, h Handler) *Subscription {
	reg := &registration{h: h}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		reg.removed.Store(true)
		return &Subscription{ch: c, name: name, reg: reg}
	}
	c.handlers[name] = append(c.handlers[name], reg)
	return &Subscription{ch: c, name: name, reg: reg}
}

func (c *Channel) remove(name string, reg *registration) {
	if reg.removed.Swap(true) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	regs := c.handlers[name]
	for i, r := range regs {
		if r != reg {
			continue
		}
		// Copy so fan-out snapshots taken earlier stay intact.
		next := make([]*registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(c.handlers, name)
		} else {
			c.handlers[name] = next
		}
		return
	}
}

// HandlerCount returns the number of live handlers for name.
func (c *Channel) HandlerCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[name])
}

// Send queues ev for the engine. It never blocks and reports nothing about
// delivery. Sends are written in FIFO order by Flush or Run. Events sent
// after Close are dropped.
func (c *Channel) Send(ev ir.OutgoingEvent) {
	if !c.outbox.Enqueue(ev) {
		c.logger.Debug("dropping send on closed channel",
			"event", ev.Name,
			"error", &ChannelError{Code: ErrCodeChannelClosed, Name: ev.Name, Message: "channel closed"},
		)
	}
}

// Pending returns the number of queued outgoing events.
func (c *Channel) Pending() int {
	return c.outbox.Len()
}

// Flush writes every queued outgoing event to the transport in order.
// A frame the transport rejects is dropped and the error returned after
// the remaining frames are attempted.
func (c *Channel) Flush(ctx context.Context) error {
	if c.transport == nil {
		if c.outbox.Len() == 0 {
			return nil
		}
		return &ChannelError{Code: ErrCodeTransportFailed, Message: "no transport configured"}
	}

	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := c.outbox.TryDequeue()
		if !ok {
			break
		}
		frame, err := wire.EncodeOutgoing(ev)
		if err != nil {
			c.logger.Warn("dropping unencodable event", "event", ev.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := c.transport.Send(ctx, frame); err != nil {
			cerr := &ChannelError{Code: ErrCodeTransportFailed, Name: ev.Name, Message: "send failed", Err: err}
			c.logger.Error("send failed", "event", ev.Name, "mutation_id", int64(ev.MutationID), "error", err)
			errs = append(errs, cerr)
			continue
		}
		c.logger.Debug("event sent", "event", ev.Name, "mutation_id", int64(ev.MutationID))
		if c.journal != nil {
			if err := c.journal.RecordSend(ctx, c.Session(), ev); err != nil {
				c.logger.Warn("journal send failed", "event", ev.Name, "error", err)
			}
		}
	}
	return errors.Join(errs...)
}

// Dispatch delivers an inbound broadcast: the coalescer for name reshapes
// raw, the result is cached, and every handler for name is called with it.
// It returns false if the broadcast was dropped.
//
// The configured session-end event resets the channel instead.
func (c *Channel) Dispatch(name string, reported ir.MutationID, raw ir.IRValue) bool {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if c.sessionEndEvent != "" && name == c.sessionEndEvent {
		c.logger.Info("session end received", "event", name)
		c.Reset()
		return true
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	co := c.coalescer
	c.mu.Unlock()

	payload := raw
	if co != nil {
		out, err := co.Apply(name, reported, raw)
		if err != nil {
			c.logger.Warn("dropping broadcast",
				"event", name,
				"reported_id", int64(reported),
				"error", &ChannelError{Code: ErrCodeCoalesceFailed, Name: name, Message: "coalescer rejected payload", Err: err},
			)
			return false
		}
		payload = out
	}

	c.logger.Debug("broadcast", "event", name, "reported_id", int64(reported))
	c.publish(Broadcast{Name: name, ReportedID: reported, Payload: payload})
	return true
}

// DispatchFrame decodes a wire frame and dispatches it. Malformed frames
// are logged and dropped. Decoded frames are journaled when a journal is
// configured.
func (c *Channel) DispatchFrame(frame []byte) bool {
	return c.dispatchFrame(context.Background(), frame)
}

func (c *Channel) dispatchFrame(ctx context.Context, frame []byte) bool {
	ev, err := wire.DecodeIncoming(frame)
	if err != nil {
		c.logger.Warn("dropping malformed frame",
			"bytes", len(frame),
			"error", &ChannelError{Code: ErrCodeMalformedFrame, Message: "invalid frame", Err: err},
		)
		return false
	}
	if c.journal != nil {
		if err := c.journal.RecordBroadcast(ctx, c.Session(), ev); err != nil {
			c.logger.Warn("journal broadcast failed", "event", ev.Name, "error", err)
		}
	}
	return c.Dispatch(ev.Name, ev.EventID, ev.Params)
}

// Publish caches an already shaped broadcast and fans it out without
// coalescing. Safe to call from a handler.
func (c *Channel) Publish(b Broadcast) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.publish(b)
}

func (c *Channel) publish(b Broadcast) {
	c.mu.Lock()
	c.cache[b.Name] = b
	regs := c.handlers[b.Name]
	c.mu.Unlock()

	for i, reg := range regs {
		if reg.removed.Load() {
			continue
		}
		c.invoke(i, reg.h, b)
	}
}

func (c *Channel) invoke(idx int, h Handler, b Broadcast) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked",
				"event", b.Name,
				"handler", idx,
				"error", &ChannelError{Code: ErrCodeHandlerPanic, Name: b.Name, Message: fmt.Sprintf("handler %d: %v", idx, r)},
			)
		}
	}()
	h(b)
}

// GetCached returns the latest broadcast for name.
func (c *Channel) GetCached(name string) (Broadcast, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.cache[name]
	return b, ok
}

// Reset ends the session: the cache is cleared, every registration is
// released and a new session id is drawn. Hooks added with OnReset run
// once, after the state is cleared. Minters are not reset.
func (c *Channel) Reset() {
	c.mu.Lock()
	for _, regs := range c.handlers {
		for _, reg := range regs {
			reg.removed.Store(true)
		}
	}
	hooks := c.resetHooks
	c.cache = make(map[string]Broadcast)
	c.handlers = make(map[string][]*registration)
	c.resetHooks = nil
	previous := c.session
	c.session = c.sessions.Generate()
	current := c.session
	c.mu.Unlock()

	c.logger.Info("session reset", "previous_session", previous, "session", current)

	for i, fn := range hooks {
		c.runHook(i, fn)
	}
}

func (c *Channel) runHook(idx int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("reset hook panicked", "hook", idx, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// OnReset registers fn to run once on the next Reset. Hooks are session
// scoped: a hook that wants to survive re-registers itself.
func (c *Channel) OnReset(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.resetHooks = append(c.resetHooks, fn)
}

// Minter returns the mutation id minter for sub, creating it on first use.
func (c *Channel) Minter(sub string) *Minter {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.minters[sub]
	if !ok {
		m = NewMinter()
		c.minters[sub] = m
	}
	return m
}

// Close stops Run and drops further sends and broadcasts. Queued sends may
// still be flushed. Close does not close the transport.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.outbox.Close()
	c.inbox.Close()
}

// Run is the single consumer loop. A reader goroutine feeds inbound frames
// from the transport; the loop dispatches them one at a time and drains
// the outbox. Run returns nil after Close, ctx.Err() on cancellation, and
// a TRANSPORT_FAILED error (after resetting the session) when the
// transport closes or fails.
func (c *Channel) Run(ctx context.Context) error {
	if c.inbox.Closed() {
		return &ChannelError{Code: ErrCodeChannelClosed, Message: "run on closed channel"}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.transport != nil {
		go c.readLoop(ctx)
	}
	c.logger.Info("channel running", "session", c.Session())

	for {
		progressed := false

		if in, ok := c.inbox.TryDequeue(); ok {
			progressed = true
			if in.err != nil {
				c.logger.Warn("transport lost, resetting session", "error", in.err)
				c.Reset()
				return &ChannelError{Code: ErrCodeTransportFailed, Message: "transport lost", Err: in.err}
			}
			c.dispatchFrame(ctx, in.frame)
		}

		if c.outbox.Len() > 0 && c.transport != nil {
			progressed = true
			if err := c.Flush(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Warn("flush incomplete", "error", err)
			}
		}

		if progressed {
			continue
		}

		select {
		case <-ctx.Done():
			c.logger.Info("channel stopping: context cancelled")
			return ctx.Err()
		case <-c.inbox.Wait():
		case <-c.outbox.Wait():
		}

		if c.inbox.Closed() && c.inbox.Len() == 0 {
			if c.transport != nil {
				if err := c.Flush(ctx); err != nil {
					c.logger.Warn("final flush incomplete", "error", err)
				}
			}
			c.logger.Info("channel stopping: closed")
			return nil
		}
	}
}

func (c *Channel) readLoop(ctx context.Context) {
	for {
		frame, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.inbox.Enqueue(inbound{err: err})
			return
		}
		if !c.inbox.Enqueue(inbound{frame: frame}) {
			return
		}
	}
}
