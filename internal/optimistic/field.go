package optimistic

import (
	"errors"
	"sync"
	"time"

	"github.com/roach88/ghostbridge/internal/bridge"
	"github.com/roach88/ghostbridge/internal/ir"
)

// ExtractFunc pulls the field's authoritative value and reported id out of a
// broadcast. ok is false when the broadcast does not carry the field.
type ExtractFunc func(b bridge.Broadcast) (value ir.IRValue, reported ir.MutationID, ok bool)

// OutgoingFunc builds the event that carries a local edit to the engine.
type OutgoingFunc func(id ir.MutationID, value ir.IRValue) ir.OutgoingEvent

// Config describes one optimistic field.
type Config struct {
	// Event is the broadcast name carrying the authoritative value.
	Event string
	// Extract reads value and reported id from a broadcast.
	Extract ExtractFunc
	// Outgoing builds the mutation event for a commit.
	Outgoing OutgoingFunc
	// Minter issues mutation ids for commits.
	Minter *bridge.Minter
	// OnAdopt, if set, is called after an adopted broadcast changes the value.
	OnAdopt func(value ir.IRValue, reported ir.MutationID)
	// Initial is the value before any broadcast arrives.
	Initial ir.IRValue
	// ExpiresAfter is recorded on pending mutations. Zero means never.
	ExpiresAfter time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// FromPayload extracts payload[key] and the broadcast's reported id from an
// object payload.
func FromPayload(key string) ExtractFunc {
	return func(b bridge.Broadcast) (ir.IRValue, ir.MutationID, bool) {
		obj, ok := b.Payload.(ir.IRObject)
		if !ok {
			return nil, ir.NoMutation, false
		}
		v, ok := obj[key]
		return v, b.ReportedID, ok
	}
}

// Field holds a locally editable value reconciled against broadcasts.
//
// Thread-safety: Field is safe for concurrent use. OnAdopt runs without the
// field's lock held.
type Field struct {
	ch  *bridge.Channel
	cfg Config
	sub *bridge.Subscription

	mu      sync.Mutex
	value   ir.IRValue
	tracked ir.MutationID
	closed  bool
	pending *PendingTable
}

// Bind creates a Field on ch. It registers for cfg.Event and immediately
// reconciles against the cached broadcast, if any.
func Bind(ch *bridge.Channel, cfg Config) (*Field, error) {
	switch {
	case ch == nil:
		return nil, errors.New("optimistic: nil channel")
	case cfg.Event == "":
		return nil, errors.New("optimistic: event name is required")
	case cfg.Extract == nil:
		return nil, errors.New("optimistic: extract func is required")
	case cfg.Outgoing == nil:
		return nil, errors.New("optimistic: outgoing func is required")
	case cfg.Minter == nil:
		return nil, errors.New("optimistic: minter is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	f := &Field{
		ch:      ch,
		cfg:     cfg,
		value:   cfg.Initial,
		pending: NewPendingTable(),
	}
	f.sub = ch.Register(cfg.Event, f.onBroadcast)
	if b, ok := ch.GetCached(cfg.Event); ok {
		f.onBroadcast(b)
	}
	return f, nil
}

func (f *Field) onBroadcast(b bridge.Broadcast) {
	value, reported, ok := f.cfg.Extract(b)
	if !ok {
		return
	}
	f.Observe(value, reported)
}

// Commit shows v locally, mints a mutation id and sends the edit. Only the
// newest commit is tracked; earlier ones are superseded. It returns the
// minted id, or ir.NoMutation after Close.
func (f *Field) Commit(v ir.IRValue) ir.MutationID {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ir.NoMutation
	}
	id := f.cfg.Minter.Next()
	f.value = v
	f.tracked = id
	f.pending.Add(PendingMutation{ID: id, SentAt: f.cfg.Now(), ExpiresAfter: f.cfg.ExpiresAfter})
	f.mu.Unlock()

	f.ch.Send(f.cfg.Outgoing(id, v))
	return id
}

// Observe reconciles an authoritative value. It is adopted iff no mutation
// is tracked or reported equals the tracked id. Only Commit moves the
// tracked id, so an untouched field follows every broadcast. Adopting the
// echo of the tracked mutation resolves pending mutations up to it. It
// returns whether the local value changed.
func (f *Field) Observe(value ir.IRValue, reported ir.MutationID) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	if f.tracked != ir.NoMutation && reported != f.tracked {
		f.mu.Unlock()
		return false
	}
	changed := !ir.Equal(f.value, value)
	f.value = value
	if f.tracked != ir.NoMutation {
		f.pending.Resolve(f.tracked)
	}
	f.mu.Unlock()

	if changed && f.cfg.OnAdopt != nil {
		f.cfg.OnAdopt(value, reported)
	}
	return changed
}

// Value returns the value to display.
func (f *Field) Value() ir.IRValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// TrackedID returns the id of the latest commit, or ir.NoMutation when
// nothing was committed.
func (f *Field) TrackedID() ir.MutationID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked
}

// Pending returns unconfirmed mutations in id order.
func (f *Field) Pending() []PendingMutation {
	return f.pending.Snapshot()
}

// Expired returns pending mutations overdue now.
func (f *Field) Expired() []PendingMutation {
	return f.pending.Expired(f.cfg.Now())
}

// Close releases the registration. Later commits and broadcasts are ignored.
func (f *Field) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	f.sub.Remove()
}
