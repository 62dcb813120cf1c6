package toolui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/ghostbridge/internal/bridge"
	"github.com/roach88/ghostbridge/internal/coalesce"
	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/patch"
	"github.com/roach88/ghostbridge/internal/tree"
)

// Event names exchanged with the engine.
const (
	UpdateEvent    = "CASTLE_TOOLS_UPDATE"
	ToolEvent      = "CASTLE_TOOL_EVENT"
	NeedsSyncEvent = "CASTLE_TOOLS_NEEDS_SYNC"

	// RootEvent is the local broadcast carrying the full tools root.
	RootEvent = "ghostbridge.tools.root"

	// GlobalActionsPane is the pane key of the scene creator's global actions.
	GlobalActionsPane = "sceneCreatorGlobalActions"

	// MinterName is the channel sub-minter tool event ids come from.
	MinterName = "tools"

	panesKey = "panes"
)

// Tools mirrors the engine's tools tree for one channel.
//
// Thread-safety: Tools is safe for concurrent use.
type Tools struct {
	ch     *bridge.Channel
	logger *slog.Logger
	minter *bridge.Minter

	mu     sync.Mutex
	root   ir.IRObject
	sub    *bridge.Subscription
	closed bool
}

// Option configures Tools.
type Option func(*Tools)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tools) { t.logger = l }
}

// New attaches a Tools mirror to ch. The root starts empty and is cleared
// whenever the channel resets; the mirror re-attaches itself afterwards.
func New(ch *bridge.Channel, opts ...Option) *Tools {
	t := &Tools{
		ch:     ch,
		logger: slog.Default(),
		minter: ch.Minter(MinterName),
		root:   ir.IRObject{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.attach()
	return t
}

func (t *Tools) attach() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.sub = t.ch.Register(UpdateEvent, t.onUpdate)
	t.mu.Unlock()

	t.ch.OnReset(t.onReset)
}

func (t *Tools) onReset() {
	t.mu.Lock()
	t.root = ir.IRObject{}
	t.mu.Unlock()

	t.logger.Debug("tools root cleared")
	t.attach()
}

func (t *Tools) onUpdate(b bridge.Broadcast) {
	diff, err := decodeDiff(b.Payload)
	if err != nil {
		t.logger.Warn("ignoring tools update", "reported_id", int64(b.ReportedID), "error", err)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	next, ok := patch.ApplyValue(t.root, diff).(ir.IRObject)
	if !ok {
		next = ir.IRObject{}
	}
	t.root = next
	t.mu.Unlock()

	t.ch.Publish(bridge.Broadcast{Name: RootEvent, ReportedID: b.ReportedID, Payload: next})
}

// Coalescer installs the tools update decoder on rules and returns it, so a
// malformed diff is dropped by the channel before it is cached or any
// handler sees it. A nil rules gets a fresh registry. A rule the user
// already declared for UpdateEvent is kept.
func Coalescer(rules *coalesce.Registry) *coalesce.Registry {
	if rules == nil {
		rules = coalesce.NewRegistry()
	}
	if _, ok := rules.Lookup(UpdateEvent); !ok {
		rules.Register(UpdateEvent, decodeUpdate)
	}
	return rules
}

var parseDiff = coalesce.ParseJSON("")

// decodeUpdate parses the engine's JSON string diff. Diffs that arrive
// already decoded pass through.
func decodeUpdate(name string, reported ir.MutationID, raw ir.IRValue) (ir.IRValue, error) {
	if _, ok := raw.(ir.IRString); !ok {
		return raw, nil
	}
	return parseDiff(name, reported, raw)
}

// decodeDiff accepts the JSON string form on channels without Coalescer,
// or the value the coalescer already decoded.
func decodeDiff(payload ir.IRValue) (ir.IRValue, error) {
	s, ok := payload.(ir.IRString)
	if !ok {
		return payload, nil
	}
	v, err := ir.ParseJSON([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("decode diff: %w", err)
	}
	return v, nil
}

// Root returns the current tools root. The value is shared; do not mutate.
func (t *Tools) Root() ir.IRObject {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// FindByPathID returns the element with the given pathId.
func (t *Tools) FindByPathID(pathID string) (tree.Node, bool) {
	return tree.FindByPathID(t.Root(), pathID)
}

// Pane returns the pane stored under key.
func (t *Tools) Pane(key string) (tree.Node, bool) {
	panes, ok := t.Root().Object(panesKey)
	if !ok {
		return tree.Node{}, false
	}
	return tree.NodeOf(panes[key])
}

// Visible reports whether any pane has children to render.
func (t *Tools) Visible() bool {
	panes, ok := t.Root().Object(panesKey)
	if !ok {
		return false
	}
	for _, k := range panes.SortedKeys() {
		if n, ok := tree.NodeOf(panes[k]); ok && tree.PaneVisible(n) {
			return true
		}
	}
	return false
}

// RequestSync asks the engine to resend the whole tools tree.
func (t *Tools) RequestSync() {
	t.ch.Send(ir.OutgoingEvent{Name: NeedsSyncEvent, Params: ir.IRObject{}})
}

// SendEvent sends a tool event for the element at pathID and returns the
// minted event id. event is copied; eventId is added to it.
func (t *Tools) SendEvent(pathID string, event ir.IRObject) ir.MutationID {
	id := t.minter.Next()
	t.ch.Send(toolEvent(pathID, event, id))
	return id
}

func toolEvent(pathID string, event ir.IRObject, id ir.MutationID) ir.OutgoingEvent {
	if event == nil {
		event = ir.IRObject{}
	}
	return ir.OutgoingEvent{
		Name: ToolEvent,
		Params: ir.IRObject{
			"pathId": ir.IRString(pathID),
			"event":  event.With("eventId", id.Value()),
		},
		MutationID: id,
	}
}

// SendDataPaneAction sends {type: action, value} to the pane's data child,
// or to childID when it is not empty.
func (t *Tools) SendDataPaneAction(pane tree.Node, action string, value ir.IRValue, childID string) (ir.MutationID, error) {
	if childID == "" {
		childID = tree.DataChildID
	}
	child, ok := pane.Child(childID)
	if !ok || child.PathID() == "" {
		return ir.NoMutation, fmt.Errorf("pane %q has no child %q", pane.PathID(), childID)
	}
	event := ir.IRObject{"type": ir.IRString(action)}
	if value != nil {
		event["value"] = value
	}
	return t.SendEvent(child.PathID(), event), nil
}

// GlobalActions returns the data of the scene creator's global actions
// pane. ok is false while the pane is absent or not visible.
func (t *Tools) GlobalActions() (ir.IRValue, bool) {
	pane, ok := t.Pane(GlobalActionsPane)
	if !ok || !tree.PaneVisible(pane) {
		return nil, false
	}
	return tree.PaneData(pane)
}

// SendGlobalAction sends action to the global actions pane.
func (t *Tools) SendGlobalAction(action string, value ir.IRValue) (ir.MutationID, error) {
	pane, ok := t.Pane(GlobalActionsPane)
	if !ok || !tree.PaneVisible(pane) {
		return ir.NoMutation, fmt.Errorf("global actions pane not visible")
	}
	return t.SendDataPaneAction(pane, action, value, "")
}

// Close detaches from the channel. The root is kept.
func (t *Tools) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sub := t.sub
	t.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}
}
