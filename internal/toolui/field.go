package toolui

import (
	"github.com/roach88/ghostbridge/internal/bridge"
	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/optimistic"
	"github.com/roach88/ghostbridge/internal/tree"
)

// Field binds props[prop] of the element at pathID to an optimistic field.
// Commits send {type: eventType, <prop>: value}; the element's
// lastReportedEventId is the reported id.
func (t *Tools) Field(pathID, prop, eventType string) (*optimistic.Field, error) {
	extract := func(b bridge.Broadcast) (ir.IRValue, ir.MutationID, bool) {
		n, ok := tree.FindByPathID(b.Payload, pathID)
		if !ok {
			return nil, ir.NoMutation, false
		}
		v, ok := n.Prop(prop)
		if !ok {
			return nil, ir.NoMutation, false
		}
		return v, n.LastReportedEventID(), true
	}

	var initial ir.IRValue
	if n, ok := t.FindByPathID(pathID); ok {
		initial, _ = n.Prop(prop)
	}

	return optimistic.Bind(t.ch, optimistic.Config{
		Event:   RootEvent,
		Extract: extract,
		Outgoing: func(id ir.MutationID, v ir.IRValue) ir.OutgoingEvent {
			return toolEvent(pathID, ir.IRObject{"type": ir.IRString(eventType), prop: v}, id)
		},
		Minter:  t.minter,
		Initial: initial,
	})
}
