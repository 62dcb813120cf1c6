package tree

import (
	"fmt"

	"github.com/roach88/ghostbridge/internal/ir"
)

// Handle is a stable index into an Arena. Handles are never reused.
type Handle int

// NoHandle marks the absence of a link.
const NoHandle Handle = -1

type arenaEntry struct {
	id   string
	node ir.IRObject
	prev Handle
	next Handle
	live bool
}

// Arena stores a child collection in a slice with integer links.
//
// Append is O(1) and touches only the new entry and the previous tail, which
// is the same update the wire encoding needs (one new node plus lastId).
// Arena is not safe for concurrent use.
type Arena struct {
	entries []arenaEntry
	index   map[string]Handle
	first   Handle
	last    Handle
	count   int
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{
		index: make(map[string]Handle),
		first: NoHandle,
		last:  NoHandle,
	}
}

// FromChildren builds an arena from a wire child collection, in the order
// OrderedChildren reports. Unlinked entries are dropped.
func FromChildren(c Children) *Arena {
	a := NewArena()
	for _, child := range OrderedChildren(c) {
		node := make(ir.IRObject, len(child.Node.obj))
		for k, v := range child.Node.obj {
			if k != KeyPrevID {
				node[k] = v
			}
		}
		// OrderedChildren never yields duplicate or reserved ids.
		_, _ = a.Append(child.ID, node)
	}
	return a
}

// Append adds node as the newest child under id.
func (a *Arena) Append(id string, node ir.IRObject) (Handle, error) {
	if id == "" || id == KeyLastID || id == KeyCount {
		return NoHandle, fmt.Errorf("invalid child id %q", id)
	}
	if _, exists := a.index[id]; exists {
		return NoHandle, fmt.Errorf("duplicate child id %q", id)
	}

	h := Handle(len(a.entries))
	a.entries = append(a.entries, arenaEntry{
		id:   id,
		node: node,
		prev: a.last,
		next: NoHandle,
		live: true,
	})
	if a.last != NoHandle {
		a.entries[a.last].next = h
	} else {
		a.first = h
	}
	a.last = h
	a.index[id] = h
	a.count++
	return h, nil
}

// Remove unlinks the child with the given id. It reports whether a child
// was removed.
func (a *Arena) Remove(id string) bool {
	h, ok := a.index[id]
	if !ok {
		return false
	}
	e := &a.entries[h]
	if e.prev != NoHandle {
		a.entries[e.prev].next = e.next
	} else {
		a.first = e.next
	}
	if e.next != NoHandle {
		a.entries[e.next].prev = e.prev
	} else {
		a.last = e.prev
	}
	e.live = false
	e.node = nil
	delete(a.index, id)
	a.count--
	return true
}

// Set replaces the node stored under id.
func (a *Arena) Set(id string, node ir.IRObject) bool {
	h, ok := a.index[id]
	if !ok {
		return false
	}
	a.entries[h].node = node
	return true
}

// Get returns the node stored under id.
func (a *Arena) Get(id string) (ir.IRObject, bool) {
	h, ok := a.index[id]
	if !ok {
		return nil, false
	}
	return a.entries[h].node, true
}

// Handle returns the handle of id.
func (a *Arena) Handle(id string) (Handle, bool) {
	h, ok := a.index[id]
	return h, ok
}

// Len returns the number of live children.
func (a *Arena) Len() int { return a.count }

// LastID returns the id of the newest child.
func (a *Arena) LastID() (string, bool) {
	if a.last == NoHandle {
		return "", false
	}
	return a.entries[a.last].id, true
}

// Ordered returns the live children oldest first.
func (a *Arena) Ordered() []Child {
	out := make([]Child, 0, a.count)
	for h := a.first; h != NoHandle; h = a.entries[h].next {
		e := a.entries[h]
		out = append(out, Child{ID: e.id, Node: Node{obj: e.node}})
	}
	return out
}

// Encode renders the arena as a wire child collection.
func (a *Arena) Encode() ir.IRObject {
	out := make(ir.IRObject, a.count+2)
	out[KeyCount] = ir.IRInt(a.count)
	if id, ok := a.LastID(); ok {
		out[KeyLastID] = ir.IRString(id)
	} else {
		out[KeyLastID] = ir.IRNull{}
	}
	for h := a.first; h != NoHandle; h = a.entries[h].next {
		e := a.entries[h]
		var prev ir.IRValue = ir.IRNull{}
		if e.prev != NoHandle {
			prev = ir.IRString(a.entries[e.prev].id)
		}
		out[e.id] = e.node.With(KeyPrevID, prev)
	}
	return out
}
