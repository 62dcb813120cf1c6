package tree

import (
	"sort"
	"strconv"

	"github.com/roach88/ghostbridge/internal/ir"
)

// Reserved keys of a node and of a child collection.
const (
	KeyType                = "type"
	KeyProps               = "props"
	KeyPathID              = "pathId"
	KeyLastReportedEventID = "lastReportedEventId"
	KeyChildren            = "children"

	KeyLastID = "lastId"
	KeyCount  = "count"
	KeyPrevID = "prevId"
)

// Node is a view over a tree node object. The zero Node has no fields.
type Node struct {
	obj ir.IRObject
}

// NodeOf wraps v as a Node. It returns false when v is not an object.
func NodeOf(v ir.IRValue) (Node, bool) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return Node{}, false
	}
	return Node{obj: obj}, true
}

// Object returns the underlying object. Callers must not modify it.
func (n Node) Object() ir.IRObject { return n.obj }

// Type returns the node type, or "" when absent.
func (n Node) Type() string {
	s, _ := n.obj.String(KeyType)
	return s
}

// Props returns the node props, or nil when absent.
func (n Node) Props() ir.IRObject {
	props, _ := n.obj.Object(KeyProps)
	return props
}

// Prop returns a single prop value.
func (n Node) Prop(key string) (ir.IRValue, bool) {
	return n.Props().Get(key)
}

// PathID returns the engine-assigned address of the node.
func (n Node) PathID() string {
	s, _ := n.obj.String(KeyPathID)
	return s
}

// LastReportedEventID returns the id of the last mutation the engine applied
// to this node, or ir.NoMutation.
func (n Node) LastReportedEventID() ir.MutationID {
	return ir.MutationIDFrom(n.obj[KeyLastReportedEventID])
}

// Children returns the node's child collection.
func (n Node) Children() (Children, bool) {
	return ChildrenOf(n.obj[KeyChildren])
}

// Child looks up a direct child by id.
func (n Node) Child(id string) (Node, bool) {
	c, ok := n.Children()
	if !ok {
		return Node{}, false
	}
	return c.Entry(id)
}

// Children is a view over a child collection object.
type Children struct {
	obj ir.IRObject
}

// ChildrenOf wraps v as a child collection. It returns false when v is not
// an object.
func ChildrenOf(v ir.IRValue) (Children, bool) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return Children{}, false
	}
	return Children{obj: obj}, true
}

// Object returns the underlying object. Callers must not modify it.
func (c Children) Object() ir.IRObject { return c.obj }

// LastID returns the id of the newest child.
func (c Children) LastID() (string, bool) {
	return idOf(c.obj[KeyLastID])
}

// Count returns the maintained cardinality. It is a hint only.
func (c Children) Count() (int64, bool) {
	return c.obj.Int(KeyCount)
}

// Entry returns the child stored under id. Reserved keys are never entries.
func (c Children) Entry(id string) (Node, bool) {
	if id == KeyLastID || id == KeyCount {
		return Node{}, false
	}
	return NodeOf(c.obj[id])
}

// IDs returns every entry key in sorted order, linked or not.
func (c Children) IDs() []string {
	ids := make([]string, 0, len(c.obj))
	for k, v := range c.obj {
		if k == KeyLastID || k == KeyCount {
			continue
		}
		if _, ok := v.(ir.IRObject); ok {
			ids = append(ids, k)
		}
	}
	sort.Strings(ids)
	return ids
}

// idOf reads a child id. Ids are strings on the wire; integral numbers are
// accepted because Lua encoders emit them for numeric keys.
func idOf(v ir.IRValue) (string, bool) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), true
	case ir.IRInt, ir.IRFloat:
		n, ok := ir.AsInt64(val)
		if !ok {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	default:
		return "", false
	}
}
