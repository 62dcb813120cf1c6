package tree

import (
	"strconv"

	"github.com/roach88/ghostbridge/internal/ir"
)

// DataChildID is the conventional id of a pane's data child.
const DataChildID = "data"

// PaneVisible reports whether a pane has any children to render.
func PaneVisible(pane Node) bool {
	c, ok := pane.Children()
	if !ok {
		return false
	}
	count, ok := c.Count()
	return ok && count > 0
}

// PaneData returns props.data of the pane's "data" child.
func PaneData(pane Node) (ir.IRValue, bool) {
	child, ok := pane.Child(DataChildID)
	if !ok {
		return nil, false
	}
	return child.Props().Get("data")
}

// ObjectToArray converts a sparse-array object with stringified integer keys
// back into an array. Arrays are returned as is. Indexing starts at "0" when
// present, otherwise "1", and stops at the first gap.
func ObjectToArray(v ir.IRValue) (ir.IRArray, bool) {
	switch val := v.(type) {
	case ir.IRArray:
		return val, true
	case ir.IRObject:
		i := 1
		if _, ok := val["0"]; ok {
			i = 0
		}
		out := ir.IRArray{}
		for {
			elem, ok := val[strconv.Itoa(i)]
			if !ok {
				return out, true
			}
			out = append(out, elem)
			i++
		}
	default:
		return nil, false
	}
}

// FindByPathID searches the document rooted at root for the node whose
// pathId equals pathID. Props are not searched.
func FindByPathID(root ir.IRValue, pathID string) (Node, bool) {
	if pathID == "" {
		return Node{}, false
	}
	var found Node
	ok := walk(root, func(n Node) bool {
		if n.PathID() == pathID {
			found = n
			return true
		}
		return false
	})
	return found, ok
}

// Walk visits every object in the document except props subtrees, in sorted
// key order, until visit returns true.
func Walk(root ir.IRValue, visit func(Node) bool) {
	walk(root, visit)
}

func walk(v ir.IRValue, visit func(Node) bool) bool {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return false
	}
	if visit(Node{obj: obj}) {
		return true
	}
	for _, k := range obj.SortedKeys() {
		if k == KeyProps {
			continue
		}
		if walk(obj[k], visit) {
			return true
		}
	}
	return false
}
