package sim

import (
	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/tree"
)

// locate returns the key path from root to the object whose pathId is
// pathID, searching in the same order as tree.Walk.
func locate(v ir.IRValue, pathID string) ([]string, bool) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, false
	}
	if s, _ := obj.String(tree.KeyPathID); s == pathID {
		return []string{}, true
	}
	for _, k := range obj.SortedKeys() {
		if k == tree.KeyProps {
			continue
		}
		if rest, ok := locate(obj[k], pathID); ok {
			return append([]string{k}, rest...), true
		}
	}
	return nil, false
}

// updateNode returns a copy of root with fn applied to the element at
// pathID. Untouched subtrees are shared.
func updateNode(root ir.IRObject, pathID string, fn func(ir.IRObject) ir.IRObject) (ir.IRObject, bool) {
	if pathID == "" {
		return nil, false
	}
	path, ok := locate(root, pathID)
	if !ok {
		return nil, false
	}
	return updateAt(root, path, fn), true
}

func updateAt(obj ir.IRObject, path []string, fn func(ir.IRObject) ir.IRObject) ir.IRObject {
	if len(path) == 0 {
		return fn(obj)
	}
	child, _ := obj[path[0]].(ir.IRObject)
	return obj.With(path[0], updateAt(child, path[1:], fn))
}
