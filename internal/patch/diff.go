package patch

import "github.com/roach88/ghostbridge/internal/ir"

// Diff returns a minimal patch p such that Apply(old, p) equals next.
//
// Objects are diffed key by key. Any other change becomes Set. When a nested
// value has no wire form as a leaf (null, or the literal "__NIL" string) the
// enclosing object is replaced with Exact instead, so Encode(Diff(...))
// survives a Decode round trip.
func Diff(old, next ir.IRValue) Patch {
	if ir.Equal(old, next) {
		return None()
	}
	if next == nil {
		return Delete()
	}

	oldObj, oldIsObj := old.(ir.IRObject)
	nextObj, nextIsObj := next.(ir.IRObject)
	if !oldIsObj || !nextIsObj {
		return Set(next)
	}

	fields := make(map[string]Patch)
	for k := range oldObj {
		if _, ok := nextObj[k]; !ok {
			fields[k] = Delete()
		}
	}
	for k, nv := range nextObj {
		ov, had := oldObj[k]
		if !leafSafe(nv) && (!had || !ir.Equal(ov, nv)) {
			return Exact(nextObj)
		}
		var child Patch
		if had {
			child = Diff(ov, nv)
		} else {
			child = Set(nv)
		}
		if !child.IsNone() {
			fields[k] = child
		}
	}
	if len(fields) == 0 {
		return None()
	}
	return Merge(fields)
}

func leafSafe(v ir.IRValue) bool {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return false
	case ir.IRString:
		return string(val) != DeleteSentinel
	default:
		return true
	}
}
