package patch

import "github.com/roach88/ghostbridge/internal/ir"

// Apply merges p onto base and returns the result.
//
// None returns base as is. Set and Exact return the replacement value. Delete
// at the root returns nil (absent). Merge coerces a non-object base to an
// empty object, copies every base key the patch does not mention, recurses
// into mentioned keys and omits deleted ones. A None child keeps the base key.
//
// The result shares unmodified subtrees with base but base itself is never
// mutated.
func Apply(base ir.IRValue, p Patch) ir.IRValue {
	switch p.kind {
	case KindNone:
		return base
	case KindSet, KindExact:
		return p.value
	case KindDelete:
		return nil
	case KindMerge:
		return applyMerge(base, p.fields)
	default:
		return base
	}
}

// ApplyValue decodes raw as a wire patch and applies it to base.
func ApplyValue(base, raw ir.IRValue) ir.IRValue {
	return Apply(base, Decode(raw))
}

func applyMerge(base ir.IRValue, fields map[string]Patch) ir.IRObject {
	baseObj, _ := base.(ir.IRObject)

	result := make(ir.IRObject, len(baseObj)+len(fields))
	for k, v := range baseObj {
		if _, mentioned := fields[k]; !mentioned {
			result[k] = v
		}
	}

	for k, child := range fields {
		prev, had := baseObj[k]
		switch child.kind {
		case KindDelete:
			continue
		case KindNone:
			if had {
				result[k] = prev
			}
		default:
			result[k] = Apply(prev, child)
		}
	}
	return result
}
