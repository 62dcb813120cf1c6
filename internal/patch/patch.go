package patch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/ghostbridge/internal/ir"
)

// Wire sentinels.
const (
	// DeleteSentinel as a leaf value removes the key from its parent.
	DeleteSentinel = "__NIL"
	// ExactKey marks an object node that replaces its subtree verbatim.
	ExactKey = "__exact"
)

// Kind tags the variant held by a Patch.
type Kind uint8

const (
	// KindNone leaves the base unchanged.
	KindNone Kind = iota
	// KindSet replaces the base with a literal value.
	KindSet
	// KindDelete removes the key from the parent object.
	KindDelete
	// KindMerge merges child patches into an object base.
	KindMerge
	// KindExact replaces the subtree with an object, discarding the base.
	KindExact
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSet:
		return "set"
	case KindDelete:
		return "delete"
	case KindMerge:
		return "merge"
	case KindExact:
		return "exact"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Patch is an immutable tagged patch node. The zero value is None.
type Patch struct {
	kind   Kind
	value  ir.IRValue
	fields map[string]Patch
}

// None returns the no-op patch.
func None() Patch { return Patch{} }

// Set returns a patch that replaces the base with v.
func Set(v ir.IRValue) Patch { return Patch{kind: KindSet, value: v} }

// Delete returns a patch that removes the key it is attached to.
func Delete() Patch { return Patch{kind: KindDelete} }

// Merge returns a patch that applies fields key by key onto an object base.
// The map is owned by the returned Patch.
func Merge(fields map[string]Patch) Patch {
	if fields == nil {
		fields = map[string]Patch{}
	}
	return Patch{kind: KindMerge, fields: fields}
}

// Exact returns a patch that replaces the subtree with obj.
func Exact(obj ir.IRObject) Patch {
	if obj == nil {
		obj = ir.IRObject{}
	}
	return Patch{kind: KindExact, value: obj}
}

// Kind reports the variant.
func (p Patch) Kind() Kind { return p.kind }

// IsNone reports whether p leaves its base unchanged.
func (p Patch) IsNone() bool { return p.kind == KindNone }

// Value returns the replacement value for Set and Exact patches, nil otherwise.
func (p Patch) Value() ir.IRValue { return p.value }

// Fields returns the child patches of a Merge patch. Callers must not modify
// the returned map.
func (p Patch) Fields() map[string]Patch { return p.fields }

// Field returns the child patch for key; None when absent.
func (p Patch) Field(key string) Patch {
	if p.kind != KindMerge {
		return None()
	}
	return p.fields[key]
}

// String renders a compact debugging form, e.g. merge{a:set(1),b:delete}.
func (p Patch) String() string {
	var sb strings.Builder
	p.writeString(&sb)
	return sb.String()
}

func (p Patch) writeString(sb *strings.Builder) {
	switch p.kind {
	case KindSet, KindExact:
		data, err := ir.MarshalIRValue(p.value)
		if err != nil {
			data = []byte("?")
		}
		fmt.Fprintf(sb, "%s(%s)", p.kind, data)
	case KindMerge:
		keys := make([]string, 0, len(p.fields))
		for k := range p.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("merge{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(k)
			sb.WriteByte(':')
			p.fields[k].writeString(sb)
		}
		sb.WriteByte('}')
	default:
		sb.WriteString(p.kind.String())
	}
}

// Decode converts a wire patch into its tagged form.
//
// Null or absent decodes to None, the "__NIL" string to Delete, an object with
// a truthy "__exact" to Exact (marker stripped) and any other object to Merge.
// Arrays and scalars decode to Set; arrays are never merged index by index.
func Decode(v ir.IRValue) Patch {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return None()
	case ir.IRString:
		if string(val) == DeleteSentinel {
			return Delete()
		}
		return Set(val)
	case ir.IRObject:
		if ir.Truthy(val[ExactKey]) {
			out := make(ir.IRObject, len(val))
			for k, child := range val {
				if k != ExactKey {
					out[k] = child
				}
			}
			return Exact(out)
		}
		fields := make(map[string]Patch, len(val))
		for k, child := range val {
			fields[k] = Decode(child)
		}
		return Merge(fields)
	default:
		return Set(v)
	}
}

// DecodeJSON parses a JSON document and decodes it as a patch.
func DecodeJSON(data []byte) (Patch, error) {
	v, err := ir.ParseJSON(data)
	if err != nil {
		return None(), fmt.Errorf("parse patch: %w", err)
	}
	return Decode(v), nil
}

// Encode renders p in wire form.
//
// Set of an object is written with the "__exact" marker so it can never be
// read back as a merge. Set(null) and Set("__NIL") have no faithful wire form
// as nested leaves; Diff never produces them below the root.
func Encode(p Patch) ir.IRValue {
	switch p.kind {
	case KindDelete:
		return ir.IRString(DeleteSentinel)
	case KindSet:
		if obj, ok := p.value.(ir.IRObject); ok {
			return exactObject(obj)
		}
		if p.value == nil {
			return ir.IRNull{}
		}
		return p.value
	case KindExact:
		obj, _ := p.value.(ir.IRObject)
		return exactObject(obj)
	case KindMerge:
		out := make(ir.IRObject, len(p.fields))
		for k, child := range p.fields {
			out[k] = Encode(child)
		}
		return out
	default:
		return ir.IRNull{}
	}
}

func exactObject(obj ir.IRObject) ir.IRObject {
	out := make(ir.IRObject, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	out[ExactKey] = ir.IRBool(true)
	return out
}
