package coalesce

import (
	"fmt"

	"github.com/roach88/ghostbridge/internal/ir"
)

// Chain runs fns left to right, feeding each output to the next.
func Chain(fns ...Func) Func {
	return func(name string, reported ir.MutationID, raw ir.IRValue) (ir.IRValue, error) {
		v := raw
		for i, fn := range fns {
			out, err := fn(name, reported, v)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			v = out
		}
		return v, nil
	}
}

// ParseJSON decodes a JSON string embedded in field. An empty field means the
// whole payload is the JSON string.
func ParseJSON(field string) Func {
	return func(_ string, _ ir.MutationID, raw ir.IRValue) (ir.IRValue, error) {
		if field == "" {
			return parseEmbedded(raw)
		}
		obj, ok := raw.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("parse_json %q: payload is %s, want object", field, ir.Kind(raw))
		}
		inner, present := obj[field]
		if !present {
			return obj, nil
		}
		parsed, err := parseEmbedded(inner)
		if err != nil {
			return nil, fmt.Errorf("parse_json %q: %w", field, err)
		}
		return obj.With(field, parsed), nil
	}
}

func parseEmbedded(v ir.IRValue) (ir.IRValue, error) {
	s, ok := v.(ir.IRString)
	if !ok {
		return nil, fmt.Errorf("embedded JSON is %s, want string", ir.Kind(v))
	}
	return ir.ParseJSON([]byte(s))
}

// IndexBy replaces the array in listField with an object keyed by each
// entry's keyField. Entries without a string or integer key are dropped;
// on duplicate keys the last entry wins. An empty listField indexes the
// whole payload.
func IndexBy(listField, keyField string) Func {
	return func(_ string, _ ir.MutationID, raw ir.IRValue) (ir.IRValue, error) {
		list, obj, err := listAt(raw, listField)
		if err != nil {
			return nil, fmt.Errorf("index_by: %w", err)
		}
		index := make(ir.IRObject, len(list))
		for _, entry := range list {
			entryObj, ok := entry.(ir.IRObject)
			if !ok {
				continue
			}
			key, ok := keyString(entryObj[keyField])
			if !ok {
				continue
			}
			index[key] = entryObj
		}
		if listField == "" {
			return index, nil
		}
		return obj.With(listField, index), nil
	}
}

// Bucket groups the array in listField by categoryField. The result is an
// array of {category, entries} objects in the given order; categories not in
// order are appended in first-seen order. Empty buckets from order are kept.
func Bucket(listField, categoryField string, order []string) Func {
	return func(_ string, _ ir.MutationID, raw ir.IRValue) (ir.IRValue, error) {
		list, obj, err := listAt(raw, listField)
		if err != nil {
			return nil, fmt.Errorf("bucket: %w", err)
		}

		buckets := make(map[string]ir.IRArray, len(order))
		categories := make([]string, 0, len(order))
		for _, c := range order {
			if _, dup := buckets[c]; dup {
				continue
			}
			buckets[c] = ir.IRArray{}
			categories = append(categories, c)
		}
		for _, entry := range list {
			entryObj, ok := entry.(ir.IRObject)
			if !ok {
				continue
			}
			cat, ok := keyString(entryObj[categoryField])
			if !ok {
				continue
			}
			if _, seen := buckets[cat]; !seen {
				categories = append(categories, cat)
			}
			buckets[cat] = append(buckets[cat], entryObj)
		}

		out := make(ir.IRArray, 0, len(categories))
		for _, c := range categories {
			out = append(out, ir.IRObject{
				"category": ir.IRString(c),
				"entries":  buckets[c],
			})
		}
		if listField == "" {
			return out, nil
		}
		return obj.With(listField, out), nil
	}
}

// StampReportedID sets field on an object payload to the reported id, or to
// null when the broadcast carries none.
func StampReportedID(field string) Func {
	return func(_ string, reported ir.MutationID, raw ir.IRValue) (ir.IRValue, error) {
		obj, ok := raw.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("stamp_id: payload is %s, want object", ir.Kind(raw))
		}
		return obj.With(field, reported.Value()), nil
	}
}

func listAt(raw ir.IRValue, field string) (ir.IRArray, ir.IRObject, error) {
	if field == "" {
		list, ok := raw.(ir.IRArray)
		if !ok {
			return nil, nil, fmt.Errorf("payload is %s, want array", ir.Kind(raw))
		}
		return list, nil, nil
	}
	obj, ok := raw.(ir.IRObject)
	if !ok {
		return nil, nil, fmt.Errorf("payload is %s, want object", ir.Kind(raw))
	}
	switch v := obj[field].(type) {
	case ir.IRArray:
		return v, obj, nil
	case nil, ir.IRNull:
		return nil, obj, nil
	default:
		return nil, nil, fmt.Errorf("field %q is %s, want array", field, ir.Kind(v))
	}
}

func keyString(v ir.IRValue) (string, bool) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), true
	case ir.IRInt, ir.IRFloat:
		n, ok := ir.AsInt64(val)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%d", n), true
	default:
		return "", false
	}
}
