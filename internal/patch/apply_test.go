package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ghostbridge/internal/ir"
)

func mustParse(t *testing.T, s string) ir.IRValue {
	t.Helper()
	v, err := ir.ParseJSON([]byte(s))
	require.NoError(t, err)
	return v
}

func assertIR(t *testing.T, want string, got ir.IRValue) {
	t.Helper()
	expected := mustParse(t, want)
	if !ir.Equal(expected, got) {
		gotJSON, _ := ir.MarshalIRValue(got)
		t.Fatalf("value mismatch\nwant: %s\n got: %s", want, gotJSON)
	}
}

func TestApplyValue_NullIsNoop(t *testing.T) {
	base := mustParse(t, `{"a":1,"b":{"x":[1,2]}}`)

	assertIR(t, `{"a":1,"b":{"x":[1,2]}}`, ApplyValue(base, nil))
	assertIR(t, `{"a":1,"b":{"x":[1,2]}}`, ApplyValue(base, ir.IRNull{}))
}

func TestApplyValue_EmptyObjectIsNoop(t *testing.T) {
	base := mustParse(t, `{"a":1,"b":{"x":1}}`)

	assertIR(t, `{"a":1,"b":{"x":1}}`, ApplyValue(base, ir.IRObject{}))
}

func TestApplyValue_ExactReplace(t *testing.T) {
	base := mustParse(t, `{"a":1}`)
	got := ApplyValue(base, mustParse(t, `{"__exact":true,"z":9}`))

	assertIR(t, `{"z":9}`, got)
	obj := got.(ir.IRObject)
	assert.NotContains(t, obj, "a")
	assert.NotContains(t, obj, ExactKey)
}

func TestApplyValue_FalsyExactMerges(t *testing.T) {
	base := mustParse(t, `{"a":1}`)
	got := ApplyValue(base, mustParse(t, `{"__exact":false,"z":9}`))

	// A falsy marker is an ordinary key.
	assertIR(t, `{"a":1,"z":9,"__exact":false}`, got)
}

func TestApplyValue_Deletion(t *testing.T) {
	base := mustParse(t, `{"a":1,"b":{"x":1,"y":2}}`)
	got := ApplyValue(base, mustParse(t, `{"b":{"y":"__NIL"}}`))

	assertIR(t, `{"a":1,"b":{"x":1}}`, got)
	b := got.(ir.IRObject)["b"].(ir.IRObject)
	_, present := b["y"]
	assert.False(t, present, "deleted keys are absent, not null")
}

func TestApplyValue_PreservesSiblings(t *testing.T) {
	base := mustParse(t, `{"a":1,"b":2}`)

	assertIR(t, `{"a":1,"b":3}`, ApplyValue(base, mustParse(t, `{"b":3}`)))
}

func TestApplyValue_NestedNullKeepsBase(t *testing.T) {
	base := mustParse(t, `{"a":1,"b":2}`)

	assertIR(t, `{"a":1,"b":2}`, ApplyValue(base, mustParse(t, `{"b":null}`)))
}

func TestApplyValue_NonObjectBaseCoerced(t *testing.T) {
	assertIR(t, `{"x":1}`, ApplyValue(ir.IRString("scalar"), mustParse(t, `{"x":1}`)))
	assertIR(t, `{"x":1}`, ApplyValue(nil, mustParse(t, `{"x":1}`)))
	assertIR(t, `{"k":{"x":1}}`, ApplyValue(mustParse(t, `{"k":5}`), mustParse(t, `{"k":{"x":1}}`)))
}

func TestApplyValue_ArraysReplaceLiterally(t *testing.T) {
	base := mustParse(t, `{"list":[1,2,3]}`)

	assertIR(t, `{"list":[9]}`, ApplyValue(base, mustParse(t, `{"list":[9]}`)))
}

func TestApply_DoesNotMutateBase(t *testing.T) {
	base := mustParse(t, `{"a":1,"b":{"x":1,"y":2}}`).(ir.IRObject)
	_ = ApplyValue(base, mustParse(t, `{"a":"__NIL","b":{"y":"__NIL","z":3}}`))

	assertIR(t, `{"a":1,"b":{"x":1,"y":2}}`, base)
}

func TestApply_DeleteAtRoot(t *testing.T) {
	assert.Nil(t, Apply(ir.IRObject{"a": ir.IRInt(1)}, Delete()))
}

func TestApply_DeleteMissingKey(t *testing.T) {
	base := mustParse(t, `{"a":1}`)

	assertIR(t, `{"a":1}`, ApplyValue(base, mustParse(t, `{"gone":"__NIL"}`)))
}

func TestApply_ToolsTreeShape(t *testing.T) {
	base := mustParse(t, `{
		"panes": {
			"sceneCreatorGlobalActions": {
				"type": "pane",
				"children": {"count": 1, "lastId": "data", "data": {"prevId": null, "props": {"data": {"undo": true}}}}
			}
		}
	}`)
	diff := mustParse(t, `{
		"panes": {
			"sceneCreatorGlobalActions": {
				"children": {"data": {"props": {"data": {"__exact": true, "redo": true}}}}
			}
		}
	}`)

	got := ApplyValue(base, diff)
	assertIR(t, `{
		"panes": {
			"sceneCreatorGlobalActions": {
				"type": "pane",
				"children": {"count": 1, "lastId": "data", "data": {"prevId": null, "props": {"data": {"redo": true}}}}
			}
		}
	}`, got)
}
