package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ghostbridge/internal/ir"
)

const toolsRoot = `{
	"panes": {
		"sceneCreatorGlobalActions": {
			"type": "pane",
			"pathId": "p1",
			"children": {
				"lastId": "data", "count": 1,
				"data": {
					"prevId": null,
					"type": "data",
					"pathId": "p1/data",
					"props": {"data": {"actionsAvailable": {"undo": true}}}
				}
			}
		},
		"inspector": {
			"type": "pane",
			"pathId": "p2",
			"children": {
				"lastId": "cb", "count": 1,
				"cb": {
					"prevId": null,
					"type": "checkbox",
					"pathId": "p2/cb",
					"lastReportedEventId": 7,
					"props": {"checked": true, "pathId": "decoy"}
				}
			}
		},
		"empty": {"type": "pane", "children": {"lastId": null, "count": 0}}
	}
}`

func mustRoot(t *testing.T) ir.IRValue {
	t.Helper()
	v, err := ir.ParseJSON([]byte(toolsRoot))
	require.NoError(t, err)
	return v
}

func pane(t *testing.T, root ir.IRValue, key string) Node {
	t.Helper()
	panes, ok := root.(ir.IRObject).Object("panes")
	require.True(t, ok)
	n, ok := NodeOf(panes[key])
	require.True(t, ok)
	return n
}

func TestNodeAccessors(t *testing.T) {
	root := mustRoot(t)
	cb, ok := pane(t, root, "inspector").Child("cb")
	require.True(t, ok)

	assert.Equal(t, "checkbox", cb.Type())
	assert.Equal(t, "p2/cb", cb.PathID())
	assert.Equal(t, ir.MutationID(7), cb.LastReportedEventID())
	checked, ok := cb.Prop("checked")
	assert.True(t, ok)
	assert.Equal(t, ir.IRBool(true), checked)

	_, ok = cb.Child("none")
	assert.False(t, ok)
}

func TestPaneVisible(t *testing.T) {
	root := mustRoot(t)

	assert.True(t, PaneVisible(pane(t, root, "sceneCreatorGlobalActions")))
	assert.False(t, PaneVisible(pane(t, root, "empty")))
	assert.False(t, PaneVisible(Node{}))
}

func TestPaneData(t *testing.T) {
	root := mustRoot(t)

	data, ok := PaneData(pane(t, root, "sceneCreatorGlobalActions"))
	require.True(t, ok)
	actions := data.(ir.IRObject)["actionsAvailable"].(ir.IRObject)
	assert.Equal(t, ir.IRBool(true), actions["undo"])

	_, ok = PaneData(pane(t, root, "inspector"))
	assert.False(t, ok)
}

func TestFindByPathID(t *testing.T) {
	root := mustRoot(t)

	n, ok := FindByPathID(root, "p2/cb")
	require.True(t, ok)
	assert.Equal(t, "checkbox", n.Type())

	_, ok = FindByPathID(root, "decoy")
	assert.False(t, ok, "props are not searched")

	_, ok = FindByPathID(root, "missing")
	assert.False(t, ok)
}

func TestObjectToArray(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"one based", `{"1":"a","2":"b","3":"c"}`, `["a","b","c"]`},
		{"zero based", `{"0":"a","1":"b"}`, `["a","b"]`},
		{"gap stops", `{"1":"a","3":"c"}`, `["a"]`},
		{"empty", `{}`, `[]`},
		{"already array", `[1,2]`, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ir.ParseJSON([]byte(tt.in))
			require.NoError(t, err)
			want, err := ir.ParseJSON([]byte(tt.want))
			require.NoError(t, err)

			got, ok := ObjectToArray(in)
			require.True(t, ok)
			assert.True(t, ir.Equal(want, got))
		})
	}

	_, ok := ObjectToArray(ir.IRString("x"))
	assert.False(t, ok)
}
