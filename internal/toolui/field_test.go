package toolui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ghostbridge/internal/ir"
)

func cbUpdate(body string) string {
	return `{"panes":{"inspector":{"children":{"cb":` + body + `}}}}`
}

func TestField_CheckboxEcho(t *testing.T) {
	f := newFixture(t)
	f.update(ir.NoMutation, fullTree)

	field, err := f.tools.Field("p2/cb", "checked", "onChange")
	require.NoError(t, err)
	assert.Equal(t, ir.IRBool(true), field.Value())

	id := field.Commit(ir.IRBool(false))
	assert.Equal(t, ir.MutationID(1), id)
	assert.Equal(t, ir.IRBool(false), field.Value())

	events := f.sent(t)
	require.Len(t, events, 1)
	assert.True(t, ir.Equal(
		mustJSON(t, `{"pathId":"p2/cb","event":{"type":"onChange","checked":false,"eventId":1}}`),
		events[0].Params,
	))

	// A stale tree that has not seen our event yet.
	f.update(ir.NoMutation, cbUpdate(`{"props":{"label":"Grid!"}}`))
	assert.Equal(t, ir.IRBool(false), field.Value())

	// The element echoes our id.
	f.update(ir.NoMutation, cbUpdate(`{"lastReportedEventId":1,"props":{"checked":false}}`))
	assert.Equal(t, ir.IRBool(false), field.Value())
	assert.Equal(t, ir.MutationID(1), field.TrackedID())
	assert.Empty(t, field.Pending())

	// Later engine-side change while the element still reports our id.
	f.update(ir.NoMutation, cbUpdate(`{"props":{"checked":true}}`))
	assert.Equal(t, ir.IRBool(true), field.Value())
}

func TestField_BeforeElementExists(t *testing.T) {
	f := newFixture(t)

	field, err := f.tools.Field("p2/cb", "checked", "onChange")
	require.NoError(t, err)
	assert.Nil(t, field.Value())

	f.update(ir.NoMutation, fullTree)
	assert.Equal(t, ir.IRBool(true), field.Value())
}

func TestField_OtherElementsIgnored(t *testing.T) {
	f := newFixture(t)
	f.update(ir.NoMutation, fullTree)

	field, err := f.tools.Field("p2/missing", "checked", "onChange")
	require.NoError(t, err)
	f.update(ir.NoMutation, cbUpdate(`{"props":{"checked":false}}`))
	assert.Nil(t, field.Value())
}
