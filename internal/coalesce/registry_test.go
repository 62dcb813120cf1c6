package coalesce

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ghostbridge/internal/ir"
)

func constant(v ir.IRValue) Func {
	return func(string, ir.MutationID, ir.IRValue) (ir.IRValue, error) { return v, nil }
}

func TestRegistry_PassThrough(t *testing.T) {
	r := NewRegistry()
	raw := ir.IRObject{"a": ir.IRInt(1)}

	out, err := r.Apply("UNKNOWN", ir.NoMutation, raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestRegistry_ExactBeatsPrefix(t *testing.T) {
	r := NewRegistry()
	r.RegisterPrefix("INSPECTOR", constant(ir.IRString("prefix")))
	r.Register("INSPECTOR:Body", constant(ir.IRString("exact")))

	out, err := r.Apply("INSPECTOR:Body", ir.NoMutation, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("exact"), out)

	out, err = r.Apply("INSPECTOR:Layout", ir.NoMutation, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("prefix"), out)
}

func TestRegistry_PrefixNeedsDelimiter(t *testing.T) {
	r := NewRegistry()
	r.RegisterPrefix("INSPECTOR", constant(ir.IRString("prefix")))

	_, ok := r.Lookup("INSPECTOR")
	assert.False(t, ok)
	_, ok = r.Lookup("INSPECTORS:x")
	assert.False(t, ok)
}

func TestRegistry_CustomDelimiter(t *testing.T) {
	r := NewRegistry(WithDelimiter("/"))
	r.RegisterPrefix("pane", constant(ir.IRInt(1)))

	_, ok := r.Lookup("pane/data")
	assert.True(t, ok)
	_, ok = r.Lookup("pane:data")
	assert.False(t, ok)
}

func TestRegistry_ApplyWrapsError(t *testing.T) {
	sentinel := errors.New("bad payload")
	r := NewRegistry()
	r.Register("X", func(string, ir.MutationID, ir.IRValue) (ir.IRValue, error) { return nil, sentinel })

	_, err := r.Apply("X", ir.NoMutation, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "coalesce X")
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register("B", constant(nil))
	r.Register("A", constant(nil))
	r.RegisterPrefix("P", constant(nil))

	assert.Equal(t, []string{"A", "B", "P:*"}, r.Names())
}
