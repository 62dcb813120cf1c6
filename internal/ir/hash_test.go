package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadDigest_StableAcrossKeyOrder(t *testing.T) {
	a := IRObject{"x": IRInt(1), "y": IRString("two")}
	b := IRObject{"y": IRString("two"), "x": IRInt(1)}

	da, err := PayloadDigest(a)
	require.NoError(t, err)
	db, err := PayloadDigest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
}

func TestDigest_DomainSeparation(t *testing.T) {
	v := IRObject{"x": IRInt(1)}
	assert.NotEqual(t, MustDigest(DomainPayload, v), MustDigest(DomainTree, v))
}

func TestDigest_RejectsNonFinite(t *testing.T) {
	_, err := PayloadDigest(IRObject{"bad": IRFloat(posInf())})
	assert.Error(t, err)
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}
