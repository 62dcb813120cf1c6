package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ghostbridge/internal/ir"
)

func TestDecodeIncoming(t *testing.T) {
	ev, err := DecodeIncoming([]byte(`{"name":"CASTLE_TOOLS_UPDATE","eventId":7,"params":"{\"a\":1}"}`))
	require.NoError(t, err)

	assert.Equal(t, "CASTLE_TOOLS_UPDATE", ev.Name)
	assert.Equal(t, ir.MutationID(7), ev.EventID)
	assert.Equal(t, ir.IRString(`{"a":1}`), ev.Params)
}

func TestDecodeIncoming_NullAndMissingEventID(t *testing.T) {
	ev, err := DecodeIncoming([]byte(`{"name":"X","eventId":null,"params":{}}`))
	require.NoError(t, err)
	assert.Equal(t, ir.NoMutation, ev.EventID)

	ev, err = DecodeIncoming([]byte(`{"name":"X"}`))
	require.NoError(t, err)
	assert.Equal(t, ir.NoMutation, ev.EventID)
	assert.Nil(t, ev.Params)
}

func TestDecodeIncoming_KeepsIntegers(t *testing.T) {
	ev, err := DecodeIncoming([]byte(`{"name":"X","params":{"n":9007199254740993,"f":0.5}}`))
	require.NoError(t, err)

	params := ev.Params.(ir.IRObject)
	assert.Equal(t, ir.IRInt(9007199254740993), params["n"])
	assert.Equal(t, ir.IRFloat(0.5), params["f"])
}

func TestDecodeIncoming_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{"name":`},
		{"array", `[1,2]`},
		{"missing name", `{"params":{}}`},
		{"empty name", `{"name":""}`},
		{"name not string", `{"name":5}`},
		{"string event id", `{"name":"X","eventId":"7"}`},
		{"fractional event id", `{"name":"X","eventId":1.5}`},
		{"trailing data", `{"name":"X"} {"name":"Y"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeIncoming([]byte(tt.frame))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeOutgoing(t *testing.T) {
	data, err := EncodeOutgoing(ir.OutgoingEvent{
		Name:       "CASTLE_TOOL_EVENT",
		Params:     ir.IRObject{"pathId": ir.IRString("p1"), "event": ir.IRObject{"type": ir.IRString("onChange"), "eventId": ir.IRInt(3)}},
		MutationID: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"CASTLE_TOOL_EVENT","params":{"event":{"eventId":3,"type":"onChange"},"pathId":"p1"}}`, string(data))

	data, err = EncodeOutgoing(ir.OutgoingEvent{Name: "CLEAR_SCENE"})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"CLEAR_SCENE"}`, string(data))
}

func TestOutgoingRoundTrip(t *testing.T) {
	data, err := EncodeOutgoing(ir.OutgoingEvent{Name: "E", Params: ir.IRObject{"v": ir.IRBool(true)}})
	require.NoError(t, err)

	ev, err := DecodeOutgoing(data)
	require.NoError(t, err)
	assert.Equal(t, "E", ev.Name)
	assert.True(t, ir.Equal(ir.IRObject{"v": ir.IRBool(true)}, ev.Params))

	_, err = DecodeOutgoing([]byte(`{"name":"E","extra":1}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeIncoming(t *testing.T) {
	data, err := EncodeIncoming(ir.IncomingEvent{Name: "X", EventID: ir.NoMutation, Params: ir.IRInt(1)})
	require.NoError(t, err)
	assert.Equal(t, `{"eventId":null,"name":"X","params":1}`, string(data))

	ev, err := DecodeIncoming(data)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(1), ev.Params)
}

func TestDecodeIncoming_NumbersValidatedExactly(t *testing.T) {
	ev, err := DecodeIncoming([]byte("{\"name\":\"X\",\"eventId\":9007199254740993,\"params\":{\"ratio\":0.25}}\n"))
	require.NoError(t, err)
	assert.Equal(t, ir.MutationID(9007199254740993), ev.EventID)
	assert.Equal(t, ir.IRObject{"ratio": ir.IRFloat(0.25)}, ev.Params)
}
