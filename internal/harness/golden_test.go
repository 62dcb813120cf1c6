package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ghostbridge/internal/ir"
)

func TestRunWithGolden_CheckboxEcho(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/checkbox_echo.yaml")
	require.NoError(t, err)

	// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
	require.NoError(t, RunWithGolden(t, s))
}

func TestAssertGolden_FromResult(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/checkbox_echo.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, "checkbox_echo", result))
}

func TestSnapshot_Deterministic(t *testing.T) {
	result := NewResult()
	result.Session = "s1"
	result.addTrace(TraceEvent{Step: 0, Type: TraceDispatch, Name: "CHECKBOX", ID: 2, Dropped: true})
	result.addTrace(TraceEvent{
		Step:  1,
		Type:  TraceSend,
		Name:  "SET_CHECKED",
		ID:    3,
		Value: ir.IRObject{"z": ir.IRInt(1), "a": ir.IRString("<&>")},
	})

	first, err := Snapshot("det", result)
	require.NoError(t, err)
	second, err := Snapshot("det", result)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t,
		`{"scenario":"det","session":"s1","trace":[`+
			`{"dropped":true,"id":2,"name":"CHECKBOX","step":0,"type":"dispatch"},`+
			`{"id":3,"name":"SET_CHECKED","step":1,"type":"send","value":{"a":"<&>","z":1}}]}`,
		string(first))
}
