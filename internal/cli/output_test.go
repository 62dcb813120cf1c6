package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFormatter(format string, verbose bool) (*OutputFormatter, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &OutputFormatter{Format: format, Writer: buf, Verbose: verbose}, buf
}

func decodeResponse(t *testing.T, buf *bytes.Buffer) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	return resp
}

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	f, buf := newTestFormatter("json", false)
	require.NoError(t, f.Success(map[string]int{"names": 3}))

	resp := decodeResponse(t, buf)
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"names": float64(3)}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	tests := []struct {
		name    string
		details any
		want    any
	}{
		{"no_details", nil, nil},
		{"string_details", "line 4: expected }", "line 4: expected }"},
		{"map_details", map[string]string{"file": "rules.cue"}, map[string]any{"file": "rules.cue"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, buf := newTestFormatter("json", false)
			require.NoError(t, f.Error(ErrCodeRules, "rules invalid", tt.details))

			resp := decodeResponse(t, buf)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeRules, resp.Error.Code)
			assert.Equal(t, "rules invalid", resp.Error.Message)
			assert.Equal(t, tt.want, resp.Error.Details)
		})
	}
}

func TestOutputFormatter_TextError(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		f, buf := newTestFormatter("text", verbose)
		require.NoError(t, f.Error(ErrCodeConfig, "config invalid", "transport.url"))

		assert.Contains(t, buf.String(), "Error [E001]: config invalid")
		if verbose {
			assert.Contains(t, buf.String(), "Details: transport.url")
		} else {
			assert.NotContains(t, buf.String(), "Details:")
		}
	}
}

type summary struct{ n int }

func (s summary) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d sessions\n", s.n)
	return err
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	f, buf := newTestFormatter("text", false)
	require.NoError(t, f.Success("journal empty"))
	assert.Equal(t, "journal empty\n", buf.String())

	buf.Reset()
	require.NoError(t, f.Success(summary{n: 2}))
	assert.Equal(t, "2 sessions\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	quiet, buf := newTestFormatter("text", false)
	quiet.VerboseLog("Replaying %s", "s1")
	assert.Empty(t, buf.String())

	loud, buf := newTestFormatter("text", true)
	loud.VerboseLog("Replaying %s", "s1")
	assert.Equal(t, "Replaying s1\n", buf.String())

	// JSON output keeps diagnostics off stdout.
	stderr := &bytes.Buffer{}
	js, stdout := newTestFormatter("json", true)
	js.ErrWriter = stderr
	js.VerboseLog("Replaying %s", "s1")
	assert.Empty(t, stdout.String())
	assert.Equal(t, "Replaying s1\n", stderr.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	f, buf := newTestFormatter("json", false)

	err := f.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", errors.New("no such file"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.EqualError(t, err, "failed to open journal: no such file")

	resp := decodeResponse(t, buf)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeJournal, resp.Error.Code)
	assert.Equal(t, "no such file", resp.Error.Details)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "bad path"))))
	assert.Equal(t, "bad path", NewExitError(ExitCommandError, "bad path").Error())
}
