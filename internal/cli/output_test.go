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

type greeting struct {
	Name string `json:"name"`
}

func (g greeting) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "hello %s\n", g.Name)
	return err
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "bad")), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitFailure, "write failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "write failed: disk full", err.Error())
	assert.Equal(t, "bad", NewExitError(ExitFailure, "bad").Error())
}

func TestOutputFormatter_SuccessText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success(greeting{Name: "recur"}))
	assert.Equal(t, "hello recur\n", buf.String())

	buf.Reset()
	require.NoError(t, f.Success("plain"))
	assert.Equal(t, "plain\n", buf.String())
}

func TestOutputFormatter_SuccessJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(greeting{Name: "recur"}))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, map[string]any{"name": "recur"}, resp["data"])
	assert.NotContains(t, resp, "error")
}

func TestOutputFormatter_Fail(t *testing.T) {
	t.Run("text goes to stderr", func(t *testing.T) {
		out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut}

		err := f.Fail(ExitCommandError, CodeCatalog, "invalid catalog", errors.New("line 3"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Empty(t, out.String())
		assert.Equal(t, "Error [E_CATALOG]: invalid catalog\n", errOut.String())
	})

	t.Run("verbose prints details", func(t *testing.T) {
		errOut := &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: io.Discard, ErrWriter: errOut, Verbose: true}

		_ = f.Fail(ExitFailure, CodeAction, "action failed", errors.New("WRONG_KIND"))
		assert.Contains(t, errOut.String(), "Details: WRONG_KIND")
	})

	t.Run("json envelope", func(t *testing.T) {
		out := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: out}

		err := f.Fail(ExitFailure, CodeNotFound, "no habit", nil)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeNotFound, resp.Error.Code)
		assert.Nil(t, resp.Error.Details)
	})
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out}
	f.VerboseLog("hidden %d", 1)
	assert.Empty(t, out.String())

	f.Verbose = true
	f.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", out.String(), "falls back to Writer without ErrWriter")
}
