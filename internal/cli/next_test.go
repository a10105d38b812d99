package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNextCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewNextCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestNextCommand_Text(t *testing.T) {
	out, err := runNextCmd(t, "text", "--kind", "daily", "--interval", "3", "--from", "2024-01-01", "-n", "3")
	require.NoError(t, err)
	assert.Equal(t, "daily every 3 day(s), from 2024-01-01\n  2024-01-01\n  2024-01-04\n  2024-01-07\n", out)
}

func TestNextCommand_JSON(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "weekly days",
			args: []string{"--kind", "weekly", "--days", "mon,wed", "--from", "2024-01-01", "-n", "3"},
			want: []string{"2024-01-01", "2024-01-03", "2024-01-08"},
		},
		{
			name: "start day not on rule",
			args: []string{"--kind", "weekly", "--days", "fri", "--from", "2024-01-01", "-n", "2"},
			want: []string{"2024-01-05", "2024-01-12"},
		},
		{
			name: "max caps the list",
			args: []string{"--kind", "daily", "--max", "2", "--from", "2024-01-01", "-n", "5"},
			want: []string{"2024-01-01", "2024-01-02"},
		},
		{
			name: "custom",
			args: []string{"--kind", "custom", "--interval", "10", "--from", "2024-02-25", "-n", "2"},
			want: []string{"2024-02-25", "2024-03-06"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runNextCmd(t, "json", tt.args...)
			require.NoError(t, err)

			var resp CLIResponse
			require.NoError(t, jsonUnmarshal(out, &resp))
			var result NextResult
			decodeData(t, resp, &result)
			assert.Equal(t, tt.want, result.Occurrences)
		})
	}
}

func TestNextCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"days on daily", []string{"--kind", "daily", "--days", "mon"}, "weekly"},
		{"unknown kind", []string{"--kind", "hourly"}, "unknown recurrence kind"},
		{"bad weekday", []string{"--kind", "weekly", "--days", "funday"}, "unknown weekday"},
		{"zero interval", []string{"--interval", "0"}, "interval"},
		{"bad from", []string{"--from", "01/02/2024"}, "invalid --from"},
		{"zero count", []string{"--count", "0", "--from", "2024-01-01"}, "--count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runNextCmd(t, "text", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
