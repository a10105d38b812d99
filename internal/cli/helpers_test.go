package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testCatalog = `
tag: garden: name: "Garden"

task: water: {
	title: "Water plants"
	rule: {kind: "daily"}
	due:  "2020-01-01"
	tags: ["garden"]
}

task: weed: {
	title:  "Pull weeds"
	parent: "water"
}

habit: stretch: {
	title: "Stretch"
	rule: {kind: "daily"}
}
`

// testEnv is a throwaway config path and database for one test.
type testEnv struct {
	dir    string
	config string
	db     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	return &testEnv{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		db:     filepath.Join(dir, "data", "recur.db"),
	}
}

// writeCatalog writes src as the only file of a catalog directory.
func (e *testEnv) writeCatalog(t *testing.T, src string) string {
	t.Helper()
	dir := filepath.Join(e.dir, "catalog")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "items.cue"), []byte(src), 0o644))
	return dir
}

// run executes the root command with args, pointed at the env's config
// and database.
func (e *testEnv) run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(append([]string{"--config", e.config, "--db", e.db}, args...))
	err = cmd.Execute()
	return buf.String(), errBuf.String(), err
}

// runJSON executes args with --format json and decodes the response.
func (e *testEnv) runJSON(t *testing.T, args ...string) (CLIResponse, error) {
	t.Helper()
	out, _, err := e.run(t, append([]string{"--format", "json"}, args...)...)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp, err
}

// decodeData re-decodes a response payload into v.
func decodeData(t *testing.T, resp CLIResponse, v any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func jsonUnmarshal(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
