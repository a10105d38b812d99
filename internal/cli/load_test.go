package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCommand(t *testing.T) {
	env := newTestEnv(t)
	dir := env.writeCatalog(t, testCatalog)

	resp, err := env.runJSON(t, "load", dir)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	var first LoadResult
	decodeData(t, resp, &first)
	assert.Equal(t, 1, first.Files)
	assert.Equal(t, 1, first.Tags)
	assert.Equal(t, 3, first.Items)
	assert.ElementsMatch(t, []string{"water", "weed", "stretch"}, first.Created)
	assert.Empty(t, first.Existed)

	resp, err = env.runJSON(t, "load", dir)
	require.NoError(t, err)
	var second LoadResult
	decodeData(t, resp, &second)
	assert.Empty(t, second.Created, "loading twice creates nothing")
	assert.ElementsMatch(t, []string{"water", "weed", "stretch"}, second.Existed)
}

func TestLoadCommand_Text(t *testing.T) {
	env := newTestEnv(t)
	dir := env.writeCatalog(t, testCatalog)

	out, _, err := env.run(t, "load", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 1 tags, 3 new items (0 already stored)")
	assert.Contains(t, out, "  + water\n")
}

func TestLoadCommand_DryRunLeavesDatabaseAlone(t *testing.T) {
	env := newTestEnv(t)
	dir := env.writeCatalog(t, testCatalog)

	out, _, err := env.run(t, "load", "--dry-run", dir)
	require.NoError(t, err)
	assert.Equal(t, "Catalog OK: 1 files, 1 tags, 3 items\n", out)
	assert.NoFileExists(t, env.db)
}

func TestLoadCommand_InvalidCatalog(t *testing.T) {
	env := newTestEnv(t)
	dir := env.writeCatalog(t, `task: broken: {title: ""}`)

	_, stderr, err := env.run(t, "load", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "E_CATALOG")
}

func TestLoadCommand_MissingArg(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.run(t, "load")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
