package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A daily task due 2020-01-01 schedules 2020-01-02 when completed, which
// is always due, so the sweep materializes it.
func TestCompletionSweepWorkflow(t *testing.T) {
	env := loadedEnv(t)

	resp, err := env.runJSON(t, "pending")
	require.NoError(t, err)
	var pending PendingResult
	decodeData(t, resp, &pending)
	assert.Empty(t, pending.Pending)

	_, _, err = env.run(t, "invoke", "complete_task", "water")
	require.NoError(t, err)

	resp, err = env.runJSON(t, "pending")
	require.NoError(t, err)
	decodeData(t, resp, &pending)
	require.Len(t, pending.Pending, 1)
	assert.Equal(t, "water", pending.Pending[0].Source)
	assert.Equal(t, "2020-01-02", pending.Pending[0].Scheduled)
	assert.Equal(t, 2, pending.Pending[0].Occurrence)
	assert.Equal(t, "Water plants", pending.Pending[0].Title)

	resp, err = env.runJSON(t, "sweep")
	require.NoError(t, err)
	var swept SweepResult
	decodeData(t, resp, &swept)
	require.Len(t, swept.Created, 1)

	out, _, err := env.run(t, "sweep")
	require.NoError(t, err)
	assert.Equal(t, "Nothing due\n", out)

	resp, err = env.runJSON(t, "items", "--kind", "task")
	require.NoError(t, err)
	var items ItemsResult
	decodeData(t, resp, &items)
	require.Len(t, items.Items, 3)
	assert.Equal(t, "water", items.Items[0].ID)
	assert.True(t, items.Items[0].Completed)

	var next *ItemView
	for i := range items.Items {
		if items.Items[i].ID == swept.Created[0] {
			next = &items.Items[i]
		}
	}
	require.NotNil(t, next)
	assert.Equal(t, "Water plants", next.Title)
	assert.Equal(t, "2020-01-02", next.Due)
	assert.Equal(t, 2, next.Occurrence)
	assert.False(t, next.Completed)

	resp, err = env.runJSON(t, "pending")
	require.NoError(t, err)
	decodeData(t, resp, &pending)
	assert.Empty(t, pending.Pending, "materialized records are consumed")
}

func TestItemsCommand_Filters(t *testing.T) {
	env := loadedEnv(t)
	_, _, err := env.run(t, "invoke", "complete_task", "weed")
	require.NoError(t, err)

	resp, err := env.runJSON(t, "items", "--open")
	require.NoError(t, err)
	var items ItemsResult
	decodeData(t, resp, &items)
	ids := make([]string, 0, len(items.Items))
	for _, it := range items.Items {
		ids = append(ids, it.ID)
	}
	assert.ElementsMatch(t, []string{"water", "stretch"}, ids)

	resp, err = env.runJSON(t, "items", "--kind", "habit")
	require.NoError(t, err)
	decodeData(t, resp, &items)
	require.Len(t, items.Items, 1)
	assert.Equal(t, "stretch", items.Items[0].ID)
	assert.Equal(t, "daily every 1 day(s)", items.Items[0].Rule)

	_, _, err = env.run(t, "items", "--kind", "chore")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestItemsCommand_Text(t *testing.T) {
	env := loadedEnv(t)

	out, _, err := env.run(t, "items", "--kind", "task")
	require.NoError(t, err)
	assert.Contains(t, out, "[ ] task   water  Water plants  due 2020-01-01  (daily every 1 day(s), #1)\n")
	assert.Contains(t, out, "[ ] task   weed  Pull weeds\n")
}

func TestStreakCommand(t *testing.T) {
	env := loadedEnv(t)

	_, _, err := env.run(t, "invoke", "complete_habit", "stretch")
	require.NoError(t, err)

	resp, err := env.runJSON(t, "streak", "stretch")
	require.NoError(t, err)
	var streak StreakResult
	decodeData(t, resp, &streak)
	assert.Equal(t, "stretch", streak.ID)
	assert.Equal(t, 1, streak.Current)
	assert.Equal(t, 1, streak.Longest)
	assert.Equal(t, 1, streak.Effective)
	assert.True(t, streak.Intact)
	assert.NotEmpty(t, streak.LastCompleted)

	resp, err = env.runJSON(t, "streak", "stretch", "--recompute")
	require.NoError(t, err)
	var recomputed StreakResult
	decodeData(t, resp, &recomputed)
	assert.Equal(t, streak, recomputed)
}

func TestStreakCommand_Errors(t *testing.T) {
	env := loadedEnv(t)

	_, stderr, err := env.run(t, "streak", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "E_NOT_FOUND")

	_, stderr, err = env.run(t, "streak", "water")
	require.Error(t, err)
	assert.Contains(t, stderr, "is not a habit")
}

func TestDatabaseDirectoryCreated(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run(t, "pending")
	require.NoError(t, err)
	assert.Equal(t, "No pending recurrences\n", out)
	assert.FileExists(t, env.db)
}
