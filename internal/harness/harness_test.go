package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "file name matches scenario name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/daily_task_chain.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := (&TraceSnapshot{ScenarioName: scenario.Name, Trace: first.Trace, State: first.State}).Canonical()
	require.NoError(t, err)
	b, err := (&TraceSnapshot{ScenarioName: scenario.Name, Trace: second.Trace, State: second.State}).Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_StepExpectationMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "expects the wrong outcome",
		Start:       "2024-01-01T09:00:00Z",
		Catalog:     `task: a: title: "A"`,
		Steps: []Step{
			{Op: "complete_task", ID: "a", Expect: map[string]any{"outcome": "dropped"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1")
	assert.Equal(t, "applied", result.Trace[0].Result["outcome"])
}

func TestRun_MissingItemIsDropped(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing",
		Description: "actions on unknown ids",
		Start:       "2024-01-01T09:00:00Z",
		Catalog:     `task: a: title: "A"`,
		Steps: []Step{
			{Op: "snooze_task", ID: "nope", Expect: map[string]any{"outcome": "dropped"}},
			{Op: OpUncomplete, ID: "nope"},
			{Op: OpDelete, ID: "nope"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace[0].Error, "the queue swallows not-found")
	assert.Equal(t, "not_found", result.Trace[1].Error)
	assert.Equal(t, "not_found", result.Trace[2].Error)
}

func TestRun_AssertionFailureIsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing_assertion",
		Description: "counts a sweep that never ran",
		Start:       "2024-01-01T09:00:00Z",
		Catalog:     `task: a: title: "A"`,
		Steps:       []Step{{Op: "complete_task", ID: "a"}},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: OpSweep, Count: 1},
			{Type: AssertFinalState, Table: TableItems, Where: map[string]any{"id": "a"}, Expect: map[string]any{"completed": true}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "trace_count")
}

func TestRun_SnoozeDuration(t *testing.T) {
	scenario := &Scenario{
		Name:          "snooze",
		Description:   "custom snooze length",
		Start:         "2024-01-01T09:00:00Z",
		SnoozeMinutes: 30,
		Catalog:       `task: a: title: "A"`,
		Steps: []Step{
			{Op: OpDeliver, ID: "a"},
			{Op: "snooze_task", ID: "a"},
		},
		Assertions: []Assertion{
			{
				Type:   AssertFinalState,
				Table:  TableItems,
				Where:  map[string]any{"id": "a"},
				Expect: map[string]any{"notified": true, "snoozed_until": "2024-01-01T09:30:00Z"},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_CatalogError(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_catalog",
		Description: "catalog does not compile",
		Start:       "2024-01-01T09:00:00Z",
		Catalog:     `task: a: {`,
		Steps:       []Step{{Op: OpSweep}},
	}

	_, err := Run(scenario)
	assert.Error(t, err)
}
