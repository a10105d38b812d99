// Package harness runs recur scenarios against the real engine.
//
// A scenario declares a CUE catalog, a start instant and a list of steps
// that drive the engine the way notifications and the replenisher do. Each
// step appends one event to a trace; assertions then check the trace and
// the final state of the store.
//
// # Scenario Format
//
//	name: daily_chain
//	description: "A daily task spawns its next occurrence"
//	start: "2024-01-01T09:00:00Z"
//	timezone: UTC
//	catalog: |
//	  task: water: {title: "Water", rule: kind: "daily", due: "2024-01-01"}
//	steps:
//	  - op: complete_task
//	    id: water
//	    expect: {outcome: applied}
//	  - op: advance
//	    by: 24h
//	  - op: sweep
//	assertions:
//	  - type: trace_count
//	    op: sweep
//	    count: 1
//	  - type: final_state
//	    table: items
//	    where: {id: water}
//	    expect: {completed: true}
//
// Action steps (complete_habit, skip_habit, snooze_habit, complete_task,
// snooze_task) and deliver steps go through an action queue. With
// cold_start set the queue stays NotReady until a ready step, so actions
// sent before it are buffered and replayed.
//
// # Assertion Types
//
//   - trace_contains: an event with op (and id) whose result holds expect
//   - trace_order: ops appear in this order
//   - trace_count: op (and id) appears exactly count times
//   - final_state: a row of items or pending matching where holds expect
//
// # Deterministic Testing
//
// Scenarios run on an in-memory store with a fake clock that only moves on
// advance steps and ids drawn from a sequence ("id-1", "id-2", ...). Traces
// serialize as canonical JSON, so golden files are byte-stable.
package harness
