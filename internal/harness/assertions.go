package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Op)
		if event.ID != "" {
			fmt.Fprintf(&buf, " %s", event.ID)
		}
		if event.Result != nil {
			fmt.Fprintf(&buf, " %v", event.Result)
		}
		if event.Error != "" {
			fmt.Fprintf(&buf, " error=%s", event.Error)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// selects reports whether event is addressed by the assertion's op and id.
func selects(event TraceEvent, a Assertion) bool {
	if event.Op != a.Op {
		return false
	}
	return a.ID == "" || event.ID == a.ID
}

// assertTraceContains checks for an event with the assertion's op (and
// id) whose result holds every expected field.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if selects(event, a) && matchArgs(event.Result, a.Expect) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s %s with %v", a.Op, a.ID, a.Expect),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that Ops appear as a subsequence of the trace.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Ops) && event.Op == a.Ops[next] {
			next++
		}
	}
	if next == len(a.Ops) {
		return nil
	}

	var ops []string
	for _, event := range trace {
		ops = append(ops, event.Op)
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: strings.Join(a.Ops, " -> "),
		Actual:   fmt.Sprintf("%s (stopped matching at %s)", strings.Join(ops, " -> "), a.Ops[next]),
		Trace:    trace,
	}
}

// assertTraceCount checks the exact number of events with the assertion's
// op (and id).
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, event := range trace {
		if selects(event, a) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s %s x%d", a.Op, a.ID, a.Count),
		Actual:   fmt.Sprintf("x%d", n),
		Trace:    trace,
	}
}

// assertFinalState finds the rows of Table matching Where and checks that
// exactly one exists and holds Expect.
func assertFinalState(result *Result, a Assertion) error {
	rows, ok := result.State[a.Table]
	if !ok {
		return fmt.Errorf("unknown table %q", a.Table)
	}

	var matched []map[string]any
	for _, row := range rows {
		if matchArgs(row, a.Where) {
			matched = append(matched, row)
		}
	}

	where := formatWhere(a.Where)
	switch len(matched) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("a %s row where %s", a.Table, where),
			Actual:   "no matching row",
			Trace:    result.Trace,
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("one %s row where %s", a.Table, where),
			Actual:   fmt.Sprintf("%d rows", len(matched)),
			Trace:    result.Trace,
		}
	}

	if !matchArgs(matched[0], a.Expect) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s row where %s to hold %v", a.Table, where, a.Expect),
			Actual:   fmt.Sprintf("%v", matched[0]),
			Trace:    result.Trace,
		}
	}
	return nil
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(any)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, where[k])
	}
	return strings.Join(parts, " AND ")
}

// matchArgs checks that actual holds every expected key with an equal
// value. Extra keys in actual are ignored. An expected nil matches a
// missing key.
func matchArgs(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, exists := actual[key]
		if !exists {
			if want == nil {
				continue
			}
			return false
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares a trace or state value with one decoded from YAML.
// Integers compare across widths; lists compare element-wise; maps compare
// as subsets.
func valuesEqual(actual, expected any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case int, int64, uint64:
		a, ok := toInt64(actual)
		e, _ := toInt64(exp)
		return ok && a == e
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !valuesEqual(act[i], exp[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		act, ok := actual.(map[string]any)
		return ok && matchArgs(act, exp)
	}
	return reflect.DeepEqual(actual, expected)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
