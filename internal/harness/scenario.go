package harness

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/recur/internal/actionqueue"
	"github.com/roach88/recur/internal/calendar"
)

//go:embed scenario.cue
var schemaSource string

// Scenario is one scripted run of the engine.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Start is the RFC 3339 instant the fake clock starts at.
	Start string `yaml:"start"`

	// Timezone is the IANA zone days are computed in. Empty means UTC.
	Timezone string `yaml:"timezone,omitempty"`

	CascadeCompletion bool           `yaml:"cascade_completion,omitempty"`
	GraceReasons      map[string]int `yaml:"grace_reasons,omitempty"`

	// SnoozeMinutes overrides the engine's default snooze duration.
	SnoozeMinutes int `yaml:"snooze_minutes,omitempty"`

	// ColdStart keeps the action queue NotReady until a ready step.
	ColdStart bool `yaml:"cold_start,omitempty"`

	// Catalog is CUE source in the catalog format, applied before the
	// first step.
	Catalog string `yaml:"catalog"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation against the engine.
type Step struct {
	Op string `yaml:"op"`

	// ID is the target item for item operations.
	ID string `yaml:"id,omitempty"`

	// Reason is the skip reason for skip_habit.
	Reason string `yaml:"reason,omitempty"`

	// By is the duration an advance step moves the clock, e.g. "24h".
	By string `yaml:"by,omitempty"`

	// Expect is a subset of the step's trace result that must match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Step operations besides the action kinds.
const (
	OpDeliver    = "deliver"
	OpUncomplete = "uncomplete_task"
	OpDelete     = "delete"
	OpStreak     = "streak"
	OpSweep      = "sweep"
	OpAdvance    = "advance"
	OpReady      = "ready"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Op and ID select trace events (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`
	ID string `yaml:"id,omitempty"`

	// Ops is the expected order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Table is "items" or "pending" (final_state).
	Table string `yaml:"table,omitempty"`

	// Where selects rows by exact field match (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset match against the event result or state row.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// State tables visible to final_state assertions.
const (
	TableItems   = "items"
	TablePending = "pending"
)

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(filepath.Base(path), data)
}

// ParseScenario parses scenario YAML. The document is checked against the
// embedded CUE schema first, then decoded strictly so typos in field names
// are rejected.
func ParseScenario(filename string, data []byte) (*Scenario, error) {
	if err := checkSchema(filename, data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Schema returns the embedded scenario schema source.
func Schema() string { return schemaSource }

func checkSchema(filename string, data []byte) error {
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return err
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("scenario.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("scenario schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Scenario")).Unify(ctx.BuildFile(file))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return errors.New(cueerrors.Details(err, nil))
	}
	return nil
}

// validateScenario checks the cross-field rules the schema leaves out.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := s.StartTime(); err != nil {
		return err
	}
	if _, err := calendar.Load(s.Timezone); err != nil {
		return err
	}
	if s.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	ready := false
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		if step.Op == OpReady {
			if !s.ColdStart {
				return fmt.Errorf("step %d: ready requires cold_start", i+1)
			}
			if ready {
				return fmt.Errorf("step %d: ready may appear once", i+1)
			}
			ready = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d (%s): %w", i+1, a.Type, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch {
	case actionqueue.Kind(step.Op).Valid(),
		step.Op == OpDeliver, step.Op == OpUncomplete, step.Op == OpDelete, step.Op == OpStreak:
		if step.ID == "" {
			return fmt.Errorf("id is required")
		}
	case step.Op == OpAdvance:
		d, err := time.ParseDuration(step.By)
		if err != nil {
			return fmt.Errorf("by: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("by must be positive")
		}
	case step.Op == OpSweep, step.Op == OpReady:
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	if step.Reason != "" && step.Op != string(actionqueue.KindSkipHabit) {
		return fmt.Errorf("reason only applies to %s", actionqueue.KindSkipHabit)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains, AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("op is required")
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("ops list is required and must be non-empty")
		}
	case AssertFinalState:
		if a.Table != TableItems && a.Table != TablePending {
			return fmt.Errorf("table must be %q or %q", TableItems, TablePending)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("expect is required")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// StartTime parses Start.
func (s *Scenario) StartTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t, nil
}
