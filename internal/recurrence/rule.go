// Package recurrence evaluates recurrence rules into occurrence dates.
//
// A Rule is a closed tagged union (Daily, Weekly, Custom) validated once at
// construction. Evaluation needs an anchor, so a Rule is bound to one with
// Rule.At, yielding a Schedule. Everything here is pure: no I/O, no clocks,
// day granularity only.
package recurrence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind tags the variant of a Rule.
type Kind string

const (
	// KindDaily repeats every Interval days.
	KindDaily Kind = "daily"
	// KindWeekly repeats on Days within every Interval-th week.
	KindWeekly Kind = "weekly"
	// KindCustom repeats every Interval days; kept distinct from daily so the
	// user's original choice round-trips.
	KindCustom Kind = "custom"
)

// Mode selects the base date used to find the next occurrence.
type Mode string

const (
	// FromAnchorDate keeps a fixed cadence measured from the scheduled date.
	FromAnchorDate Mode = "anchor"
	// FromCompletionDate restarts the cadence from the day the item was completed.
	FromCompletionDate Mode = "completion"
)

// Rule validation errors.
var (
	ErrUnknownKind     = errors.New("unknown recurrence kind")
	ErrInvalidInterval = errors.New("interval must be >= 1")
	ErrInvalidMode     = errors.New("unknown repeat mode")
	ErrInvalidMax      = errors.New("max occurrences must be >= 0")
	ErrDaysNotWeekly   = errors.New("days of week only apply to weekly rules")
)

// Rule is a declarative recurrence pattern.
//
// MaxOccurrences of 0 means the chain is unbounded. Days is only
// meaningful for KindWeekly; an empty set there falls back to every day
// (see EffectiveDays).
type Rule struct {
	Kind           Kind
	Interval       int
	Days           WeekdaySet
	MaxOccurrences int
	Mode           Mode
}

// Option adjusts a Rule during construction.
type Option func(*Rule)

// WithMaxOccurrences caps the length of the recurrence chain.
func WithMaxOccurrences(n int) Option {
	return func(r *Rule) { r.MaxOccurrences = n }
}

// WithMode sets the repeat mode. The default is FromAnchorDate.
func WithMode(m Mode) Option {
	return func(r *Rule) { r.Mode = m }
}

// NewDaily returns a rule repeating every interval days.
func NewDaily(interval int, opts ...Option) (Rule, error) {
	return build(Rule{Kind: KindDaily, Interval: interval}, opts)
}

// NewWeekly returns a rule repeating on days every interval weeks.
func NewWeekly(interval int, days WeekdaySet, opts ...Option) (Rule, error) {
	return build(Rule{Kind: KindWeekly, Interval: interval, Days: days}, opts)
}

// NewCustom returns a rule repeating every interval days under the custom tag.
func NewCustom(interval int, opts ...Option) (Rule, error) {
	return build(Rule{Kind: KindCustom, Interval: interval}, opts)
}

func build(r Rule, opts []Option) (Rule, error) {
	r.Mode = FromAnchorDate
	for _, opt := range opts {
		opt(&r)
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate checks the rule's invariants.
func (r Rule) Validate() error {
	switch r.Kind {
	case KindDaily, KindCustom:
		if r.Days != 0 {
			return fmt.Errorf("%s rule: %w", r.Kind, ErrDaysNotWeekly)
		}
	case KindWeekly:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%s rule: %w (got %d)", r.Kind, ErrInvalidInterval, r.Interval)
	}
	if r.MaxOccurrences < 0 {
		return fmt.Errorf("%s rule: %w (got %d)", r.Kind, ErrInvalidMax, r.MaxOccurrences)
	}
	switch r.Mode {
	case FromAnchorDate, FromCompletionDate:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, r.Mode)
	}
	return nil
}

// EffectiveDays returns the weekday set used for evaluation. A weekly rule
// with no days is due every day.
func (r Rule) EffectiveDays() WeekdaySet {
	if r.Kind != KindWeekly {
		return EveryDay
	}
	if r.Days.Empty() {
		return EveryDay
	}
	return r.Days
}

// Limited reports whether the chain has a maximum length.
func (r Rule) Limited() bool {
	return r.MaxOccurrences > 0
}

// String renders a short human-readable description.
func (r Rule) String() string {
	var sb strings.Builder
	switch r.Kind {
	case KindWeekly:
		fmt.Fprintf(&sb, "every %d week(s) on %s", r.Interval, r.EffectiveDays())
	default:
		fmt.Fprintf(&sb, "%s every %d day(s)", r.Kind, r.Interval)
	}
	if r.Limited() {
		fmt.Fprintf(&sb, ", max %d", r.MaxOccurrences)
	}
	if r.Mode == FromCompletionDate {
		sb.WriteString(", from completion")
	}
	return sb.String()
}

// ruleJSON is the wire form of a Rule.
type ruleJSON struct {
	Kind           Kind     `json:"kind"`
	Interval       int      `json:"interval"`
	Days           []string `json:"days,omitempty"`
	MaxOccurrences int      `json:"max_occurrences,omitempty"`
	Mode           Mode     `json:"mode"`
}

// MarshalJSON implements json.Marshaler.
func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleJSON{
		Kind:           r.Kind,
		Interval:       r.Interval,
		Days:           r.Days.Names(),
		MaxOccurrences: r.MaxOccurrences,
		Mode:           r.Mode,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded rule is validated;
// a missing mode decodes as FromAnchorDate.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode rule: %w", err)
	}
	days, err := ParseWeekdays(raw.Days)
	if err != nil {
		return fmt.Errorf("decode rule: %w", err)
	}
	decoded := Rule{
		Kind:           raw.Kind,
		Interval:       raw.Interval,
		Days:           days,
		MaxOccurrences: raw.MaxOccurrences,
		Mode:           raw.Mode,
	}
	if decoded.Mode == "" {
		decoded.Mode = FromAnchorDate
	}
	if err := decoded.Validate(); err != nil {
		return fmt.Errorf("decode rule: %w", err)
	}
	*r = decoded
	return nil
}

// WeekdaySet is a bitmask of weekdays, bit i set for time.Weekday(i).
type WeekdaySet uint8

// EveryDay contains all seven weekdays.
const EveryDay WeekdaySet = 1<<7 - 1

// weekOrder lists weekdays Monday first, the order used for display and wire form.
var weekOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
	time.Sunday:    "sun",
}

// NewWeekdaySet returns a set holding days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// ParseWeekdays builds a set from short names ("mon", "tue", ...).
// Full English names are accepted too.
func ParseWeekdays(names []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, n := range names {
		d, ok := lookupWeekday(n)
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", n)
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

func lookupWeekday(name string) (time.Weekday, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for d, short := range weekdayNames {
		if n == short || n == strings.ToLower(d.String()) {
			return d, true
		}
	}
	return 0, false
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Empty reports whether the set holds no days.
func (s WeekdaySet) Empty() bool {
	return s&EveryDay == 0
}

// Len returns the number of days in the set.
func (s WeekdaySet) Len() int {
	n := 0
	for _, d := range weekOrder {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Names returns short names Monday first. An empty set returns nil.
func (s WeekdaySet) Names() []string {
	var names []string
	for _, d := range weekOrder {
		if s.Has(d) {
			names = append(names, weekdayNames[d])
		}
	}
	return names
}

func (s WeekdaySet) String() string {
	if s.Empty() {
		return "-"
	}
	return strings.Join(s.Names(), ",")
}
