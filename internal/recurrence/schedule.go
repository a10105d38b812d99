package recurrence

import (
	"iter"
	"slices"

	"github.com/roach88/recur/internal/calendar"
)

// Schedule is a Rule bound to an anchor day (its first occurrence).
//
// The zero Schedule has no rule and produces no occurrences.
type Schedule struct {
	rule   Rule
	anchor calendar.Day
}

// At binds r to anchor.
func (r Rule) At(anchor calendar.Day) Schedule {
	return Schedule{rule: r, anchor: anchor}
}

// Occurrences returns up to limit ascending occurrences at or after from,
// using from itself as the anchor.
func (r Rule) Occurrences(from calendar.Day, limit int) []calendar.Day {
	return r.At(from).Occurrences(from, limit)
}

// Matches reports whether day is an occurrence of r anchored at anchor.
func (r Rule) Matches(day, anchor calendar.Day) bool {
	return r.At(anchor).Matches(day)
}

// NextOccurrence returns the first occurrence of r anchored at anchor that
// falls strictly after after.
func (r Rule) NextOccurrence(after, anchor calendar.Day) (calendar.Day, bool) {
	return r.At(anchor).NextOccurrence(after)
}

// Rule returns the bound rule.
func (s Schedule) Rule() Rule { return s.rule }

// Anchor returns the anchor day.
func (s Schedule) Anchor() calendar.Day { return s.anchor }

func (s Schedule) valid() bool {
	return s.rule.Validate() == nil
}

// Matches reports whether day is an occurrence. Closed form per variant, so
// it never enumerates the sequence.
func (s Schedule) Matches(day calendar.Day) bool {
	if !s.valid() || day.Before(s.anchor) {
		return false
	}
	switch s.rule.Kind {
	case KindWeekly:
		if !s.rule.EffectiveDays().Has(day.Weekday()) {
			return false
		}
		weeks := day.WeekStart().Sub(s.anchor.WeekStart()) / 7
		return weeks%s.rule.Interval == 0
	default:
		return day.Sub(s.anchor)%s.rule.Interval == 0
	}
}

// first returns the earliest occurrence at or after from.
func (s Schedule) first(from calendar.Day) calendar.Day {
	start := from
	if start.Before(s.anchor) {
		start = s.anchor
	}
	switch s.rule.Kind {
	case KindWeekly:
		// Every window of 7*Interval days holds at least one qualifying day.
		for d := start; ; d = d.AddDays(1) {
			if s.Matches(d) {
				return d
			}
		}
	default:
		interval := s.rule.Interval
		steps := (start.Sub(s.anchor) + interval - 1) / interval
		return s.anchor.AddDays(steps * interval)
	}
}

// Iter lazily yields up to limit ascending occurrences at or after from.
// Each call starts over; iteration state is never shared.
func (s Schedule) Iter(from calendar.Day, limit int) iter.Seq[calendar.Day] {
	return func(yield func(calendar.Day) bool) {
		if !s.valid() {
			return
		}
		d := from
		for n := 0; n < limit; n++ {
			d = s.first(d)
			if !yield(d) {
				return
			}
			d = d.AddDays(1)
		}
	}
}

// Occurrences returns up to limit ascending occurrences at or after from.
func (s Schedule) Occurrences(from calendar.Day, limit int) []calendar.Day {
	return slices.Collect(s.Iter(from, limit))
}

// NextOccurrence returns the first occurrence strictly after after. The
// boolean is false when the schedule has no valid rule.
func (s Schedule) NextOccurrence(after calendar.Day) (calendar.Day, bool) {
	if !s.valid() {
		return 0, false
	}
	return s.first(after.AddDays(1)), true
}

// Between returns the occurrences strictly between lo and hi.
func (s Schedule) Between(lo, hi calendar.Day) []calendar.Day {
	var out []calendar.Day
	if !s.valid() {
		return out
	}
	for d := range s.Iter(lo.AddDays(1), hi.Sub(lo)) {
		if !d.Before(hi) {
			break
		}
		out = append(out, d)
	}
	return out
}
