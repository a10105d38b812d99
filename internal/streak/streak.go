// Package streak computes streak state from completion and skip history.
//
// The pure functions (Update, Recompute, Intact) take a History snapshot and
// never touch storage. Tracker wraps them with the read/write path against a
// HistoryStore.
//
// Streak rules:
//   - First completion ever: current = 1.
//   - No rule: consecutive calendar days increment; any gap resets to 1
//     unless every day in the gap is excused by a grace skip.
//   - With rule: every scheduled occurrence strictly between the previous
//     completion and this one must have a completion (or be excused by a
//     grace skip); otherwise reset to 1. Unscheduled days never count.
//   - longest = max(longest, current) after every update.
package streak

import (
	"slices"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/recurrence"
)

// GracePolicy maps skip reasons to the number of grace days they grant.
// Reasons not in the map (or mapped to 0) grant nothing: the ordinary
// missed-occurrence rule applies to them.
type GracePolicy struct {
	reasons map[string]int
}

// NewGracePolicy copies reasons into a policy. Negative values are treated as 0.
func NewGracePolicy(reasons map[string]int) GracePolicy {
	p := GracePolicy{reasons: make(map[string]int, len(reasons))}
	for r, days := range reasons {
		if days > 0 {
			p.reasons[r] = days
		}
	}
	return p
}

// Days returns the grace days granted by reason.
func (p GracePolicy) Days(reason string) int {
	return p.reasons[reason]
}

// History is an in-memory view of one item's completions and skips.
type History struct {
	completions map[calendar.Day]bool
	skips       map[calendar.Day]string
}

// NewHistory indexes completion and skip entries by day.
func NewHistory(completions []model.CompletionEntry, skips []model.SkipEntry) History {
	h := History{
		completions: make(map[calendar.Day]bool, len(completions)),
		skips:       make(map[calendar.Day]string, len(skips)),
	}
	for _, c := range completions {
		h.completions[c.Day] = true
	}
	for _, s := range skips {
		h.skips[s.Day] = s.Reason
	}
	return h
}

// Completed reports whether a completion exists on d.
func (h History) Completed(d calendar.Day) bool {
	return h.completions[d]
}

// Status returns the completion/skip status of d.
func (h History) Status(d calendar.Day) model.DayStatus {
	_, skipped := h.skips[d]
	return model.DayStatus{Completed: h.completions[d], Skipped: skipped}
}

// CompletionDays returns all completion days in ascending order.
func (h History) CompletionDays() []calendar.Day {
	out := make([]calendar.Day, 0, len(h.completions))
	for d := range h.completions {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// Excused reports whether d falls inside the grace window of some skip:
// a skip on day s with reason r covers [s, s+grace.Days(r)].
func (h History) Excused(d calendar.Day, grace GracePolicy) bool {
	for s, reason := range h.skips {
		g := grace.Days(reason)
		if g == 0 {
			continue
		}
		if !d.Before(s) && !d.After(s.AddDays(g)) {
			return true
		}
	}
	return false
}

// CanMarkCompleted gates completion of a day: allowed only while the day
// holds neither a completion nor a skip.
func CanMarkCompleted(status model.DayStatus) bool {
	return status.Open()
}

// CanSkip gates skipping a day. Completion and skip close each other: once
// either exists, both gates are shut for that day.
func CanSkip(status model.DayStatus) bool {
	return status.Open()
}

// Update returns the streak after a completion on day.
//
// sched is nil for flexible items with no rule. A completion on or before
// the last completed day leaves state unchanged; use Recompute for
// backdated entries.
func Update(
	state model.StreakState,
	day calendar.Day,
	sched *recurrence.Schedule,
	h History,
	grace GracePolicy,
) model.StreakState {
	next := state
	switch {
	case state.LastCompleted == nil:
		next.Current = 1
	case !day.After(*state.LastCompleted):
		return state
	case brokenBetween(*state.LastCompleted, day, sched, h, grace):
		next.Current = 1
	default:
		next.Current = state.Current + 1
	}
	if next.Current > next.Longest {
		next.Longest = next.Current
	}
	d := day
	next.LastCompleted = &d
	return next
}

// brokenBetween reports whether an unexcused miss lies strictly between last and day.
func brokenBetween(
	last, day calendar.Day,
	sched *recurrence.Schedule,
	h History,
	grace GracePolicy,
) bool {
	if sched == nil {
		for d := last.AddDays(1); d.Before(day); d = d.AddDays(1) {
			if !h.Excused(d, grace) {
				return true
			}
		}
		return false
	}
	for _, occ := range sched.Between(last, day) {
		if !h.Completed(occ) && !h.Excused(occ, grace) {
			return true
		}
	}
	return false
}

// Recompute rebuilds the streak from scratch by replaying every completion
// in day order. The streak fields are a cache; this is the source of truth.
func Recompute(sched *recurrence.Schedule, h History, grace GracePolicy) model.StreakState {
	var state model.StreakState
	for _, d := range h.CompletionDays() {
		state = Update(state, d, sched, h, grace)
	}
	return state
}

// Intact reports whether the streak in state is still alive on today, i.e.
// no unexcused scheduled occurrence has been missed since the last
// completion. Today itself is never counted as missed.
func Intact(
	state model.StreakState,
	today calendar.Day,
	sched *recurrence.Schedule,
	h History,
	grace GracePolicy,
) bool {
	if state.LastCompleted == nil {
		return false
	}
	return !brokenBetween(*state.LastCompleted, today, sched, h, grace)
}

// Effective returns the current streak as seen on today: Current while
// intact, 0 once broken.
func Effective(
	state model.StreakState,
	today calendar.Day,
	sched *recurrence.Schedule,
	h History,
	grace GracePolicy,
) int {
	if !Intact(state, today, sched, h, grace) {
		return 0
	}
	return state.Current
}
