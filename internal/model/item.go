// Package model defines the persisted data model for recurring items,
// their completion/skip history, streak caches and pending recurrences.
package model

import (
	"time"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/recurrence"
)

// Kind distinguishes habits from tasks.
type Kind string

const (
	// KindHabit is a long-lived item completed repeatedly; it carries a streak.
	KindHabit Kind = "habit"
	// KindTask is a single-shot item; recurring tasks spawn a new instance per occurrence.
	KindTask Kind = "task"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindHabit || k == KindTask
}

// Reminder configures when an item's notification fires: Minutes after
// midnight of the due day.
type Reminder struct {
	Minutes int `json:"minutes"`
}

// At returns the reminder instant for due, midnight taken in cal's zone.
func (r Reminder) At(cal calendar.Calendar, due calendar.Day) time.Time {
	return cal.Start(due).Add(time.Duration(r.Minutes) * time.Minute)
}

// StreakState is a cache of the streak derived from completion history.
// Invariant: Longest >= Current.
type StreakState struct {
	Current       int           `json:"current"`
	Longest       int           `json:"longest"`
	LastCompleted *calendar.Day `json:"last_completed,omitempty"`
}

// Item is a recurring task or habit.
//
// OccurrenceIndex is 1-based and increases along a recurrence chain. It
// never exceeds Rule.MaxOccurrences; the materializer enforces that.
type Item struct {
	ID                string
	Kind              Kind
	Title             string
	Description       string
	Priority          int
	ParentID          string
	Rule              *recurrence.Rule
	DueDate           *calendar.Day
	CompletedAt       *time.Time
	OccurrenceIndex   int
	Reminder          *Reminder
	NotificationFired bool
	SnoozedUntil      *time.Time
	Streak            StreakState
	TagIDs            []string
	CreatedAt         time.Time
}

// Recurring reports whether the item has a recurrence rule.
func (i Item) Recurring() bool {
	return i.Rule != nil
}

// Completed reports whether the item (as a task instance) is done.
func (i Item) Completed() bool {
	return i.CompletedAt != nil
}

// CompletionEntry records that an item was completed on a day.
// At most one per item per day.
type CompletionEntry struct {
	ID        string
	ItemID    string
	Day       calendar.Day
	Reason    string
	CreatedAt time.Time
}

// SkipEntry records that an item was deliberately skipped on a day.
// At most one per item per day, and never on a day with a completion.
type SkipEntry struct {
	ID        string
	ItemID    string
	Day       calendar.Day
	Reason    string
	CreatedAt time.Time
}

// DayStatus summarizes the history of one item on one day.
type DayStatus struct {
	Completed bool
	Skipped   bool
}

// Open reports whether neither a completion nor a skip exists.
func (s DayStatus) Open() bool {
	return !s.Completed && !s.Skipped
}

// Tag labels items. Items reference tags by id only.
type Tag struct {
	ID   string
	Name string
}
