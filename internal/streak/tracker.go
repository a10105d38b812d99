package streak

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/recurrence"
)

// HistoryStore is the persistence port used by Tracker.
type HistoryStore interface {
	DayStatus(ctx context.Context, itemID string, day calendar.Day) (model.DayStatus, error)
	ReadHistory(ctx context.Context, itemID string) ([]model.CompletionEntry, []model.SkipEntry, error)
	WriteCompletion(ctx context.Context, entry model.CompletionEntry) (bool, error)
	WriteSkip(ctx context.Context, entry model.SkipEntry) (bool, error)
	UpdateStreak(ctx context.Context, itemID string, state model.StreakState) error
}

// IDGenerator produces identifiers for new history entries.
type IDGenerator interface {
	Generate() string
}

// Tracker records completions and skips and keeps the streak cache current.
//
// Tracker is not safe for concurrent use on the same item; callers run it
// on the engine's serialized loop.
type Tracker struct {
	store HistoryStore
	cal   calendar.Calendar
	grace GracePolicy
	ids   IDGenerator
}

// NewTracker creates a Tracker.
func NewTracker(store HistoryStore, cal calendar.Calendar, grace GracePolicy, ids IDGenerator) *Tracker {
	return &Tracker{store: store, cal: cal, grace: grace, ids: ids}
}

// ScheduleOf returns the schedule an item's streak is measured against, or
// nil for a flexible item. The anchor is the due date, falling back to the
// day the item was created.
func ScheduleOf(item model.Item, cal calendar.Calendar) *recurrence.Schedule {
	if item.Rule == nil {
		return nil
	}
	anchor := cal.Day(item.CreatedAt)
	if item.DueDate != nil {
		anchor = *item.DueDate
	}
	s := item.Rule.At(anchor)
	return &s
}

// CanMarkCompleted reports whether item may be completed on day.
func (t *Tracker) CanMarkCompleted(ctx context.Context, itemID string, day calendar.Day) (bool, error) {
	status, err := t.store.DayStatus(ctx, itemID, day)
	if err != nil {
		return false, fmt.Errorf("can mark completed %s: %w", itemID, err)
	}
	return CanMarkCompleted(status), nil
}

// CanSkip reports whether item may be skipped on day.
func (t *Tracker) CanSkip(ctx context.Context, itemID string, day calendar.Day) (bool, error) {
	status, err := t.store.DayStatus(ctx, itemID, day)
	if err != nil {
		return false, fmt.Errorf("can skip %s: %w", itemID, err)
	}
	return CanSkip(status), nil
}

// RecordCompletion writes a completion for the day containing at and
// returns the updated streak. The boolean is false (and the state
// unchanged) when the day already holds a completion or skip.
func (t *Tracker) RecordCompletion(ctx context.Context, item model.Item, at time.Time) (model.StreakState, bool, error) {
	day := t.cal.Day(at)

	ok, err := t.CanMarkCompleted(ctx, item.ID, day)
	if err != nil {
		return item.Streak, false, err
	}
	if !ok {
		slog.Debug("completion refused", "item", item.ID, "day", day)
		return item.Streak, false, nil
	}

	inserted, err := t.store.WriteCompletion(ctx, model.CompletionEntry{
		ID:        t.ids.Generate(),
		ItemID:    item.ID,
		Day:       day,
		CreatedAt: at.UTC(),
	})
	if err != nil {
		return item.Streak, false, fmt.Errorf("record completion %s: %w", item.ID, err)
	}
	if !inserted {
		return item.Streak, false, nil
	}

	completions, skips, err := t.store.ReadHistory(ctx, item.ID)
	if err != nil {
		return item.Streak, false, fmt.Errorf("record completion %s: %w", item.ID, err)
	}
	h := NewHistory(completions, skips)
	sched := ScheduleOf(item, t.cal)

	var next model.StreakState
	if item.Streak.LastCompleted != nil && !day.After(*item.Streak.LastCompleted) {
		// Backdated entry: earlier streak segments may have changed.
		next = Recompute(sched, h, t.grace)
	} else {
		next = Update(item.Streak, day, sched, h, t.grace)
	}

	if err := t.store.UpdateStreak(ctx, item.ID, next); err != nil {
		return item.Streak, false, fmt.Errorf("record completion %s: %w", item.ID, err)
	}

	slog.Info("completion recorded",
		"item", item.ID,
		"day", day,
		"current", next.Current,
		"longest", next.Longest,
	)
	return next, true, nil
}

// RecordSkip writes a skip for the day containing at. It returns nil when
// the day already holds a completion or skip.
func (t *Tracker) RecordSkip(ctx context.Context, item model.Item, at time.Time, reason string) (*model.SkipEntry, error) {
	day := t.cal.Day(at)

	ok, err := t.CanSkip(ctx, item.ID, day)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Debug("skip refused", "item", item.ID, "day", day)
		return nil, nil
	}

	entry := model.SkipEntry{
		ID:        t.ids.Generate(),
		ItemID:    item.ID,
		Day:       day,
		Reason:    reason,
		CreatedAt: at.UTC(),
	}
	inserted, err := t.store.WriteSkip(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("record skip %s: %w", item.ID, err)
	}
	if !inserted {
		return nil, nil
	}

	slog.Info("skip recorded",
		"item", item.ID,
		"day", day,
		"reason", reason,
		"grace_days", t.grace.Days(reason),
	)
	return &entry, nil
}

// Recompute rebuilds and persists item's streak from its full history.
func (t *Tracker) Recompute(ctx context.Context, item model.Item) (model.StreakState, error) {
	completions, skips, err := t.store.ReadHistory(ctx, item.ID)
	if err != nil {
		return model.StreakState{}, fmt.Errorf("recompute streak %s: %w", item.ID, err)
	}
	state := Recompute(ScheduleOf(item, t.cal), NewHistory(completions, skips), t.grace)
	if err := t.store.UpdateStreak(ctx, item.ID, state); err != nil {
		return model.StreakState{}, fmt.Errorf("recompute streak %s: %w", item.ID, err)
	}
	return state, nil
}

// Status reports item's streak as seen on today: the cached state and
// whether it is still intact.
func (t *Tracker) Status(ctx context.Context, item model.Item, today calendar.Day) (model.StreakState, bool, error) {
	completions, skips, err := t.store.ReadHistory(ctx, item.ID)
	if err != nil {
		return model.StreakState{}, false, fmt.Errorf("streak status %s: %w", item.ID, err)
	}
	h := NewHistory(completions, skips)
	return item.Streak, Intact(item.Streak, today, ScheduleOf(item, t.cal), h, t.grace), nil
}
