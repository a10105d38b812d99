package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/recur/internal/actionqueue"
	"github.com/roach88/recur/internal/cascade"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/store"
)

var _ actionqueue.Services = (*Engine)(nil)

// itemOfKind loads id and checks its kind. Missing items surface as
// model.ErrNotFound so the action queue drops them.
func (e *Engine) itemOfKind(ctx context.Context, op, id string, want model.Kind) (model.Item, error) {
	item, err := e.store.GetItem(ctx, id)
	if err != nil {
		return model.Item{}, err
	}
	if item.Kind != want {
		return model.Item{}, newWrongKindError(op, id, item.Kind, want)
	}
	return item, nil
}

// CompleteHabit records a completion for the day containing at and
// advances the habit's streak. A day that is already closed is left alone.
func (e *Engine) CompleteHabit(ctx context.Context, id string, at time.Time) error {
	return e.Do(ctx, "complete habit", func(ctx context.Context) error {
		item, err := e.itemOfKind(ctx, "complete habit", id, model.KindHabit)
		if err != nil {
			return err
		}
		_, _, err = e.tracker.RecordCompletion(ctx, item, at)
		return err
	})
}

// SkipHabit records a skip with reason for the day containing at.
func (e *Engine) SkipHabit(ctx context.Context, id string, at time.Time, reason string) error {
	return e.Do(ctx, "skip habit", func(ctx context.Context) error {
		item, err := e.itemOfKind(ctx, "skip habit", id, model.KindHabit)
		if err != nil {
			return err
		}
		_, err = e.tracker.RecordSkip(ctx, item, at, reason)
		return err
	})
}

// SnoozeHabit pushes the habit's reminder out by the snooze duration.
func (e *Engine) SnoozeHabit(ctx context.Context, id string, at time.Time) error {
	return e.snoozeItem(ctx, "snooze habit", id, at, model.KindHabit)
}

// SnoozeTask pushes the task's reminder out by the snooze duration.
func (e *Engine) SnoozeTask(ctx context.Context, id string, at time.Time) error {
	return e.snoozeItem(ctx, "snooze task", id, at, model.KindTask)
}

// snoozeItem sets snoozedUntil. The delivery flag is untouched: the
// reminder comes back.
func (e *Engine) snoozeItem(ctx context.Context, op, id string, at time.Time, kind model.Kind) error {
	return e.Do(ctx, op, func(ctx context.Context) error {
		if _, err := e.itemOfKind(ctx, op, id, kind); err != nil {
			return err
		}
		until := at.Add(e.snooze).UTC()
		if err := e.store.SetSnoozedUntil(ctx, id, &until); err != nil {
			return err
		}
		slog.Info("item snoozed", "item", id, "until", until)
		return nil
	})
}

// CompleteTask completes the task through the cascade strategy and
// schedules the next occurrence of every recurring task that became
// complete. Completing an already completed task is a no-op.
func (e *Engine) CompleteTask(ctx context.Context, id string, at time.Time) error {
	return e.Do(ctx, "complete task", func(ctx context.Context) error {
		item, err := e.itemOfKind(ctx, "complete task", id, model.KindTask)
		if err != nil {
			return err
		}
		if item.Completed() {
			slog.Debug("task already completed", "item", id)
			return nil
		}
		changes, err := e.strategy.Complete(ctx, e.store, id, at)
		if err != nil {
			return err
		}
		return e.scheduleNext(ctx, changes)
	})
}

// UncompleteTask reopens the task through the cascade strategy. Pending
// records already scheduled are kept; completing the task again finds them.
func (e *Engine) UncompleteTask(ctx context.Context, id string) error {
	return e.Do(ctx, "uncomplete task", func(ctx context.Context) error {
		if _, err := e.itemOfKind(ctx, "uncomplete task", id, model.KindTask); err != nil {
			return err
		}
		_, err := e.strategy.Uncomplete(ctx, e.store, id)
		return err
	})
}

func (e *Engine) scheduleNext(ctx context.Context, changes []cascade.Change) error {
	var errs []error
	for _, c := range changes {
		if !c.Completed {
			continue
		}
		item, err := e.store.GetItem(ctx, c.ItemID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !item.Recurring() {
			continue
		}
		if _, err := e.materializer.OnItemCompleted(ctx, item); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MarkDelivered records that the item's reminder was shown. For tasks the
// snooze is cleared too.
func (e *Engine) MarkDelivered(ctx context.Context, id string) error {
	return e.Do(ctx, "mark delivered", func(ctx context.Context) error {
		item, err := e.store.GetItem(ctx, id)
		if err != nil {
			return err
		}
		return e.store.MarkDelivered(ctx, id, item.Kind == model.KindTask)
	})
}

// Sweep materializes every pending record due as of the engine clock and
// returns the ids of the created items.
func (e *Engine) Sweep(ctx context.Context) ([]string, error) {
	var created []string
	err := e.Do(ctx, "sweep", func(ctx context.Context) error {
		var err error
		created, err = e.materializer.Sweep(ctx, e.clock.Now())
		return err
	})
	return created, err
}

// CreateItem stores item, filling in an id, the creation time and the
// first occurrence index when they are unset. The boolean is false when an
// item with the same id already exists.
func (e *Engine) CreateItem(ctx context.Context, item model.Item) (model.Item, bool, error) {
	if !item.Kind.Valid() {
		return item, false, fmt.Errorf("create item: invalid kind %q", item.Kind)
	}
	var created bool
	err := e.Do(ctx, "create item", func(ctx context.Context) error {
		if item.ID == "" {
			item.ID = e.ids.Generate()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = e.clock.Now().UTC()
		}
		if item.OccurrenceIndex == 0 {
			item.OccurrenceIndex = 1
		}
		var err error
		created, err = e.store.CreateItem(ctx, item)
		return err
	})
	return item, created, err
}

// CreateTag stores tag.
func (e *Engine) CreateTag(ctx context.Context, tag model.Tag) error {
	return e.Do(ctx, "create tag", func(ctx context.Context) error {
		return e.store.CreateTag(ctx, tag)
	})
}

// DeleteItem removes the item and everything it owns. It returns the ids
// of the deleted items, subtasks first.
func (e *Engine) DeleteItem(ctx context.Context, id string) ([]string, error) {
	var deleted []string
	err := e.Do(ctx, "delete item", func(ctx context.Context) error {
		var err error
		deleted, err = e.store.DeleteItem(ctx, id)
		return err
	})
	return deleted, err
}

// Item returns the stored item.
func (e *Engine) Item(ctx context.Context, id string) (model.Item, error) {
	var item model.Item
	err := e.Do(ctx, "get item", func(ctx context.Context) error {
		var err error
		item, err = e.store.GetItem(ctx, id)
		return err
	})
	return item, err
}

// Items lists stored items matching f.
func (e *Engine) Items(ctx context.Context, f store.ItemFilter) ([]model.Item, error) {
	var items []model.Item
	err := e.Do(ctx, "list items", func(ctx context.Context) error {
		var err error
		items, err = e.store.ListItems(ctx, f)
		return err
	})
	return items, err
}

// Pending lists pending records, earliest first.
func (e *Engine) Pending(ctx context.Context) ([]model.PendingRecurrence, error) {
	var pending []model.PendingRecurrence
	err := e.Do(ctx, "list pending", func(ctx context.Context) error {
		var err error
		pending, err = e.store.ListPending(ctx)
		return err
	})
	return pending, err
}

// StreakReport is a habit's streak as of a given day.
type StreakReport struct {
	ItemID string
	State  model.StreakState
	// Intact is false once a scheduled day was missed without an excuse.
	Intact bool
	// Effective is the current run length as of the report day.
	Effective int
}

// Streak reports the habit's streak as of the engine clock's today. With
// recompute set the cached state is rebuilt from history first.
func (e *Engine) Streak(ctx context.Context, id string, recompute bool) (StreakReport, error) {
	var report StreakReport
	err := e.Do(ctx, "streak", func(ctx context.Context) error {
		item, err := e.itemOfKind(ctx, "streak", id, model.KindHabit)
		if err != nil {
			return err
		}
		if recompute {
			if item.Streak, err = e.tracker.Recompute(ctx, item); err != nil {
				return err
			}
		}
		state, intact, err := e.tracker.Status(ctx, item, e.cal.Day(e.clock.Now()))
		if err != nil {
			return err
		}
		report = StreakReport{ItemID: id, State: state, Intact: intact}
		if intact {
			report.Effective = state.Current
		}
		return nil
	})
	return report, err
}
