// Package materialize defers creation of the next instance of a recurring
// item until its scheduled date.
//
// Completing a recurring item persists a PendingRecurrence holding a
// snapshot of the fields needed to rebuild it. A later Sweep converts every
// ready record into a live item. Each conversion marks the pending record
// materialized in the same transaction that inserts the item. The marked
// record keeps its occurrence claimed, so neither a repeated sweep nor a
// repeated completion creates an instance twice.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/recurrence"
)

// Store is the persistence port used by the Materializer.
type Store interface {
	// InsertPending stores p unless a record for the same source item and
	// occurrence index exists, including one already materialized. It
	// returns the stored record either way and whether a new row was written.
	InsertPending(ctx context.Context, p model.PendingRecurrence) (model.PendingRecurrence, bool, error)

	// ReadyPending returns every unmaterialized record scheduled on or
	// before today.
	ReadyPending(ctx context.Context, today calendar.Day) ([]model.PendingRecurrence, error)

	// ExistingTags filters ids down to tags that still exist.
	ExistingTags(ctx context.Context, ids []string) ([]string, error)

	// MaterializePending marks the pending record materialized and inserts
	// item in one transaction. It returns false, writing nothing, when the
	// record is gone or already materialized.
	MaterializePending(ctx context.Context, pendingID string, item model.Item) (bool, error)
}

// Clock supplies the current time when an item carries no completion time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers for pending records and new items.
type IDGenerator interface {
	Generate() string
}

// Observer is notified of materializer outcomes. The metrics package
// provides the production implementation.
type Observer interface {
	PendingScheduled()
	ChainTerminated()
	Materialized(n int)
}

type nopObserver struct{}

func (nopObserver) PendingScheduled() {}
func (nopObserver) ChainTerminated()  {}
func (nopObserver) Materialized(int)  {}

// Materializer schedules and materializes pending recurrences.
type Materializer struct {
	store    Store
	cal      calendar.Calendar
	clock    Clock
	ids      IDGenerator
	observer Observer
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(m *Materializer) {
		if o != nil {
			m.observer = o
		}
	}
}

// New creates a Materializer.
func New(store Store, cal calendar.Calendar, clock Clock, ids IDGenerator, opts ...Option) *Materializer {
	m := &Materializer{
		store:    store,
		cal:      cal,
		clock:    clock,
		ids:      ids,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NextDate returns the scheduled date of the instance following item, the
// day item was completed on, and whether another instance exists.
//
// In anchor mode the next date follows the item's due date so the cadence
// never drifts; an item with no due date falls back to the completion day.
// In completion mode the cadence restarts from the completion day.
func NextDate(item model.Item, completed calendar.Day) (calendar.Day, bool) {
	if item.Rule == nil {
		return 0, false
	}
	base := completed
	if item.Rule.Mode != recurrence.FromCompletionDate && item.DueDate != nil {
		base = *item.DueDate
	}
	return item.Rule.At(base).NextOccurrence(base)
}

// OnItemCompleted persists the pending record for the instance after item.
//
// It returns nil when item is not recurring or its chain has reached
// MaxOccurrences. Completing the same occurrence twice returns the record
// stored by the first call.
func (m *Materializer) OnItemCompleted(ctx context.Context, item model.Item) (*model.PendingRecurrence, error) {
	if item.Rule == nil {
		return nil, nil
	}

	index := max(item.OccurrenceIndex, 1)
	if item.Rule.Limited() && index >= item.Rule.MaxOccurrences {
		slog.Info("recurrence chain complete",
			"item", item.ID,
			"occurrence", index,
			"max", item.Rule.MaxOccurrences,
		)
		m.observer.ChainTerminated()
		return nil, nil
	}

	completedAt := m.clock.Now()
	if item.CompletedAt != nil {
		completedAt = *item.CompletedAt
	}
	next, ok := NextDate(item, m.cal.Day(completedAt))
	if !ok {
		return nil, nil
	}

	snap, err := model.SnapshotOf(item)
	if err != nil {
		return nil, fmt.Errorf("schedule next occurrence of %s: %w", item.ID, err)
	}

	stored, inserted, err := m.store.InsertPending(ctx, model.PendingRecurrence{
		ID:              m.ids.Generate(),
		SourceItemID:    item.ID,
		ScheduledDate:   next,
		OccurrenceIndex: index + 1,
		Snapshot:        snap,
		CreatedAt:       m.clock.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("schedule next occurrence of %s: %w", item.ID, err)
	}

	if inserted {
		m.observer.PendingScheduled()
		slog.Info("pending recurrence scheduled",
			"item", item.ID,
			"pending", stored.ID,
			"scheduled", stored.ScheduledDate,
			"occurrence", stored.OccurrenceIndex,
		)
	} else {
		slog.Debug("pending recurrence already scheduled",
			"item", item.ID,
			"pending", stored.ID,
		)
	}
	return &stored, nil
}

// Sweep materializes every pending record whose scheduled date has arrived
// as of now and returns the ids of the items it created.
//
// Records are independent: a failure on one is collected and the sweep
// moves on to the next. Records already consumed by an earlier sweep are
// skipped silently.
func (m *Materializer) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	today := m.cal.Day(now)
	ready, err := m.store.ReadyPending(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	var (
		created []string
		errs    []error
	)
	for _, p := range ready {
		id, err := m.materialize(ctx, p, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if id != "" {
			created = append(created, id)
		}
	}

	if len(created) > 0 {
		m.observer.Materialized(len(created))
	}
	slog.Info("sweep finished",
		"today", today,
		"ready", len(ready),
		"created", len(created),
		"failed", len(errs),
	)
	return created, errors.Join(errs...)
}

func (m *Materializer) materialize(ctx context.Context, p model.PendingRecurrence, now time.Time) (string, error) {
	tags, err := m.store.ExistingTags(ctx, p.Snapshot.TagIDs)
	if err != nil {
		return "", fmt.Errorf("materialize %s: %w", p.ID, err)
	}
	if dropped := len(p.Snapshot.TagIDs) - len(tags); dropped > 0 {
		slog.Debug("dropping missing tags", "pending", p.ID, "dropped", dropped)
	}

	item := p.Instantiate(m.ids.Generate(), tags, now.UTC())
	ok, err := m.store.MaterializePending(ctx, p.ID, item)
	if err != nil {
		return "", fmt.Errorf("materialize %s: %w", p.ID, err)
	}
	if !ok {
		slog.Debug("pending recurrence already materialized", "pending", p.ID)
		return "", nil
	}
	slog.Info("recurrence materialized",
		"pending", p.ID,
		"item", item.ID,
		"due", p.ScheduledDate,
		"occurrence", p.OccurrenceIndex,
	)
	return item.ID, nil
}
