package materialize

import (
	"context"
	"errors"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/recurrence"
	"github.com/roach88/recur/internal/testutil"
)

type pendingKey struct {
	source string
	index  int
}

type memStore struct {
	pending map[string]model.PendingRecurrence
	done    map[string]model.PendingRecurrence
	byKey   map[pendingKey]string
	items   map[string]model.Item
	tags    map[string]bool
	failOn  string
}

func newMemStore(tags ...string) *memStore {
	m := &memStore{
		pending: map[string]model.PendingRecurrence{},
		done:    map[string]model.PendingRecurrence{},
		byKey:   map[pendingKey]string{},
		items:   map[string]model.Item{},
		tags:    map[string]bool{},
	}
	for _, tag := range tags {
		m.tags[tag] = true
	}
	return m
}

func (m *memStore) InsertPending(_ context.Context, p model.PendingRecurrence) (model.PendingRecurrence, bool, error) {
	key := pendingKey{p.SourceItemID, p.OccurrenceIndex}
	if id, ok := m.byKey[key]; ok {
		if p, ok := m.pending[id]; ok {
			return p, false, nil
		}
		return m.done[id], false, nil
	}
	m.pending[p.ID] = p
	m.byKey[key] = p.ID
	return p, true, nil
}

func (m *memStore) ReadyPending(_ context.Context, today calendar.Day) ([]model.PendingRecurrence, error) {
	var out []model.PendingRecurrence
	for _, p := range m.pending {
		if p.Ready(today) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ExistingTags(_ context.Context, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		if m.tags[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) MaterializePending(_ context.Context, pendingID string, item model.Item) (bool, error) {
	if pendingID == m.failOn {
		return false, errors.New("disk full")
	}
	p, ok := m.pending[pendingID]
	if !ok {
		return false, nil
	}
	delete(m.pending, pendingID)
	m.done[pendingID] = p
	m.items[item.ID] = item
	return true, nil
}

type countingObserver struct {
	scheduled, terminated, materialized int
}

func (o *countingObserver) PendingScheduled() { o.scheduled++ }
func (o *countingObserver) ChainTerminated()  { o.terminated++ }
func (o *countingObserver) Materialized(n int) {
	o.materialized += n
}

func day(s string) calendar.Day { return calendar.MustParseDay(s) }

func noon(s string) time.Time { return day(s).UTC().Add(12 * time.Hour) }

type fixture struct {
	store    *memStore
	clock    *testutil.FakeClock
	observer *countingObserver
	m        *Materializer
}

func newFixture(tags ...string) *fixture {
	f := &fixture{
		store:    newMemStore(tags...),
		clock:    testutil.NewFakeClock(noon("2024-01-01")),
		observer: &countingObserver{},
	}
	f.m = New(f.store, calendar.New(time.UTC), f.clock, testutil.NewSequenceGenerator("gen"), WithObserver(f.observer))
	return f
}

func dailyTask(t *testing.T, max int) model.Item {
	t.Helper()
	rule, err := recurrence.NewDaily(1, recurrence.WithMaxOccurrences(max))
	require.NoError(t, err)
	due := day("2024-01-01")
	completed := noon("2024-01-01")
	return model.Item{
		ID:              "task-1",
		Kind:            model.KindTask,
		Title:           "Take vitamins",
		Priority:        1,
		Rule:            &rule,
		DueDate:         &due,
		CompletedAt:     &completed,
		OccurrenceIndex: 1,
		Reminder:        &model.Reminder{Minutes: 8 * 60},
		TagIDs:          []string{"health", "gone"},
	}
}

func TestOnItemCompleted_CreatesOnePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture("health")
	task := dailyTask(t, 3)

	p, err := f.m.OnItemCompleted(ctx, task)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "2024-01-02", p.ScheduledDate.String())
	assert.Equal(t, 2, p.OccurrenceIndex)
	assert.Equal(t, "task-1", p.SourceItemID)
	assert.Equal(t, "Take vitamins", p.Snapshot.Title)
	assert.Len(t, f.store.pending, 1)
	assert.Equal(t, 1, f.observer.scheduled)
}

func TestOnItemCompleted_DuplicateReturnsStoredRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	task := dailyTask(t, 3)

	first, err := f.m.OnItemCompleted(ctx, task)
	require.NoError(t, err)
	second, err := f.m.OnItemCompleted(ctx, task)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.store.pending, 1)
	assert.Equal(t, 1, f.observer.scheduled)
}

func TestOnItemCompleted_NotRecurring(t *testing.T) {
	f := newFixture()
	task := dailyTask(t, 3)
	task.Rule = nil

	p, err := f.m.OnItemCompleted(context.Background(), task)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, f.store.pending)
}

func TestSweep_IdempotentChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture("health")
	task := dailyTask(t, 3)

	_, err := f.m.OnItemCompleted(ctx, task)
	require.NoError(t, err)

	created, err := f.m.Sweep(ctx, noon("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Empty(t, f.store.pending, "pending consumed by first sweep")

	again, err := f.m.Sweep(ctx, noon("2024-01-03"))
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, f.store.items, 1)

	second := f.store.items[created[0]]
	assert.Equal(t, 2, second.OccurrenceIndex)
	assert.Equal(t, "2024-01-02", second.DueDate.String())
	assert.Equal(t, []string{"health"}, second.TagIDs, "missing tag dropped")
	require.NotNil(t, second.Reminder)
	assert.Equal(t, 480, second.Reminder.Minutes)
	assert.False(t, second.Completed())

	// Complete occurrence 2, then occurrence 3 ends the chain.
	completed := noon("2024-01-03")
	second.CompletedAt = &completed
	p, err := f.m.OnItemCompleted(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3, p.OccurrenceIndex)
	assert.Equal(t, "2024-01-03", p.ScheduledDate.String())

	created, err = f.m.Sweep(ctx, noon("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, created, 1)
	third := f.store.items[created[0]]
	assert.Equal(t, 3, third.OccurrenceIndex)

	third.CompletedAt = &completed
	p, err = f.m.OnItemCompleted(ctx, third)
	require.NoError(t, err)
	assert.Nil(t, p, "occurrence index never exceeds max")
	assert.Empty(t, f.store.pending)
	assert.Equal(t, 1, f.observer.terminated)
	assert.Equal(t, 2, f.observer.materialized)
}

func TestSweep_NotBeforeScheduledDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.m.OnItemCompleted(ctx, dailyTask(t, 0))
	require.NoError(t, err)

	created, err := f.m.Sweep(ctx, noon("2024-01-01"))
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, f.store.pending, 1)

	created, err = f.m.Sweep(ctx, day("2024-01-02").UTC())
	require.NoError(t, err)
	assert.Len(t, created, 1, "ready at the first instant of the scheduled day")
}

func TestSweep_SurvivesSourceDeletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.m.OnItemCompleted(ctx, dailyTask(t, 0))
	require.NoError(t, err)

	for id, p := range f.store.pending {
		p.SourceItemID = ""
		f.store.pending[id] = p
	}

	created, err := f.m.Sweep(ctx, noon("2024-01-05"))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Take vitamins", f.store.items[created[0]].Title)
}

func TestSweep_CollectsFailuresAndContinues(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	a := dailyTask(t, 0)
	b := dailyTask(t, 0)
	b.ID = "task-2"
	pa, err := f.m.OnItemCompleted(ctx, a)
	require.NoError(t, err)
	_, err = f.m.OnItemCompleted(ctx, b)
	require.NoError(t, err)
	f.store.failOn = pa.ID

	created, err := f.m.Sweep(ctx, noon("2024-01-02"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, created, 1)
	assert.Len(t, f.store.pending, 1, "failed record stays for the next sweep")
}

func TestNextDate_Modes(t *testing.T) {
	weekly, err := recurrence.NewWeekly(1, recurrence.NewWeekdaySet(time.Monday, time.Wednesday, time.Friday))
	require.NoError(t, err)
	due := day("2024-01-01") // Monday

	item := model.Item{Rule: &weekly, DueDate: &due}

	// Anchor mode: next after the due date, even when completed late.
	next, ok := NextDate(item, day("2024-01-04"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-03", next.String())

	// Completion mode: cadence restarts from the completion day.
	fromCompletion, err := recurrence.NewWeekly(1,
		recurrence.NewWeekdaySet(time.Monday, time.Wednesday, time.Friday),
		recurrence.WithMode(recurrence.FromCompletionDate))
	require.NoError(t, err)
	item.Rule = &fromCompletion
	next, ok = NextDate(item, day("2024-01-04"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-05", next.String())

	// Anchor mode without a due date uses the completion day.
	item.Rule = &weekly
	item.DueDate = nil
	next, ok = NextDate(item, day("2024-01-06"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-08", next.String())

	_, ok = NextDate(model.Item{}, day("2024-01-06"))
	assert.False(t, ok)
}

func TestOnItemCompleted_CompletionModeUsesCompletionDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	rule, err := recurrence.NewDaily(3, recurrence.WithMode(recurrence.FromCompletionDate))
	require.NoError(t, err)
	task := dailyTask(t, 0)
	task.Rule = &rule
	late := noon("2024-01-05")
	task.CompletedAt = &late

	p, err := f.m.OnItemCompleted(ctx, task)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "2024-01-08", p.ScheduledDate.String())
	assert.True(t, slices.Contains(p.Snapshot.TagIDs, "health"))
}

func TestOnItemCompleted_MaterializedOccurrenceStaysClaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	task := dailyTask(t, 3)

	first, err := f.m.OnItemCompleted(ctx, task)
	require.NoError(t, err)
	created, err := f.m.Sweep(ctx, noon("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, created, 1)

	// The source is reopened and completed again after its next instance exists.
	again, err := f.m.OnItemCompleted(ctx, task)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.observer.scheduled)
	assert.Empty(t, f.store.pending)

	created, err = f.m.Sweep(ctx, noon("2024-01-04"))
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, f.store.items, 1)
}
