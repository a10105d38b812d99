package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recur/internal/actionqueue"
	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/cascade"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/recurrence"
	"github.com/roach88/recur/internal/store"
	"github.com/roach88/recur/internal/streak"
	"github.com/roach88/recur/internal/testutil"
)

var jan1 = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// startEngine runs e in the background and stops it at test cleanup.
func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()
	<-e.Lifecycle().Ready()
	t.Cleanup(func() {
		e.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err, "engine should stop cleanly")
		case <-time.After(time.Second):
			t.Error("engine did not stop")
		}
	})
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(jan1)
	opts = append([]EngineOption{
		WithClock(clock),
		WithIDGenerator(testutil.NewSequenceGenerator("id")),
	}, opts...)
	e := New(setupTestStore(t), opts...)
	startEngine(t, e)
	return e, clock
}

func createItem(t *testing.T, e *Engine, item model.Item) model.Item {
	t.Helper()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = jan1
	}
	stored, ok, err := e.CreateItem(context.Background(), item)
	require.NoError(t, err)
	require.True(t, ok)
	return stored
}

func daily(t *testing.T, opts ...recurrence.Option) *recurrence.Rule {
	t.Helper()
	r, err := recurrence.NewDaily(1, opts...)
	require.NoError(t, err)
	return &r
}

func TestEngine_LifecycleOrder(t *testing.T) {
	e := New(setupTestStore(t))
	assert.Equal(t, PhaseConstructed, e.Lifecycle().Phase())

	// Jobs submitted before Run wait for the loop.
	ran := make(chan error, 1)
	go func() {
		ran <- e.Do(context.Background(), "early", func(context.Context) error { return nil })
	}()

	startEngine(t, e)
	assert.Equal(t, PhaseReady, e.Lifecycle().Phase())

	select {
	case err := <-ran:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("early job never ran")
	}

	err := e.Run(context.Background())
	assert.Error(t, err, "second Run is rejected")
}

func TestEngine_DoAfterStop(t *testing.T) {
	e := New(setupTestStore(t))
	e.Stop()

	err := e.Do(context.Background(), "late", func(context.Context) error { return nil })
	assert.True(t, IsStopped(err))
	assert.Equal(t, PhaseStopped, e.Lifecycle().Phase())
	assert.True(t, IsStopped(e.Run(context.Background())))
}

func TestEngine_StopFailsQueuedJobs(t *testing.T) {
	e := New(setupTestStore(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Do(context.Background(), "queued", func(context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return e.queue.Len() == 1 }, time.Second, time.Millisecond)

	e.Stop()
	assert.True(t, IsStopped(<-errCh))
}

func TestEngine_RunReturnsOnCancel(t *testing.T) {
	e := New(setupTestStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()
	<-e.Lifecycle().Ready()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, PhaseStopped, e.Lifecycle().Phase())
}

func TestEngine_JobErrorsDoNotStopTheLoop(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	boom := errors.New("boom")

	assert.ErrorIs(t, e.Do(ctx, "fails", func(context.Context) error { return boom }), boom)
	assert.NoError(t, e.Do(ctx, "after", func(context.Context) error { return nil }))
}

func TestEngine_CompleteHabitTracksStreak(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createItem(t, e, model.Item{ID: "h", Kind: model.KindHabit, Title: "Stretch", Rule: daily(t)})

	for _, d := range []int{0, 1, 3} {
		require.NoError(t, e.CompleteHabit(ctx, "h", jan1.AddDate(0, 0, d)))
	}

	item, err := e.Item(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, 1, item.Streak.Current, "Jan 3 was missed")
	assert.Equal(t, 2, item.Streak.Longest)
	assert.Equal(t, "2024-01-04", item.Streak.LastCompleted.String())

	// A second completion the same day changes nothing.
	require.NoError(t, e.CompleteHabit(ctx, "h", jan1.AddDate(0, 0, 3).Add(time.Hour)))
	again, err := e.Item(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, item.Streak, again.Streak)
}

func TestEngine_SkipClosesTheDay(t *testing.T) {
	grace := streak.NewGracePolicy(map[string]int{"sick": 1})
	e, clock := newTestEngine(t, WithGrace(grace))
	ctx := context.Background()
	createItem(t, e, model.Item{ID: "h", Kind: model.KindHabit, Title: "Run", Rule: daily(t)})

	require.NoError(t, e.CompleteHabit(ctx, "h", jan1))
	require.NoError(t, e.SkipHabit(ctx, "h", jan1.AddDate(0, 0, 1), "sick"))
	require.NoError(t, e.CompleteHabit(ctx, "h", jan1.AddDate(0, 0, 1)))

	item, err := e.Item(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", item.Streak.LastCompleted.String(), "skipped day refuses completion")

	// Jan 2 and Jan 3 are covered by the sick skip.
	clock.Set(jan1.AddDate(0, 0, 3))
	report, err := e.Streak(ctx, "h", true)
	require.NoError(t, err)
	assert.True(t, report.Intact)
	assert.Equal(t, 1, report.Effective)

	clock.Set(jan1.AddDate(0, 0, 4))
	report, err = e.Streak(ctx, "h", false)
	require.NoError(t, err)
	assert.False(t, report.Intact, "Jan 4 missed without excuse")
	assert.Zero(t, report.Effective)
	assert.Equal(t, 1, report.State.Current, "cached value untouched")
}

func TestEngine_WrongKindAndMissing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createItem(t, e, model.Item{ID: "task", Kind: model.KindTask, Title: "t"})

	err := e.CompleteHabit(ctx, "task", jan1)
	assert.True(t, IsWrongKind(err))

	err = e.SkipHabit(ctx, "missing", jan1, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEngine_SnoozeAndDelivery(t *testing.T) {
	e, _ := newTestEngine(t, WithSnooze(15*time.Minute))
	ctx := context.Background()
	createItem(t, e, model.Item{ID: "task", Kind: model.KindTask, Title: "t"})
	createItem(t, e, model.Item{ID: "habit", Kind: model.KindHabit, Title: "h"})

	require.NoError(t, e.SnoozeTask(ctx, "task", jan1))
	require.NoError(t, e.SnoozeHabit(ctx, "habit", jan1))

	task, err := e.Item(ctx, "task")
	require.NoError(t, err)
	require.NotNil(t, task.SnoozedUntil)
	assert.Equal(t, jan1.Add(15*time.Minute), *task.SnoozedUntil)
	assert.False(t, task.NotificationFired, "snooze does not mark delivery")

	require.NoError(t, e.MarkDelivered(ctx, "task"))
	require.NoError(t, e.MarkDelivered(ctx, "habit"))

	task, err = e.Item(ctx, "task")
	require.NoError(t, err)
	assert.True(t, task.NotificationFired)
	assert.Nil(t, task.SnoozedUntil, "delivery clears a task snooze")

	habit, err := e.Item(ctx, "habit")
	require.NoError(t, err)
	assert.True(t, habit.NotificationFired)
	assert.NotNil(t, habit.SnoozedUntil)
}

func TestEngine_RecurringTaskChain(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	due := calendar.MustParseDay("2024-01-01")
	createItem(t, e, model.Item{
		ID:      "water",
		Kind:    model.KindTask,
		Title:   "Water plants",
		Rule:    daily(t, recurrence.WithMaxOccurrences(3)),
		DueDate: &due,
	})

	id := "water"
	for occurrence := 1; occurrence <= 3; occurrence++ {
		require.NoError(t, e.CompleteTask(ctx, id, clock.Now()))

		pending, err := e.Pending(ctx)
		require.NoError(t, err)
		if occurrence == 3 {
			assert.Empty(t, pending, "chain ends at max occurrences")
			break
		}
		require.Len(t, pending, 1)
		assert.Equal(t, occurrence+1, pending[0].OccurrenceIndex)

		created, err := e.Sweep(ctx)
		require.NoError(t, err)
		assert.Empty(t, created, "not due yet")

		clock.Advance(24 * time.Hour)
		created, err = e.Sweep(ctx)
		require.NoError(t, err)
		require.Len(t, created, 1)
		id = created[0]

		item, err := e.Item(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, occurrence+1, item.OccurrenceIndex)
		assert.Equal(t, due.AddDays(occurrence), *item.DueDate)
		assert.False(t, item.Completed())
	}

	open, err := e.Items(ctx, store.ItemFilter{Kind: model.KindTask, OpenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestEngine_CompleteTaskTwiceSchedulesOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createItem(t, e, model.Item{ID: "t", Kind: model.KindTask, Title: "t", Rule: daily(t)})

	require.NoError(t, e.CompleteTask(ctx, "t", jan1))
	require.NoError(t, e.UncompleteTask(ctx, "t"))
	require.NoError(t, e.CompleteTask(ctx, "t", jan1))

	pending, err := e.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEngine_RecompleteAfterSweepCreatesNoDuplicate(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	due := calendar.MustParseDay("2024-01-01")
	createItem(t, e, model.Item{
		ID:      "water",
		Kind:    model.KindTask,
		Title:   "Water plants",
		Rule:    daily(t, recurrence.WithMaxOccurrences(3)),
		DueDate: &due,
	})

	require.NoError(t, e.CompleteTask(ctx, "water", clock.Now()))
	clock.Advance(48 * time.Hour)
	created, err := e.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)

	require.NoError(t, e.UncompleteTask(ctx, "water"))
	require.NoError(t, e.CompleteTask(ctx, "water", clock.Now()))

	pending, err := e.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "occurrence 2 already materialized")

	created, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)

	tasks, err := e.Items(ctx, store.ItemFilter{Kind: model.KindTask})
	require.NoError(t, err)
	second := 0
	for _, it := range tasks {
		if it.OccurrenceIndex == 2 {
			second++
		}
	}
	assert.Equal(t, 1, second)
}

func TestEngine_CascadingCompletion(t *testing.T) {
	e, _ := newTestEngine(t, WithCascade(cascade.New(true)))
	ctx := context.Background()
	createItem(t, e, model.Item{ID: "parent", Kind: model.KindTask, Title: "p"})
	createItem(t, e, model.Item{ID: "a", Kind: model.KindTask, Title: "a", ParentID: "parent"})
	createItem(t, e, model.Item{ID: "b", Kind: model.KindTask, Title: "b", ParentID: "parent"})

	require.NoError(t, e.CompleteTask(ctx, "a", jan1))
	parent, err := e.Item(ctx, "parent")
	require.NoError(t, err)
	assert.False(t, parent.Completed())

	require.NoError(t, e.CompleteTask(ctx, "b", jan1))
	parent, err = e.Item(ctx, "parent")
	require.NoError(t, err)
	assert.True(t, parent.Completed(), "last open child completes the parent")

	require.NoError(t, e.UncompleteTask(ctx, "a"))
	parent, err = e.Item(ctx, "parent")
	require.NoError(t, err)
	assert.False(t, parent.Completed())
}

func TestEngine_DeleteItem(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createItem(t, e, model.Item{ID: "p", Kind: model.KindTask, Title: "p"})
	createItem(t, e, model.Item{ID: "c", Kind: model.KindTask, Title: "c", ParentID: "p"})

	deleted, err := e.DeleteItem(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "p"}, deleted)

	_, err = e.Item(ctx, "c")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEngine_ColdStartReplay(t *testing.T) {
	clock := testutil.NewFakeClock(jan1)
	e := New(setupTestStore(t), WithClock(clock), WithIDGenerator(testutil.NewSequenceGenerator("id")))
	q := actionqueue.New(clock)
	ctx := context.Background()

	// Actions arrive before the engine is up.
	require.NoError(t, q.EnqueueOrApply(ctx, actionqueue.Action{Kind: actionqueue.KindCompleteHabit, EntityID: "h"}))
	require.NoError(t, q.EnqueueOrApply(ctx, actionqueue.Action{Kind: actionqueue.KindCompleteTask, EntityID: "gone"}))
	require.NoError(t, q.MarkDelivered(ctx, "h"))

	startEngine(t, e)
	createItem(t, e, model.Item{ID: "h", Kind: model.KindHabit, Title: "h"})

	require.NoError(t, q.OnServicesReady(ctx, e), "missing item is dropped, not failed")
	assert.Equal(t, actionqueue.Ready, q.State())

	habit, err := e.Item(ctx, "h")
	require.NoError(t, err)
	assert.True(t, habit.NotificationFired)
	assert.Equal(t, 1, habit.Streak.Current)
}

type retryTally struct {
	nopObserver
	retried []string
}

func (r *retryTally) SaveRetried(op string) { r.retried = append(r.retried, op) }

func TestRetry_RetryableErrors(t *testing.T) {
	ctx := context.Background()
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	defer func(d time.Duration) { saveRetryBackoff = d }(saveRetryBackoff)
	saveRetryBackoff = time.Millisecond

	t.Run("succeeds after transient failures", func(t *testing.T) {
		obs := &retryTally{}
		calls := 0
		v, err := retry(ctx, "save", obs, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, busy
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, []string{"save", "save"}, obs.retried)
	})

	t.Run("gives up after MaxSaveRetries", func(t *testing.T) {
		calls := 0
		err := retryErr(ctx, "save", nopObserver{}, func() error {
			calls++
			return busy
		})
		assert.True(t, IsRetriesExhausted(err))
		assert.Equal(t, MaxSaveRetries+1, calls)
	})

	t.Run("waits between retries", func(t *testing.T) {
		var stamps []time.Time
		_ = retryErr(ctx, "save", nopObserver{}, func() error {
			stamps = append(stamps, time.Now())
			return busy
		})
		require.Len(t, stamps, MaxSaveRetries+1)
		for i := 1; i < len(stamps); i++ {
			want := saveRetryBackoff << (i - 1)
			assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), want, "retry %d", i)
		}
	})

	t.Run("cancellation ends the backoff", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := retryErr(cctx, "save", nopObserver{}, func() error {
			calls++
			cancel()
			return busy
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		err := retryErr(ctx, "save", nopObserver{}, func() error {
			calls++
			return model.ErrNotFound
		})
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.Equal(t, 1, calls)
	})
}
