package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/recur/internal/actionqueue"
	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/cascade"
	"github.com/roach88/recur/internal/catalog"
	"github.com/roach88/recur/internal/engine"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/store"
	"github.com/roach88/recur/internal/streak"
	"github.com/roach88/recur/internal/testutil"
)

// Harness holds the pieces of one scenario run.
type Harness struct {
	engine   *engine.Engine
	queue    *actionqueue.Queue
	clock    *testutil.FakeClock
	outcomes *outcomeLog
}

// Run executes scenario on a fresh in-memory store and evaluates its
// assertions.
//
// The returned error covers failures to set the run up (bad start time,
// catalog errors, store errors). Failed expectations and assertions are
// reported in Result.Errors with Pass set to false.
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start, err := scenario.StartTime()
	if err != nil {
		return nil, err
	}
	cal, err := calendar.Load(scenario.Timezone)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewFakeClock(start)
	opts := []engine.EngineOption{
		engine.WithClock(clock),
		engine.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		engine.WithCalendar(cal),
		engine.WithGrace(streak.NewGracePolicy(scenario.GraceReasons)),
		engine.WithCascade(cascade.New(scenario.CascadeCompletion)),
	}
	if scenario.SnoozeMinutes > 0 {
		opts = append(opts, engine.WithSnooze(time.Duration(scenario.SnoozeMinutes)*time.Minute))
	}
	eng := engine.New(st, opts...)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	select {
	case <-eng.Lifecycle().Ready():
	case err := <-done:
		return nil, fmt.Errorf("engine exited before ready: %w", err)
	}
	defer func() {
		eng.Stop()
		<-done
	}()

	c, err := catalog.LoadString(scenario.Name+".cue", scenario.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if _, err := c.Apply(ctx, eng); err != nil {
		return nil, err
	}

	outcomes := &outcomeLog{}
	h := &Harness{
		engine:   eng,
		queue:    actionqueue.New(clock, actionqueue.WithObserver(outcomes)),
		clock:    clock,
		outcomes: outcomes,
	}
	if !scenario.ColdStart {
		if err := h.queue.OnServicesReady(ctx, eng); err != nil {
			return nil, err
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		result.AddTrace(ev)
		if step.Expect != nil && !matchArgs(ev.Result, step.Expect) {
			result.AddError(fmt.Sprintf("step %d (%s %s): expected result %v, got %v",
				i+1, step.Op, step.ID, step.Expect, ev.Result))
		}
	}

	if result.State, err = h.snapshotState(ctx); err != nil {
		return nil, err
	}

	for i, a := range scenario.Assertions {
		if err := evaluateAssertion(result, a); err != nil {
			result.AddError(fmt.Sprintf("assertion %d: %v", i+1, err))
		}
	}
	return result, nil
}

// execute runs one step and returns its trace event. Engine errors are
// recorded on the event; only harness failures are returned.
//
// Result fields by op:
//   - action kinds and deliver: outcome
//   - delete: deleted
//   - streak: current, longest, intact, effective
//   - sweep: created
//   - advance: now
//   - ready: replayed, as "kind:outcome" entries
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Op: step.Op, ID: step.ID, At: formatTime(h.clock.Now())}

	var err error
	switch step.Op {
	case OpDeliver:
		h.outcomes.take()
		err = h.queue.MarkDelivered(ctx, step.ID)
		ev.Result = map[string]any{"outcome": h.outcomes.last()}

	case OpUncomplete:
		err = h.engine.UncompleteTask(ctx, step.ID)

	case OpDelete:
		var deleted []string
		deleted, err = h.engine.DeleteItem(ctx, step.ID)
		ev.Result = map[string]any{"deleted": stringList(deleted)}

	case OpStreak:
		var report engine.StreakReport
		report, err = h.engine.Streak(ctx, step.ID, true)
		if err == nil {
			ev.Result = map[string]any{
				"current":   report.State.Current,
				"longest":   report.State.Longest,
				"intact":    report.Intact,
				"effective": report.Effective,
			}
		}

	case OpSweep:
		var created []string
		created, err = h.engine.Sweep(ctx)
		ev.Result = map[string]any{"created": stringList(created)}

	case OpAdvance:
		d, perr := time.ParseDuration(step.By)
		if perr != nil {
			return ev, perr
		}
		ev.Result = map[string]any{"now": formatTime(h.clock.Advance(d))}

	case OpReady:
		h.outcomes.take()
		err = h.queue.OnServicesReady(ctx, h.engine)
		ev.Result = map[string]any{"replayed": stringList(h.outcomes.take())}

	default:
		kind, perr := actionqueue.ParseKind(step.Op)
		if perr != nil {
			return ev, perr
		}
		h.outcomes.take()
		err = h.queue.EnqueueOrApply(ctx, actionqueue.Action{
			Kind:     kind,
			EntityID: step.ID,
			Reason:   step.Reason,
		})
		ev.Result = map[string]any{"outcome": h.outcomes.last()}
	}

	if err != nil {
		ev.Error = errorCode(err)
	}
	return ev, nil
}

func (h *Harness) snapshotState(ctx context.Context) (map[string][]map[string]any, error) {
	items, err := h.engine.Items(ctx, store.ItemFilter{})
	if err != nil {
		return nil, fmt.Errorf("read final items: %w", err)
	}
	pending, err := h.engine.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read final pending: %w", err)
	}

	state := map[string][]map[string]any{
		TableItems:   make([]map[string]any, 0, len(items)),
		TablePending: make([]map[string]any, 0, len(pending)),
	}
	for _, item := range items {
		state[TableItems] = append(state[TableItems], itemRow(item))
	}
	for _, p := range pending {
		state[TablePending] = append(state[TablePending], pendingRow(p))
	}
	return state, nil
}

func itemRow(item model.Item) map[string]any {
	row := map[string]any{
		"id":             item.ID,
		"kind":           string(item.Kind),
		"title":          item.Title,
		"completed":      item.Completed(),
		"occurrence":     item.OccurrenceIndex,
		"notified":       item.NotificationFired,
		"streak_current": item.Streak.Current,
		"streak_longest": item.Streak.Longest,
	}
	if item.ParentID != "" {
		row["parent"] = item.ParentID
	}
	if item.DueDate != nil {
		row["due"] = item.DueDate.String()
	}
	if item.SnoozedUntil != nil {
		row["snoozed_until"] = formatTime(*item.SnoozedUntil)
	}
	return row
}

func pendingRow(p model.PendingRecurrence) map[string]any {
	row := map[string]any{
		"id":         p.ID,
		"scheduled":  p.ScheduledDate.String(),
		"occurrence": p.OccurrenceIndex,
		"title":      p.Snapshot.Title,
	}
	if p.SourceItemID != "" {
		row["source"] = p.SourceItemID
	}
	return row
}

func errorCode(err error) string {
	var re *engine.RuntimeError
	switch {
	case errors.As(err, &re):
		return string(re.Code)
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return err.Error()
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// outcomeLog records action queue outcomes as "kind:outcome".
type outcomeLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *outcomeLog) Observe(kind string, outcome actionqueue.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, kind+":"+string(outcome))
}

// take returns and clears the recorded entries.
func (l *outcomeLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.entries
	l.entries = nil
	return out
}

// last returns the outcome of the most recent entry.
func (l *outcomeLog) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return ""
	}
	e := l.entries[len(l.entries)-1]
	for i := len(e) - 1; i >= 0; i-- {
		if e[i] == ':' {
			return e[i+1:]
		}
	}
	return e
}
