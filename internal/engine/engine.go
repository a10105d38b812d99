package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/cascade"
	"github.com/roach88/recur/internal/materialize"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/store"
	"github.com/roach88/recur/internal/streak"
)

// DefaultSnooze is how far a snooze pushes a reminder out.
const DefaultSnooze = 10 * time.Minute

// Observer is notified of job and retry outcomes. The metrics package
// provides the production implementation.
type Observer interface {
	JobDone(name string, elapsed time.Duration, err error)
	SaveRetried(op string)
}

type nopObserver struct{}

func (nopObserver) JobDone(string, time.Duration, error) {}
func (nopObserver) SaveRetried(string)                   {}

// Engine is the single-writer execution context.
//
// Every mutation runs as a job on the Run loop goroutine, so the tracker,
// the materializer and the cascade strategy never race each other on the
// store. External callers use Do (or the Services methods built on it) to
// hop onto the loop.
//
// Thread-safety model:
//   - Do() and the Services methods: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - jobs must not call Do themselves
type Engine struct {
	store    retryingStore
	cal      calendar.Calendar
	clock    Clock
	ids      IDGenerator
	grace    streak.GracePolicy
	snooze   time.Duration
	strategy cascade.Strategy
	observer Observer
	matObs   materialize.Observer

	tracker      *streak.Tracker
	materializer *materialize.Materializer

	queue     *jobQueue
	lifecycle *Lifecycle
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the clock. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithCalendar sets the reference zone for day boundaries. Default: UTC.
func WithCalendar(c calendar.Calendar) EngineOption {
	return func(e *Engine) { e.cal = c }
}

// WithGrace sets the skip grace policy. Default: no grace.
func WithGrace(g streak.GracePolicy) EngineOption {
	return func(e *Engine) { e.grace = g }
}

// WithSnooze sets the snooze duration. Non-positive values are ignored.
func WithSnooze(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.snooze = d
		}
	}
}

// WithCascade sets the completion cascade strategy. Default: Independent.
func WithCascade(s cascade.Strategy) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.strategy = s
		}
	}
}

// WithObserver sets the job and retry observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithMaterializeObserver sets the observer handed to the materializer.
func WithMaterializeObserver(o materialize.Observer) EngineOption {
	return func(e *Engine) { e.matObs = o }
}

// New creates an Engine over s. The engine does not own s; the caller
// closes it after Run returns.
func New(s *store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		cal:       calendar.New(time.UTC),
		clock:     SystemClock{},
		ids:       UUIDv7Generator{},
		snooze:    DefaultSnooze,
		strategy:  cascade.Independent{},
		observer:  nopObserver{},
		queue:     newJobQueue(),
		lifecycle: newLifecycle(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.store = retryingStore{Store: s, obs: e.observer}
	e.tracker = streak.NewTracker(e.store, e.cal, e.grace, e.ids)
	e.materializer = materialize.New(e.store, e.cal, e.clock, e.ids,
		materialize.WithObserver(e.matObs))
	return e
}

// Lifecycle exposes the engine phase.
func (e *Engine) Lifecycle() *Lifecycle { return e.lifecycle }

// Calendar returns the engine's reference calendar.
func (e *Engine) Calendar() calendar.Calendar { return e.cal }

// Clock returns the engine clock.
func (e *Engine) Clock() Clock { return e.clock }

// Run starts the single-writer loop.
// Blocks until ctx is cancelled or Stop() is called.
//
// A failed job is logged and reported to its caller; the loop continues.
// Jobs still queued when the loop exits fail with a stopped error.
func (e *Engine) Run(ctx context.Context) error {
	if !e.lifecycle.advance(PhaseReady) {
		if e.lifecycle.Phase() == PhaseStopped {
			return newStoppedError("run")
		}
		return &RuntimeError{Code: ErrCodeAlreadyStarted, Message: "engine already started", Op: "run"}
	}
	slog.Info("engine starting", "strategy", e.strategy.Name(), "zone", e.cal.Location().String())
	defer e.Stop()

	for {
		j, ok := e.queue.TryDequeue()
		if ok {
			e.execute(ctx, j)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Stop, which makes this case
			// fire immediately.
			if e.lifecycle.Phase() == PhaseStopped && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop shuts the engine down. Queued jobs fail with a stopped error and
// Run returns after the job in flight, if any.
func (e *Engine) Stop() {
	e.lifecycle.advance(PhaseStopped)
	e.failAll(e.queue.Close())
}

func (e *Engine) failAll(jobs []job) {
	for _, j := range jobs {
		j.done <- newStoppedError(j.name)
	}
}

func (e *Engine) execute(ctx context.Context, j job) {
	start := time.Now()
	err := j.fn(ctx)
	e.observer.JobDone(j.name, time.Since(start), err)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
		slog.Debug("job target missing", "job", j.name, "error", err)
	default:
		slog.Error("job failed", "job", j.name, "error", err)
	}
	j.done <- err
}

// Do runs fn on the engine loop and waits for its result.
//
// Jobs submitted before Run starts are queued and run once the loop is up.
// If ctx ends first Do returns ctx.Err(); the job still runs.
func (e *Engine) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	j := job{name: name, fn: fn, done: make(chan error, 1)}
	if !e.queue.Enqueue(j) {
		return newStoppedError(name)
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
