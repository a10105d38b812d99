// Package actionqueue buffers notification actions that arrive before the
// services able to apply them exist, then replays them exactly once.
//
// A Queue starts NotReady. Actions and delivery marks received in that
// state are appended to two FIFO buffers. OnServicesReady drains the
// delivery buffer first and the action buffer second, then flips the queue
// to Ready for the rest of the process lifetime. In Ready, every inbound
// action is applied immediately on the caller's goroutine.
package actionqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/recur/internal/model"
)

// State is the queue's readiness.
type State int

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "not_ready"
}

// ErrAlreadyReady is returned by a second OnServicesReady call.
var ErrAlreadyReady = errors.New("action queue already ready")

// Clock stamps arrival times.
type Clock interface {
	Now() time.Time
}

// Outcome classifies what happened to an inbound entry.
type Outcome string

const (
	OutcomeBuffered Outcome = "buffered"
	OutcomeApplied  Outcome = "applied"
	OutcomeDropped  Outcome = "dropped"
	OutcomeFailed   Outcome = "failed"
)

// Observer is told the outcome of every inbound entry. kind is the action
// kind or "delivered" for delivery marks.
type Observer interface {
	Observe(kind string, outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) Observe(string, Outcome) {}

// Queue is the cold-start buffer.
//
// Thread-safety: all methods are safe for concurrent use. The buffers are
// guarded by mu; services are called without holding it.
type Queue struct {
	mu         sync.Mutex
	state      State
	draining   bool
	actions    []Action
	deliveries []string
	services   Services

	clock    Clock
	observer Observer
}

// Option configures a Queue.
type Option func(*Queue)

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) {
		if o != nil {
			q.observer = o
		}
	}
}

// New creates a NotReady queue.
func New(clock Clock, opts ...Option) *Queue {
	q := &Queue{
		state:    NotReady,
		clock:    clock,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// State returns the current state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Pending returns the number of buffered delivery marks and actions.
func (q *Queue) Pending() (deliveries, actions int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deliveries), len(q.actions)
}

// EnqueueOrApply buffers a while NotReady and applies it immediately once
// Ready. A zero ReceivedAt is stamped from the clock.
//
// A not-found id is dropped silently. Any other service error is returned.
func (q *Queue) EnqueueOrApply(ctx context.Context, a Action) error {
	if !a.Kind.Valid() {
		return fmt.Errorf("enqueue action: unknown kind %q", a.Kind)
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = q.clock.Now()
	}

	q.mu.Lock()
	if q.state != Ready {
		q.actions = append(q.actions, a)
		q.mu.Unlock()
		q.observer.Observe(string(a.Kind), OutcomeBuffered)
		slog.Debug("action buffered", "kind", a.Kind, "id", a.EntityID)
		return nil
	}
	svc := q.services
	q.mu.Unlock()

	return q.applyAction(ctx, svc, a)
}

// MarkDelivered buffers a delivery mark while NotReady and applies it
// immediately once Ready.
func (q *Queue) MarkDelivered(ctx context.Context, id string) error {
	q.mu.Lock()
	if q.state != Ready {
		q.deliveries = append(q.deliveries, id)
		q.mu.Unlock()
		q.observer.Observe(kindDelivered, OutcomeBuffered)
		slog.Debug("delivery mark buffered", "id", id)
		return nil
	}
	svc := q.services
	q.mu.Unlock()

	return q.applyDelivery(ctx, svc, id)
}

// OnServicesReady injects svc, replays everything buffered and moves the
// queue to Ready. It may be called once.
//
// Each drain round swaps both buffers out under the lock before applying
// them, deliveries first. Entries that arrive while a round is running land
// in fresh buffers and are picked up by the next round, so arrival order is
// kept. The queue flips to Ready only when a round finds both buffers empty.
//
// Failures of individual entries are joined and returned after the drain;
// they never stop it.
func (q *Queue) OnServicesReady(ctx context.Context, svc Services) error {
	q.mu.Lock()
	if q.state == Ready || q.draining {
		q.mu.Unlock()
		return ErrAlreadyReady
	}
	q.draining = true
	q.services = svc
	q.mu.Unlock()

	var (
		errs     []error
		replayed int
	)
	for {
		q.mu.Lock()
		deliveries, actions := q.deliveries, q.actions
		q.deliveries, q.actions = nil, nil
		if len(deliveries) == 0 && len(actions) == 0 {
			q.state = Ready
			q.draining = false
			q.mu.Unlock()
			break
		}
		q.mu.Unlock()

		for _, id := range deliveries {
			if err := q.applyDelivery(ctx, svc, id); err != nil {
				errs = append(errs, err)
			}
		}
		for _, a := range actions {
			if err := q.applyAction(ctx, svc, a); err != nil {
				errs = append(errs, err)
			}
		}
		replayed += len(deliveries) + len(actions)
	}

	slog.Info("action queue ready", "replayed", replayed, "failed", len(errs))
	return errors.Join(errs...)
}

func (q *Queue) applyAction(ctx context.Context, svc Services, a Action) error {
	err := Apply(ctx, svc, a)
	return q.settle(string(a.Kind), a.EntityID, err)
}

func (q *Queue) applyDelivery(ctx context.Context, svc Services, id string) error {
	err := svc.MarkDelivered(ctx, id)
	return q.settle(kindDelivered, id, err)
}

func (q *Queue) settle(kind, id string, err error) error {
	switch {
	case err == nil:
		q.observer.Observe(kind, OutcomeApplied)
		return nil
	case errors.Is(err, model.ErrNotFound):
		q.observer.Observe(kind, OutcomeDropped)
		slog.Debug("action dropped: item not found", "kind", kind, "id", id)
		return nil
	default:
		q.observer.Observe(kind, OutcomeFailed)
		slog.Error("action failed", "kind", kind, "id", id, "error", err)
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
}
