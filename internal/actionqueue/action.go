package actionqueue

import (
	"context"
	"fmt"
	"time"
)

// Kind tags a notification action. The string values are the wire form.
type Kind string

const (
	KindCompleteHabit Kind = "complete_habit"
	KindSkipHabit     Kind = "skip_habit"
	KindSnoozeHabit   Kind = "snooze_habit"
	KindCompleteTask  Kind = "complete_task"
	KindSnoozeTask    Kind = "snooze_task"
)

// kindDelivered labels delivery marks in logs and metrics.
const kindDelivered = "delivered"

// Valid reports whether k is a known action kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCompleteHabit, KindSkipHabit, KindSnoozeHabit, KindCompleteTask, KindSnoozeTask:
		return true
	}
	return false
}

// ParseKind validates s as an action kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// Action is an externally triggered operation on one item.
//
// ReceivedAt is stamped when the action arrives, not when it is applied, so
// a snooze buffered during cold start still counts from the user's tap.
type Action struct {
	Kind       Kind
	EntityID   string
	Reason     string
	ReceivedAt time.Time
}

// Services applies actions to the item store. Implementations must be safe
// to call from any goroutine; the engine hops every call onto its loop.
//
// An id that no longer resolves is reported with model.ErrNotFound.
type Services interface {
	CompleteHabit(ctx context.Context, id string, at time.Time) error
	SkipHabit(ctx context.Context, id string, at time.Time, reason string) error
	SnoozeHabit(ctx context.Context, id string, at time.Time) error
	CompleteTask(ctx context.Context, id string, at time.Time) error
	SnoozeTask(ctx context.Context, id string, at time.Time) error
	MarkDelivered(ctx context.Context, id string) error
}

// Apply dispatches a to svc.
func Apply(ctx context.Context, svc Services, a Action) error {
	switch a.Kind {
	case KindCompleteHabit:
		return svc.CompleteHabit(ctx, a.EntityID, a.ReceivedAt)
	case KindSkipHabit:
		return svc.SkipHabit(ctx, a.EntityID, a.ReceivedAt, a.Reason)
	case KindSnoozeHabit:
		return svc.SnoozeHabit(ctx, a.EntityID, a.ReceivedAt)
	case KindCompleteTask:
		return svc.CompleteTask(ctx, a.EntityID, a.ReceivedAt)
	case KindSnoozeTask:
		return svc.SnoozeTask(ctx, a.EntityID, a.ReceivedAt)
	default:
		return fmt.Errorf("apply action: unknown kind %q", a.Kind)
	}
}
