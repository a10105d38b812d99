package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/store"
)

// MaxSaveRetries is the number of times a save that failed with a retryable
// store error is tried again before it is dropped.
const MaxSaveRetries = 5

// saveRetryBackoff is the delay before the first retry. It doubles on each
// further retry.
var saveRetryBackoff = 10 * time.Millisecond

// retry runs fn until it succeeds, fails with a non-retryable error, or
// has been retried MaxSaveRetries times.
func retry[T any](ctx context.Context, op string, obs Observer, fn func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	delay := saveRetryBackoff
	for attempt := 0; ; attempt++ {
		v, err = fn()
		if err == nil || !store.IsRetryable(err) {
			return v, err
		}
		if attempt == MaxSaveRetries {
			break
		}
		slog.Warn("retrying save", "op", op, "retry", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		obs.SaveRetried(op)
	}
	slog.Error("dropping save", "op", op, "retries", MaxSaveRetries, "error", err)
	return v, newRetriesExhaustedError(op, MaxSaveRetries+1, err)
}

func retryErr(ctx context.Context, op string, obs Observer, fn func() error) error {
	_, err := retry(ctx, op, obs, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// retryingStore wraps every write of the store in retry. Reads pass through
// the embedded store.
type retryingStore struct {
	*store.Store
	obs Observer
}

func (s retryingStore) CreateItem(ctx context.Context, item model.Item) (bool, error) {
	return retry(ctx, "create item", s.obs, func() (bool, error) { return s.Store.CreateItem(ctx, item) })
}

func (s retryingStore) WriteCompletion(ctx context.Context, e model.CompletionEntry) (bool, error) {
	return retry(ctx, "write completion", s.obs, func() (bool, error) { return s.Store.WriteCompletion(ctx, e) })
}

func (s retryingStore) WriteSkip(ctx context.Context, e model.SkipEntry) (bool, error) {
	return retry(ctx, "write skip", s.obs, func() (bool, error) { return s.Store.WriteSkip(ctx, e) })
}

func (s retryingStore) UpdateStreak(ctx context.Context, id string, st model.StreakState) error {
	return retryErr(ctx, "update streak", s.obs, func() error { return s.Store.UpdateStreak(ctx, id, st) })
}

func (s retryingStore) SetCompleted(ctx context.Context, id string, at *time.Time) error {
	return retryErr(ctx, "set completed", s.obs, func() error { return s.Store.SetCompleted(ctx, id, at) })
}

func (s retryingStore) SetSnoozedUntil(ctx context.Context, id string, until *time.Time) error {
	return retryErr(ctx, "set snoozed", s.obs, func() error { return s.Store.SetSnoozedUntil(ctx, id, until) })
}

func (s retryingStore) MarkDelivered(ctx context.Context, id string, clearSnooze bool) error {
	return retryErr(ctx, "mark delivered", s.obs, func() error { return s.Store.MarkDelivered(ctx, id, clearSnooze) })
}

func (s retryingStore) InsertPending(ctx context.Context, p model.PendingRecurrence) (model.PendingRecurrence, bool, error) {
	type result struct {
		p  model.PendingRecurrence
		ok bool
	}
	r, err := retry(ctx, "insert pending", s.obs, func() (result, error) {
		stored, ok, err := s.Store.InsertPending(ctx, p)
		return result{stored, ok}, err
	})
	return r.p, r.ok, err
}

func (s retryingStore) MaterializePending(ctx context.Context, pendingID string, item model.Item) (bool, error) {
	return retry(ctx, "materialize pending", s.obs, func() (bool, error) { return s.Store.MaterializePending(ctx, pendingID, item) })
}

func (s retryingStore) DeleteItem(ctx context.Context, id string) ([]string, error) {
	return retry(ctx, "delete item", s.obs, func() ([]string, error) { return s.Store.DeleteItem(ctx, id) })
}
