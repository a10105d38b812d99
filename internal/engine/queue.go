package engine

import (
	"context"
	"sync"
)

// job is a unit of work run on the engine loop. done receives the result
// exactly once.
type job struct {
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// jobQueue is a thread-safe FIFO queue of jobs.
//
// The queue is unbounded so producers (the action queue, the cron
// replenisher, CLI commands) never block on the loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{} // buffered, size 1
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front job without blocking.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = job{}
	q.jobs = q.jobs[1:]
	return j, true
}

// Wait returns the signal channel. It fires after an Enqueue and is closed
// by Close.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Close stops accepting jobs and returns the ones still queued.
// Safe to call more than once.
func (q *jobQueue) Close() []job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)

	left := q.jobs
	q.jobs = nil
	return left
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
