package engine

import "sync"

// Phase is a stage of the engine lifecycle. Phases only move forward.
type Phase int

const (
	// PhaseConstructed: New returned, Run not yet called. Jobs queue up.
	PhaseConstructed Phase = iota
	// PhaseReady: the loop is running and draining jobs.
	PhaseReady
	// PhaseStopped: the loop exited. New jobs are rejected.
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseConstructed:
		return "constructed"
	case PhaseReady:
		return "ready"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle tracks the engine phase and lets other components wait for the
// loop to come up.
type Lifecycle struct {
	mu    sync.Mutex
	phase Phase
	ready chan struct{}
}

func newLifecycle() *Lifecycle {
	return &Lifecycle{ready: make(chan struct{})}
}

// Phase returns the current phase.
func (l *Lifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Ready returns a channel closed once the loop is running.
func (l *Lifecycle) Ready() <-chan struct{} {
	return l.ready
}

// advance moves to next if it is the immediate successor of the current
// phase. Stopping is always allowed.
func (l *Lifecycle) advance(next Phase) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case next == PhaseReady && l.phase == PhaseConstructed:
		close(l.ready)
	case next == PhaseStopped && l.phase != PhaseStopped:
	default:
		return false
	}
	l.phase = next
	return true
}
