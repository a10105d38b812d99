// Package engine is the serialized execution context that drives recur.
//
// The engine owns one goroutine, the Run loop, and every store mutation
// happens on it. Callers submit work with Do; the Services methods
// (complete, skip, snooze, mark delivered) and Sweep are thin wrappers that
// do exactly that, which is what lets the action queue and the cron
// replenisher share one store safely.
//
// ARCHITECTURE:
//
// Single-Writer Job Loop:
// 1. Do() appends a job to an unbounded FIFO queue and waits for its result
// 2. Run() dequeues jobs one at a time and executes them
// 3. Jobs call into the streak tracker, the materializer and the cascade
// strategy, which write through a retrying store wrapper
// 4. The result is handed back to the waiting caller
//
// Lifecycle:
// Constructed -> Ready -> Stopped. Jobs submitted while Constructed wait
// for Run. Jobs submitted after Stop fail with a stopped error.
//
// Retries:
// A save that fails with a busy or locked database is retried up to
// MaxSaveRetries times, then dropped with an error log.
package engine
