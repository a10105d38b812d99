package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/recur/internal/model"
)

// RuntimeError represents an error detected by the engine itself rather
// than by a component it drives.
//
// Runtime errors include:
//   - Wrong kind: a habit action addressed a task or the other way round
//   - Stopped: a job arrived after the loop exited
//   - Retries exhausted: a save kept failing with a retryable error
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Op names the engine operation that failed.
	Op string

	// ItemID identifies the affected item, when there is one.
	ItemID string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeWrongKind indicates an action addressed an item of the other kind.
	ErrCodeWrongKind RuntimeErrorCode = "WRONG_KIND"

	// ErrCodeStopped indicates the engine loop is no longer running.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"

	// ErrCodeAlreadyStarted indicates Run was called more than once.
	ErrCodeAlreadyStarted RuntimeErrorCode = "ALREADY_STARTED"

	// ErrCodeRetriesExhausted indicates a save failed MaxSaveRetries times.
	ErrCodeRetriesExhausted RuntimeErrorCode = "RETRIES_EXHAUSTED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" && e.ItemID != "" {
		msg = fmt.Sprintf("%s (op=%s, item=%s)", msg, e.Op, e.ItemID)
	} else if e.Op != "" {
		msg = fmt.Sprintf("%s (op=%s)", msg, e.Op)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsWrongKind reports whether err is a wrong-kind error.
func IsWrongKind(err error) bool { return hasCode(err, ErrCodeWrongKind) }

// IsStopped reports whether err was returned because the engine stopped.
func IsStopped(err error) bool { return hasCode(err, ErrCodeStopped) }

// IsRetriesExhausted reports whether err is a retries-exhausted error.
func IsRetriesExhausted(err error) bool { return hasCode(err, ErrCodeRetriesExhausted) }

func newWrongKindError(op, itemID string, got, want model.Kind) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeWrongKind,
		Message: fmt.Sprintf("item is a %s, not a %s", got, want),
		Op:      op,
		ItemID:  itemID,
	}
}

func newStoppedError(op string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStopped,
		Message: "engine is not running",
		Op:      op,
	}
}

func newRetriesExhaustedError(op string, attempts int, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeRetriesExhausted,
		Message: fmt.Sprintf("gave up after %d attempts", attempts),
		Op:      op,
		Err:     err,
	}
}
