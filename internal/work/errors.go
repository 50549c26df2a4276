package work

import (
	"errors"
	"time"
)

var (
	// ErrGateClosed is returned by Run once CancelAll has been called.
	ErrGateClosed = errors.New("fiber gate is closed")
	// ErrNilChain is returned when a chain without steps is submitted.
	ErrNilChain = errors.New("chain has no steps")
	// ErrSuperseded is the cancellation cause of a fiber replaced by a newer run for its key.
	ErrSuperseded = errors.New("superseded by a newer run")
	// ErrFiberTimeout is the cancellation cause of an attempt stopped by the watchdog.
	ErrFiberTimeout = errors.New("fiber attempt timed out")
	// ErrRetriesExhausted wraps the last failure once the retry strategy gives up.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrStepPanicked wraps a panic recovered from a step.
	ErrStepPanicked = errors.New("step panicked")
	// ErrEngineDefect marks a violated engine invariant.
	ErrEngineDefect = errors.New("engine invariant violated")
	// ErrSchedulerStopped is the cancellation cause of fibers that could not be dispatched.
	ErrSchedulerStopped = errors.New("scheduler stopped")
	// ErrShutdownTimeout is returned by CancelAll when fibers are still running at the deadline.
	ErrShutdownTimeout = errors.New("timed out waiting for fibers to finish")
)

// RetryableError marks a failure that the retry strategy may recover from.
type RetryableError struct {
	Err error
	// After is a lower bound for the delay before the next attempt.
	After time.Duration
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable marks err as a transient failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// RetryableAfter marks err as transient and asks for at least d before the next attempt.
func RetryableAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, After: d}
}

// FatalError marks a failure that must not be retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks err as unrecoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError marker.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsRetryable reports whether err is marked retryable. A fatal marker anywhere in
// the chain wins.
func IsRetryable(err error) bool {
	if IsFatal(err) {
		return false
	}
	var re *RetryableError
	return errors.As(err, &re)
}

// retryHint returns the minimum delay requested by a RetryableError in err.
func retryHint(err error) time.Duration {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.After
	}
	return 0
}
