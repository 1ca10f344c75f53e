package automation

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(result.Err, automation.ErrPort) {
//	    // input injection or screen capture failed
//	}
var (
	// ErrConstruction is returned by Build and the typed constructors when
	// an action's parameters have the wrong shape. It never reaches the executor.
	ErrConstruction = errors.New("action: invalid parameters")

	// ErrUnknownKind is returned when an action kind is not part of the closed set.
	ErrUnknownKind = errors.New("action: unknown kind")

	// ErrPort is wrapped by input and vision ports for operational failures:
	// invalid coordinates, invalid key names, capture or injection failures.
	ErrPort = errors.New("port: operation failed")

	// ErrTimeoutExceeded is returned when a poll loop exhausts its deadline.
	ErrTimeoutExceeded = errors.New("poll: timeout exceeded")

	// ErrNotFound is returned when a one-shot template search finds no match.
	ErrNotFound = errors.New("vision: template not found")

	// ErrInvalidPoll is returned when a poll loop is given a bad timeout or interval.
	ErrInvalidPoll = errors.New("poll: invalid timing")

	// ErrCancelled is returned when the caller's context ends mid-sequence or mid-poll.
	ErrCancelled = errors.New("execution: cancelled")

	// ErrUnexpected wraps any failure that is not an expected operational
	// outcome. It aborts Execute.
	ErrUnexpected = errors.New("execution: unexpected error")

	// ErrRunNotFound is returned when a run ID does not exist in the run log.
	ErrRunNotFound = errors.New("run: not found")

	// ErrRunExists is returned when a caller-supplied run ID is active,
	// queued, or already in the run log.
	ErrRunExists = errors.New("run: id already in use")

	// ErrWatcherRunning is returned by Watcher.Start when the watcher is already running.
	ErrWatcherRunning = errors.New("watcher: already running")
)

// ErrorClass is the classification carried by a failed ActionResult.
type ErrorClass string

// Error classes. ClassNone marks a successful result.
const (
	ClassNone         ErrorClass = ""
	ClassConstruction ErrorClass = "construction"
	ClassPort         ErrorClass = "port"
	ClassTimeout      ErrorClass = "timeout"
	ClassNotFound     ErrorClass = "not_found"
	ClassCancelled    ErrorClass = "cancelled"
	ClassUnexpected   ErrorClass = "unexpected"
)

// Classify maps an error onto its ErrorClass.
// Anything that does not wrap a known sentinel is ClassUnexpected.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrUnexpected):
		return ClassUnexpected
	case errors.Is(err, ErrConstruction), errors.Is(err, ErrUnknownKind), errors.Is(err, ErrInvalidPoll):
		return ClassConstruction
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrTimeoutExceeded), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrPort):
		return ClassPort
	default:
		return ClassUnexpected
	}
}

// Expected reports whether the class is an operational failure that the
// executor records as a failed result instead of aborting.
func (c ErrorClass) Expected() bool {
	switch c {
	case ClassPort, ClassTimeout, ClassNotFound:
		return true
	default:
		return false
	}
}

// PortError wraps err as an ErrPort failure of the named port operation.
// Port implementations use it for every failure the executor should record
// rather than abort on.
func PortError(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrPort, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrPort, op, err)
}

// classError rebuilds an error of the given class from its stored message.
// Used when results are loaded back from the run log.
type classError struct {
	class ErrorClass
	msg   string
}

func (e *classError) Error() string { return e.msg }

func (e *classError) Unwrap() error {
	switch e.class {
	case ClassConstruction:
		return ErrConstruction
	case ClassPort:
		return ErrPort
	case ClassTimeout:
		return ErrTimeoutExceeded
	case ClassNotFound:
		return ErrNotFound
	case ClassCancelled:
		return ErrCancelled
	case ClassNone:
		return nil
	default:
		return ErrUnexpected
	}
}
