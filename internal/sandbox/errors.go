package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout        = errors.New("execution timed out")
	ErrOOM            = errors.New("out of memory")
	ErrImageMissing   = errors.New("execution image missing")
	ErrEngineDown     = errors.New("container engine unreachable")
	ErrThrottled      = errors.New("execution service throttled")
	ErrUnavailable    = errors.New("backend unavailable")
	ErrInvalidRequest = errors.New("invalid execution request")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsOOM returns true if the error is an out-of-memory kill.
func IsOOM(err error) bool {
	return errors.Is(err, ErrOOM)
}

// IsThrottled returns true if the error is platform throttling.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsInvalidRequest returns true if the error is a caller mistake.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsUnavailable returns true if the backend cannot execute at all, whether
// from a missing image, an unreachable engine, or permanent init failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrEngineDown) ||
		errors.Is(err, ErrImageMissing)
}
