package flow

import (
	"errors"
	"fmt"
)

// ErrShutdown is returned by WaitFor when the engine observed its shutdown
// event. The supervisory loop exits cleanly and never reconnects.
var ErrShutdown = errors.New("flow: shutting down")

// ErrTimeout is returned when the armed step timer expired before the
// awaited event arrived. Retryable.
var ErrTimeout = errors.New("flow: step timed out")

// Error is a transient connection failure. The supervisory loop feeds it to
// the backoff and restarts the handshake from the top.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("flow: %s: %v", e.Message, e.Cause)
	}
	return "flow: " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// FatalError stops the engine permanently. Raised on credential rejection
// (HTTP 401/403); retrying can never succeed.
type FatalError struct {
	Message string
	Cause   error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("flow: fatal: %s: %v", e.Message, e.Cause)
	}
	return "flow: fatal: " + e.Message
}

func (e *FatalError) Unwrap() error { return e.Cause }

// StatusError carries an HTTP-like status code attached to a transport or
// REST failure. Codes 401 and 403 classify as fatal.
type StatusError struct {
	Code  int
	Cause error
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("status %d: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("status %d", e.Code)
}

func (e *StatusError) Unwrap() error { return e.Cause }

// IsAuthStatus reports whether err carries an authentication-type HTTP
// status code.
func IsAuthStatus(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 401 || se.Code == 403
	}
	return false
}

// Retryable reports whether the supervisory loop should back off and retry
// after err, as opposed to giving up (fatal, shutdown).
func Retryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var fe *Error
	return errors.As(err, &fe)
}
