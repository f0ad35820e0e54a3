package osfinger

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrSessionClosed indicates data was fed to a session whose outcome
	// is already resolved.
	ErrSessionClosed = errors.New("osfinger: session already resolved")

	// ErrEmptyBuild indicates a stream was requested without a build identifier.
	ErrEmptyBuild = errors.New("osfinger: empty build identifier")

	// ErrRetriesExhausted indicates the retry policy gave up reconnecting.
	ErrRetriesExhausted = errors.New("osfinger: reconnect attempts exhausted")

	// errStopped ends a run whose consumer stopped reading.
	errStopped = errors.New("osfinger: consumer stopped")
)

// SessionError wraps errors with additional context about the failed operation.
type SessionError struct {
	// Op is the operation that failed: "dial", "request", "read", "sink".
	Op string

	// Addr is the remote host:port.
	Addr string

	// Build is the requested build identifier.
	Build string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	return fmt.Sprintf("osfinger: %s %s (build %s) failed: %v", e.Op, e.Addr, e.Build, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SessionError) Unwrap() error {
	return e.Err
}

func newSessionError(op string, s *Stream, err error) *SessionError {
	return &SessionError{
		Op:    op,
		Addr:  s.Addr(),
		Build: s.build,
		Err:   err,
	}
}
