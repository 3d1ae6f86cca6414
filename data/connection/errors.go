package connection

import (
	"fmt"
)

// ConnectionError reports a transport level failure to reach a backend.
type ConnectionError struct {
	Backend string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s connection error: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s %s: connection error: %v", e.Backend, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func newConnectionError(backend, op string, err error) error {
	return &ConnectionError{Backend: backend, Op: op, Err: err}
}

// Wrap returns err as a *ConnectionError, or nil when err is nil.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return newConnectionError(backend, op, err)
}
