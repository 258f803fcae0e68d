package balancer

import (
	"errors"
	"fmt"
)

// Errors returned to callers and to the mode control surface.
var (
	ErrTimeout           = errors.New("backend did not answer in time")
	ErrNoBackend         = errors.New("no backend available for method")
	ErrUnknownBackend    = errors.New("backend not registered")
	ErrDuplicateBackend  = errors.New("backend already registered")
	ErrNotCustom         = errors.New("only custom backends can be removed")
	ErrInvalidDescriptor = errors.New("invalid backend descriptor")
	ErrClosed            = errors.New("balancer closed")

	errRetired = errors.New("backend retired while enqueuing")
)

// CallError is the terminal failure of a call that exhausted its retries. Err is the failure of the last attempt,
// combined with ErrNoBackend when no backend was left to retry on.
type CallError struct {
	CallID  uint64
	Method  string
	Retries int
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %d (%s) failed after %d attempts: %v", e.CallID, e.Method, e.Retries, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
