package balancer

import (
	"sync/atomic"
)

// Call is a request submitted to the balancer. A call is owned by one goroutine at a time (the router, a queue or
// a worker) so Retries and Avoid need no locking.
type Call struct {
	ID      uint64
	Method  string
	Args    []interface{}
	Retries int
	Avoid   []string // backends that failed this call
	Allow   []string // preferred backends, ignored when none of them can serve the call

	lastErr error // failure of the last attempt
	done    atomic.Bool
}

type outcome struct {
	result interface{}
	err    error
}
