package balancer

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// tracker hands out call ids and correlates them with the callers waiting for an outcome.
type tracker struct {
	log  *zap.Logger
	next atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan outcome
}

func newTracker(log *zap.Logger) *tracker {
	return &tracker{
		log:     log,
		pending: make(map[uint64]chan outcome),
	}
}

// register creates a call with a fresh id and the channel its outcome will be delivered on.
func (t *tracker) register(method string, args []interface{}, allow []string) (*Call, <-chan outcome) {
	c := &Call{
		ID:     t.next.Add(1),
		Method: method,
		Args:   args,
		Allow:  allow,
	}
	ch := make(chan outcome, 1)

	t.mu.Lock()
	t.pending[c.ID] = ch
	t.mu.Unlock()

	return c, ch
}

// resolve delivers o to the caller of c. A call resolved twice is a bug; outcomes of calls no longer pending
// (flushed or abandoned) are dropped.
func (t *tracker) resolve(c *Call, o outcome) bool {
	if !c.done.CompareAndSwap(false, true) {
		t.log.DPanic("call resolved twice", zap.Uint64("call", c.ID), zap.String("method", c.Method))

		return false
	}

	t.mu.Lock()
	ch, ok := t.pending[c.ID]
	delete(t.pending, c.ID)
	t.mu.Unlock()

	if !ok {
		t.log.Warn("dropping outcome of call no longer pending", zap.Uint64("call", c.ID), zap.String("method", c.Method))

		return false
	}

	ch <- o

	return true
}

func (t *tracker) isPending(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.pending[id]

	return ok
}

// forget drops a call whose caller stopped waiting.
func (t *tracker) forget(id uint64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// discardAll drops every pending call without resolving it and returns how many there were.
func (t *tracker) discardAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.pending)
	t.pending = make(map[uint64]chan outcome)

	return n
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}
