package balancer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Network is a named set of backends serving the same blockchain.
type Network struct {
	Name     string
	Backends []Descriptor
}

// netState is a network installed in the balancer: its registry, workers, health monitor and mode.
type netState struct {
	name string
	b    *Balancer
	log  *zap.Logger

	ctx    context.Context // canceled when the network is switched out
	cancel context.CancelFunc

	reg    *registry
	pool   *pool
	health *monitor

	mu       sync.RWMutex
	pinned   string
	degraded []string
	offline  bool
}

func (b *Balancer) newNetState(net Network) (*netState, error) {
	n := &netState{
		name: net.Name,
		b:    b,
		log:  b.log.With(zap.String("net", net.Name)),
		reg:  newRegistry(),
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.pool = newPool(n, b.opts.QueueSize)
	n.health = newMonitor(n, b.opts.ProbeInterval, b.opts.ProbeTimeout, b.opts.ProbeMethod)

	for _, d := range net.Backends {
		var err error
		if d, err = d.validate(); err == nil {
			err = n.reg.add(d)
		}

		if err != nil {
			n.cancel()

			return nil, err
		}

		n.pool.addLane(d.ID)
	}

	return n, nil
}

// start spawns the workers of online backends and probes the offline ones.
func (n *netState) start() {
	for _, d := range n.reg.descriptors() {
		n.emit(Event{Kind: BackendAdded, Backend: d.ID})
		n.activate(d)
	}

	n.checkCoverage()
}

func (n *netState) activate(d Descriptor) {
	if d.Offline {
		n.emit(Event{Kind: BackendOffline, Backend: d.ID})
		n.health.watch(d)

		return
	}

	n.pool.ensure(d.ID)
}

// close stops every goroutine of the network and closes its backends.
func (n *netState) close() {
	n.cancel()
	n.health.stopAll()
	n.pool.shutdown()

	for _, d := range n.reg.descriptors() {
		d.Invoker.Close()
	}
}

func (n *netState) emit(e Event) {
	e.Network = n.name
	n.b.events.Emit(e)
}

func (n *netState) pinnedBackend() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.pinned
}

func (n *netState) setPinned(id string) {
	n.mu.Lock()
	n.pinned = id
	n.mu.Unlock()
}

// dispatch routes c and puts it on the chosen backend's queue.
func (n *netState) dispatch(ctx context.Context, c *Call) error {
	for tries := n.reg.size() + 1; tries > 0; tries-- {
		id, err := route(n.reg.candidates(), c, n.pinnedBackend())
		if err != nil {
			return err
		}

		if err = n.pool.enqueue(ctx, id, c); !errors.Is(err, errRetired) {
			return err
		}
	}

	return ErrNoBackend
}

// redispatch routes c again after a failure or the retirement of its backend. A call no backend can take any more
// fails terminally.
func (n *netState) redispatch(c *Call) {
	if !n.b.tracker.isPending(c.ID) {
		return
	}

	err := n.dispatch(n.ctx, c)
	if err == nil || n.ctx.Err() != nil {
		return
	}

	// keep the failure that sent the call back to the router
	ce := &CallError{CallID: c.ID, Method: c.Method, Retries: c.Retries, Err: multierr.Combine(err, c.lastErr)}
	n.emit(Event{Kind: CallFailed, CallID: c.ID, Method: c.Method, Retries: c.Retries, Final: true, Err: ce})
	n.b.tracker.resolve(c, outcome{err: ce})
}

// fail handles a timed out or failed attempt of c on backend id.
func (n *netState) fail(id, wid string, c *Call, err error, elapsed time.Duration) {
	timedOut := errors.Is(err, ErrTimeout)
	if timedOut {
		n.emit(Event{Kind: CallTimedOut, Backend: id, Worker: wid, CallID: c.ID, Method: c.Method, Retries: c.Retries,
			Elapsed: elapsed})
	}

	if n.reg.recordFailure(id) {
		n.log.Warn("backend offline", zap.String("backend", id), zap.Error(err))
		n.backendOffline(id)
	}

	c.Retries++

	if c.Retries >= n.b.opts.MaxRetries {
		ce := &CallError{CallID: c.ID, Method: c.Method, Retries: c.Retries, Err: err}
		n.emit(Event{Kind: CallFailed, Backend: id, Worker: wid, CallID: c.ID, Method: c.Method, Retries: c.Retries,
			Final: true, Err: ce, Elapsed: elapsed})
		n.b.tracker.resolve(c, outcome{err: ce})

		return
	}

	if !timedOut {
		n.emit(Event{Kind: CallFailed, Backend: id, Worker: wid, CallID: c.ID, Method: c.Method, Retries: c.Retries,
			Err: err, Elapsed: elapsed})
	}

	c.Avoid = append(c.Avoid, id)
	c.lastErr = fmt.Errorf("%s: %w", id, err)

	go n.redispatch(c)
}

// backendOffline retires the workers of a backend that just went offline and starts probing it.
func (n *netState) backendOffline(id string) {
	n.emit(Event{Kind: BackendOffline, Backend: id})
	n.pool.retire(id)

	if d, ok := n.reg.descriptor(id); ok {
		n.health.watch(d)
	}

	n.checkCoverage()
}

// backendOnline brings back a backend that answered its probe.
func (n *netState) backendOnline(id string) {
	if !n.reg.setOnline(id) {
		return
	}

	n.log.Info("backend online", zap.String("backend", id))
	n.emit(Event{Kind: BackendOnline, Backend: id})
	n.pool.ensure(id)
	n.checkCoverage()
}

// checkCoverage logs the required methods no online backend serves.
func (n *netState) checkCoverage() {
	required := n.b.opts.RequiredMethods
	if len(required) == 0 {
		required = n.reg.methods()
	}

	degraded := n.reg.uncovered(required)

	n.mu.Lock()
	prev := n.degraded
	n.degraded = degraded
	n.offline = len(required) > 0 && len(degraded) == len(required)
	n.mu.Unlock()

	if equal(prev, degraded) {
		return
	}

	switch {
	case len(degraded) == 0:
		n.log.Info("all required methods available")
	case len(degraded) == len(required):
		n.log.Error("network offline, no required method available")
	default:
		n.log.Warn("network degraded", zap.Strings("unavailable", degraded))
	}
}

func (n *netState) coverage() (degraded []string, offline bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return append([]string(nil), n.degraded...), n.offline
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
