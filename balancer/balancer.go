// Package balancer distributes calls to a blockchain network across a pool of interchangeable backends.
//
// Every backend gets a bounded number of workers consuming its private queue. A router picks the backend of each
// call (healthy, capable, preferred, not yet failed, least busy). Attempts that time out or fail are retried on
// another backend until the retry budget is spent, and backends failing too often are taken offline and probed
// until they recover. Flush and SwitchNetwork abort all in-flight work.
package balancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options tune a balancer.
type Options struct {
	MaxRetries      int           // attempts before a call fails
	QueueSize       int           // capacity of each backend queue
	ProbeInterval   time.Duration // wait between probes of an offline backend
	ProbeTimeout    time.Duration // bounded wait of each probe
	ProbeMethod     string
	RequiredMethods []string // methods a network must serve, every method of its backends when empty
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		MaxRetries:    3,
		QueueSize:     64,
		ProbeInterval: 5 * time.Second,
		ProbeTimeout:  5 * time.Second,
		ProbeMethod:   "ping",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()

	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}

	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}

	if o.ProbeInterval <= 0 {
		o.ProbeInterval = def.ProbeInterval
	}

	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = def.ProbeTimeout
	}

	if o.ProbeMethod == "" {
		o.ProbeMethod = def.ProbeMethod
	}

	return o
}

// Status summarises the state of the active network.
type Status struct {
	Network  string   `json:"network"`
	Manual   bool     `json:"manual"`
	Pinned   string   `json:"pinned,omitempty"`
	Offline  bool     `json:"offline"`            // no required method can be served
	Degraded []string `json:"degraded,omitempty"` // required methods no online backend serves
	Pending  int      `json:"pending"`
	Queued   int      `json:"queued"`
	Workers  int      `json:"workers"`
}

// Balancer routes calls to the backends of the active network.
type Balancer struct {
	opts    Options
	log     *zap.Logger
	events  *Emitter
	tracker *tracker

	// held shared while a call is routed, exclusively by Flush, SwitchNetwork and Close
	mu     sync.RWMutex
	net    *netState
	closed bool
}

// New returns a balancer serving net. Events are delivered to sinks.
func New(net Network, opts Options, log *zap.Logger, sinks ...Sink) (*Balancer, error) {
	if log == nil {
		log = zap.NewNop()
	}

	b := &Balancer{
		opts:    opts.withDefaults(),
		log:     log,
		events:  NewEmitter(log, sinks...),
		tracker: newTracker(log),
	}

	n, err := b.newNetState(net)
	if err != nil {
		return nil, fmt.Errorf("cannot load network %s: %w", net.Name, err)
	}

	b.net = n
	n.start()

	log.Info("balancer started", zap.String("net", net.Name), zap.Int("backends", n.reg.size()))

	return b, nil
}

// Events returns the emitter of lifecycle events, to subscribe to them.
func (b *Balancer) Events() *Emitter {
	return b.events
}

// Submit runs method on some backend of the active network and waits for its outcome. allow optionally lists
// preferred backends. Submit fails at once with ErrNoBackend when no online backend serves method; a call that
// exhausts its retries fails with a *CallError. Calls discarded by Flush or SwitchNetwork never get an outcome, so
// ctx must bound the wait.
func (b *Balancer) Submit(ctx context.Context, method string, args []interface{}, allow ...string) (interface{}, error) {
	b.mu.RLock()

	if b.closed {
		b.mu.RUnlock()

		return nil, ErrClosed
	}

	n := b.net
	c, out := b.tracker.register(method, args, allow)
	n.emit(Event{Kind: CallRequested, CallID: c.ID, Method: method})

	if err := n.dispatch(ctx, c); err != nil {
		b.tracker.forget(c.ID)
		b.mu.RUnlock()

		return nil, err
	}

	b.mu.RUnlock()

	select {
	case o := <-out:
		return o.result, o.err
	case <-ctx.Done():
		b.tracker.forget(c.ID)

		return nil, ctx.Err()
	}
}

// SetManual pins every call to backend id. Calls id cannot serve fail with ErrNoBackend.
func (b *Balancer) SetManual(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.net.reg.descriptor(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}

	b.net.setPinned(id)
	b.net.log.Info("manual mode", zap.String("backend", id))

	return nil
}

// SetAuto lets the router choose among all backends.
func (b *Balancer) SetAuto() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.net.setPinned("")
	b.net.log.Info("auto mode")
}

// Mode reports whether the balancer is in manual mode and the pinned backend.
func (b *Balancer) Mode() (manual bool, pinned string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pinned = b.net.pinnedBackend()

	return pinned != "", pinned
}

// Network returns the name of the active network.
func (b *Balancer) Network() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.net.name
}

// Flush discards every pending call without resolving it, stops every worker, empties every queue and resets the
// failure counters. Workers are spawned again by the next calls.
func (b *Balancer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	n := b.tracker.discardAll()
	b.net.pool.stop()
	b.net.reg.resetFailures()

	b.net.log.Info("balancer flushed", zap.Int("discarded", n))
	b.net.emit(Event{Kind: BalancerFlushed})
}

// SwitchNetwork replaces the active network by net. Pending calls of the old network are discarded and its backends
// closed; the mode goes back to auto. The backends of net belong to the balancer once installed, or once
// SwitchNetwork returns ErrClosed; on any other error they stay with the caller.
func (b *Balancer) SwitchNetwork(net Network) error {
	n, err := b.newNetState(net)
	if err != nil {
		return fmt.Errorf("cannot load network %s: %w", net.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		n.close()

		return ErrClosed
	}

	discarded := b.tracker.discardAll()
	old := b.net
	old.close()

	b.net = n
	n.start()

	b.log.Info("network switched", zap.String("from", old.name), zap.String("to", n.name),
		zap.Int("discarded", discarded))
	n.emit(Event{Kind: NetworkSwitched})

	return nil
}

// AddBackend registers a backend in the active network.
func (b *Balancer) AddBackend(d Descriptor) error {
	d, err := d.validate()
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	n := b.net
	if err = n.reg.add(d); err != nil {
		return err
	}

	n.pool.addLane(d.ID)
	n.emit(Event{Kind: BackendAdded, Backend: d.ID})
	n.activate(d)
	n.checkCoverage()

	n.log.Info("backend added", zap.String("backend", d.ID), zap.Strings("methods", d.Methods))

	return nil
}

// RemoveBackend removes a custom backend from the active network. Its queued and executing calls are routed again.
func (b *Balancer) RemoveBackend(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	n := b.net

	d, ok := n.reg.descriptor(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}

	if !d.Custom {
		return fmt.Errorf("%w: %s", ErrNotCustom, id)
	}

	if _, err := n.reg.remove(id); err != nil {
		return err
	}

	n.health.unwatch(id)
	n.pool.remove(id)
	d.Invoker.Close()

	if n.pinnedBackend() == id {
		n.setPinned("")
	}

	n.emit(Event{Kind: BackendRemoved, Backend: id})
	n.checkCoverage()

	n.log.Info("backend removed", zap.String("backend", id))

	return nil
}

// Backends returns a snapshot of the backends of the active network, in registration order.
func (b *Balancer) Backends() []BackendStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.net.reg.stats()
}

// Status returns the state of the active network.
func (b *Balancer) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.net
	degraded, offline := n.coverage()
	pinned := n.pinnedBackend()

	return Status{
		Network:  n.name,
		Manual:   pinned != "",
		Pinned:   pinned,
		Offline:  offline,
		Degraded: degraded,
		Pending:  b.tracker.count(),
		Queued:   n.pool.queued(),
		Workers:  n.reg.workerCount(),
	}
}

// Close discards pending calls, stops every goroutine and closes the backends.
func (b *Balancer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	b.tracker.discardAll()
	b.net.close()

	b.log.Info("balancer closed", zap.String("net", b.net.name))
}
