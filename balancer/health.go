package balancer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// monitor probes offline backends until they answer again. There is at most one probing goroutine per backend.
type monitor struct {
	n        *netState
	log      *zap.Logger
	interval time.Duration
	timeout  time.Duration
	method   string

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	watching map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func newMonitor(n *netState, interval, timeout time.Duration, method string) *monitor {
	m := &monitor{
		n:        n,
		log:      n.log,
		interval: interval,
		timeout:  timeout,
		method:   method,
		watching: make(map[string]context.CancelFunc),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	return m
}

// watch starts probing backend d.
func (m *monitor) watch(d Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.watching[d.ID]; ok || m.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.watching[d.ID] = cancel
	m.wg.Add(1)

	go m.probe(ctx, d)
}

// unwatch stops probing backend id.
func (m *monitor) unwatch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cancel, ok := m.watching[id]; ok {
		cancel()
		delete(m.watching, id)
	}
}

func (m *monitor) watched() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.watching)
}

// stopAll stops every probe and waits for them to exit.
func (m *monitor) stopAll() {
	m.mu.Lock()
	m.cancel()
	m.watching = make(map[string]context.CancelFunc)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *monitor) probe(ctx context.Context, d Descriptor) {
	defer m.wg.Done()

	method := d.ProbeMethod
	if method == "" {
		method = m.method
	}

	log := m.log.With(zap.String("backend", d.ID), zap.String("probe", method))

	// give the backend some rest before the first probe
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.interval):
	}

	op := func() error {
		_, err := invokeWithin(ctx, d.Invoker, method, nil, m.timeout)

		return err
	}
	notify := func(err error, next time.Duration) {
		log.Debug("backend still offline", zap.Error(err), zap.Duration("next", next))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.NewConstantBackOff(m.interval), ctx), notify); err != nil {
		return
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()

		return
	}

	delete(m.watching, d.ID)
	m.mu.Unlock()

	log.Info("backend answered probe")
	m.n.backendOnline(d.ID)
}
